package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/wycleffsean/linthost/internal/session"
	"github.com/wycleffsean/linthost/pkg/lint"
	"github.com/wycleffsean/linthost/pkg/report"
)

var (
	checkColor   bool
	checkInclude string
	checkSelect  []string

	errProblemsFound = errors.New("problems found")
)

var checkCmd = &cobra.Command{
	Use:   "check [path | github:owner/repo | https://host/repo.git]...",
	Short: "Report lint problems in files",
	Long: `The check command lints every matching file below each target and prints the
problems it finds. Git targets are cloned into the user cache on first use.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			args = []string{"."}
		}
		workers, err := cmd.Flags().GetInt(workersKey)
		if err != nil {
			return err
		}
		fsys := afero.NewOsFs()
		overrides := session.Overrides{Select: checkSelect}

		var problems []error
		for _, arg := range args {
			files, err := targetFiles(cmd, fsys, arg, checkInclude, overrides)
			if err != nil {
				return err
			}
			found, err := forEachFile(cmd.Context(), fsys, files, workers, func(f sourceFile, text string) ([]error, error) {
				var errs []error
				for _, d := range lint.Check(text, f.Settings.Lint()) {
					errs = append(errs, &report.FileDiagnostic{Diagnostic: d, Path: displayPath(f.Path), Source: text})
				}
				return errs, nil
			})
			if err != nil {
				return err
			}
			for _, errs := range found {
				problems = append(problems, errs...)
			}
		}

		pretty := checkColor || isatty.IsTerminal(os.Stdout.Fd())
		if !pretty {
			color.NoColor = true
		}
		formatter := report.NewSimpleFormatter()
		if pretty {
			formatter = report.NewPrettyFormatter()
		}
		if sum := report.New(formatter, cmd.OutOrStdout()).Report(problems); sum.Total() > 0 {
			return errProblemsFound
		}
		return nil
	},
}

// targetFiles resolves arg and lists the files to process under it.
func targetFiles(cmd *cobra.Command, fsys afero.Fs, arg, include string, overrides session.Overrides) ([]sourceFile, error) {
	root, file, err := resolveTarget(cmd.Context(), arg, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	if file != "" {
		include = filepath.ToSlash(filepath.Base(file))
	}
	return collectFiles(fsys, root, include, overrides)
}

// displayPath prints paths relative to the working directory when possible.
func displayPath(p string) string {
	cwd, err := os.Getwd()
	if err != nil {
		return p
	}
	if rel, err := filepath.Rel(cwd, p); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return p
}

func init() {
	checkCmd.Flags().BoolVar(&checkColor, "color", false, "force color output")
	checkCmd.Flags().StringVar(&checkInclude, "include", "**/*", "glob of files to check below each target")
	checkCmd.Flags().StringSliceVar(&checkSelect, "select", nil, fmt.Sprintf("rule codes to report (default all of %v)", lint.AllCodes))
	checkCmd.Flags().Int(workersKey, defaultWorkers(), "number of files checked in parallel")
	RootCmd.AddCommand(checkCmd)
}
