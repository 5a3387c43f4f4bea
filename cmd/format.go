package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/wycleffsean/linthost/internal/session"
	"github.com/wycleffsean/linthost/pkg/lint"
)

var (
	formatDiff    bool
	formatCheck   bool
	formatInclude string

	errWouldReformat = errors.New("files would be reformatted")
)

// formatResult is the outcome of formatting one file.
type formatResult struct {
	File    sourceFile
	Before  string
	After   string
	Changed bool
}

var formatCmd = &cobra.Command{
	Use:   "format [path | github:owner/repo | https://host/repo.git]...",
	Short: "Fix whitespace and layout problems in place",
	Long: `The format command rewrites matching files with tabs expanded, trailing
whitespace removed, blank line runs collapsed and a final newline added.
With --diff or --check nothing is written.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			args = []string{"."}
		}
		workers, err := cmd.Flags().GetInt(workersKey)
		if err != nil {
			return err
		}
		fsys := afero.NewOsFs()
		out := cmd.OutOrStdout()
		colored := isatty.IsTerminal(os.Stdout.Fd()) && !color.NoColor

		changed := 0
		for _, arg := range args {
			files, err := targetFiles(cmd, fsys, arg, formatInclude, session.Overrides{})
			if err != nil {
				return err
			}
			results, err := formatFiles(cmd, fsys, files, workers)
			if err != nil {
				return err
			}
			for _, r := range results {
				if !r.Changed {
					continue
				}
				changed++
				switch {
				case formatDiff:
					writeDiff(out, displayPath(r.File.Path), r.Before, r.After, colored)
				case formatCheck:
					fmt.Fprintln(out, "would reformat", displayPath(r.File.Path))
				default:
					if err := afero.WriteFile(fsys, r.File.Path, []byte(r.After), 0o644); err != nil {
						return err
					}
					fmt.Fprintln(cmd.ErrOrStderr(), "formatted", displayPath(r.File.Path))
				}
			}
		}
		if changed > 0 && (formatDiff || formatCheck) {
			return errWouldReformat
		}
		return nil
	},
}

func formatFiles(cmd *cobra.Command, fsys afero.Fs, files []sourceFile, workers int) ([]formatResult, error) {
	return forEachFile(cmd.Context(), fsys, files, workers, func(f sourceFile, text string) (formatResult, error) {
		after := lint.Format(text, f.Settings.Lint())
		return formatResult{File: f, Before: text, After: after, Changed: after != text}, nil
	})
}

// writeDiff prints a patch from before to after. On terminals the inline
// diff is shown with colors instead.
func writeDiff(w io.Writer, name, before, after string, colored bool) {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	fmt.Fprintf(w, "--- %s\n+++ %s\n", name, name)
	if colored {
		fmt.Fprint(w, dmp.DiffPrettyText(diffs))
		return
	}
	fmt.Fprint(w, dmp.PatchToText(dmp.PatchMake(before, diffs)))
}

func init() {
	formatCmd.Flags().BoolVar(&formatDiff, "diff", false, "print a diff instead of writing files")
	formatCmd.Flags().BoolVar(&formatCheck, "check", false, "exit non-zero when any file would change")
	formatCmd.Flags().StringVar(&formatInclude, "include", "**/*", "glob of files to format below each target")
	formatCmd.Flags().Int(workersKey, defaultWorkers(), "number of files formatted in parallel")
	RootCmd.AddCommand(formatCmd)
}
