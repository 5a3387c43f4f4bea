package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/briandowns/spinner"
	"github.com/mattn/go-isatty"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/wycleffsean/linthost/internal/session"
	"github.com/wycleffsean/linthost/pkg/lint"
	"github.com/wycleffsean/linthost/pkg/urispec"
)

// sourceFile is one file selected for checking or formatting, with the
// settings of the root it was found under.
type sourceFile struct {
	Root     string
	Path     string
	Settings session.Settings
}

// resolveTarget turns a path or git spec into a local root directory and,
// when the target is a single file, that file. Remote targets show a spinner
// on terminals while cloning.
func resolveTarget(ctx context.Context, arg string, stderr io.Writer) (root, file string, err error) {
	spec := urispec.Parse(arg)
	var local string
	if spec.IsRemote() {
		var progress io.Writer
		if f, ok := stderr.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(stderr))
			s.Suffix = " cloning " + spec.Path
			s.Start()
			defer s.Stop()
		} else {
			progress = stderr
		}
		local, err = spec.LocalPath(ctx, progress)
	} else {
		local, err = spec.LocalPath(ctx, nil)
	}
	if err != nil {
		return "", "", err
	}
	info, err := os.Stat(local)
	if err != nil {
		return "", "", err
	}
	if info.IsDir() {
		return local, "", nil
	}
	return filepath.Dir(local), local, nil
}

// collectFiles lists the files under root that match include and are not
// excluded by the root's settings. Binary files and .git are skipped.
func collectFiles(fsys afero.Fs, root, include string, overrides session.Overrides) ([]sourceFile, error) {
	project, err := session.LoadProjectSettings(fsys, root)
	if err != nil {
		return nil, err
	}
	settings := session.DefaultSettings().Apply(project).Apply(overrides)

	matches, err := doublestar.Glob(afero.NewIOFS(afero.NewBasePathFs(fsys, root)), include,
		doublestar.WithFilesOnly(), doublestar.WithFailOnIOErrors())
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", root, err)
	}
	var files []sourceFile
	for _, m := range matches {
		if m == ".git" || hasGitDir(m) {
			continue
		}
		p := filepath.Join(root, filepath.FromSlash(m))
		if lint.Excluded(root, p, settings.Exclude) {
			continue
		}
		files = append(files, sourceFile{Root: root, Path: p, Settings: settings})
	}
	return files, nil
}

func hasGitDir(rel string) bool {
	for dir := path.Dir(rel); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if path.Base(dir) == ".git" {
			return true
		}
	}
	return false
}

func isBinary(data []byte) bool {
	return bytes.IndexByte(data[:min(len(data), 8000)], 0) >= 0
}

// forEachFile runs fn over files with at most workers in flight. Results
// keep the order of files. Binary files are skipped.
func forEachFile[T any](ctx context.Context, fsys afero.Fs, files []sourceFile, workers int, fn func(f sourceFile, text string) (T, error)) ([]T, error) {
	results := make([]T, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i, f := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := afero.ReadFile(fsys, f.Path)
			if err != nil {
				return err
			}
			if isBinary(data) {
				return nil
			}
			r, err := fn(f, string(data))
			if err != nil {
				return fmt.Errorf("%s: %w", f.Path, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
