package cmd

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/wycleffsean/linthost/internal/session"
)

func memProject(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fsys, filepath.Join("/proj", name), []byte(content), 0o644))
	}
	return fsys
}

func paths(files []sourceFile) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.Path)
	}
	return out
}

func TestCollectFiles(t *testing.T) {
	fsys := memProject(t, map[string]string{
		"a.txt":          "a\n",
		"sub/b.txt":      "b\n",
		"vendor/c.txt":   "c\n",
		".git/config":    "[core]\n",
		".linthost.yaml": "exclude: [\"vendor/**\"]\nlineLength: 100\n",
		"sub/notes.md":   "notes\n",
	})

	files, err := collectFiles(fsys, "/proj", "**/*.txt", session.Overrides{})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"/proj/a.txt", "/proj/sub/b.txt"}, paths(files))
	for _, f := range files {
		require.Equal(t, "/proj", f.Root)
		require.Equal(t, 100, f.Settings.LineLength)
	}

	files, err = collectFiles(fsys, "/proj", "**/*", session.Overrides{})
	require.NoError(t, err)
	require.NotContains(t, paths(files), "/proj/.git/config")
	require.NotContains(t, paths(files), "/proj/vendor/c.txt")
	require.Contains(t, paths(files), "/proj/sub/notes.md")
}

func TestCollectFilesInvalidProjectSettings(t *testing.T) {
	fsys := memProject(t, map[string]string{
		"a.txt":          "a\n",
		".linthost.yaml": "lineLength: -1\n",
	})
	_, err := collectFiles(fsys, "/proj", "**/*", session.Overrides{})
	require.Error(t, err)
}

func TestForEachFileKeepsOrderAndSkipsBinary(t *testing.T) {
	fsys := memProject(t, map[string]string{
		"1.txt": "one",
		"2.bin": "two\x00",
		"3.txt": "three",
	})
	files := []sourceFile{{Path: "/proj/1.txt"}, {Path: "/proj/2.bin"}, {Path: "/proj/3.txt"}}

	got, err := forEachFile(context.Background(), fsys, files, 2, func(f sourceFile, text string) (string, error) {
		return text, nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"one", "", "three"}, got)
}

func TestForEachFileReportsErrors(t *testing.T) {
	fsys := afero.NewMemMapFs()
	_, err := forEachFile(context.Background(), fsys, []sourceFile{{Path: "/missing.txt"}}, 1, func(f sourceFile, text string) (int, error) {
		return 0, nil
	})
	require.Error(t, err)
}
