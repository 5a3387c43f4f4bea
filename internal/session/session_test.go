package session

import (
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/uri"

	"github.com/wycleffsean/linthost/pkg/lint"
)

var root = uri.File("/ws")

func newSession(t *testing.T, fsys afero.Fs) *Session {
	t.Helper()
	if fsys == nil {
		fsys = afero.NewMemMapFs()
	}
	s, err := New(fsys, []uri.URI{root}, nil, nil)
	require.NoError(t, err)
	return s
}

func TestNewRequiresRoot(t *testing.T) {
	_, err := New(afero.NewMemMapFs(), nil, nil, nil)
	require.ErrorIs(t, err, ErrNoWorkspace)
}

func TestDocumentLifecycle(t *testing.T) {
	s := newSession(t, nil)
	doc := uri.File("/ws/a.txt")

	s.Open(doc, "plaintext", 1, "one")
	snap, ok := s.Snapshot(doc)
	require.True(t, ok)
	require.Equal(t, int32(1), snap.Version)
	require.Equal(t, "one", snap.Text)

	require.NoError(t, s.Update(doc, 2, "two"))
	// the earlier snapshot is a copy
	require.Equal(t, "one", snap.Text)

	err := s.Update(doc, 2, "stale")
	require.True(t, errors.Is(err, ErrStaleVersion))
	snap, _ = s.Snapshot(doc)
	require.Equal(t, "two", snap.Text)

	require.NoError(t, s.Close(doc))
	_, ok = s.Snapshot(doc)
	require.False(t, ok)
	require.ErrorIs(t, s.Close(doc), ErrUnknownDocument)
	require.ErrorIs(t, s.Update(doc, 3, "x"), ErrUnknownDocument)
}

func TestDocumentsSorted(t *testing.T) {
	s := newSession(t, nil)
	for _, name := range []string{"/ws/c", "/ws/a", "/ws/b"} {
		s.Open(uri.File(name), "", 1, "")
	}
	require.Equal(t, []uri.URI{uri.File("/ws/a"), uri.File("/ws/b"), uri.File("/ws/c")}, s.Documents())
}

func TestSettingsLayers(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/ws/"+ProjectConfigName, []byte("lineLength: 80\nexclude: [\"gen/**\"]\n"), 0o644))
	s := newSession(t, fsys)
	doc := uri.File("/ws/src/a.txt")

	st := s.Settings(doc)
	require.Equal(t, 80, st.LineLength)
	require.Equal(t, 4, st.TabWidth)

	require.NoError(t, s.UpdateClientSettings(map[string]any{
		"linthost": map[string]any{"lineLength": float64(120), "select": []any{"W291"}},
	}))
	st = s.Settings(doc)
	require.Equal(t, 120, st.LineLength)
	require.Equal(t, []lint.Code{lint.TrailingWhitespace}, st.Select)
	require.Equal(t, []string{"gen/**"}, st.Exclude)

	s.Open(uri.File("/ws/gen/x.txt"), "", 1, "")
	snap, _ := s.Snapshot(uri.File("/ws/gen/x.txt"))
	require.True(t, snap.Excluded)
}

func TestReloadProjectSettings(t *testing.T) {
	fsys := afero.NewMemMapFs()
	s := newSession(t, fsys)
	doc := uri.File("/ws/a.txt")
	require.Equal(t, 100, s.Settings(doc).LineLength)

	require.NoError(t, afero.WriteFile(fsys, "/ws/"+ProjectConfigName, []byte("lineLength: 60\n"), 0o644))
	require.NoError(t, s.ReloadProjectSettings())
	require.Equal(t, 60, s.Settings(doc).LineLength)

	require.NoError(t, afero.WriteFile(fsys, "/ws/"+ProjectConfigName, []byte("lineLength: [\n"), 0o644))
	require.Error(t, s.ReloadProjectSettings())
	// a broken file keeps the previous settings
	require.Equal(t, 60, s.Settings(doc).LineLength)
}

func TestRejectsNegativeSettings(t *testing.T) {
	s := newSession(t, nil)
	require.Error(t, s.UpdateClientSettings(map[string]any{"tabWidth": -1}))
}

func TestFilenameNonFileScheme(t *testing.T) {
	require.Equal(t, "untitled:Untitled-1", Filename(uri.URI("untitled:Untitled-1")))
	require.Equal(t, "/ws/a", Filename(uri.File("/ws/a")))
}

func TestWorkspaceFolderChanges(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/other/.linthost.yaml", []byte("lineLength: 10\n"), 0o644))
	s := newSession(t, fsys)
	other := uri.File("/other")
	doc := uri.File("/other/a.txt")

	require.Equal(t, lint.DefaultConfig().LineLength, s.Settings(doc).LineLength)

	require.NoError(t, s.AddRoot(other))
	require.NoError(t, s.AddRoot(other))
	require.Equal(t, []uri.URI{root, other}, s.Roots())
	require.Equal(t, 10, s.Settings(doc).LineLength)

	s.RemoveRoot(other)
	require.Equal(t, []uri.URI{root}, s.Roots())
	require.Equal(t, lint.DefaultConfig().LineLength, s.Settings(doc).LineLength)

	s.RemoveRoot(root)
	require.Empty(t, s.Roots())
	s.Open(doc, "plaintext", 1, "x")
	_, ok := s.Snapshot(doc)
	require.True(t, ok)
}
