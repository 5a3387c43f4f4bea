package session

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/btree"
	"github.com/spf13/afero"
	"go.lsp.dev/uri"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wycleffsean/linthost/pkg/lint"
)

var (
	ErrNoWorkspace     = errors.New("no workspace root available")
	ErrStaleVersion    = errors.New("document version is not newer than the current one")
	ErrUnknownDocument = errors.New("document is not open")
)

// Document is an open text document. Documents are replaced, never mutated,
// so a *Document handed out in a Snapshot stays valid.
type Document struct {
	URI        uri.URI
	LanguageID string
	Version    int32
	Text       string
}

func (d *Document) Less(than btree.Item) bool {
	return d.URI < than.(*Document).URI
}

// Snapshot is an immutable view of one document together with the settings
// that applied when it was taken.
type Snapshot struct {
	Document
	Root     uri.URI
	Settings Settings
	Excluded bool
}

// View is the read-only surface of a Session. It is what background work
// is allowed to see while its snapshot is being taken.
type View interface {
	Snapshot(u uri.URI) (*Snapshot, bool)
	Settings(u uri.URI) Settings
	Documents() []uri.URI
	Roots() []uri.URI
}

// Session holds the workspace model. It is not safe for concurrent use: the
// server's event loop is its only owner.
type Session struct {
	fs     afero.Fs
	logger *zap.Logger

	roots   []uri.URI
	docs    *btree.BTree
	client  Overrides
	project map[uri.URI]Overrides
}

var _ View = (*Session)(nil)

// New builds a session for the given workspace roots. At least one root is
// required.
func New(fsys afero.Fs, roots []uri.URI, clientSettings any, logger *zap.Logger) (*Session, error) {
	if len(roots) == 0 {
		return nil, ErrNoWorkspace
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := DecodeClientSettings(clientSettings)
	if err != nil {
		return nil, err
	}
	s := &Session{
		fs:      fsys,
		logger:  logger,
		roots:   append([]uri.URI(nil), roots...),
		docs:    btree.New(2),
		client:  client,
		project: make(map[uri.URI]Overrides),
	}
	if err := s.ReloadProjectSettings(); err != nil {
		logger.Warn("failed to load project settings", zap.Error(err))
	}
	return s, nil
}

func (s *Session) Roots() []uri.URI {
	return append([]uri.URI(nil), s.roots...)
}

// rootFor returns the deepest workspace root containing u, or the first root.
func (s *Session) rootFor(u uri.URI) uri.URI {
	if len(s.roots) == 0 {
		return ""
	}
	path := Filename(u)
	best := s.roots[0]
	bestLen := -1
	for _, r := range s.roots {
		dir := Filename(r)
		if (path == dir || strings.HasPrefix(path, dir+string(filepath.Separator))) && len(dir) > bestLen {
			best, bestLen = r, len(dir)
		}
	}
	return best
}

// AddRoot adds a workspace folder and loads its project settings. Adding a
// known root is a no-op.
func (s *Session) AddRoot(u uri.URI) error {
	if slices.Contains(s.roots, u) {
		return nil
	}
	s.roots = append(s.roots, u)
	o, err := LoadProjectSettings(s.fs, Filename(u))
	if err != nil {
		return err
	}
	s.project[u] = o
	return nil
}

// RemoveRoot forgets a workspace folder. Documents below it fall back to
// the remaining roots.
func (s *Session) RemoveRoot(u uri.URI) {
	s.roots = slices.DeleteFunc(s.roots, func(r uri.URI) bool { return r == u })
	delete(s.project, u)
}

func (s *Session) Settings(u uri.URI) Settings {
	st := DefaultSettings()
	st = st.Apply(s.project[s.rootFor(u)])
	return st.Apply(s.client)
}

func (s *Session) document(u uri.URI) (*Document, bool) {
	item := s.docs.Get(&Document{URI: u})
	if item == nil {
		return nil, false
	}
	return item.(*Document), true
}

func (s *Session) Snapshot(u uri.URI) (*Snapshot, bool) {
	doc, ok := s.document(u)
	if !ok {
		return nil, false
	}
	root := s.rootFor(u)
	settings := s.Settings(u)
	return &Snapshot{
		Document: *doc,
		Root:     root,
		Settings: settings,
		Excluded: isExcluded(root, u, settings.Exclude),
	}, true
}

// Documents returns the URIs of all open documents in sorted order.
func (s *Session) Documents() []uri.URI {
	out := make([]uri.URI, 0, s.docs.Len())
	s.docs.Ascend(func(item btree.Item) bool {
		out = append(out, item.(*Document).URI)
		return true
	})
	return out
}

// Open registers a document. Reopening replaces the previous content.
func (s *Session) Open(u uri.URI, languageID string, version int32, text string) {
	s.docs.ReplaceOrInsert(&Document{URI: u, LanguageID: languageID, Version: version, Text: text})
}

// Update replaces the text of an open document. The new version must be
// greater than the current one.
func (s *Session) Update(u uri.URI, version int32, text string) error {
	doc, ok := s.document(u)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDocument, u)
	}
	if version <= doc.Version {
		return fmt.Errorf("%w: %s has version %d, got %d", ErrStaleVersion, u, doc.Version, version)
	}
	s.docs.ReplaceOrInsert(&Document{URI: u, LanguageID: doc.LanguageID, Version: version, Text: text})
	return nil
}

func (s *Session) Close(u uri.URI) error {
	if s.docs.Delete(&Document{URI: u}) == nil {
		return fmt.Errorf("%w: %s", ErrUnknownDocument, u)
	}
	return nil
}

func (s *Session) UpdateClientSettings(raw any) error {
	o, err := DecodeClientSettings(raw)
	if err != nil {
		return err
	}
	s.client = o
	return nil
}

// ReloadProjectSettings rereads the settings file of every root. Roots whose
// file fails to parse keep their previous settings; the errors are joined.
func (s *Session) ReloadProjectSettings() error {
	var errs []error
	for _, r := range s.roots {
		o, err := LoadProjectSettings(s.fs, Filename(r))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		s.logger.Debug("loaded project settings", zap.String("root", string(r)))
		s.project[r] = o
	}
	return multierr.Combine(errs...)
}

func isExcluded(root, u uri.URI, patterns []string) bool {
	return lint.Excluded(Filename(root), Filename(u), patterns)
}

// Filename is uri.URI.Filename without the panic for non-file schemes such
// as untitled buffers; those are returned verbatim.
func Filename(u uri.URI) string {
	if !strings.HasPrefix(string(u), uri.FileScheme+"://") {
		return string(u)
	}
	return u.Filename()
}
