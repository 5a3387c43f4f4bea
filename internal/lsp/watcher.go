package lsp

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.lsp.dev/uri"
	"go.uber.org/zap"

	"github.com/wycleffsean/linthost/internal/lsp/schedule"
	"github.com/wycleffsean/linthost/internal/session"
)

// projectWatcher stands in for client side file watching. It watches each
// workspace root directory and schedules a settings reload whenever the
// project settings file inside it changes.
type projectWatcher struct {
	srv     *Server
	watcher *fsnotify.Watcher
	doneCh  chan struct{}
}

func newProjectWatcher(srv *Server, roots []uri.URI) (*projectWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	pw := &projectWatcher{srv: srv, watcher: w, doneCh: make(chan struct{})}
	for _, r := range roots {
		pw.add(r)
	}
	go pw.run()
	return pw, nil
}

// add starts watching a workspace root. Roots that are not local
// directories are skipped.
func (w *projectWatcher) add(root uri.URI) {
	if !strings.HasPrefix(string(root), uri.FileScheme+"://") {
		return
	}
	// Watch the directory, the settings file may not exist yet
	dir := session.Filename(root)
	if err := w.watcher.Add(dir); err != nil {
		log.Warn("cannot watch workspace root", zap.String("dir", dir), zap.Error(err))
	}
}

func (w *projectWatcher) run() {
	defer close(w.doneCh)
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != session.ProjectConfigName {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			log.Debug("project settings changed on disk", zap.String("file", ev.Name), zap.Stringer("op", ev.Op))
			w.srv.sch.Notifier().Schedule(schedule.Local(func(_ context.Context, s *session.Session, n *schedule.Notifier, _ *schedule.Requester, _ *schedule.Responder) {
				reloadProjectSettings(w.srv, s, n)
			}))
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error("project settings watcher error", zap.Error(err))
		}
	}
}

func (w *projectWatcher) Close() error {
	err := w.watcher.Close()
	<-w.doneCh
	return err
}
