package lsp

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/zap"

	"github.com/wycleffsean/linthost/internal/lsp/schedule"
	"github.com/wycleffsean/linthost/internal/session"
	"github.com/wycleffsean/linthost/pkg/lint"
)

var log = zap.NewNop()

const (
	// MethodTextDocumentDiagnostic is the pull diagnostics request.
	MethodTextDocumentDiagnostic = "textDocument/diagnostic"
	// MethodDebugInfo reports the state of the server.
	MethodDebugInfo = "linthost/debugInfo"

	projectConfigGlob = "**/" + session.ProjectConfigName
)

func initialized(_ *Server, _ *protocol.InitializedParams) schedule.Task {
	return schedule.Local(func(context.Context, *session.Session, *schedule.Notifier, *schedule.Requester, *schedule.Responder) {
		log.Debug("client initialized")
	})
}

func didOpen(srv *Server, params *protocol.DidOpenTextDocumentParams) schedule.Task {
	doc := params.TextDocument
	return schedule.Local(func(_ context.Context, s *session.Session, n *schedule.Notifier, _ *schedule.Requester, _ *schedule.Responder) {
		s.Open(doc.URI, string(doc.LanguageID), doc.Version, doc.Text)
		n.Schedule(lintDocument(srv, doc.URI))
	})
}

// didChangeParams mirrors protocol.DidChangeTextDocumentParams with an
// optional range, so that full and incremental changes can be told apart.
type didChangeParams struct {
	TextDocument   protocol.VersionedTextDocumentIdentifier `json:"textDocument"`
	ContentChanges []contentChange                          `json:"contentChanges"`
}

type contentChange struct {
	Range *protocol.Range `json:"range,omitempty"`
	Text  string          `json:"text"`
}

func didChange(srv *Server, params *didChangeParams) schedule.Task {
	u := params.TextDocument.URI
	version := params.TextDocument.Version
	changes := params.ContentChanges
	return schedule.Local(func(_ context.Context, s *session.Session, n *schedule.Notifier, _ *schedule.Requester, _ *schedule.Responder) {
		if len(changes) == 0 {
			return
		}
		snap, ok := s.Snapshot(u)
		if !ok {
			log.Warn("change for a document that is not open", zap.String("uri", string(u)))
			return
		}
		text, err := applyChanges(snap.Text, changes)
		if err == nil {
			err = s.Update(u, version, text)
		}
		if err != nil {
			log.Warn("failed to apply document change", zap.String("uri", string(u)), zap.Error(err))
			return
		}
		n.Schedule(lintDocument(srv, u))
	})
}

// applyChanges applies content changes in order. A change without a range
// replaces the whole document.
func applyChanges(text string, changes []contentChange) (string, error) {
	for _, c := range changes {
		if c.Range == nil {
			text = c.Text
			continue
		}
		var err error
		text, err = lint.ApplyEdit(text, protocolPosToLint(c.Range.Start), protocolPosToLint(c.Range.End), c.Text)
		if err != nil {
			return "", err
		}
	}
	return text, nil
}

func didClose(srv *Server, params *protocol.DidCloseTextDocumentParams) schedule.Task {
	u := params.TextDocument.URI
	return schedule.Local(func(_ context.Context, s *session.Session, n *schedule.Notifier, _ *schedule.Requester, _ *schedule.Responder) {
		if err := s.Close(u); err != nil {
			log.Warn("failed to close document", zap.String("uri", string(u)), zap.Error(err))
			return
		}
		srv.lints.forget(u)
		publish(n, &protocol.PublishDiagnosticsParams{URI: u, Diagnostics: []protocol.Diagnostic{}})
	})
}

func didSave(srv *Server, params *protocol.DidSaveTextDocumentParams) schedule.Task {
	u := params.TextDocument.URI
	return schedule.Local(func(_ context.Context, _ *session.Session, n *schedule.Notifier, _ *schedule.Requester, _ *schedule.Responder) {
		n.Schedule(lintDocument(srv, u))
	})
}

func didChangeConfiguration(srv *Server, params *protocol.DidChangeConfigurationParams) schedule.Task {
	settings := params.Settings
	return schedule.Local(func(_ context.Context, s *session.Session, n *schedule.Notifier, _ *schedule.Requester, _ *schedule.Responder) {
		if err := s.UpdateClientSettings(settings); err != nil {
			showError(n, "linthost: ignoring invalid settings: %v", err)
			return
		}
		relintAll(srv, s, n)
	})
}

func didChangeWorkspaceFolders(srv *Server, params *protocol.DidChangeWorkspaceFoldersParams) schedule.Task {
	event := params.Event
	return schedule.Local(func(_ context.Context, s *session.Session, n *schedule.Notifier, _ *schedule.Requester, _ *schedule.Responder) {
		for _, f := range event.Removed {
			s.RemoveRoot(uri.URI(f.URI))
		}
		for _, f := range event.Added {
			root := uri.URI(f.URI)
			if err := s.AddRoot(root); err != nil {
				showError(n, "linthost: failed to load %s for %s: %v", session.ProjectConfigName, f.Name, err)
			}
			if srv.watcher != nil {
				srv.watcher.add(root)
			}
		}
		log.Info("workspace folders changed", zap.Strings("roots", uriStrings(s.Roots())))
		relintAll(srv, s, n)
	})
}

func didChangeWatchedFiles(srv *Server, params *protocol.DidChangeWatchedFilesParams) schedule.Task {
	changes := params.Changes
	return schedule.Local(func(_ context.Context, s *session.Session, n *schedule.Notifier, _ *schedule.Requester, _ *schedule.Responder) {
		reload := false
		for _, c := range changes {
			if c != nil && isProjectConfig(c.URI) {
				log.Debug("project settings changed", zap.String("uri", string(c.URI)), zap.Any("type", c.Type))
				reload = true
			}
		}
		if reload {
			reloadProjectSettings(srv, s, n)
		}
	})
}

func isProjectConfig(u uri.URI) bool {
	return filepath.Base(session.Filename(u)) == session.ProjectConfigName
}

func reloadProjectSettings(srv *Server, s *session.Session, n *schedule.Notifier) {
	if err := s.ReloadProjectSettings(); err != nil {
		showError(n, "linthost: failed to load %s: %v", session.ProjectConfigName, err)
	}
	relintAll(srv, s, n)
}

type cancelParams struct {
	ID jsonrpc2.ID `json:"id"`
}

func cancelRequest(_ *Server, params *cancelParams) schedule.Task {
	id := params.ID
	return schedule.Local(func(_ context.Context, _ *session.Session, _ *schedule.Notifier, _ *schedule.Requester, resp *schedule.Responder) {
		if !resp.Cancel(id) {
			log.Debug("cancelled request is no longer running", zap.String("id", fmt.Sprint(id)))
		}
	})
}

// formatting computes edits from the document as it was when the request
// was dispatched, even if edits arrive while it runs.
func formatting(_ *Server, id jsonrpc2.ID, params *protocol.DocumentFormattingParams) schedule.Task {
	u := params.TextDocument.URI
	return schedule.Background(func(v session.View) schedule.BackgroundFunc {
		snap, ok := v.Snapshot(u)
		return func(ctx context.Context, _ *schedule.Notifier, resp *schedule.Responder) {
			if !ok {
				respond(resp, id, nil, jsonrpc2.Errorf(jsonrpc2.InvalidParams, "document is not open: %s", u))
				return
			}
			respond(resp, id, formatEdits(ctx, snap), ctx.Err())
		}
	})
}

func formatEdits(ctx context.Context, snap *session.Snapshot) []protocol.TextEdit {
	edits := []protocol.TextEdit{}
	if snap.Excluded || ctx.Err() != nil {
		return edits
	}
	formatted := lint.Format(snap.Text, snap.Settings.Lint())
	if formatted == snap.Text {
		return edits
	}
	return append(edits, protocol.TextEdit{Range: wholeDocument(snap.Text), NewText: formatted})
}

// rangeFormatting formats the lines touched by the requested range.
func rangeFormatting(_ *Server, id jsonrpc2.ID, params *protocol.DocumentRangeFormattingParams) schedule.Task {
	u := params.TextDocument.URI
	r := params.Range
	return schedule.Background(func(v session.View) schedule.BackgroundFunc {
		snap, ok := v.Snapshot(u)
		return func(ctx context.Context, _ *schedule.Notifier, resp *schedule.Responder) {
			if !ok {
				respond(resp, id, nil, jsonrpc2.Errorf(jsonrpc2.InvalidParams, "document is not open: %s", u))
				return
			}
			respond(resp, id, rangeEdits(snap, r), ctx.Err())
		}
	})
}

func rangeEdits(snap *session.Snapshot, r protocol.Range) []protocol.TextEdit {
	edits := []protocol.TextEdit{}
	if snap.Excluded {
		return edits
	}
	first, last := int(r.Start.Line), int(r.End.Line)
	// a range ending at the start of a line does not touch that line
	if r.End.Character == 0 && last > first {
		last--
	}
	formatted, start, end := lint.FormatRange(snap.Text, first, last, snap.Settings.Lint())
	if formatted == snap.Text[lint.Offset(snap.Text, start):lint.Offset(snap.Text, end)] {
		return edits
	}
	return append(edits, protocol.TextEdit{
		Range:   protocol.Range{Start: lintPosToProtocol(start), End: lintPosToProtocol(end)},
		NewText: formatted,
	})
}

const (
	codeActionSourceFixAll         protocol.CodeActionKind = "source.fixAll"
	codeActionSourceFixAllLinthost protocol.CodeActionKind = "source.fixAll.linthost"
)

// codeAction offers a quick fix per fixable rule among the diagnostics in
// the request, and a source.fixAll action that applies every fix.
func codeAction(_ *Server, id jsonrpc2.ID, params *protocol.CodeActionParams) schedule.Task {
	u := params.TextDocument.URI
	only := params.Context.Only
	diags := params.Context.Diagnostics
	return schedule.Background(func(v session.View) schedule.BackgroundFunc {
		snap, ok := v.Snapshot(u)
		return func(ctx context.Context, _ *schedule.Notifier, resp *schedule.Responder) {
			actions := []protocol.CodeAction{}
			if ok && !snap.Excluded {
				if wantsKind(only, protocol.QuickFix) {
					actions = append(actions, quickFixes(snap, diags)...)
				}
				if wantsKind(only, codeActionSourceFixAllLinthost) {
					if edit, changed := fixEdit(snap, snap.Settings.Lint()); changed {
						actions = append(actions, protocol.CodeAction{
							Title: "linthost: fix all auto-fixable problems",
							Kind:  codeActionSourceFixAllLinthost,
							Edit:  edit,
						})
					}
				}
			}
			respond(resp, id, actions, ctx.Err())
		}
	})
}

// wantsKind reports whether kind is requested by only. Kinds are
// hierarchical, so "source.fixAll" asks for "source.fixAll.linthost".
func wantsKind(only []protocol.CodeActionKind, kind protocol.CodeActionKind) bool {
	if len(only) == 0 {
		return true
	}
	for _, o := range only {
		if kind == o || strings.HasPrefix(string(kind), string(o)+".") {
			return true
		}
	}
	return false
}

func quickFixes(snap *session.Snapshot, diags []protocol.Diagnostic) []protocol.CodeAction {
	byCode := map[lint.Code][]protocol.Diagnostic{}
	var order []lint.Code
	for _, d := range diags {
		code, _ := d.Code.(string)
		c := lint.Code(code)
		if d.Source != ServerName || !c.Fixable() {
			continue
		}
		if _, seen := byCode[c]; !seen {
			order = append(order, c)
		}
		byCode[c] = append(byCode[c], d)
	}
	var actions []protocol.CodeAction
	for _, c := range order {
		cfg := snap.Settings.Lint()
		cfg.Select = []lint.Code{c}
		edit, changed := fixEdit(snap, cfg)
		if !changed {
			continue
		}
		actions = append(actions, protocol.CodeAction{
			Title:       fmt.Sprintf("linthost: fix all %s problems", c),
			Kind:        protocol.QuickFix,
			Diagnostics: byCode[c],
			IsPreferred: true,
			Edit:        edit,
		})
	}
	return actions
}

func fixEdit(snap *session.Snapshot, cfg lint.Config) (*protocol.WorkspaceEdit, bool) {
	formatted := lint.Format(snap.Text, cfg)
	if formatted == snap.Text {
		return nil, false
	}
	return &protocol.WorkspaceEdit{
		Changes: map[uri.URI][]protocol.TextEdit{
			snap.URI: {{Range: wholeDocument(snap.Text), NewText: formatted}},
		},
	}, true
}

type documentDiagnosticParams struct {
	TextDocument protocol.TextDocumentIdentifier `json:"textDocument"`
}

// fullDocumentDiagnosticReport is the "full" variant of the pull
// diagnostics result.
type fullDocumentDiagnosticReport struct {
	Kind  string                `json:"kind"`
	Items []protocol.Diagnostic `json:"items"`
}

func documentDiagnostic(_ *Server, id jsonrpc2.ID, params *documentDiagnosticParams) schedule.Task {
	u := params.TextDocument.URI
	return schedule.Background(func(v session.View) schedule.BackgroundFunc {
		snap, ok := v.Snapshot(u)
		return func(ctx context.Context, _ *schedule.Notifier, resp *schedule.Responder) {
			report := fullDocumentDiagnosticReport{Kind: "full", Items: []protocol.Diagnostic{}}
			if ok {
				report.Items = diagnosticsForSnapshot(snap)
			}
			respond(resp, id, report, ctx.Err())
		}
	})
}

type debugInfoResult struct {
	Version         string    `json:"version"`
	Roots           []uri.URI `json:"roots"`
	Documents       []uri.URI `json:"documents"`
	Workers         int       `json:"workers"`
	PendingRequests int       `json:"pendingRequests"`
	InFlight        int       `json:"inFlight"`
	StaleLints      int       `json:"staleLints"`
}

func debugInfo(srv *Server, id jsonrpc2.ID, _ *struct{}) schedule.Task {
	version := srv.version
	workers := srv.sch.Workers()
	return schedule.Local(func(_ context.Context, s *session.Session, _ *schedule.Notifier, r *schedule.Requester, resp *schedule.Responder) {
		respond(resp, id, debugInfoResult{
			Version:         version,
			Roots:           s.Roots(),
			Documents:       s.Documents(),
			Workers:         workers,
			PendingRequests: r.Pending(),
			InFlight:        resp.InFlight(),
			StaleLints:      srv.lints.stale,
		}, nil)
	})
}

// lintStarted runs on the worker before a document is linted.
var lintStarted = func(*session.Snapshot) {}

// lintDocument lints the current version of u on the pool. The result is
// published from the event loop, and only if no newer lint of u was started
// and the document is still open.
func lintDocument(srv *Server, u uri.URI) schedule.Task {
	return schedule.Background(func(v session.View) schedule.BackgroundFunc {
		snap, ok := v.Snapshot(u)
		if !ok {
			return nil
		}
		gen := srv.lints.start(u)
		return func(ctx context.Context, n *schedule.Notifier, _ *schedule.Responder) {
			lintStarted(snap)
			diags := diagnosticsForSnapshot(snap)
			if ctx.Err() != nil {
				return
			}
			n.Schedule(schedule.Local(func(_ context.Context, _ *session.Session, n *schedule.Notifier, _ *schedule.Requester, _ *schedule.Responder) {
				if !srv.lints.latest(u, gen) {
					srv.lints.stale++
					log.Debug("dropping stale diagnostics", zap.String("uri", string(u)), zap.Int32("version", snap.Version))
					return
				}
				publish(n, &protocol.PublishDiagnosticsParams{
					URI:         u,
					Version:     publishedVersion(snap.Version),
					Diagnostics: diags,
				})
			}))
		}
	})
}

func relintAll(srv *Server, s *session.Session, n *schedule.Notifier) {
	for _, u := range s.Documents() {
		n.Schedule(lintDocument(srv, u))
	}
}

func publish(n *schedule.Notifier, params *protocol.PublishDiagnosticsParams) {
	if err := n.Notify(protocol.MethodTextDocumentPublishDiagnostics, params); err != nil {
		log.Error("failed to publish diagnostics", zap.String("uri", string(params.URI)), zap.Error(err))
	}
}

func showError(n *schedule.Notifier, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Error(msg)
	if err := n.Notify(protocol.MethodWindowShowMessage, &protocol.ShowMessageParams{
		Type:    protocol.MessageTypeError,
		Message: msg,
	}); err != nil {
		log.Error("failed to show message", zap.Error(err))
	}
}

func respond(resp *schedule.Responder, id jsonrpc2.ID, result any, err error) {
	if rerr := resp.Respond(id, result, err); rerr != nil {
		log.Error("failed to respond", zap.String("id", fmt.Sprint(id)), zap.Error(rerr))
	}
}
