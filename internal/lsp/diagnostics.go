package lsp

import (
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/wycleffsean/linthost/internal/session"
	"github.com/wycleffsean/linthost/pkg/lint"
)

func lintPosToProtocol(p lint.Position) protocol.Position {
	return protocol.Position{Line: uint32(p.Line), Character: uint32(p.Column)}
}

func protocolPosToLint(p protocol.Position) lint.Position {
	return lint.Position{Line: int(p.Line), Column: int(p.Character)}
}

// publishedVersion maps a document version onto the unsigned field of
// PublishDiagnosticsParams. Negative versions are sent as 0.
func publishedVersion(v int32) uint32 {
	return uint32(max(v, 0))
}

func severityToProtocol(s lint.Severity) protocol.DiagnosticSeverity {
	if s == lint.SeverityError {
		return protocol.DiagnosticSeverityError
	}
	return protocol.DiagnosticSeverityWarning
}

func diagnosticFromLint(d lint.Diagnostic) protocol.Diagnostic {
	start := lintPosToProtocol(d.Pos)
	end := start
	end.Character += uint32(d.Pos.Length)
	return protocol.Diagnostic{
		Range:    protocol.Range{Start: start, End: end},
		Severity: severityToProtocol(d.Code.Severity()),
		Code:     string(d.Code),
		Source:   ServerName,
		Message:  d.Message,
	}
}

// diagnosticsForSnapshot lints the snapshot's text. Excluded documents get an
// empty, non-nil slice so that stale results are cleared on the client.
func diagnosticsForSnapshot(snap *session.Snapshot) []protocol.Diagnostic {
	diags := []protocol.Diagnostic{}
	if snap.Excluded {
		return diags
	}
	for _, d := range lint.Check(snap.Text, snap.Settings.Lint()) {
		diags = append(diags, diagnosticFromLint(d))
	}
	return diags
}

// wholeDocument is the range covering all of text.
func wholeDocument(text string) protocol.Range {
	return protocol.Range{
		Start: protocol.Position{},
		End:   lintPosToProtocol(lint.End(text)),
	}
}

// lintGenerations numbers the lints started for each open document so that
// only the newest result is published. It is owned by the event loop.
type lintGenerations struct {
	next  uint64
	byURI map[uri.URI]uint64
	stale int
}

func (g *lintGenerations) start(u uri.URI) uint64 {
	if g.byURI == nil {
		g.byURI = map[uri.URI]uint64{}
	}
	g.next++
	g.byURI[u] = g.next
	return g.next
}

// latest reports whether gen is the newest lint of u. After forget no
// generation is current.
func (g *lintGenerations) latest(u uri.URI, gen uint64) bool {
	cur, ok := g.byURI[u]
	return ok && cur == gen
}

func (g *lintGenerations) forget(u uri.URI) {
	delete(g.byURI, u)
}
