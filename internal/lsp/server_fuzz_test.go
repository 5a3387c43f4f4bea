package lsp

import (
	"testing"
	"unicode/utf8"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/wycleffsean/linthost/internal/session"
	"github.com/wycleffsean/linthost/pkg/lint"
)

// FuzzDidChangeBurst verifies that a burst of DidChange events followed by a
// formatting request formats only the final text.
func FuzzDidChangeBurst(f *testing.F) {
	seeds := []struct {
		open    string
		change1 string
		change2 string
	}{
		{"foo: bar", "foo: baz  ", "foo: qux"},
		{"a\n", "\ta\n\n\n\n", "b  \r\n"},
	}
	for _, s := range seeds {
		f.Add(s.open, s.change1, s.change2)
	}

	f.Fuzz(func(t *testing.T, openText, change1, change2 string) {
		if !utf8.ValidString(openText) || !utf8.ValidString(change1) || !utf8.ValidString(change2) {
			t.Skip("JSON cannot carry invalid UTF-8")
		}
		c := setup(t, testEnv{})
		c.initialize(nil)

		docURI := uri.File("/ws/fuzz.txt")
		c.open(docURI, 1, openText)
		c.change(docURI, 2, change1)
		c.change(docURI, 3, change2)

		var edits []protocol.TextEdit
		c.result(c.format(docURI), &edits)

		want := lint.Format(change2, session.DefaultSettings().Lint())
		if want == change2 {
			if len(edits) != 0 {
				t.Fatalf("expected no edits for %q, got %#v", change2, edits)
			}
			return
		}
		if len(edits) != 1 || edits[0].NewText != want {
			t.Fatalf("expected %q, got %#v", want, edits)
		}
	})
}
