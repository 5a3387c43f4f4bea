// Package lint implements the whitespace and layout rules served by linthost.
// It knows nothing about the language server; callers hand it text and a
// Config and get back positions in LSP coordinates (zero based lines,
// UTF-16 columns).
package lint

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// Code identifies a rule.
type Code string

const (
	TabIndentation     Code = "W191"
	TrailingWhitespace Code = "W291"
	MissingNewline     Code = "W292"
	TooManyBlankLines  Code = "E303"
	LineTooLong        Code = "E501"
)

// AllCodes lists every rule in report order.
var AllCodes = []Code{TabIndentation, TrailingWhitespace, MissingNewline, TooManyBlankLines, LineTooLong}

type Severity int

const (
	SeverityError Severity = iota + 1
	SeverityWarning
)

func (c Code) Severity() Severity {
	if strings.HasPrefix(string(c), "E") {
		return SeverityError
	}
	return SeverityWarning
}

// Fixable reports whether Format can repair findings of this rule.
func (c Code) Fixable() bool {
	return c != LineTooLong
}

// Position is a location inside a document. Length is measured in UTF-16
// code units starting at Column.
type Position struct {
	Line   int
	Column int
	Length int
}

type Diagnostic struct {
	Code    Code
	Message string
	Pos     Position
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("%d:%d: %s %s", d.Pos.Line+1, d.Pos.Column+1, d.Code, d.Message)
}

// Config controls rule selection and thresholds.
type Config struct {
	LineLength    int
	TabWidth      int
	MaxBlankLines int
	// Select restricts reporting to the listed codes. Empty selects all.
	Select []Code
}

func DefaultConfig() Config {
	return Config{LineLength: 100, TabWidth: 4, MaxBlankLines: 2}
}

func (c Config) enabled(code Code) bool {
	return len(c.Select) == 0 || slices.Contains(c.Select, code)
}

type line struct {
	text string
	cr   bool
}

func splitLines(text string) []line {
	raw := strings.Split(text, "\n")
	lines := make([]line, len(raw))
	for i, r := range raw {
		if strings.HasSuffix(r, "\r") {
			lines[i] = line{text: r[:len(r)-1], cr: true}
		} else {
			lines[i] = line{text: r}
		}
	}
	return lines
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// Check runs every enabled rule over text.
func Check(text string, cfg Config) []Diagnostic {
	var diags []Diagnostic
	lines := splitLines(text)
	// A trailing "\n" produces an empty final element that is not a line.
	last := len(lines) - 1
	if lines[last].text == "" && !lines[last].cr {
		lines = lines[:last]
	}

	blank := 0
	for i, l := range lines {
		indent := l.text[:len(l.text)-len(strings.TrimLeft(l.text, " \t"))]
		if cfg.enabled(TabIndentation) {
			if idx := strings.IndexByte(indent, '\t'); idx >= 0 && strings.TrimSpace(l.text) != "" {
				diags = append(diags, Diagnostic{
					Code:    TabIndentation,
					Message: "indentation contains tabs",
					Pos:     Position{Line: i, Column: utf16Len(indent[:idx]), Length: utf16Len(indent[idx:])},
				})
			}
		}

		trimmed := strings.TrimRight(l.text, " \t")
		if cfg.enabled(TrailingWhitespace) && len(trimmed) != len(l.text) {
			diags = append(diags, Diagnostic{
				Code:    TrailingWhitespace,
				Message: "trailing whitespace",
				Pos:     Position{Line: i, Column: utf16Len(trimmed), Length: utf16Len(l.text[len(trimmed):])},
			})
		}

		if strings.TrimSpace(l.text) == "" {
			blank++
			if cfg.enabled(TooManyBlankLines) && blank == cfg.MaxBlankLines+1 {
				diags = append(diags, Diagnostic{
					Code:    TooManyBlankLines,
					Message: fmt.Sprintf("too many blank lines (more than %d)", cfg.MaxBlankLines),
					Pos:     Position{Line: i},
				})
			}
		} else {
			blank = 0
		}

		if cfg.enabled(LineTooLong) && cfg.LineLength > 0 {
			if width := utf8.RuneCountInString(l.text); width > cfg.LineLength {
				prefix := string([]rune(l.text)[:cfg.LineLength])
				diags = append(diags, Diagnostic{
					Code:    LineTooLong,
					Message: fmt.Sprintf("line too long (%d > %d)", width, cfg.LineLength),
					Pos:     Position{Line: i, Column: utf16Len(prefix), Length: utf16Len(l.text) - utf16Len(prefix)},
				})
			}
		}
	}

	if cfg.enabled(MissingNewline) && text != "" && !strings.HasSuffix(text, "\n") {
		endLine := len(lines) - 1
		diags = append(diags, Diagnostic{
			Code:    MissingNewline,
			Message: "no newline at end of file",
			Pos:     Position{Line: endLine, Column: utf16Len(lines[endLine].text)},
		})
	}
	return diags
}

// End returns the position just past the last character of text.
func End(text string) Position {
	lines := splitLines(text)
	last := lines[len(lines)-1]
	col := utf16Len(last.text)
	if last.cr {
		col++
	}
	return Position{Line: len(lines) - 1, Column: col}
}
