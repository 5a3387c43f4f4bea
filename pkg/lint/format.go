package lint

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Format rewrites text so that none of the fixable rules (W191, W291, W292,
// E303) fire. Rule selection in cfg is honored; E501 is never fixed.
func Format(text string, cfg Config) string {
	if text == "" {
		return text
	}
	lines := splitLines(text)
	hadFinalNewline := strings.HasSuffix(text, "\n")
	if hadFinalNewline {
		lines = lines[:len(lines)-1]
	}

	tab := strings.Repeat(" ", max(cfg.TabWidth, 1))
	out := make([]line, 0, len(lines))
	blank := 0
	for _, l := range lines {
		s := l.text
		if cfg.enabled(TrailingWhitespace) {
			s = strings.TrimRight(s, " \t")
		}
		if cfg.enabled(TabIndentation) && strings.TrimSpace(s) != "" {
			rest := strings.TrimLeft(s, " \t")
			indent := s[:len(s)-len(rest)]
			s = strings.ReplaceAll(indent, "\t", tab) + rest
		}
		if strings.TrimSpace(s) == "" {
			blank++
			if cfg.enabled(TooManyBlankLines) && blank > cfg.MaxBlankLines {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line{text: s, cr: l.cr})
	}

	var sb strings.Builder
	for i, l := range out {
		sb.WriteString(l.text)
		if l.cr {
			sb.WriteByte('\r')
		}
		if i < len(out)-1 {
			sb.WriteByte('\n')
		}
	}
	if hadFinalNewline || cfg.enabled(MissingNewline) {
		sb.WriteByte('\n')
	}
	return sb.String()
}

// FormatRange formats lines first through last, zero based and inclusive,
// and returns their replacement along with the span it replaces. Blank line
// runs are counted from the start of the range. The final newline rule only
// applies when the range reaches the end of text.
func FormatRange(text string, first, last int, cfg Config) (string, Position, Position) {
	lines := strings.SplitAfter(text, "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	last = min(last, len(lines)-1)
	first = max(first, 0)
	if first > last {
		return "", Position{Line: first}, Position{Line: first}
	}
	segment := strings.Join(lines[first:last+1], "")
	end := Position{Line: last + 1}
	if !strings.HasSuffix(segment, "\n") {
		end = End(text)
	}
	return Format(segment, cfg), Position{Line: first}, end
}

// Excluded reports whether path, relative to root, matches any of the
// doublestar patterns.
func Excluded(root, path string, patterns []string) bool {
	if len(patterns) == 0 {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = path
	}
	rel = filepath.ToSlash(rel)
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}
