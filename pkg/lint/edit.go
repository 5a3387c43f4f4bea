package lint

import (
	"fmt"
	"strings"
	"unicode/utf16"
)

// Offset converts p to a byte offset in text. Columns past the end of a line
// clamp to the line end and lines past the end clamp to len(text).
func Offset(text string, p Position) int {
	start := 0
	for i := 0; i < p.Line; i++ {
		nl := strings.IndexByte(text[start:], '\n')
		if nl < 0 {
			return len(text)
		}
		start += nl + 1
	}
	end := len(text)
	if nl := strings.IndexByte(text[start:], '\n'); nl >= 0 {
		end = start + nl
		if end > start && text[end-1] == '\r' {
			end--
		}
	}
	col := 0
	for i, r := range text[start:end] {
		if col >= p.Column {
			return start + i
		}
		col += utf16.RuneLen(r)
	}
	return end
}

// ApplyEdit replaces the text between start and end with newText.
func ApplyEdit(text string, start, end Position, newText string) (string, error) {
	from, to := Offset(text, start), Offset(text, end)
	if from > to {
		return "", fmt.Errorf("edit ends at %d:%d before it starts at %d:%d", end.Line, end.Column, start.Line, start.Column)
	}
	return text[:from] + newText + text[to:], nil
}
