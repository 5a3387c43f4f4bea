package report

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/wycleffsean/linthost/pkg/lint"
)

// FileDiagnostic is a lint finding located in a file. Source holds the file
// content the finding was computed from.
type FileDiagnostic struct {
	lint.Diagnostic
	Path   string
	Source string
}

func (d *FileDiagnostic) Error() string {
	return fmt.Sprintf("%s:%s", d.Path, d.Diagnostic.Error())
}

// Formatter converts an error into a printable string.
type Formatter interface {
	Format(err error) string
}

// PrettyFormatter formats findings with color and source context.
type PrettyFormatter struct{}

// SimpleFormatter formats findings in a one line, grep friendly style.
type SimpleFormatter struct{}

func NewPrettyFormatter() Formatter { return &PrettyFormatter{} }
func NewSimpleFormatter() Formatter { return &SimpleFormatter{} }

func (f *SimpleFormatter) Format(err error) string {
	return err.Error() + "\n"
}

func (f *PrettyFormatter) Format(err error) string {
	if fd, ok := err.(*FileDiagnostic); ok {
		return formatPretty(fd)
	}
	return err.Error() + "\n"
}

func severityColor(c lint.Code) *color.Color {
	if c.Severity() == lint.SeverityError {
		return color.New(color.FgRed)
	}
	return color.New(color.FgYellow)
}

func formatPretty(fd *FileDiagnostic) string {
	pos := fd.Pos
	header := color.New(color.Bold).Sprintf("%s:%d:%d", fd.Path, pos.Line+1, pos.Column+1)
	highlight := severityColor(fd.Code)

	var sb strings.Builder
	sb.WriteString(header + " " + highlight.Sprint(string(fd.Code)) + " " + fd.Message + "\n")

	lines := strings.Split(fd.Source, "\n")
	if pos.Line >= len(lines) {
		return sb.String()
	}
	start := max(pos.Line-1, 0)
	end := min(pos.Line+1, len(lines)-1)
	// a trailing newline leaves an empty element that is not a line
	if end > pos.Line && end == len(lines)-1 && lines[end] == "" {
		end--
	}
	numWidth := len(fmt.Sprintf("%d", end+1))
	for i := start; i <= end; i++ {
		text := strings.TrimSuffix(lines[i], "\r")
		sb.WriteString(fmt.Sprintf("%*d | %s\n", numWidth, i+1, visible(text)))
		if i == pos.Line {
			underline := strings.Repeat(" ", numWidth+3+pos.Column)
			underline += highlight.Sprint(strings.Repeat("^", max(pos.Length, 1)))
			sb.WriteString(underline + "\n")
		}
	}
	return sb.String()
}

// visible replaces tabs so that carets line up with the reported column.
func visible(s string) string {
	return strings.ReplaceAll(s, "\t", "→")
}
