package report

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/wycleffsean/linthost/pkg/lint"
)

func TestSimpleFormatter(t *testing.T) {
	d := &FileDiagnostic{
		Path:       "a.txt",
		Diagnostic: lint.Diagnostic{Code: lint.TrailingWhitespace, Message: "trailing whitespace", Pos: lint.Position{Line: 1, Column: 3, Length: 2}},
	}
	got := NewSimpleFormatter().Format(d)
	if got != "a.txt:2:4: W291 trailing whitespace\n" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestPrettyFormatterShowsCarets(t *testing.T) {
	color.NoColor = true
	d := &FileDiagnostic{
		Path:       "a.txt",
		Source:     "one\ntwo  \nthree\n",
		Diagnostic: lint.Diagnostic{Code: lint.TrailingWhitespace, Message: "trailing whitespace", Pos: lint.Position{Line: 1, Column: 3, Length: 2}},
	}
	got := NewPrettyFormatter().Format(d)
	want := strings.Join([]string{
		"a.txt:2:4 W291 trailing whitespace",
		"1 | one",
		"2 | two  ",
		"       ^^",
		"3 | three",
		"",
	}, "\n")
	if got != want {
		t.Fatalf("unexpected output:\n%s\nwant:\n%s", got, want)
	}
}

func TestReporterSummary(t *testing.T) {
	diag := func(code lint.Code) error {
		return &FileDiagnostic{Path: "a.txt", Diagnostic: lint.Diagnostic{Code: code, Message: "m"}}
	}
	var buf bytes.Buffer
	sum := New(NewSimpleFormatter(), &buf).Report([]error{
		diag(lint.TrailingWhitespace),
		diag(lint.LineTooLong),
		diag(lint.TabIndentation),
	})
	if sum != (Summary{Errors: 1, Warnings: 2, Fixable: 2}) {
		t.Fatalf("unexpected summary %+v", sum)
	}
	want := "a.txt:1:1: W291 m\na.txt:1:1: E501 m\na.txt:1:1: W191 m\n\n" +
		"3 problems (1 error, 2 warnings)\n2 fixable with `linthost format`\n"
	if buf.String() != want {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestReporterCountsOtherErrors(t *testing.T) {
	var buf bytes.Buffer
	sum := New(NewSimpleFormatter(), &buf).Report([]error{errors.New("read failed")})
	if sum.Errors != 1 || sum.Fixable != 0 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if buf.String() != "read failed\n\n1 problem (1 error, 0 warnings)\n" {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestReporterEmpty(t *testing.T) {
	var buf bytes.Buffer
	if sum := New(NewSimpleFormatter(), &buf).Report(nil); sum.Total() != 0 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}
}
