package report

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/wycleffsean/linthost/pkg/lint"
)

// Summary counts reported findings. Errors that are not lint findings count
// as errors.
type Summary struct {
	Errors   int
	Warnings int
	Fixable  int
}

func (s Summary) Total() int { return s.Errors + s.Warnings }

func (s *Summary) add(err error) {
	var fd *FileDiagnostic
	if !errors.As(err, &fd) {
		s.Errors++
		return
	}
	if fd.Code.Severity() == lint.SeverityError {
		s.Errors++
	} else {
		s.Warnings++
	}
	if fd.Code.Fixable() {
		s.Fixable++
	}
}

func (s Summary) String() string {
	if s.Total() == 0 {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%s, %s)\n", plural(s.Total(), "problem"), plural(s.Errors, "error"), plural(s.Warnings, "warning"))
	if s.Fixable > 0 {
		fmt.Fprintf(&sb, "%d fixable with `linthost format`\n", s.Fixable)
	}
	return sb.String()
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

// Reporter prints formatted findings followed by a summary.
type Reporter struct {
	Formatter Formatter
	Out       io.Writer
}

func New(f Formatter, out io.Writer) *Reporter {
	return &Reporter{Formatter: f, Out: out}
}

// Report prints errs and returns their summary. Nothing is printed for an
// empty list.
func (r *Reporter) Report(errs []error) Summary {
	var sum Summary
	for _, err := range errs {
		sum.add(err)
		fmt.Fprint(r.Out, r.Formatter.Format(err))
	}
	if sum.Total() > 0 {
		fmt.Fprint(r.Out, "\n"+sum.String())
	}
	return sum
}
