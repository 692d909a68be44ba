package compiler

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// Severity of a diagnostic.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityNote
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityNote:
		return "note"
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// ErrorKind classifies what went wrong.
type ErrorKind int

const (
	KindLexical    ErrorKind = iota // invalid token, unclosed string
	KindStructural                  // unexpected token, unclosed block, duplicate definition
	KindResolution                  // unresolved include, unknown word, no main
	KindExpansion                   // recursive macro or inline expansion
	KindType                        // stack effect mismatches
	KindEncoding                    // bytecode format errors
	KindInternal                    // compiler invariant violations
)

var kindNames = map[ErrorKind]string{
	KindLexical:    "lexical",
	KindStructural: "structural",
	KindResolution: "resolution",
	KindExpansion:  "expansion",
	KindType:       "type",
	KindEncoding:   "encoding",
	KindInternal:   "internal",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Note is secondary information attached to a diagnostic. A note with a
// zero Location is a free-standing hint.
type Note struct {
	Message  string
	Location Location
}

// Diagnostic is a structured compiler message. Errors are returned as
// *Diagnostic values; warnings go to a WarningSink.
type Diagnostic struct {
	Kind     ErrorKind
	Severity Severity
	Message  string
	Location Location
	Notes    []Note
}

// WarningSink receives non-fatal diagnostics.
type WarningSink func(*Diagnostic)

func newError(kind ErrorKind, loc Location, format string, args ...any) *Diagnostic {
	return &Diagnostic{
		Kind:     kind,
		Severity: SeverityError,
		Message:  fmt.Sprintf(format, args...),
		Location: loc,
	}
}

func newWarning(loc Location, format string, args ...any) *Diagnostic {
	return &Diagnostic{
		Kind:     KindType,
		Severity: SeverityWarning,
		Message:  fmt.Sprintf(format, args...),
		Location: loc,
	}
}

// Errorf creates an error diagnostic. Later pipeline stages use it to
// report in the same shape as the front end.
func Errorf(kind ErrorKind, loc Location, format string, args ...any) *Diagnostic {
	return newError(kind, loc, format, args...)
}

// WithNote appends a located note and returns d.
func (d *Diagnostic) WithNote(loc Location, format string, args ...any) *Diagnostic {
	return d.note(loc, format, args...)
}

// note appends a located note and returns d for chaining.
func (d *Diagnostic) note(loc Location, format string, args ...any) *Diagnostic {
	d.Notes = append(d.Notes, Note{Message: fmt.Sprintf(format, args...), Location: loc})
	return d
}

// hint appends a note without a location.
func (d *Diagnostic) hint(format string, args ...any) *Diagnostic {
	d.Notes = append(d.Notes, Note{Message: fmt.Sprintf(format, args...)})
	return d
}

func (d *Diagnostic) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s: %s", d.Location, d.Severity, d.Message)
	for _, n := range d.Notes {
		if n.Location.IsZero() {
			fmt.Fprintf(&b, "\n  %s", n.Message)
		} else {
			fmt.Fprintf(&b, "\n  %s: %s", n.Location, n.Message)
		}
	}
	return b.String()
}

// AsDiagnostic unwraps err into a *Diagnostic if it carries one.
func AsDiagnostic(err error) (*Diagnostic, bool) {
	var d *Diagnostic
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}

// Render writes d with the offending source line and a caret marker.
func Render(w io.Writer, d *Diagnostic) {
	fmt.Fprintf(w, "%s: %s\n", d.Severity, d.Message)
	renderLocation(w, "-->", d.Location)
	for _, n := range d.Notes {
		if n.Location.IsZero() {
			fmt.Fprintf(w, "  = %s\n", n.Message)
			continue
		}
		fmt.Fprintf(w, "note: %s\n", n.Message)
		renderLocation(w, "-->", n.Location)
	}
}

func renderLocation(w io.Writer, arrow string, loc Location) {
	if loc.IsZero() {
		return
	}
	fmt.Fprintf(w, "  %s %s\n", arrow, loc)

	start := loc.Start()
	lines := strings.Split(loc.File.Source, "\n")
	if start.Line-1 >= len(lines) {
		return
	}
	line := lines[start.Line-1]
	width := loc.Span.End - loc.Span.Start
	if width < 1 {
		width = 1
	}
	if start.Column-1+width > len(line) {
		width = len(line) - start.Column + 1
		if width < 1 {
			width = 1
		}
	}
	fmt.Fprintf(w, "   | %s\n", line)
	fmt.Fprintf(w, "   | %s%s\n", strings.Repeat(" ", start.Column-1), strings.Repeat("^", width))
}
