package compiler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const testEntry = "/proj/main.stck"

// analyzeSource runs the front end on src with extra in-memory files.
func analyzeSource(t *testing.T, src string, files map[string]string, opts Options) (*Program, []*Diagnostic, error) {
	t.Helper()
	overlay := map[string]string{testEntry: src}
	for path, content := range files {
		overlay[path] = content
	}
	var warnings []*Diagnostic
	opts.Loader = FSLoader{Overlay: overlay}
	opts.Warn = func(d *Diagnostic) { warnings = append(warnings, d) }
	prog, err := Analyze(testEntry, opts)
	return prog, warnings, err
}

// mustAnalyze fails the test if src does not pass the front end.
func mustAnalyze(t *testing.T, src string) *Program {
	t.Helper()
	prog, _, err := analyzeSource(t, src, nil, Options{})
	require.NoError(t, err)
	return prog
}

// analyzeError returns the diagnostic produced for src.
func analyzeError(t *testing.T, src string) *Diagnostic {
	t.Helper()
	_, _, err := analyzeSource(t, src, nil, Options{})
	require.Error(t, err)
	d, ok := AsDiagnostic(err)
	require.True(t, ok, "error %v is not a diagnostic", err)
	return d
}

func tokenize(t *testing.T, src string) []Token {
	t.Helper()
	tokens, err := Tokenize(NewFile("test.stck", src))
	require.NoError(t, err)
	return tokens
}

func noteMessages(d *Diagnostic) []string {
	msgs := make([]string, len(d.Notes))
	for i, n := range d.Notes {
		msgs[i] = n.Message
	}
	return msgs
}
