package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/chazu/stck/compiler"
	"github.com/chazu/stck/pkg/bytecode"
)

const (
	historyFile = ".stck_history"
	promptMain  = "stck> "
	promptCont  = "  ... "
	replPath    = "repl.stck"
)

// session accumulates the definitions entered so far. Every other input is
// compiled as the body of a fresh main appended to those definitions.
type session struct {
	opts   compiler.Options
	defs   []string
	out    io.Writer
	errOut io.Writer
}

func newSession(opts compiler.Options, out, errOut io.Writer) *session {
	opts.Warn = nil
	return &session{opts: opts, out: out, errOut: errOut}
}

// eval handles one complete input.
func (s *session) eval(ctx context.Context, input string) error {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	if isDefinition(input) {
		return s.define(input)
	}

	prog, err := s.analyze(s.source(input), nil)
	if err != nil {
		return err
	}
	code, err := bytecode.Compile(prog)
	if err != nil {
		return err
	}
	status, err := bytecode.Execute(ctx, code, bytecode.WithOutput(s.out))
	if err != nil {
		return err
	}
	if status != 0 {
		fmt.Fprintf(s.errOut, "exit status %d\n", status)
	}
	return nil
}

// define keeps input when the definitions still check with it added.
func (s *session) define(input string) error {
	var warnings []*compiler.Diagnostic
	_, err := s.analyze(strings.Join(append(s.defs, input, "proc main do end"), "\n"), func(d *compiler.Diagnostic) {
		warnings = append(warnings, d)
	})
	if err != nil {
		return err
	}
	for _, w := range warnings {
		compiler.Render(s.errOut, w)
	}
	s.defs = append(s.defs, input)
	return nil
}

func (s *session) analyze(src string, warn compiler.WarningSink) (*compiler.Program, error) {
	opts := s.opts
	opts.Warn = warn
	return compiler.AnalyzeFile(compiler.NewFile(replPath, src), opts)
}

// source wraps body in a main procedure after the session's definitions.
func (s *session) source(body string) string {
	var b strings.Builder
	for _, d := range s.defs {
		b.WriteString(d)
		b.WriteByte('\n')
	}
	b.WriteString("proc main do\n")
	b.WriteString(body)
	b.WriteString("\nend\n")
	return b.String()
}

// command runs a `:` command and reports whether the loop should stop.
func (s *session) command(cmd string) bool {
	switch strings.TrimSpace(cmd) {
	case ":quit", ":q":
		return true
	case ":reset":
		s.defs = nil
		fmt.Fprintln(s.out, "definitions cleared")
	case ":defs":
		for _, d := range s.defs {
			fmt.Fprintln(s.out, d)
		}
	case ":help", ":h", ":?":
		fmt.Fprintln(s.out, "Commands:")
		fmt.Fprintln(s.out, "  :defs    list the definitions entered so far")
		fmt.Fprintln(s.out, "  :reset   forget all definitions")
		fmt.Fprintln(s.out, "  :quit    leave")
	default:
		fmt.Fprintf(s.out, "unknown command %s (type :help for commands)\n", cmd)
	}
	return false
}

// isDefinition reports whether input starts with a top-level definition
// rather than words for main.
func isDefinition(input string) bool {
	tokens, err := compiler.Tokenize(compiler.NewFile(replPath, input))
	if err != nil || len(tokens) == 0 {
		return false
	}
	switch tokens[0].Type {
	case compiler.TokenProc, compiler.TokenInline, compiler.TokenUnsafe,
		compiler.TokenConst, compiler.TokenMemory, compiler.TokenMacro,
		compiler.TokenInclude, compiler.TokenAssert:
		return true
	}
	return false
}

// complete reports whether every block opened in input has been closed.
// Input that does not lex is complete so the error gets reported.
func complete(input string) bool {
	tokens, err := compiler.Tokenize(compiler.NewFile(replPath, input))
	if err != nil {
		return true
	}
	return compiler.OpenBlocks(tokens) <= 0
}

func cmdRepl(ctx context.Context, args []string) int {
	fs, opts := newFlagSet("repl")
	if _, err := parseArgs(fs, args); err != nil {
		return 2
	}
	p, err := setup(ctx, opts, "")
	if err != nil {
		report(err)
		return 1
	}

	fmt.Printf("stck %s (type :help for commands)\n", version)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)
	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	s := newSession(p.analysis, os.Stdout, os.Stderr)
	for {
		input, ok := readInput(ln)
		if !ok {
			fmt.Println()
			return 0
		}
		if strings.HasPrefix(strings.TrimSpace(input), ":") {
			if s.command(input) {
				return 0
			}
			continue
		}
		if strings.TrimSpace(input) == "" {
			continue
		}
		ln.AppendHistory(strings.ReplaceAll(input, "\n", " "))
		if err := s.eval(ctx, input); err != nil {
			report(err)
		}
	}
}

// readInput reads lines until the blocks they open are closed. It returns
// false at end of input.
func readInput(ln *liner.State) (string, bool) {
	var b strings.Builder
	for {
		prompt := promptMain
		if b.Len() > 0 {
			prompt = promptCont
		}
		line, err := ln.Prompt(prompt)
		if errors.Is(err, liner.ErrPromptAborted) {
			return "", true
		}
		if err != nil {
			return "", false
		}

		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		if complete(b.String()) {
			return b.String(), true
		}
	}
}
