package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/chazu/stck/compiler"
)

func newTestSession() (*session, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return newSession(compiler.Options{}, &out, &errOut), &out, &errOut
}

// ---------------------------------------------------------------------------
// Evaluation
// ---------------------------------------------------------------------------

func TestSession_DefinitionsAccumulate(t *testing.T) {
	s, out, _ := newTestSession()
	ctx := context.Background()

	for _, def := range []string{
		"proc sq :: int -> int do dup mul end",
		"const N 3 end",
		"macro twice dup add end",
	} {
		if err := s.eval(ctx, def); err != nil {
			t.Fatalf("eval(%q): %v", def, err)
		}
	}
	if len(s.defs) != 3 {
		t.Fatalf("defs = %d, want 3", len(s.defs))
	}

	if err := s.eval(ctx, "N sq twice print"); err != nil {
		t.Fatal(err)
	}
	if out.String() != "18\n" {
		t.Errorf("output = %q, want %q", out.String(), "18\n")
	}
}

func TestSession_RejectedDefinitionIsDropped(t *testing.T) {
	s, _, _ := newTestSession()
	ctx := context.Background()

	err := s.eval(ctx, "proc bad :: int -> bool do end")
	if err == nil {
		t.Fatal("expected a type error")
	}
	if d, ok := compiler.AsDiagnostic(err); !ok || d.Kind != compiler.KindType {
		t.Errorf("err = %v, want a type diagnostic", err)
	}
	if len(s.defs) != 0 {
		t.Errorf("defs = %v, want none", s.defs)
	}
}

func TestSession_MultiLineDefinition(t *testing.T) {
	s, out, _ := newTestSession()
	ctx := context.Background()

	def := "proc countdown :: int do\n  while dup 0 gt do\n    dup print 1 sub\n  end\n  drop\nend"
	if err := s.eval(ctx, def); err != nil {
		t.Fatal(err)
	}
	if err := s.eval(ctx, "3 countdown"); err != nil {
		t.Fatal(err)
	}
	if out.String() != "3\n2\n1\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestSession_Errors(t *testing.T) {
	s, out, _ := newTestSession()
	ctx := context.Background()

	if err := s.eval(ctx, "1 2"); err == nil {
		t.Error("leftover values should be rejected")
	}
	if err := s.eval(ctx, "undefined-word"); err == nil {
		t.Error("unknown word should be rejected")
	}
	if err := s.eval(ctx, "1 0 divmod drop drop"); err == nil {
		t.Error("division by zero should fail at run time")
	}
	if err := s.eval(ctx, "5 print"); err != nil {
		t.Errorf("session should recover after errors: %v", err)
	}
	if out.String() != "5\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestSession_ExitStatus(t *testing.T) {
	s, _, errOut := newTestSession()
	if err := s.eval(context.Background(), "3 exit"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(errOut.String(), "exit status 3") {
		t.Errorf("stderr = %q", errOut.String())
	}
}

func TestSession_WarningsOnDefinition(t *testing.T) {
	s, _, errOut := newTestSession()
	if err := s.eval(context.Background(), "proc keep do dup end"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(errOut.String(), "ambiguous signature inferred for `keep`") {
		t.Errorf("stderr = %q", errOut.String())
	}
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

func TestSession_Commands(t *testing.T) {
	s, out, _ := newTestSession()
	if err := s.eval(context.Background(), "const A 1 end"); err != nil {
		t.Fatal(err)
	}

	if s.command(":defs") {
		t.Error(":defs should not quit")
	}
	if out.String() != "const A 1 end\n" {
		t.Errorf(":defs output = %q", out.String())
	}

	s.command(":reset")
	if len(s.defs) != 0 {
		t.Errorf("defs after :reset = %v", s.defs)
	}

	out.Reset()
	s.command(":nope")
	if !strings.Contains(out.String(), "unknown command") {
		t.Errorf("output = %q", out.String())
	}

	if !s.command(":quit") {
		t.Error(":quit should quit")
	}
}

// ---------------------------------------------------------------------------
// Input classification
// ---------------------------------------------------------------------------

func TestIsDefinition(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"proc f do end", true},
		{"inline proc f do end", true},
		{"unsafe proc f do end", true},
		{"const N 1 end", true},
		{"memory buf 8 end", true},
		{"macro m dup end", true},
		{`include "std"`, true},
		{`assert "ok" true end`, true},
		{"1 2 add print", false},
		{"  proc f do end", true},
		{"", false},
		{`"unterminated`, false},
	}
	for _, tt := range tests {
		if got := isDefinition(tt.input); got != tt.want {
			t.Errorf("isDefinition(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestComplete(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"1 print", true},
		{"proc f do", false},
		{"proc f do\n  1 if", false},
		{"proc f do\n  true if 1 print end\nend", true},
		{"end", true},
		{`"unterminated`, true},
	}
	for _, tt := range tests {
		if got := complete(tt.input); got != tt.want {
			t.Errorf("complete(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
