package bytecode

import (
	"bytes"
	"context"
	"testing"

	"github.com/chazu/stck/compiler"
)

const testEntry = "/proj/main.stck"

// analyze runs the front end on src, with extra in-memory files.
func analyze(t testing.TB, src string, files map[string]string) (*compiler.Program, error) {
	t.Helper()
	overlay := map[string]string{testEntry: src}
	for path, content := range files {
		overlay[path] = content
	}
	return compiler.Analyze(testEntry, compiler.Options{
		Loader:   compiler.FSLoader{Overlay: overlay},
		LibPaths: []string{"/lib"},
	})
}

// compileSource analyzes and compiles src, failing the test on any error.
func compileSource(t testing.TB, src string) *ByteCode {
	t.Helper()
	prog, err := analyze(t, src, nil)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	code, err := Compile(prog)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	return code
}

// run executes code and returns its output and exit status.
func run(t testing.TB, code *ByteCode, opts ...Option) (string, int, error) {
	t.Helper()
	var out bytes.Buffer
	opts = append([]Option{WithOutput(&out)}, opts...)
	status, err := NewVM(code, opts...).Run(context.Background())
	return out.String(), status, err
}

// runSource compiles and runs src, failing the test on any error.
func runSource(t testing.TB, src string) (string, int) {
	t.Helper()
	out, status, err := run(t, compileSource(t, src))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return out, status
}

// program builds a ByteCode from raw instructions.
func program(instr ...Instruction) *ByteCode {
	return &ByteCode{Instr: instr}
}

func countOp(code *ByteCode, op Opcode) int {
	n := 0
	for _, in := range code.Instr {
		if in.Op == op {
			n++
		}
	}
	return n
}
