package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/stck/compiler"
	"github.com/chazu/stck/pkg/bytecode"
	"github.com/chazu/stck/server"
)

// ---------------------------------------------------------------------------
// run
// ---------------------------------------------------------------------------

func cmdRun(ctx context.Context, args []string) int {
	fs, opts := newFlagSet("run")
	trace := fs.Bool("trace", false, "log every executed instruction")
	pos, err := parseArgs(fs, args)
	if err != nil || len(pos) > 1 {
		return 2
	}

	p, err := setup(ctx, opts, first(pos))
	if err != nil {
		report(err)
		return 1
	}
	path, err := p.entry(first(pos))
	if err != nil {
		report(err)
		return 2
	}

	code, dbg, err := p.load(path)
	if err != nil {
		report(err)
		return 1
	}

	out := bufio.NewWriter(os.Stdout)
	status, err := bytecode.Execute(ctx, code, bytecode.WithOutput(out), bytecode.WithTrace(*trace))
	if ferr := out.Flush(); err == nil && ferr != nil {
		err = ferr
	}
	if err != nil {
		reportFault(err, dbg)
		return 1
	}
	log.Debugf("%s exited with status %d", path, status)
	return status
}

// load compiles a source file, or decodes it if it already holds bytecode.
// Debug info for bytecode files is read from the .stdbg file next to them
// when present.
func (p *project) load(path string) (*bytecode.ByteCode, *bytecode.DebugInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	if !bytecode.IsBytecode(data) {
		return p.compile(path)
	}

	code, err := bytecode.Deserialize(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return code, readDebugInfo(debugPath(path)), nil
}

func readDebugInfo(path string) *bytecode.DebugInfo {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	dbg, err := bytecode.UnmarshalDebugInfo(data)
	if err != nil {
		log.Warningf("ignoring %s: %s", path, err)
		return nil
	}
	return dbg
}

// reportFault prints a VM error, with the source position of the faulting
// instruction when debug info is available.
func reportFault(err error, dbg *bytecode.DebugInfo) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	var rt *bytecode.RuntimeError
	if !errors.As(err, &rt) {
		return
	}
	if proc, ok := dbg.ProcAt(rt.IP); ok {
		fmt.Fprintf(os.Stderr, "  in %s\n", proc.Name)
	}
	if pos, ok := dbg.Lookup(rt.IP); ok {
		fmt.Fprintf(os.Stderr, "  --> %s\n", pos)
	}
}

// ---------------------------------------------------------------------------
// build
// ---------------------------------------------------------------------------

func cmdBuild(ctx context.Context, args []string) int {
	fs, opts := newFlagSet("build")
	debug := fs.Bool("debug", false, "also write a .stdbg debug info file")
	pos, err := parseArgs(fs, args)
	if err != nil || len(pos) > 2 {
		return 2
	}

	p, err := setup(ctx, opts, first(pos))
	if err != nil {
		report(err)
		return 1
	}
	path, err := p.entry(first(pos))
	if err != nil {
		report(err)
		return 2
	}
	out := outputPath(p, pos)

	code, dbg, err := p.compile(path)
	if err != nil {
		report(err)
		return 1
	}
	data, err := code.Serialize()
	if err != nil {
		report(err)
		return 1
	}
	if err := writeFile(out, data); err != nil {
		report(err)
		return 1
	}
	log.Noticef("wrote %s (%d instructions, %d bytes)", out, len(code.Instr), len(data))

	if *debug || (p.manifest != nil && p.manifest.Build.Debug) {
		info, err := bytecode.MarshalDebugInfo(dbg)
		if err != nil {
			report(err)
			return 1
		}
		if err := writeFile(debugPath(out), info); err != nil {
			report(err)
			return 1
		}
		log.Infof("wrote %s", debugPath(out))
	}
	return 0
}

// outputPath picks the build output: the explicit argument, the manifest
// output when building the manifest entry, or the input with .stbin.
func outputPath(p *project, pos []string) string {
	if len(pos) > 1 {
		return pos[1]
	}
	if len(pos) == 0 && p.manifest != nil {
		return p.manifest.OutputPath()
	}
	return replaceExt(pos[0], ".stbin")
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	return nil
}

func debugPath(path string) string {
	return replaceExt(path, ".stdbg")
}

func replaceExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

// ---------------------------------------------------------------------------
// check
// ---------------------------------------------------------------------------

func cmdCheck(ctx context.Context, args []string) int {
	fs, opts := newFlagSet("check")
	pos, err := parseArgs(fs, args)
	if err != nil || len(pos) > 1 {
		return 2
	}

	p, err := setup(ctx, opts, first(pos))
	if err != nil {
		report(err)
		return 1
	}
	path, err := p.entry(first(pos))
	if err != nil {
		report(err)
		return 2
	}

	prog, err := compiler.Analyze(path, p.analysis)
	if err != nil {
		report(err)
		return 1
	}
	log.Noticef("%s: %d procedures, %d constants, %d memories", path,
		len(prog.Procs), len(prog.Consts), len(prog.Memories))
	return 0
}

// ---------------------------------------------------------------------------
// disasm
// ---------------------------------------------------------------------------

func cmdDisasm(ctx context.Context, args []string) int {
	fs, opts := newFlagSet("disasm")
	pos, err := parseArgs(fs, args)
	if err != nil || len(pos) > 1 {
		return 2
	}

	p, err := setup(ctx, opts, first(pos))
	if err != nil {
		report(err)
		return 1
	}
	path, err := p.entry(first(pos))
	if err != nil {
		report(err)
		return 2
	}

	code, dbg, err := p.load(path)
	if err != nil {
		report(err)
		return 1
	}
	fmt.Print(code.DisassembleWithDebug(dbg))
	return 0
}

// ---------------------------------------------------------------------------
// lsp
// ---------------------------------------------------------------------------

func cmdLSP(ctx context.Context, args []string) int {
	fs, opts := newFlagSet("lsp")
	if _, err := parseArgs(fs, args); err != nil {
		return 2
	}

	p, err := setup(ctx, opts, "")
	if err != nil {
		report(err)
		return 1
	}
	srv := server.NewLSP(server.Config{
		LibPaths: p.analysis.LibPaths,
		Prelude:  p.analysis.Prelude,
		Unsafe:   p.analysis.Unsafe,
	}, version)
	if err := srv.Run(); err != nil {
		report(err)
		return 1
	}
	return 0
}

func first(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
