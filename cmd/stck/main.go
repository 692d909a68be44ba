// stck CLI - compiles, checks and runs stck programs
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/stck/compiler"
	"github.com/chazu/stck/manifest"
	"github.com/chazu/stck/pkg/bytecode"
)

const appName = "stck"

// version is overridden at link time.
var version = "dev"

var log = commonlog.GetLogger("stck.cli")

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cmd, args := os.Args[1], os.Args[2:]
	var status int
	switch cmd {
	case "run":
		status = cmdRun(ctx, args)
	case "build":
		status = cmdBuild(ctx, args)
	case "check":
		status = cmdCheck(ctx, args)
	case "disasm":
		status = cmdDisasm(ctx, args)
	case "lsp":
		status = cmdLSP(ctx, args)
	case "repl":
		status = cmdRepl(ctx, args)
	case "version":
		fmt.Println(version)
	case "-h", "--help", "help":
		usage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "%s: unknown command %q\n", appName, cmd)
		usage(os.Stderr)
		status = 2
	}
	cancel()
	os.Exit(status)
}

func usage(w io.Writer) {
	fmt.Fprintf(w, `stck %s

Usage:
  %s run [options] [FILE]           Compile and run FILE (or a .stbin file)
  %s build [options] [FILE [OUT]]   Compile FILE to bytecode
  %s check [options] [FILE]         Type check FILE
  %s disasm [options] FILE          List the instructions of FILE
  %s lsp [options]                  Serve the language server on stdio
  %s repl [options]                 Start the interactive loop
  %s version                        Print the version

Without FILE, the entry of the nearest stck.toml is used.

Options:
  -v              More logging (repeatable)
  -unsafe         Skip type checking
  -I DIR          Add a library root (repeatable)
  -prelude NAME   Include library NAME before the program
`, version, appName, appName, appName, appName, appName, appName, appName)
}

// ---------------------------------------------------------------------------
// Shared options
// ---------------------------------------------------------------------------

// countFlag counts how many times a boolean flag is given.
type countFlag int

func (c *countFlag) String() string   { return fmt.Sprint(int(*c)) }
func (c *countFlag) IsBoolFlag() bool { return true }
func (c *countFlag) Set(string) error {
	*c++
	return nil
}

// listFlag collects every occurrence of a string flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, string(os.PathListSeparator)) }
func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

type options struct {
	verbose  countFlag
	unsafe   bool
	prelude  string
	libPaths listFlag
}

func newFlagSet(name string) (*flag.FlagSet, *options) {
	opts := &options{}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.Var(&opts.verbose, "v", "more logging (repeatable)")
	fs.BoolVar(&opts.unsafe, "unsafe", false, "skip type checking")
	fs.StringVar(&opts.prelude, "prelude", "", "library included before the program")
	fs.Var(&opts.libPaths, "I", "add a library root (repeatable)")
	fs.Usage = func() { usage(fs.Output()) }
	return fs, opts
}

// project is the resolved configuration for one invocation.
type project struct {
	manifest *manifest.Manifest // nil without a stck.toml
	analysis compiler.Options
}

// setup loads the manifest next to file (or the working directory),
// configures logging and resolves the library roots.
func setup(ctx context.Context, opts *options, file string) (*project, error) {
	dir := "."
	if file != "" {
		dir = filepath.Dir(file)
	}
	m, err := manifest.FindAndLoad(dir)
	if err != nil {
		return nil, err
	}

	verbosity := int(opts.verbose)
	var logFile *string
	if m != nil {
		verbosity += m.Log.Verbosity
		logFile = m.LogFile()
	}
	commonlog.Configure(verbosity, logFile)

	p := &project{manifest: m}
	p.analysis.Unsafe = opts.unsafe
	p.analysis.Prelude = opts.prelude
	p.analysis.LibPaths = append(p.analysis.LibPaths, opts.libPaths...)
	if m != nil {
		log.Infof("using %s", filepath.Join(m.Dir, manifest.FileName))
		paths, err := manifest.NewResolver(m).LibPaths(ctx)
		if err != nil {
			return nil, err
		}
		p.analysis.LibPaths = append(p.analysis.LibPaths, paths...)
		p.analysis.Unsafe = p.analysis.Unsafe || m.Build.Unsafe
		if p.analysis.Prelude == "" {
			p.analysis.Prelude = m.Include.Prelude
		}
	}
	p.analysis.LibPaths = append(p.analysis.LibPaths, defaultLibPaths()...)
	p.analysis.Warn = func(d *compiler.Diagnostic) { compiler.Render(os.Stderr, d) }

	log.Debugf("library roots: %s", strings.Join(p.analysis.LibPaths, ", "))
	return p, nil
}

// defaultLibPaths returns the library roots searched after the configured
// ones: lib/ next to the executable, ./lib, then STCK_PATH.
func defaultLibPaths() []string {
	var paths []string
	if exe, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(exe), "lib"))
	}
	if abs, err := filepath.Abs("lib"); err == nil {
		paths = append(paths, abs)
	}
	for _, p := range filepath.SplitList(os.Getenv("STCK_PATH")) {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// entry returns the source file to work on: the argument if given,
// otherwise the manifest's build entry.
func (p *project) entry(arg string) (string, error) {
	if arg != "" {
		return arg, nil
	}
	if p.manifest != nil && p.manifest.EntryPath() != "" {
		return p.manifest.EntryPath(), nil
	}
	return "", errors.New("no input file and no build entry in stck.toml")
}

// compile runs the front end and the bytecode compiler on path.
func (p *project) compile(path string) (*bytecode.ByteCode, *bytecode.DebugInfo, error) {
	prog, err := compiler.Analyze(path, p.analysis)
	if err != nil {
		return nil, nil, err
	}
	c := bytecode.NewCompiler(prog)
	code, err := c.Compile()
	if err != nil {
		return nil, nil, err
	}
	return code, c.DebugInfo(), nil
}

// report prints err, rendering diagnostics with their source context.
func report(err error) {
	if d, ok := compiler.AsDiagnostic(err); ok {
		compiler.Render(os.Stderr, d)
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}

// parseArgs parses the flags in args and returns the positional arguments.
// Flags may follow positional arguments.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}
