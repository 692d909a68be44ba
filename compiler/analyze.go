package compiler

import (
	"github.com/tliron/commonlog"
)

// Options configures the front end.
type Options struct {
	// Loader supplies source files. The zero value reads from disk.
	Loader Loader

	// LibPaths are the library roots searched by `include`, in order.
	LibPaths []string

	// Prelude names a library included ahead of the entry file.
	Prelude string

	// Unsafe skips type checking.
	Unsafe bool

	// Warn receives warnings. It may be nil.
	Warn WarningSink
}

// Analyze runs the front end on the file at path: preprocessing, parsing,
// lowering and type checking.
func Analyze(path string, opts Options) (*Program, error) {
	loader := opts.Loader
	if loader == nil {
		loader = FSLoader{}
	}
	file, err := loader.Load(path)
	if err != nil {
		return nil, err
	}
	return AnalyzeFile(file, opts)
}

// AnalyzeFile is Analyze for an already loaded file.
func AnalyzeFile(file *File, opts Options) (*Program, error) {
	log := commonlog.GetLogger("stck.checker")
	loader := opts.Loader
	if loader == nil {
		loader = FSLoader{}
	}

	pp := NewPreprocessor(loader, opts.LibPaths)
	tokens, err := pp.Run(file, opts.Prelude)
	if err != nil {
		return nil, err
	}

	prog, err := Parse(tokens, file, pp.Macros())
	if err != nil {
		return nil, err
	}

	if err := Lower(prog); err != nil {
		return prog, err
	}

	if _, ok := prog.Procs["main"]; !ok {
		return prog, newError(KindResolution, file.Location(Span{}), "no main procedure").
			hint("define one with `proc main do ... end`")
	}

	if opts.Unsafe {
		log.Info("type checking disabled")
		return prog, nil
	}
	if err := Check(prog, opts.Warn); err != nil {
		return prog, err
	}
	return prog, nil
}
