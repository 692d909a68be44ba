package server

import (
	"sort"

	"github.com/tliron/commonlog"

	"github.com/chazu/stck/compiler"
)

// Config controls how open documents are analyzed.
type Config struct {
	LibPaths []string
	Prelude  string
	Unsafe   bool
}

// Snapshot is the result of analyzing one document.
type Snapshot struct {
	Path string

	// Program is the last program that parsed, which may be older than
	// the current text when the latest edit does not parse. It is nil
	// until the document parses once.
	Program *compiler.Program

	// Diagnostics holds the error (if any) followed by the warnings.
	Diagnostics []*compiler.Diagnostic
}

// Workspace holds the text of every open document and the latest analysis
// of each. Unsaved text shadows the file on disk, including for files
// reached through `include`.
type Workspace struct {
	cfg       Config
	docs      map[string]string
	snapshots map[string]*Snapshot
	log       commonlog.Logger
}

// NewWorkspace creates an empty workspace.
func NewWorkspace(cfg Config) *Workspace {
	return &Workspace{
		cfg:       cfg,
		docs:      make(map[string]string),
		snapshots: make(map[string]*Snapshot),
		log:       commonlog.GetLogger("stck.lsp"),
	}
}

// Update stores the text of path and re-analyzes every open document,
// since any of them may include path.
func (w *Workspace) Update(path, text string) []*Snapshot {
	w.docs[path] = text
	return w.analyzeAll()
}

// Close forgets path and re-analyzes the remaining documents.
func (w *Workspace) Close(path string) []*Snapshot {
	delete(w.docs, path)
	delete(w.snapshots, path)
	return w.analyzeAll()
}

// Text returns the current text of an open document.
func (w *Workspace) Text(path string) (string, bool) {
	text, ok := w.docs[path]
	return text, ok
}

// Snapshot returns the latest analysis of path, or nil.
func (w *Workspace) Snapshot(path string) *Snapshot {
	return w.snapshots[path]
}

// Paths returns the open documents in sorted order.
func (w *Workspace) Paths() []string {
	paths := make([]string, 0, len(w.docs))
	for p := range w.docs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (w *Workspace) analyzeAll() []*Snapshot {
	var out []*Snapshot
	for _, path := range w.Paths() {
		out = append(out, w.analyze(path))
	}
	return out
}

// analyze runs the front end on an open document.
func (w *Workspace) analyze(path string) *Snapshot {
	snap := &Snapshot{Path: path}
	if prev := w.snapshots[path]; prev != nil {
		snap.Program = prev.Program
	}

	var warnings []*compiler.Diagnostic
	prog, err := compiler.AnalyzeFile(compiler.NewFile(path, w.docs[path]), compiler.Options{
		Loader:   compiler.FSLoader{Overlay: w.docs},
		LibPaths: w.cfg.LibPaths,
		Prelude:  w.cfg.Prelude,
		Unsafe:   w.cfg.Unsafe,
		Warn:     func(d *compiler.Diagnostic) { warnings = append(warnings, d) },
	})
	if prog != nil {
		snap.Program = prog
	}
	if err != nil {
		d, ok := compiler.AsDiagnostic(err)
		if !ok {
			d = compiler.Errorf(compiler.KindInternal, compiler.Location{}, "%s", err)
		}
		snap.Diagnostics = append(snap.Diagnostics, d)
	}
	snap.Diagnostics = append(snap.Diagnostics, warnings...)

	w.log.Debugf("analyzed %s: %d diagnostics", path, len(snap.Diagnostics))
	w.snapshots[path] = snap
	return snap
}
