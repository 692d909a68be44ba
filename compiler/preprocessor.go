package compiler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"
)

// maxExpansionDepth bounds the number of nested macro expansions in flight.
const maxExpansionDepth = 512

// SourceExt is appended to include paths that carry no extension.
const SourceExt = ".stck"

// Loader supplies source files to the preprocessor.
type Loader interface {
	Load(path string) (*File, error)
}

// FSLoader reads files from disk. Paths present in Overlay are served from
// memory instead, which is how the language server checks unsaved buffers.
type FSLoader struct {
	Overlay map[string]string
}

// Load implements Loader.
func (l FSLoader) Load(path string) (*File, error) {
	if src, ok := l.Overlay[path]; ok {
		return NewFile(path, src), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return NewFile(path, string(data)), nil
}

// Macro is a named token sequence captured by `macro NAME ... end`.
type Macro struct {
	Name string
	Body []Token
	Loc  Location
}

type expansionFrame struct {
	name string
	loc  Location
}

// Preprocessor resolves includes and expands macros over a token stack.
type Preprocessor struct {
	loader   Loader
	libPaths []string
	log      commonlog.Logger

	tokens    []Token // reversed: the next token is the last element
	macros    map[string]*Macro
	included  map[string]bool
	expansion []expansionFrame
}

// NewPreprocessor creates a preprocessor that searches libPaths, in order,
// for library includes.
func NewPreprocessor(loader Loader, libPaths []string) *Preprocessor {
	return &Preprocessor{
		loader:   loader,
		libPaths: libPaths,
		log:      commonlog.GetLogger("stck.preprocessor"),
		macros:   make(map[string]*Macro),
		included: make(map[string]bool),
	}
}

// Macros returns the macro table collected so far.
func (p *Preprocessor) Macros() map[string]*Macro {
	return p.macros
}

// Run preprocesses entry. If prelude is non-empty it names a library that
// is included ahead of the entry file.
func (p *Preprocessor) Run(entry *File, prelude string) ([]Token, error) {
	path, err := filepath.Abs(entry.Path)
	if err != nil {
		path = entry.Path
	}
	p.included[filepath.Clean(path)] = true

	tokens, err := Tokenize(entry)
	if err != nil {
		return nil, err
	}
	p.push(tokens)

	if prelude != "" {
		resolved, err := p.resolveLibrary(withExt(prelude))
		if err != nil {
			return nil, newError(KindResolution, entry.Location(Span{}), "cannot include prelude %q", prelude).
				hint("%v", err)
		}
		if err := p.include(resolved, entry.Location(Span{})); err != nil {
			return nil, err
		}
	}

	var out []Token
	for len(p.tokens) > 0 {
		if err := p.readToken(p.next(), &out); err != nil {
			return nil, err
		}
	}
	p.log.Debugf("preprocessed %s: %d tokens, %d macros", entry.Path, len(out), len(p.macros))
	return out, nil
}

// push places tokens on the stack so that tokens[0] is read next.
func (p *Preprocessor) push(tokens []Token) {
	for i := len(tokens) - 1; i >= 0; i-- {
		p.tokens = append(p.tokens, tokens[i])
	}
}

func (p *Preprocessor) next() Token {
	tok := p.tokens[len(p.tokens)-1]
	p.tokens = p.tokens[:len(p.tokens)-1]
	return tok
}

// sentinel marks the end of one macro body on the token stack.
func sentinel(loc Location) Token {
	return Token{Type: TokenEOF, Loc: loc}
}

func (p *Preprocessor) readToken(tok Token, out *[]Token) error {
	if tok.Escaped {
		tok.Escaped = false
		*out = append(*out, tok)
		return nil
	}

	switch tok.Type {
	case TokenEOF:
		p.expansion = p.expansion[:len(p.expansion)-1]

	case TokenEscape:
		if len(p.tokens) == 0 {
			return newError(KindStructural, tok.Loc, "expected a token after `\\`")
		}
		*out = append(*out, p.next())

	case TokenInclude:
		if len(p.tokens) == 0 || p.tokens[len(p.tokens)-1].Type != TokenStr {
			return newError(KindStructural, tok.Loc, "expected a path string after `include`")
		}
		str := p.next()
		path, err := p.resolveInclude(str.Literal, str.Loc)
		if err != nil {
			return err
		}
		return p.include(path, str.Loc)

	case TokenMacro:
		return p.readMacro(tok.Loc)

	case TokenWord:
		if m, ok := p.macros[tok.Literal]; ok {
			return p.expand(m, tok.Loc)
		}
		*out = append(*out, tok)

	default:
		*out = append(*out, tok)
	}
	return nil
}

// readMacro captures a macro body without expanding it. Nested block
// constructs are matched so that their `end` does not close the macro.
func (p *Preprocessor) readMacro(loc Location) error {
	if len(p.tokens) == 0 || p.tokens[len(p.tokens)-1].Type != TokenWord {
		return newError(KindStructural, loc, "expected a macro name")
	}
	name := p.next()
	if _, ok := intrinsics[name.Literal]; ok {
		return newError(KindStructural, name.Loc, "duplicated definition of `%s`", name.Literal).
			hint("there is already an intrinsic with the same name")
	}
	if prev, ok := p.macros[name.Literal]; ok {
		return newError(KindStructural, name.Loc, "duplicated definition of macro `%s`", name.Literal).
			note(prev.Loc, "previously defined here")
	}

	m := &Macro{Name: name.Literal, Loc: name.Loc}
	depth := 0
	for len(p.tokens) > 0 {
		tok := p.next()
		switch {
		case tok.Escaped:
			m.Body = append(m.Body, tok)
		case tok.Type == TokenEOF:
			p.expansion = p.expansion[:len(p.expansion)-1]
		case tok.Type == TokenEscape:
			if len(p.tokens) == 0 {
				return newError(KindStructural, tok.Loc, "expected a token after `\\`")
			}
			esc := p.next()
			esc.Escaped = true
			m.Body = append(m.Body, esc)
		case tok.Type == TokenEnd && depth == 0:
			p.macros[m.Name] = m
			p.log.Debugf("defined macro %s (%d tokens)", m.Name, len(m.Body))
			return nil
		default:
			if tok.Type.opensBlock() {
				depth++
			} else if tok.Type == TokenEnd {
				depth--
			}
			m.Body = append(m.Body, tok)
		}
	}
	return newError(KindStructural, loc, "this macro was never closed")
}

func (p *Preprocessor) expand(m *Macro, loc Location) error {
	for i, frame := range p.expansion {
		if frame.name != m.Name {
			continue
		}
		err := newError(KindExpansion, loc, "recursive expansion of macro `%s`", m.Name)
		for j := i; j < len(p.expansion); j++ {
			f := p.expansion[j]
			if f.name == m.Name {
				err.note(f.loc, "first expansion of %s", m.Name)
			} else {
				err.note(f.loc, "%s lead to the expansion of %s", p.expansion[j-1].name, f.name)
			}
		}
		err.note(loc, "%s expanded again here", m.Name)
		return err
	}
	if len(p.expansion) >= maxExpansionDepth {
		return newError(KindExpansion, loc, "macro expansion depth limit of %d exceeded", maxExpansionDepth)
	}

	p.expansion = append(p.expansion, expansionFrame{name: m.Name, loc: loc})
	p.tokens = append(p.tokens, sentinel(loc))
	p.push(m.Body)
	return nil
}

func withExt(path string) string {
	if filepath.Ext(path) == "" {
		return path + SourceExt
	}
	return path
}

// resolveInclude maps an include string to a canonical path. Paths starting
// with ./ or ../ are relative to the including file, absolute paths are
// used as given, and anything else is searched in the library roots.
func (p *Preprocessor) resolveInclude(raw string, loc Location) (string, error) {
	name := withExt(raw)
	switch {
	case strings.HasPrefix(name, "./") || strings.HasPrefix(name, "../"):
		dir := "."
		if loc.File != nil {
			dir = filepath.Dir(loc.File.Path)
		}
		return canonical(filepath.Join(dir, name)), nil
	case filepath.IsAbs(name):
		return canonical(name), nil
	}

	path, err := p.resolveLibrary(name)
	if err != nil {
		return "", newError(KindResolution, loc, "unresolved include %q", raw).hint("%v", err)
	}
	return path, nil
}

func (p *Preprocessor) resolveLibrary(name string) (string, error) {
	for _, dir := range p.libPaths {
		candidate := canonical(filepath.Join(dir, name))
		if _, err := p.loader.Load(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%s not found in library paths [%s]", name, strings.Join(p.libPaths, ", "))
}

func canonical(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

// include splices a file's tokens in place, once per canonical path.
func (p *Preprocessor) include(path string, loc Location) error {
	if p.included[path] {
		p.log.Debugf("skipping already included %s", path)
		return nil
	}
	p.included[path] = true

	file, err := p.loader.Load(path)
	if err != nil {
		return newError(KindResolution, loc, "unresolved include %s", path).hint("%v", err)
	}
	tokens, err := Tokenize(file)
	if err != nil {
		return err
	}
	p.log.Debugf("including %s (%d tokens)", path, len(tokens))
	p.push(tokens)
	return nil
}
