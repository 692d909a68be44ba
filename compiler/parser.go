package compiler

import (
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Parser: builds a Program from the preprocessed token stream
// ---------------------------------------------------------------------------

// Parser parses preprocessed tokens into a Program.
type Parser struct {
	tokens []Token
	pos    int
	prog   *Program
	index  int
	log    commonlog.Logger

	// unsafe is set while parsing the body of an unsafe procedure.
	unsafe bool
}

// NewParser creates a parser over tokens. Macros collected by the
// preprocessor are recorded in the program so that their names stay unique.
func NewParser(tokens []Token, file *File, macros map[string]*Macro) *Parser {
	prog := NewProgram(file)
	for name, m := range macros {
		prog.Macros[name] = m
	}
	return &Parser{
		tokens: tokens,
		prog:   prog,
		log:    commonlog.GetLogger("stck.parser"),
	}
}

// Parse is a convenience wrapper around NewParser and ParseProgram.
func Parse(tokens []Token, file *File, macros map[string]*Macro) (*Program, error) {
	return NewParser(tokens, file, macros).ParseProgram()
}

func (p *Parser) atEnd() bool {
	return p.pos >= len(p.tokens)
}

func (p *Parser) next() Token {
	tok := p.tokens[p.pos]
	p.pos++
	return tok
}

func (p *Parser) peek() Token {
	if p.atEnd() {
		return Token{Type: TokenEOF, Loc: p.eofLoc()}
	}
	return p.tokens[p.pos]
}

func (p *Parser) eofLoc() Location {
	if len(p.tokens) == 0 {
		return p.prog.File.Location(Span{})
	}
	last := p.tokens[len(p.tokens)-1].Loc
	return last.File.Location(Span{Start: last.Span.End, End: last.Span.End})
}

// expect consumes a token of the given type or fails.
func (p *Parser) expect(t TokenType, what string, open Location) (Token, error) {
	if p.atEnd() {
		return Token{}, newError(KindStructural, p.eofLoc(), "expected %s but got end of file", what).
			note(open, "while parsing this")
	}
	tok := p.next()
	if tok.Type != t {
		return Token{}, newError(KindStructural, tok.Loc, "expected %s, got %s", what, tok.describe())
	}
	return tok, nil
}

// checkUnique fails if name is already taken by an intrinsic or any
// top-level definition.
func (p *Parser) checkUnique(name Token) error {
	if _, ok := intrinsics[name.Literal]; ok {
		return newError(KindStructural, name.Loc, "duplicated definition of `%s`", name.Literal).
			hint("there is already an intrinsic with the same name")
	}
	if prev, ok := p.prog.Definition(name.Literal); ok {
		at := name.Loc
		// Macros are collected before parsing, so prev may come later in
		// the same file.
		if prev.File == at.File && prev.Span.Start > at.Span.Start {
			at, prev = prev, at
		}
		return newError(KindStructural, at, "duplicated definition of `%s`", name.Literal).
			note(prev, "previously defined here")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Top-level parsing
// ---------------------------------------------------------------------------

// ParseProgram parses every top-level definition.
func (p *Parser) ParseProgram() (*Program, error) {
	for !p.atEnd() {
		tok := p.next()
		var err error
		switch tok.Type {
		case TokenInline, TokenUnsafe, TokenProc:
			err = p.parseProc(tok)
		case TokenConst:
			err = p.parseConst(tok)
		case TokenMemory:
			err = p.parseMemory(tok)
		case TokenAssert:
			err = p.parseAssert(tok)
		default:
			err = newError(KindStructural, tok.Loc, "unexpected %s at the top level", tok.describe())
		}
		if err != nil {
			return nil, err
		}
	}
	p.log.Debugf("parsed %d procs, %d consts, %d memories", len(p.prog.Procs), len(p.prog.Consts), len(p.prog.Memories))
	return p.prog, nil
}

func (p *Parser) parseProc(first Token) error {
	var inline, unsafe bool
	for tok := first; tok.Type != TokenProc; tok = p.next() {
		switch tok.Type {
		case TokenInline:
			inline = true
		case TokenUnsafe:
			unsafe = true
		default:
			return newError(KindStructural, tok.Loc, "expected `proc`, got %s", tok.describe())
		}
		if p.atEnd() {
			return newError(KindStructural, p.eofLoc(), "expected `proc` but got end of file")
		}
	}

	name, err := p.expect(TokenWord, "a procedure name", first.Loc)
	if err != nil {
		return err
	}
	if err := p.checkUnique(name); err != nil {
		return err
	}

	proc := &Proc{
		Name:   name.Literal,
		Inline: inline,
		Unsafe: unsafe,
		Loc:    name.Loc,
		Index:  p.nextIndex(),
	}

	p.unsafe = unsafe
	defer func() { p.unsafe = false }()

	if p.peek().Type == TokenSigIns || p.peek().Type == TokenSigOuts {
		proc.Signature = &Signature{}
		if p.peek().Type == TokenSigIns {
			open := p.next().Loc
			if proc.Signature.Ins, err = p.parseTypes(open); err != nil {
				return err
			}
		}
		if p.peek().Type == TokenSigOuts {
			open := p.next().Loc
			if proc.Signature.Outs, err = p.parseTypes(open); err != nil {
				return err
			}
		}
	}

	do, err := p.expect(TokenDo, "`do`", name.Loc)
	if err != nil {
		return err
	}
	body, _, err := p.parseBlock(do.Loc, "procedure", TokenEnd)
	if err != nil {
		return err
	}
	proc.Body = body
	p.prog.Procs[proc.Name] = proc
	return nil
}

func (p *Parser) nextIndex() int {
	p.index++
	return p.index
}

func (p *Parser) parseConst(tok Token) error {
	name, err := p.expect(TokenWord, "a constant name", tok.Loc)
	if err != nil {
		return err
	}
	if err := p.checkUnique(name); err != nil {
		return err
	}
	body, _, err := p.parseBlock(tok.Loc, "constant", TokenEnd)
	if err != nil {
		return err
	}
	p.prog.Consts[name.Literal] = &Const{Name: name.Literal, Body: body, Loc: name.Loc, Index: p.nextIndex()}
	return nil
}

func (p *Parser) parseMemory(tok Token) error {
	name, err := p.expect(TokenWord, "a memory name", tok.Loc)
	if err != nil {
		return err
	}
	if err := p.checkUnique(name); err != nil {
		return err
	}
	size, _, err := p.parseBlock(tok.Loc, "memory", TokenEnd)
	if err != nil {
		return err
	}
	p.prog.Memories[name.Literal] = &Memory{Name: name.Literal, SizeExpr: size, Loc: name.Loc, Index: p.nextIndex()}
	return nil
}

func (p *Parser) parseAssert(tok Token) error {
	msg, err := p.expect(TokenStr, "an assertion message", tok.Loc)
	if err != nil {
		return err
	}
	body, _, err := p.parseBlock(tok.Loc, "assertion", TokenEnd)
	if err != nil {
		return err
	}
	p.prog.Assertions = append(p.prog.Assertions, &Assertion{Message: msg.Literal, Body: body, Loc: tok.Loc})
	return nil
}

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// parseTypes reads type words up to the next non-word token.
func (p *Parser) parseTypes(open Location) ([]TypeFrame, error) {
	var types []TypeFrame
	for p.peek().Type == TokenWord {
		t, err := p.parseType(p.next(), open)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}

func (p *Parser) parseType(tok Token, open Location) (TypeFrame, error) {
	switch word := tok.Literal; {
	case word == "int":
		return IntType(tok.Loc), nil
	case word == "bool":
		return BoolType(tok.Loc), nil
	case word == "ptr":
		return PtrType(tok.Loc), nil
	case word == "ptr-to":
		elem, err := p.expect(TokenWord, "a pointee type", tok.Loc)
		if err != nil {
			return TypeFrame{}, err
		}
		t, err := p.parseType(elem, open)
		if err != nil {
			return TypeFrame{}, err
		}
		return PtrToType(t, tok.Loc), nil
	case word == "unknown":
		if !p.unsafe {
			return TypeFrame{}, newError(KindType, tok.Loc, "unknown types are only allowed in unsafe procedures").
				note(open, "type list starts here")
		}
		return UnknownType(tok.Loc), nil
	case isGenericName(word):
		return GenericType(word, tok.Loc), nil
	}
	return TypeFrame{}, newError(KindType, tok.Loc, "unknown type `%s`", tok.Literal).
		note(open, "type list starts here")
}

// isGenericName accepts single lowercase letters and <Name>.
func isGenericName(word string) bool {
	if len(word) == 1 && word[0] >= 'a' && word[0] <= 'z' {
		return true
	}
	return len(word) > 2 && word[0] == '<' && word[len(word)-1] == '>'
}

// ---------------------------------------------------------------------------
// Bodies
// ---------------------------------------------------------------------------

// parseBlock parses expressions until one of the terminators and returns
// the terminator it stopped at.
func (p *Parser) parseBlock(open Location, what string, terms ...TokenType) ([]Expr, Token, error) {
	var body []Expr
	for {
		if p.atEnd() {
			return nil, Token{}, newError(KindStructural, open, "this %s was never closed", what)
		}
		tok := p.next()
		for _, t := range terms {
			if tok.Type == t {
				return body, tok, nil
			}
		}
		e, err := p.parseExpr(tok)
		if err != nil {
			return nil, Token{}, err
		}
		body = append(body, e)
	}
}

func (p *Parser) parseExpr(tok Token) (Expr, error) {
	switch tok.Type {
	case TokenInt:
		return &Literal{Type: LitInt, Int: tok.Int, Location: tok.Loc}, nil
	case TokenBool:
		return &Literal{Type: LitBool, Int: tok.Int, Location: tok.Loc}, nil
	case TokenStr:
		return &Literal{Type: LitStr, Str: tok.Literal, Location: tok.Loc}, nil
	case TokenCStr:
		return &Literal{Type: LitCStr, Str: tok.Literal, Location: tok.Loc}, nil
	case TokenAsm:
		return &Literal{Type: LitAsm, Str: tok.Literal, Location: tok.Loc}, nil
	case TokenWord:
		return &Word{Name: tok.Literal, Location: tok.Loc}, nil
	case TokenIf:
		return p.parseIf(tok.Loc, nil)
	case TokenWhile:
		return p.parseWhile(tok.Loc)
	case TokenLet:
		return p.parseLet(tok.Loc)
	case TokenCast:
		types, err := p.parseTypes(tok.Loc)
		if err != nil {
			return nil, err
		}
		if len(types) == 0 {
			return nil, newError(KindStructural, p.peek().Loc, "expected a type, got %s", p.peek().describe()).
				note(tok.Loc, "cast starts here")
		}
		if _, err := p.expect(TokenEnd, "`end`", tok.Loc); err != nil {
			return nil, err
		}
		return &Cast{Types: types, Location: tok.Loc}, nil
	case TokenIfStar:
		return nil, newError(KindStructural, tok.Loc, "`if*` is only allowed in an else branch")
	}
	return nil, newError(KindStructural, tok.Loc, "unexpected %s", tok.describe())
}

// parseIf parses the branches of a condition. cond holds the expressions
// that precede an `if*`; it is empty for a plain `if`.
func (p *Parser) parseIf(loc Location, cond []Expr) (Expr, error) {
	then, term, err := p.parseBlock(loc, "condition", TokenElse, TokenEnd)
	if err != nil {
		return nil, err
	}
	n := &If{Cond: cond, Then: then, Location: loc}
	if term.Type == TokenEnd {
		return n, nil
	}

	n.ElseLoc = term.Loc
	els, term, err := p.parseBlock(loc, "condition", TokenIfStar, TokenEnd)
	if err != nil {
		return nil, err
	}
	if term.Type == TokenEnd {
		n.Else = els
		return n, nil
	}

	chained, err := p.parseIf(term.Loc, els)
	if err != nil {
		return nil, err
	}
	n.Else = []Expr{chained}
	return n, nil
}

func (p *Parser) parseWhile(loc Location) (Expr, error) {
	cond, do, err := p.parseBlock(loc, "loop", TokenDo)
	if err != nil {
		return nil, err
	}
	body, _, err := p.parseBlock(do.Loc, "loop", TokenEnd)
	if err != nil {
		return nil, err
	}
	return &While{Cond: cond, Body: body, Location: loc}, nil
}

func (p *Parser) parseLet(loc Location) (Expr, error) {
	n := &Let{Location: loc}
	seen := make(map[string]Location)
	for {
		if p.atEnd() {
			return nil, newError(KindStructural, loc, "this binding was never closed")
		}
		tok := p.next()
		if tok.Type == TokenDo {
			break
		}
		if tok.Type != TokenWord {
			return nil, newError(KindStructural, tok.Loc, "expected a binding name, got %s", tok.describe()).
				note(loc, "binding starts here")
		}
		if prev, ok := seen[tok.Literal]; ok {
			return nil, newError(KindStructural, tok.Loc, "duplicated binding `%s`", tok.Literal).
				note(prev, "previously bound here")
		}
		seen[tok.Literal] = tok.Loc
		n.Names = append(n.Names, tok.Literal)
		n.NameLocs = append(n.NameLocs, tok.Loc)
	}
	if len(n.Names) == 0 {
		return nil, newError(KindStructural, loc, "expected at least one binding name")
	}
	body, _, err := p.parseBlock(loc, "binding", TokenEnd)
	if err != nil {
		return nil, err
	}
	n.Body = body
	return n, nil
}
