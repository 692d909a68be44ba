package compiler

import (
	"fmt"
	"sort"
)

// ---------------------------------------------------------------------------
// Token types for the stck lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota

	// Literals
	TokenInt  // 42, -7, 'a'
	TokenBool // true, false
	TokenStr  // "hello"
	TokenCStr // c"hello"
	TokenAsm  // asm ... end
	TokenWord // dup, my-proc, <dump-stack>

	// Preprocessor directives
	TokenInclude // include
	TokenMacro   // macro
	TokenEscape  // \

	// Definitions
	TokenProc    // proc
	TokenInline  // inline
	TokenUnsafe  // unsafe
	TokenConst   // const
	TokenMemory  // memory
	TokenAssert  // assert
	TokenSigIns  // ::
	TokenSigOuts // ->

	// Structure
	TokenIf     // if
	TokenIfStar // if*
	TokenElse   // else
	TokenWhile  // while
	TokenLet    // let
	TokenCast   // cast
	TokenDo     // do
	TokenEnd    // end
)

var tokenNames = map[TokenType]string{
	TokenEOF:     "EOF",
	TokenInt:     "INT",
	TokenBool:    "BOOL",
	TokenStr:     "STR",
	TokenCStr:    "CSTR",
	TokenAsm:     "ASM",
	TokenWord:    "WORD",
	TokenInclude: "include",
	TokenMacro:   "macro",
	TokenEscape:  "\\",
	TokenProc:    "proc",
	TokenInline:  "inline",
	TokenUnsafe:  "unsafe",
	TokenConst:   "const",
	TokenMemory:  "memory",
	TokenAssert:  "assert",
	TokenSigIns:  "::",
	TokenSigOuts: "->",
	TokenIf:      "if",
	TokenIfStar:  "if*",
	TokenElse:    "else",
	TokenWhile:   "while",
	TokenLet:     "let",
	TokenCast:    "cast",
	TokenDo:      "do",
	TokenEnd:     "end",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// Keywords mapped to their token types.
var keywords = map[string]TokenType{
	"include": TokenInclude,
	"macro":   TokenMacro,
	"\\":      TokenEscape,
	"proc":    TokenProc,
	"inline":  TokenInline,
	"unsafe":  TokenUnsafe,
	"const":   TokenConst,
	"memory":  TokenMemory,
	"assert":  TokenAssert,
	"::":      TokenSigIns,
	"->":      TokenSigOuts,
	"if":      TokenIf,
	"if*":     TokenIfStar,
	"else":    TokenElse,
	"while":   TokenWhile,
	"let":     TokenLet,
	"cast":    TokenCast,
	"do":      TokenDo,
	"end":     TokenEnd,
}

// Keywords returns the reserved words in sorted order.
func Keywords() []string {
	words := make([]string, 0, len(keywords))
	for w := range keywords {
		words = append(words, w)
	}
	sort.Strings(words)
	return words
}

// opensBlock reports whether a token starts a construct closed by `end`.
func (t TokenType) opensBlock() bool {
	switch t {
	case TokenIf, TokenWhile, TokenLet, TokenCast, TokenProc,
		TokenConst, TokenMemory, TokenAssert, TokenMacro:
		return true
	}
	return false
}

// OpenBlocks returns the number of blocks in tokens still waiting for
// their `end`. It goes negative when there are too many.
func OpenBlocks(tokens []Token) int {
	depth := 0
	for _, t := range tokens {
		switch {
		case t.Type.opensBlock():
			depth++
		case t.Type == TokenEnd:
			depth--
		}
	}
	return depth
}

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string   // word text or decoded string contents
	Int     int64    // value of TokenInt and TokenBool
	Loc     Location // source span

	// Escaped tokens pass through the preprocessor untouched once.
	Escaped bool
}

func (t Token) String() string {
	switch t.Type {
	case TokenEOF:
		return "EOF"
	case TokenInt:
		return fmt.Sprintf("INT(%d)", t.Int)
	case TokenBool:
		return fmt.Sprintf("BOOL(%t)", t.Int != 0)
	case TokenStr, TokenCStr, TokenWord, TokenAsm:
		if len(t.Literal) > 20 {
			return fmt.Sprintf("%s(%q...)", t.Type, t.Literal[:20])
		}
		return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
	}
	return t.Type.String()
}

// describe renders a token the way diagnostics quote it.
func (t Token) describe() string {
	switch t.Type {
	case TokenEOF:
		return "end of file"
	case TokenWord:
		return fmt.Sprintf("word `%s`", t.Literal)
	case TokenInt:
		return fmt.Sprintf("integer %d", t.Int)
	case TokenStr, TokenCStr:
		return "string literal"
	}
	return fmt.Sprintf("`%s`", t.Type)
}
