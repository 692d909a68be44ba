package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLexerBasicTokens(t *testing.T) {
	tokens := tokenize(t, `proc main :: int -> bool do 1 if* else end`)
	want := []TokenType{
		TokenProc, TokenWord, TokenSigIns, TokenWord, TokenSigOuts, TokenWord,
		TokenDo, TokenInt, TokenIfStar, TokenElse, TokenEnd,
	}
	require.Len(t, tokens, len(want))
	for i, typ := range want {
		assert.Equal(t, typ, tokens[i].Type, "token[%d]", i)
	}
	assert.Equal(t, "main", tokens[1].Literal)
}

func TestLexerIntegers(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"42", 42},
		{"0", 0},
		{"-123", -123},
		{"9223372036854775807", 9223372036854775807},
		{"'a'", 'a'},
		{"'\\n'", '\n'},
	}
	for _, tc := range tests {
		tokens := tokenize(t, tc.input)
		require.Len(t, tokens, 1, tc.input)
		assert.Equal(t, TokenInt, tokens[0].Type, tc.input)
		assert.Equal(t, tc.want, tokens[0].Int, tc.input)
	}
}

func TestLexerWordsThatLookNumeric(t *testing.T) {
	tokens := tokenize(t, "- 1+ 2x -")
	for _, tok := range tokens {
		assert.Equal(t, TokenWord, tok.Type, tok.Literal)
	}
}

func TestLexerBooleans(t *testing.T) {
	tokens := tokenize(t, "true false")
	require.Len(t, tokens, 2)
	assert.Equal(t, TokenBool, tokens[0].Type)
	assert.Equal(t, int64(1), tokens[0].Int)
	assert.Equal(t, int64(0), tokens[1].Int)
}

func TestLexerStrings(t *testing.T) {
	tokens := tokenize(t, `"hello\tworld\n" c"abc" "say \"hi\""`)
	require.Len(t, tokens, 3)
	assert.Equal(t, TokenStr, tokens[0].Type)
	assert.Equal(t, "hello\tworld\n", tokens[0].Literal)
	assert.Equal(t, TokenCStr, tokens[1].Type)
	assert.Equal(t, "abc", tokens[1].Literal)
	assert.Equal(t, `say "hi"`, tokens[2].Literal)
}

func TestLexerComments(t *testing.T) {
	tokens := tokenize(t, "1 // a comment\n2 // trailing")
	require.Len(t, tokens, 2)
	assert.Equal(t, int64(2), tokens[1].Int)
}

func TestLexerAsmBlock(t *testing.T) {
	tokens := tokenize(t, "asm mov rax, 1\n  syscall \\end\nend 5")
	require.Len(t, tokens, 2)
	assert.Equal(t, TokenAsm, tokens[0].Type)
	assert.Equal(t, "mov rax, 1\nsyscall end", tokens[0].Literal)
	assert.Equal(t, TokenInt, tokens[1].Type)
}

func TestOpenBlocks(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"1 2 add print", 0},
		{"proc f do", 1},
		{"proc f do if", 2},
		{"proc f do if 1 else 2 end", 1},
		{"proc f do while dup do drop end end", 0},
		{"asm nop end", 0},
		{"end", -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, OpenBlocks(tokenize(t, tt.input)), tt.input)
	}
}

func TestLexerErrors(t *testing.T) {
	tests := []struct {
		input string
		msg   string
	}{
		{`"unclosed`, "unclosed string"},
		{`""`, "empty string"},
		{"\"line\nbreak\"", "unexpected newline"},
		{"'ab'", "invalid character literal"},
		{"99999999999999999999", "out of range"},
		{"asm nop", "unclosed asm block"},
	}
	for _, tc := range tests {
		_, err := Tokenize(NewFile("test.stck", tc.input))
		require.Error(t, err, tc.input)
		d, ok := AsDiagnostic(err)
		require.True(t, ok)
		assert.Equal(t, KindLexical, d.Kind, tc.input)
		assert.Contains(t, d.Message, tc.msg, tc.input)
	}
}

func TestLexerLocations(t *testing.T) {
	tokens := tokenize(t, "proc main do\n  42 print\nend")
	require.Len(t, tokens, 6)
	pos := tokens[3].Loc.Start()
	assert.Equal(t, Position{Line: 2, Column: 3}, pos)
	assert.Equal(t, "test.stck:2:3", tokens[3].Loc.String())
	assert.Equal(t, Span{Start: 15, End: 17}, tokens[3].Loc.Span)
}
