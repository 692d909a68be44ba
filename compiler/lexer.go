package compiler

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer: tokenizer for stck source
// ---------------------------------------------------------------------------

// Lexer tokenizes stck source code.
type Lexer struct {
	file    *File
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      rune // current character
	start   int  // offset where the current token started
}

// NewLexer creates a new lexer for the given file.
func NewLexer(file *File) *Lexer {
	l := &Lexer{file: file, input: file.Source}
	l.readChar()
	return l
}

// readChar reads the next character.
func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
		l.pos = len(l.input)
		l.readPos = len(l.input) + 1
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
}

// peekChar returns the next character without consuming it.
func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

func (l *Lexer) atEOF() bool {
	return l.pos >= len(l.input)
}

func isSpace(ch rune) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}

func (l *Lexer) loc() Location {
	end := l.pos
	if end > len(l.input) {
		end = len(l.input)
	}
	return l.file.Location(Span{Start: l.start, End: end})
}

func (l *Lexer) errorf(format string, args ...any) error {
	return newError(KindLexical, l.loc(), format, args...)
}

func (l *Lexer) skipWhitespaceAndComments() {
	for {
		for !l.atEOF() && isSpace(l.ch) {
			l.readChar()
		}
		if l.ch == '/' && l.peekChar() == '/' {
			for !l.atEOF() && l.ch != '\n' {
				l.readChar()
			}
			continue
		}
		return
	}
}

// NextToken returns the next token. At end of input it returns a TokenEOF.
func (l *Lexer) NextToken() (Token, error) {
	l.skipWhitespaceAndComments()
	l.start = l.pos

	switch {
	case l.atEOF():
		return Token{Type: TokenEOF, Loc: l.loc()}, nil

	case l.ch == '"':
		s, err := l.readString('"')
		if err != nil {
			return Token{}, err
		}
		return Token{Type: TokenStr, Literal: s, Loc: l.loc()}, nil

	case l.ch == 'c' && l.peekChar() == '"':
		l.readChar()
		s, err := l.readString('"')
		if err != nil {
			return Token{}, err
		}
		return Token{Type: TokenCStr, Literal: s, Loc: l.loc()}, nil

	case l.ch == '\'':
		s, err := l.readString('\'')
		if err != nil {
			return Token{}, err
		}
		r, size := utf8.DecodeRuneInString(s)
		if size != len(s) {
			return Token{}, l.errorf("invalid character literal")
		}
		return Token{Type: TokenInt, Int: int64(r), Literal: s, Loc: l.loc()}, nil
	}

	return l.readWord()
}

// readString reads a quoted literal, decoding escapes. The opening quote
// is the current character.
func (l *Lexer) readString(quote rune) (string, error) {
	var b strings.Builder
	l.readChar()
	for l.ch != quote {
		if l.atEOF() {
			return "", l.errorf("unclosed string")
		}
		switch l.ch {
		case '\n':
			return "", l.errorf("unexpected newline in string")
		case '\\':
			l.readChar()
			if l.atEOF() {
				return "", l.errorf("unclosed string")
			}
			switch l.ch {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case '0':
				b.WriteByte(0)
			default:
				b.WriteRune(l.ch)
			}
		default:
			b.WriteRune(l.ch)
		}
		l.readChar()
	}
	l.readChar() // closing quote

	if b.Len() == 0 {
		return "", l.errorf("empty string")
	}
	return b.String(), nil
}

func (l *Lexer) readWord() (Token, error) {
	start := l.pos
	for !l.atEOF() && !isSpace(l.ch) {
		l.readChar()
	}
	word := l.input[start:l.pos]

	if isIntLiteral(word) {
		n, err := strconv.ParseInt(word, 10, 64)
		if err != nil {
			return Token{}, l.errorf("integer literal %s is out of range", word)
		}
		return Token{Type: TokenInt, Int: n, Literal: word, Loc: l.loc()}, nil
	}

	switch word {
	case "true":
		return Token{Type: TokenBool, Int: 1, Literal: word, Loc: l.loc()}, nil
	case "false":
		return Token{Type: TokenBool, Int: 0, Literal: word, Loc: l.loc()}, nil
	case "asm":
		return l.readAsmBlock()
	}

	if typ, ok := keywords[word]; ok {
		return Token{Type: typ, Literal: word, Loc: l.loc()}, nil
	}
	return Token{Type: TokenWord, Literal: word, Loc: l.loc()}, nil
}

func isIntLiteral(word string) bool {
	digits := strings.TrimPrefix(word, "-")
	if digits == "" {
		return false
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return false
		}
	}
	return true
}

// readAsmBlock collects raw lines up to the word `end`. A word written as
// `\end` stands for a literal `end`.
func (l *Lexer) readAsmBlock() (Token, error) {
	var lines []string
	var line []string
	for {
		for !l.atEOF() && isSpace(l.ch) {
			if l.ch == '\n' && len(line) > 0 {
				lines = append(lines, strings.Join(line, " "))
				line = line[:0]
			}
			l.readChar()
		}
		if l.atEOF() {
			return Token{}, l.errorf("unclosed asm block")
		}
		start := l.pos
		for !l.atEOF() && !isSpace(l.ch) {
			l.readChar()
		}
		word := l.input[start:l.pos]
		if word == "end" {
			break
		}
		line = append(line, strings.TrimPrefix(word, "\\"))
	}
	if len(line) > 0 {
		lines = append(lines, strings.Join(line, " "))
	}
	return Token{Type: TokenAsm, Literal: strings.Join(lines, "\n"), Loc: l.loc()}, nil
}

// Tokenize lexes a whole file. The trailing EOF token is not included.
func Tokenize(file *File) ([]Token, error) {
	l := NewLexer(file)
	var tokens []Token
	for {
		tok, err := l.NextToken()
		if err != nil {
			return nil, err
		}
		if tok.Type == TokenEOF {
			return tokens, nil
		}
		tokens = append(tokens, tok)
	}
}
