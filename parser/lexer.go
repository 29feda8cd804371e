package parser

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer: Tokenizer for block source text
// ---------------------------------------------------------------------------

// Lexer tokenizes source text.
type Lexer struct {
	input   string
	pos     int  // offset of ch
	readPos int  // offset after ch
	ch      rune // current character, 0 at EOF
	line    int  // line of ch (1-based)
	col     int  // column of ch (1-based)
	newline bool // a line break was skipped since the last token
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input, line: 1, newline: true}
	l.readChar()
	return l
}

// readChar advances to the next character.
func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.col = 0
	}
	l.col++
	if l.readPos >= len(l.input) {
		l.ch = 0
		l.pos = len(l.input)
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

func (l *Lexer) position() Position {
	return Position{Offset: l.pos, Line: l.line, Column: l.col}
}

func (l *Lexer) skipWhitespaceAndComments() {
	for {
		switch {
		case l.ch == '\n':
			l.newline = true
			l.readChar()
		case l.ch == ';':
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
		case l.ch != 0 && unicode.IsSpace(l.ch):
			l.readChar()
		default:
			return
		}
	}
}

// isDelimiter reports whether r ends a word.
func isDelimiter(r rune) bool {
	switch r {
	case 0, '[', ']', '(', ')', '"', ';':
		return true
	}
	return unicode.IsSpace(r)
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	l.skipWhitespaceAndComments()
	pos := l.position()
	nl := l.newline
	l.newline = false

	tok := l.next()
	tok.Pos = pos
	tok.Newline = nl
	return tok
}

func (l *Lexer) next() Token {
	switch {
	case l.ch == 0:
		return Token{Type: TokenEOF}

	case l.ch == '[':
		l.readChar()
		return Token{Type: TokenLBracket, Literal: "["}
	case l.ch == ']':
		l.readChar()
		return Token{Type: TokenRBracket, Literal: "]"}
	case l.ch == '(':
		l.readChar()
		return Token{Type: TokenLParen, Literal: "("}
	case l.ch == ')':
		l.readChar()
		return Token{Type: TokenRParen, Literal: ")"}

	case l.ch == '"':
		l.readChar()
		return l.readString()

	case l.ch == '#' && l.peekChar() == '"':
		l.readChar()
		l.readChar()
		return l.readCharLiteral()

	case l.ch == '\'':
		l.readChar()
		text := l.readRun()
		if strings.Contains(text, "/") {
			return pathToken(TokenLitPath, text)
		}
		return wordToken(TokenLitWord, text)

	case l.ch == ':':
		l.readChar()
		return wordToken(TokenGetWord, l.readRun())

	case l.ch == '/':
		l.readChar()
		if isDelimiter(l.ch) {
			return Token{Type: TokenWord, Literal: "/"}
		}
		return wordToken(TokenOption, l.readRun())

	case isDigit(l.ch) || ((l.ch == '-' || l.ch == '+') && isDigit(l.peekChar())):
		return l.readNumber()
	}

	text := l.readRun()
	if text == "" {
		r := l.ch
		l.readChar()
		return errorToken("unexpected character %q", r)
	}
	set := strings.HasSuffix(text, ":")
	if set {
		text = text[:len(text)-1]
	}
	switch {
	case strings.Contains(text, "/") && set:
		return pathToken(TokenSetPath, text)
	case strings.Contains(text, "/"):
		return pathToken(TokenPath, text)
	case set:
		return wordToken(TokenSetWord, text)
	}
	return wordToken(TokenWord, text)
}

// readRun reads characters up to the next delimiter.
func (l *Lexer) readRun() string {
	start := l.pos
	for !isDelimiter(l.ch) {
		l.readChar()
	}
	return l.input[start:l.pos]
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func errorToken(format string, args ...any) Token {
	return Token{Type: TokenError, Literal: fmt.Sprintf(format, args...)}
}

func wordToken(typ TokenType, name string) Token {
	switch {
	case name == "":
		return errorToken("missing word name")
	case strings.ContainsAny(name, ":/'"):
		return errorToken("invalid word %q", name)
	}
	return Token{Type: typ, Literal: name}
}

func pathToken(typ TokenType, text string) Token {
	for _, seg := range strings.Split(text, "/") {
		name := strings.TrimPrefix(seg, ":")
		if name == "" || strings.ContainsAny(name, ":'") {
			return errorToken("invalid path %q", text)
		}
	}
	if strings.HasPrefix(text, ":") {
		return errorToken("path %q cannot start with a get-word", text)
	}
	return Token{Type: typ, Literal: text}
}

// ---------------------------------------------------------------------------
// Literals
// ---------------------------------------------------------------------------

func (l *Lexer) readNumber() Token {
	text := l.readRun()
	if strings.ContainsAny(text, ".eE") {
		if _, err := strconv.ParseFloat(text, 64); err != nil {
			return errorToken("invalid decimal %q", text)
		}
		return Token{Type: TokenDecimal, Literal: text}
	}
	if _, err := strconv.ParseInt(text, 10, 64); err != nil {
		return errorToken("invalid integer %q", text)
	}
	return Token{Type: TokenInteger, Literal: text}
}

// readString reads the body of a string after its opening quote.
func (l *Lexer) readString() Token {
	var sb strings.Builder
	for {
		switch l.ch {
		case 0:
			return errorToken("unterminated string")
		case '"':
			l.readChar()
			return Token{Type: TokenString, Literal: sb.String()}
		case '^':
			l.readChar()
			r, ok := l.readEscape()
			if !ok {
				return errorToken("invalid escape in string")
			}
			sb.WriteRune(r)
		default:
			sb.WriteRune(l.ch)
			l.readChar()
		}
	}
}

// readCharLiteral reads the body of #"c" after its opening quote.
func (l *Lexer) readCharLiteral() Token {
	r := l.ch
	switch l.ch {
	case 0, '"':
		return errorToken("empty char literal")
	case '^':
		l.readChar()
		var ok bool
		if r, ok = l.readEscape(); !ok {
			return errorToken("invalid escape in char")
		}
	default:
		l.readChar()
	}
	if l.ch != '"' {
		return errorToken("unterminated char literal")
	}
	l.readChar()
	return Token{Type: TokenChar, Literal: string(r)}
}

// readEscape decodes the character after '^'.
func (l *Lexer) readEscape() (rune, bool) {
	c := l.ch
	switch c {
	case 0:
		return 0, false
	case '/':
		l.readChar()
		return '\n', true
	case '-':
		l.readChar()
		return '\t', true
	case '(':
		l.readChar()
		start := l.pos
		for l.ch != ')' {
			if l.ch == 0 {
				return 0, false
			}
			l.readChar()
		}
		n, err := strconv.ParseUint(l.input[start:l.pos], 16, 32)
		l.readChar()
		if err != nil {
			return 0, false
		}
		return rune(n), true
	}
	l.readChar()
	return c, true
}
