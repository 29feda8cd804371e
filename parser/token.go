package parser

import "fmt"

// ---------------------------------------------------------------------------
// Token types
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError

	// Literals
	TokenInteger // 42, -7
	TokenDecimal // 3.14, 1e10
	TokenString  // "text"
	TokenChar    // #"c"

	// Words
	TokenWord    // foo
	TokenLitWord // 'foo
	TokenSetWord // foo:
	TokenGetWord // :foo
	TokenOption  // /foo

	// Paths
	TokenPath    // a/b/1
	TokenLitPath // 'a/b
	TokenSetPath // a/b:

	// Delimiters
	TokenLBracket // [
	TokenRBracket // ]
	TokenLParen   // (
	TokenRParen   // )
)

var tokenNames = map[TokenType]string{
	TokenEOF:      "EOF",
	TokenError:    "ERROR",
	TokenInteger:  "INTEGER",
	TokenDecimal:  "DECIMAL",
	TokenString:   "STRING",
	TokenChar:     "CHAR",
	TokenWord:     "WORD",
	TokenLitWord:  "LIT_WORD",
	TokenSetWord:  "SET_WORD",
	TokenGetWord:  "GET_WORD",
	TokenOption:   "OPTION",
	TokenPath:     "PATH",
	TokenLitPath:  "LIT_PATH",
	TokenSetPath:  "SET_PATH",
	TokenLBracket: "[",
	TokenRBracket: "]",
	TokenLParen:   "(",
	TokenRParen:   ")",
}

// String returns the token type name.
func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TokenType(%d)", int(t))
}

// Position is a location in source text.
type Position struct {
	Offset int
	Line   int // 1-based
	Column int // 1-based
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Token is a lexical token. Literal holds the decoded text: the name of a
// word without its sigils, the unescaped content of a string or char, the
// segments of a path joined by '/', or the message of an error token.
type Token struct {
	Type    TokenType
	Literal string
	Pos     Position
	Newline bool // first token on its line
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%q) at %s", t.Type, t.Literal, t.Pos)
}
