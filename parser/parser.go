// Package parser reads source text into blocks of cells.
//
// The syntax is the usual one for block languages: whitespace separated
// values, [blocks], (parens), "strings" with ^ escapes, #"c" chars,
// integers and decimals, and the word forms word, word:, :word, 'word and
// /word. Paths join words, integers and get-words with '/'. A ';' starts
// a comment running to the end of the line.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/brick/cell"
)

// SyntaxError is a parse failure at a source position.
type SyntaxError struct {
	Line int
	Col  int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %d:%d: %s", e.Line, e.Col, e.Msg)
}

func errorAt(pos Position, format string, args ...any) *SyntaxError {
	return &SyntaxError{Line: pos.Line, Col: pos.Column, Msg: fmt.Sprintf(format, args...)}
}

// ---------------------------------------------------------------------------
// Parser
// ---------------------------------------------------------------------------

type openBlock struct {
	t       cell.Type
	close   TokenType
	pos     Position
	newline bool
	cells   []cell.Cell
}

// Parser builds cells from tokens. Words are interned but left unbound.
type Parser struct {
	lex   *Lexer
	atoms *cell.AtomTable
	store *cell.Store
}

// NewParser creates a parser for src.
func NewParser(src string, atoms *cell.AtomTable, store *cell.Store) *Parser {
	return &Parser{lex: NewLexer(src), atoms: atoms, store: store}
}

// Parse parses src into a new block buffer.
func Parse(src string, atoms *cell.AtomTable, store *cell.Store) (cell.BufID, error) {
	return NewParser(src, atoms, store).Parse()
}

// Parse reads the whole input and returns the top-level block.
func (p *Parser) Parse() (cell.BufID, error) {
	stack := []openBlock{{t: cell.TypeBlock}}
	for {
		tok := p.lex.NextToken()
		switch tok.Type {
		case TokenEOF:
			if top := stack[len(stack)-1]; len(stack) > 1 {
				return 0, errorAt(top.pos, "missing %s", top.close)
			}
			return p.store.NewBlock(stack[0].cells), nil

		case TokenError:
			return 0, errorAt(tok.Pos, "%s", tok.Literal)

		case TokenLBracket:
			stack = append(stack, openBlock{t: cell.TypeBlock, close: TokenRBracket, pos: tok.Pos, newline: tok.Newline})

		case TokenLParen:
			stack = append(stack, openBlock{t: cell.TypeParen, close: TokenRParen, pos: tok.Pos, newline: tok.Newline})

		case TokenRBracket, TokenRParen:
			top := stack[len(stack)-1]
			if len(stack) == 1 || top.close != tok.Type {
				return 0, errorAt(tok.Pos, "unexpected %s", tok.Type)
			}
			stack = stack[:len(stack)-1]
			c := cell.Series(top.t, p.store.NewBlock(top.cells), 0)
			if top.newline {
				c.Flags |= cell.FlagNewline
			}
			parent := &stack[len(stack)-1]
			parent.cells = append(parent.cells, c)

		default:
			c, err := p.value(tok)
			if err != nil {
				return 0, err
			}
			parent := &stack[len(stack)-1]
			parent.cells = append(parent.cells, c)
		}
	}
}

func (p *Parser) value(tok Token) (cell.Cell, error) {
	var c cell.Cell
	switch tok.Type {
	case TokenInteger:
		n, err := strconv.ParseInt(tok.Literal, 10, 64)
		if err != nil {
			return c, errorAt(tok.Pos, "invalid integer %q", tok.Literal)
		}
		c = cell.Int(n)
	case TokenDecimal:
		f, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			return c, errorAt(tok.Pos, "invalid decimal %q", tok.Literal)
		}
		c = cell.Double(f)
	case TokenString:
		c = cell.Series(cell.TypeString, p.store.NewString(tok.Literal), 0)
	case TokenChar:
		c = cell.Char([]rune(tok.Literal)[0])
	case TokenWord:
		c = cell.Word(cell.TypeWord, p.atoms.Intern(tok.Literal))
	case TokenLitWord:
		c = cell.Word(cell.TypeLitWord, p.atoms.Intern(tok.Literal))
	case TokenSetWord:
		c = cell.Word(cell.TypeSetWord, p.atoms.Intern(tok.Literal))
	case TokenGetWord:
		c = cell.Word(cell.TypeGetWord, p.atoms.Intern(tok.Literal))
	case TokenOption:
		c = cell.Word(cell.TypeOption, p.atoms.Intern(tok.Literal))
	case TokenPath:
		c = p.path(cell.TypePath, tok.Literal)
	case TokenLitPath:
		c = p.path(cell.TypeLitPath, tok.Literal)
	case TokenSetPath:
		c = p.path(cell.TypeSetPath, tok.Literal)
	default:
		return c, errorAt(tok.Pos, "unexpected %s", tok.Type)
	}
	if tok.Newline {
		c.Flags |= cell.FlagNewline
	}
	return c, nil
}

// path builds a path series from its '/' separated text. Segments are
// words, get-words or integers.
func (p *Parser) path(t cell.Type, text string) cell.Cell {
	parts := strings.Split(text, "/")
	segs := make([]cell.Cell, len(parts))
	for i, s := range parts {
		switch {
		case strings.HasPrefix(s, ":"):
			segs[i] = cell.Word(cell.TypeGetWord, p.atoms.Intern(s[1:]))
		case isDigit(rune(s[0])):
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				segs[i] = cell.Int(n)
				continue
			}
			segs[i] = cell.Word(cell.TypeWord, p.atoms.Intern(s))
		default:
			segs[i] = cell.Word(cell.TypeWord, p.atoms.Intern(s))
		}
	}
	return cell.Series(t, p.store.NewBlock(segs), 0)
}
