package parser

import (
	"errors"
	"testing"

	"github.com/chazu/brick/cell"
)

// ---------------------------------------------------------------------------
// Lexer tests
// ---------------------------------------------------------------------------

func TestLexerTokens(t *testing.T) {
	input := `[ ] ( ) foo 'lit set: :get /opt a/b/1 'a/b a/b: 42 -7 3.5 "s" #"c" /`
	expected := []struct {
		typ TokenType
		lit string
	}{
		{TokenLBracket, "["},
		{TokenRBracket, "]"},
		{TokenLParen, "("},
		{TokenRParen, ")"},
		{TokenWord, "foo"},
		{TokenLitWord, "lit"},
		{TokenSetWord, "set"},
		{TokenGetWord, "get"},
		{TokenOption, "opt"},
		{TokenPath, "a/b/1"},
		{TokenLitPath, "a/b"},
		{TokenSetPath, "a/b"},
		{TokenInteger, "42"},
		{TokenInteger, "-7"},
		{TokenDecimal, "3.5"},
		{TokenString, "s"},
		{TokenChar, "c"},
		{TokenWord, "/"},
		{TokenEOF, ""},
	}

	l := NewLexer(input)
	for i, exp := range expected {
		tok := l.NextToken()
		if tok.Type != exp.typ {
			t.Errorf("token[%d] type = %v, want %v", i, tok.Type, exp.typ)
		}
		if tok.Literal != exp.lit {
			t.Errorf("token[%d] literal = %q, want %q", i, tok.Literal, exp.lit)
		}
	}
}

func TestLexerEscapes(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`"a^/b"`, "a\nb"},
		{`"tab^-x"`, "tab\tx"},
		{`"q^"q"`, `q"q`},
		{`"caret^^"`, "caret^"},
		{`"hex^(41)"`, "hexA"},
		{`#"^/"`, "\n"},
	}

	for _, tc := range tests {
		tok := NewLexer(tc.input).NextToken()
		if tok.Type == TokenError {
			t.Errorf("Lexer(%s): error %s", tc.input, tok.Literal)
			continue
		}
		if tok.Literal != tc.want {
			t.Errorf("Lexer(%s): literal = %q, want %q", tc.input, tok.Literal, tc.want)
		}
	}
}

func TestLexerCommentsAndPositions(t *testing.T) {
	l := NewLexer("a ; comment\n  b")
	a := l.NextToken()
	b := l.NextToken()
	if a.Literal != "a" || b.Literal != "b" {
		t.Fatalf("tokens = %q %q, want a b", a.Literal, b.Literal)
	}
	if a.Pos.Line != 1 || a.Pos.Column != 1 {
		t.Errorf("a at %s, want 1:1", a.Pos)
	}
	if b.Pos.Line != 2 || b.Pos.Column != 3 {
		t.Errorf("b at %s, want 2:3", b.Pos)
	}
	if !a.Newline || !b.Newline {
		t.Errorf("newline flags = %v %v, want true true", a.Newline, b.Newline)
	}
}

func TestLexerErrors(t *testing.T) {
	inputs := []string{
		`"open`,
		`12x`,
		`a:b`,
		`a//b`,
		`b/(1)`,
		`#"ab"`,
		`'`,
	}
	for _, in := range inputs {
		if tok := NewLexer(in).NextToken(); tok.Type != TokenError {
			t.Errorf("Lexer(%s) = %v, want ERROR", in, tok)
		}
	}
}

// ---------------------------------------------------------------------------
// Parser tests
// ---------------------------------------------------------------------------

func TestParseNesting(t *testing.T) {
	atoms := cell.NewAtomTable()
	store := cell.NewStore()

	blk, err := Parse(`x: [1 (2.5 "s")] 'y`, atoms, store)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	top := store.Cells(blk)
	if len(top) != 3 {
		t.Fatalf("top-level length = %d, want 3", len(top))
	}
	if top[0].T != cell.TypeSetWord || atoms.Name(top[0].Atom) != "x" {
		t.Errorf("top[0] = %v %q, want set-word x", top[0].T, atoms.Name(top[0].Atom))
	}
	if top[2].T != cell.TypeLitWord {
		t.Errorf("top[2] = %v, want lit-word!", top[2].T)
	}

	inner := store.Cells(top[1].Buf)
	if len(inner) != 2 || inner[0].T != cell.TypeInt || inner[0].N != 1 {
		t.Fatalf("inner block = %v", inner)
	}
	paren := store.Cells(inner[1].Buf)
	if inner[1].T != cell.TypeParen || len(paren) != 2 {
		t.Fatalf("paren = %v %v", inner[1].T, paren)
	}
	if paren[0].T != cell.TypeDouble || paren[0].Float() != 2.5 {
		t.Errorf("paren[0] = %v, want 2.5", paren[0])
	}
	if paren[1].T != cell.TypeString || store.Text(paren[1].Buf) != "s" {
		t.Errorf("paren[1] = %q, want \"s\"", store.Text(paren[1].Buf))
	}
	for _, c := range top {
		if c.T.IsWord() && c.Bind.Kind != cell.BindUnbound {
			t.Errorf("parsed word is bound: %v", c.Bind)
		}
	}
}

func TestParsePaths(t *testing.T) {
	atoms := cell.NewAtomTable()
	store := cell.NewStore()

	blk, err := Parse(`blk/2/:i 'a/b f/opt:`, atoms, store)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	top := store.Cells(blk)
	want := []cell.Type{cell.TypePath, cell.TypeLitPath, cell.TypeSetPath}
	for i, typ := range want {
		if top[i].T != typ {
			t.Errorf("top[%d] = %v, want %v", i, top[i].T, typ)
		}
	}

	segs := store.Cells(top[0].Buf)
	if len(segs) != 3 {
		t.Fatalf("segments = %d, want 3", len(segs))
	}
	if segs[0].T != cell.TypeWord || atoms.Name(segs[0].Atom) != "blk" {
		t.Errorf("seg[0] = %v", segs[0])
	}
	if segs[1].T != cell.TypeInt || segs[1].N != 2 {
		t.Errorf("seg[1] = %v, want int 2", segs[1])
	}
	if segs[2].T != cell.TypeGetWord || atoms.Name(segs[2].Atom) != "i" {
		t.Errorf("seg[2] = %v, want :i", segs[2])
	}
}

func TestParseNewlineFlags(t *testing.T) {
	atoms := cell.NewAtomTable()
	store := cell.NewStore()

	blk, err := Parse("a b\nc", atoms, store)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cells := store.Cells(blk)
	got := []bool{
		cells[0].Flags&cell.FlagNewline != 0,
		cells[1].Flags&cell.FlagNewline != 0,
		cells[2].Flags&cell.FlagNewline != 0,
	}
	if !got[0] || got[1] || !got[2] {
		t.Errorf("newline flags = %v, want [true false true]", got)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		input string
		line  int
		col   int
	}{
		{"[1 2", 1, 1},
		{"1 ]", 1, 3},
		{"(1]", 1, 3},
		{"a\n  \"open", 2, 3},
	}

	for _, tc := range tests {
		_, err := Parse(tc.input, cell.NewAtomTable(), cell.NewStore())
		var se *SyntaxError
		if !errors.As(err, &se) {
			t.Errorf("Parse(%q) error = %v, want *SyntaxError", tc.input, err)
			continue
		}
		if se.Line != tc.line || se.Col != tc.col {
			t.Errorf("Parse(%q) at %d:%d, want %d:%d (%s)", tc.input, se.Line, se.Col, tc.line, tc.col, se.Msg)
		}
	}
}

func TestParseEmpty(t *testing.T) {
	store := cell.NewStore()
	blk, err := Parse("  ; nothing\n", cell.NewAtomTable(), store)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if n := len(store.Cells(blk)); n != 0 {
		t.Errorf("length = %d, want 0", n)
	}
}
