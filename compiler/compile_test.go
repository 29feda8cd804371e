package compiler

import (
	"errors"
	"strings"
	"testing"

	"github.com/chazu/brick/cell"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type fixture struct {
	atoms *cell.AtomTable
	store *cell.Store
	comp  *Compiler
}

func newFixture() *fixture {
	f := &fixture{atoms: cell.NewAtomTable(), store: cell.NewStore()}
	types := map[string]cell.TypeMask{
		"int!":    cell.MaskOf(cell.TypeInt),
		"double!": cell.MaskOf(cell.TypeDouble),
		"block!":  cell.MaskOf(cell.TypeBlock),
		"word!":   cell.MaskOf(cell.TypeWord),
		"number!": cell.MaskNumber,
	}
	byAtom := make(map[cell.Atom]cell.TypeMask)
	for name, m := range types {
		byAtom[f.atoms.Intern(name)] = m
	}
	f.comp = New(f.atoms, f.store, func(a cell.Atom) (cell.TypeMask, bool) {
		m, ok := byAtom[a]
		return m, ok
	})
	return f
}

func (f *fixture) w(t cell.Type, name string) cell.Cell {
	return cell.Word(t, f.atoms.Intern(name))
}

func (f *fixture) word(name string) cell.Cell { return f.w(cell.TypeWord, name) }
func (f *fixture) opt(name string) cell.Cell  { return f.w(cell.TypeOption, name) }

func (f *fixture) block(cells ...cell.Cell) cell.Cell {
	return cell.Series(cell.TypeBlock, f.store.NewBlock(cells), 0)
}

func (f *fixture) compile(t *testing.T, spec []cell.Cell, body cell.BufID) *Program {
	t.Helper()
	p, err := f.comp.Compile(spec, body)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return p
}

// ops decodes the instruction sequence starting at pos up to END.
func ops(p *Program, pos int) []Opcode {
	var out []Opcode
	r := NewReader(p.Code, pos)
	for {
		_, op := DisassembleInstruction(r)
		out = append(out, op)
		if op == OpEnd {
			return out
		}
	}
}

func sameOps(got, want []Opcode) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Required arguments
// ---------------------------------------------------------------------------

func TestCompilePositional(t *testing.T) {
	f := newFixture()
	p := f.compile(t, []cell.Cell{
		f.word("a"),
		f.w(cell.TypeLitWord, "b"),
		f.w(cell.TypeGetWord, "c"),
		cell.Int(3),
	}, 0)

	if p.OptionCount() != 0 || p.ArgBase() != 0 {
		t.Errorf("OptionCount = %d, ArgBase = %d", p.OptionCount(), p.ArgBase())
	}
	if p.RequiredOffset() != headerSize {
		t.Errorf("RequiredOffset = %d", p.RequiredOffset())
	}
	if p.SlotCount() != 4 {
		t.Errorf("SlotCount = %d, want 4", p.SlotCount())
	}
	if !p.EvalControl() {
		t.Error("get-word parameter should set the eval flag")
	}
	want := []Opcode{OpClearLocal, OpFetchArg, OpLitArg, OpEval, OpVariant, OpEnd}
	if got := ops(p, p.RequiredOffset()); !sameOps(got, want) {
		t.Errorf("ops = %v, want %v", got, want)
	}
}

func TestVariantRange(t *testing.T) {
	f := newFixture()
	p := f.compile(t, []cell.Cell{
		f.word("a"), cell.Int(70000), cell.Int(-1), cell.Int(65535),
	}, 0)

	if p.SlotCount() != 2 {
		t.Errorf("SlotCount = %d, want 2", p.SlotCount())
	}
	want := []Opcode{OpClearLocal, OpFetchArg, OpVariant, OpEnd}
	if got := ops(p, p.RequiredOffset()); !sameOps(got, want) {
		t.Fatalf("ops = %v, want %v", got, want)
	}
	r := NewReader(p.Code, p.RequiredOffset()+4)
	if op := r.ReadOpcode(); op != OpVariant {
		t.Fatalf("opcode = %v, want VARIANT", op)
	}
	if v := r.ReadUint16(); v != 65535 {
		t.Errorf("variant = %d, want 65535", v)
	}
}

func TestCompileTypeChecks(t *testing.T) {
	f := newFixture()
	p := f.compile(t, []cell.Cell{
		f.word("a"), f.word("int!"),
		f.word("b"), f.word("int!"), f.word("double!"),
		f.word("c"), f.word("number!"),
		f.word("d"), f.block(f.word("block!"), f.word("word!")),
		f.word("e"), cell.Series(cell.TypeString, f.store.NewString("doc"), 0),
	}, 0)

	want := []Opcode{
		OpClearLocal,
		OpFetchArg, OpCheckType,
		OpFetchArg, OpCheckTypeMask,
		OpFetchArg, OpCheckTypeMask,
		OpFetchArg, OpCheckTypeMask,
		OpFetchArg,
		OpEnd,
	}
	if got := ops(p, p.RequiredOffset()); !sameOps(got, want) {
		t.Fatalf("ops = %v, want %v", got, want)
	}

	// Walk again checking operands
	r := NewReader(p.Code, p.RequiredOffset())
	r.ReadOpcode()
	r.ReadUint16()
	r.ReadOpcode()
	r.ReadOpcode()
	if typ := cell.Type(r.ReadByte()); typ != cell.TypeInt {
		t.Errorf("CHECK_TYPE operand = %v", typ)
	}
	r.ReadOpcode()
	pos := r.Position()
	r.ReadOpcode()
	padAt := r.Position()
	if m := r.ReadMask(); m != cell.MaskNumber {
		t.Errorf("mask = %v, want number", m)
	}
	pad := int(p.Code[padAt])
	if (pos+2+pad)%2 != 0 {
		t.Errorf("mask immediates at odd offset %d", pos+2+pad)
	}
	if p.SlotCount() != 5 {
		t.Errorf("SlotCount = %d, want 5", p.SlotCount())
	}
}

func TestCheckTypeMaskAlignment(t *testing.T) {
	for _, start := range []int{0, 1} {
		b := NewBuilder()
		for i := 0; i < start; i++ {
			b.Emit(OpFetchArg)
		}
		b.EmitCheckTypeMask(cell.MaskAnyBlock)
		r := NewReader(b.Bytes(), start)
		r.ReadOpcode()
		pad := int(r.ReadByte())
		if (start+2+pad)%2 != 0 {
			t.Errorf("start %d: immediates at odd offset", start)
		}
		r.Seek(start + 1)
		if m := r.ReadMask(); m != cell.MaskAnyBlock {
			t.Errorf("start %d: mask = %v", start, m)
		}
	}
}

func TestTypeWordWithoutArgumentIsArgument(t *testing.T) {
	f := newFixture()
	p := f.compile(t, []cell.Cell{f.word("int!")}, 0)
	want := []Opcode{OpClearLocal, OpFetchArg, OpEnd}
	if got := ops(p, p.RequiredOffset()); !sameOps(got, want) {
		t.Errorf("ops = %v, want %v", got, want)
	}
}

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// TestCompileOptions checks the full layout of
//
//	[a b int! /only /part n int!]
//
// header (4) + two option entries (16), then CLEAR_LOCAL 4, the required
// fetches, OPTIONS 3 and END, then the /part sequence at an even offset.
func TestCompileOptions(t *testing.T) {
	f := newFixture()
	p := f.compile(t, []cell.Cell{
		f.word("a"), f.word("b"), f.word("int!"),
		f.opt("only"),
		f.opt("part"), f.word("n"), f.word("int!"),
	}, 0)

	if p.OptionCount() != 2 || p.ArgBase() != 1 {
		t.Fatalf("OptionCount = %d, ArgBase = %d", p.OptionCount(), p.ArgBase())
	}
	if p.RequiredOffset() != 20 {
		t.Errorf("RequiredOffset = %d, want 20", p.RequiredOffset())
	}
	only, part := p.Option(0), p.Option(1)
	if f.atoms.Name(only.Atom) != "only" || only.Bit != 0 || only.Argc != 0 || only.Offset != 0 {
		t.Errorf("only = %+v", only)
	}
	if f.atoms.Name(part.Atom) != "part" || part.Bit != 1 || part.Argc != 1 || part.Offset != 30 {
		t.Errorf("part = %+v", part)
	}
	if p.SlotCount() != 4 {
		t.Errorf("SlotCount = %d, want 4", p.SlotCount())
	}

	want := []Opcode{OpClearLocal, OpFetchArg, OpFetchArg, OpCheckType, OpOptions, OpEnd}
	if got := ops(p, p.RequiredOffset()); !sameOps(got, want) {
		t.Errorf("required ops = %v, want %v", got, want)
	}
	if p.Code[28] != 3 {
		t.Errorf("OPTIONS slot = %d, want 3", p.Code[28])
	}
	want = []Opcode{OpFetchArg, OpCheckType, OpEnd}
	if got := ops(p, part.Offset); !sameOps(got, want) {
		t.Errorf("/part ops = %v, want %v", got, want)
	}

	if e, ok := p.FindOption(f.atoms.Intern("part")); !ok || e.Bit != 1 {
		t.Errorf("FindOption(part) = %+v, %v", e, ok)
	}
	if _, ok := p.FindOption(f.atoms.Intern("nope")); ok {
		t.Error("FindOption(nope) should fail")
	}
}

func TestOptionStopsOnInvalidElement(t *testing.T) {
	f := newFixture()
	p := f.compile(t, []cell.Cell{
		f.opt("x"), f.word("m"), cell.Int(7), f.word("dropped"),
		f.opt("y"), f.word("k"),
	}, 0)
	if p.OptionCount() != 2 {
		t.Fatalf("OptionCount = %d", p.OptionCount())
	}
	if x := p.Option(0); x.Argc != 1 {
		t.Errorf("/x argc = %d, want 1", x.Argc)
	}
	if y := p.Option(1); y.Argc != 1 {
		t.Errorf("/y argc = %d, want 1", y.Argc)
	}
	// flags + m + k
	if p.SlotCount() != 3 {
		t.Errorf("SlotCount = %d, want 3", p.SlotCount())
	}
}

func TestOptionLimit(t *testing.T) {
	f := newFixture()
	var spec []cell.Cell
	for _, n := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i"} {
		spec = append(spec, f.opt(n))
	}
	spec = append(spec, f.word("ignored"))
	p := f.compile(t, spec, 0)
	if p.OptionCount() != cell.MaxOptions {
		t.Errorf("OptionCount = %d, want %d", p.OptionCount(), cell.MaxOptions)
	}
	if p.SlotCount() != 1 {
		t.Errorf("SlotCount = %d, want 1", p.SlotCount())
	}
}

// ---------------------------------------------------------------------------
// Locals, externs and body rebinding
// ---------------------------------------------------------------------------

func TestLocalsAndExterns(t *testing.T) {
	f := newFixture()
	p := f.compile(t, []cell.Cell{
		f.word("a"),
		f.word("|"), f.word("x"), f.word("x"), f.word("a"), f.word("g"),
		f.word("extern"), f.word("g"),
	}, 0)
	// a + x (duplicate collapsed, a stays an argument, g extern)
	if p.SlotCount() != 2 {
		t.Errorf("SlotCount = %d, want 2", p.SlotCount())
	}
}

func TestGhostFlag(t *testing.T) {
	f := newFixture()
	p := f.compile(t, []cell.Cell{f.word("ghost"), f.word("a")}, 0)
	if !p.Ghost() {
		t.Error("ghost flag not set")
	}
	if p.SlotCount() != 1 {
		t.Errorf("SlotCount = %d, want 1", p.SlotCount())
	}
}

// TestBodyRebinding compiles
//
//	[a /o v | l extern g] [a o v l g: t: (a) [t]]
//
// and checks each body word's binding.
func TestBodyRebinding(t *testing.T) {
	f := newFixture()
	innerParen := f.store.NewBlock([]cell.Cell{f.word("a")})
	innerBlock := f.store.NewBlock([]cell.Cell{f.word("t")})
	body := f.store.NewBlock([]cell.Cell{
		f.word("a"), f.word("o"), f.word("v"), f.word("l"),
		f.w(cell.TypeSetWord, "g"), f.w(cell.TypeSetWord, "t"),
		cell.Series(cell.TypeParen, innerParen, 0),
		cell.Series(cell.TypeBlock, innerBlock, 0),
		f.word("other"),
	})
	spec := []cell.Cell{
		f.word("a"), f.opt("o"), f.word("v"),
		f.word("|"), f.word("l"),
		f.word("extern"), f.word("g"),
	}
	p := f.compile(t, spec, body)

	// flags, a, v, l, t
	if p.SlotCount() != 5 {
		t.Errorf("SlotCount = %d, want 5", p.SlotCount())
	}

	cells := f.store.Cells(body)
	tests := []struct {
		name string
		got  cell.Binding
		want cell.Binding
	}{
		{"a", cells[0].Bind, cell.FuncArg(body, 1)},
		{"o", cells[1].Bind, cell.FuncOption(body, 0)},
		{"v", cells[2].Bind, cell.FuncOptionArg(body, 0, 0)},
		{"l", cells[3].Bind, cell.FuncArg(body, 3)},
		{"g:", cells[4].Bind, cell.Binding{}},
		{"t:", cells[5].Bind, cell.FuncArg(body, 4)},
		{"(a)", f.store.Cells(innerParen)[0].Bind, cell.FuncArg(body, 1)},
		{"[t]", f.store.Cells(innerBlock)[0].Bind, cell.FuncArg(body, 4)},
		{"other", cells[8].Bind, cell.Binding{}},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: Bind = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestSlotOverflow(t *testing.T) {
	f := newFixture()
	spec := make([]cell.Cell, 0, MaxArgSlots+1)
	for i := 0; i <= MaxArgSlots; i++ {
		spec = append(spec, f.word("a"))
	}
	_, err := f.comp.Compile(spec, 0)
	if !errors.Is(err, ErrSlotOverflow) {
		t.Errorf("err = %v, want ErrSlotOverflow", err)
	}
}

func TestValidateSlots(t *testing.T) {
	clear1 := []byte{byte(OpClearLocal), 1, 0}
	header := []byte{0, 0, 4, 0}
	// One option named by atom 5 at bit 0, with argc and code offset given.
	optHeader := func(argc byte) []byte {
		return []byte{1, 0, 12, 0, 5, 0, 0, 0, 0, argc, 0, 0}
	}
	join := func(parts ...[]byte) []byte {
		var out []byte
		for _, p := range parts {
			out = append(out, p...)
		}
		return out
	}

	tests := []struct {
		name string
		code []byte
		ok   bool
	}{
		{"fetch into reserved slot", join(header, clear1, []byte{byte(OpFetchArg), byte(OpEnd)}), true},
		{"fetch without slots", join(header, []byte{byte(OpClearLocal), 0, 0, byte(OpFetchArg), byte(OpEnd)}), false},
		{"more fetches than slots", join(header, clear1, []byte{byte(OpFetchArg), byte(OpLitArg), byte(OpEnd)}), false},
		{"unknown opcode", join(header, clear1, []byte{0x7f, byte(OpEnd)}), false},
		{"check before fetch", join(header, clear1, []byte{byte(OpCheckType), byte(cell.TypeInt), byte(OpEnd)}), false},
		{"no CLEAR_LOCAL", join(header, []byte{byte(OpFetchArg), byte(OpFetchArg), byte(OpEnd)}), false},
		{"truncated variant", join(header, clear1, []byte{byte(OpVariant), 1, byte(OpEnd)}), false},
		{"options without OPTIONS", join(optHeader(0), clear1, []byte{byte(OpEnd)}), false},
		{"option arguments without code", join(optHeader(1), []byte{byte(OpClearLocal), 2, 0, byte(OpOptions), 1, byte(OpEnd)}), false},
		{"flag-only option", join(optHeader(0), clear1, []byte{byte(OpOptions), 1, byte(OpEnd)}), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := (&Program{Code: tc.code}).Validate()
			if tc.ok && err != nil {
				t.Errorf("Validate: %v", err)
			}
			if !tc.ok && err == nil {
				t.Error("Validate accepted a damaged program")
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

func TestDisassemble(t *testing.T) {
	f := newFixture()
	p := f.compile(t, []cell.Cell{
		f.word("a"), f.word("number!"),
		f.opt("part"), f.word("n"),
	}, 0)
	out := Disassemble(p, f.atoms.Name)
	for _, want := range []string{
		"options=1 slots=3",
		"/part bit=0 argc=1 @",
		"CLEAR_LOCAL 3",
		"CHECK_TYPE_MASK [int! double!]",
		"OPTIONS slot=2",
		"/part:",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("disassembly missing %q:\n%s", want, out)
		}
	}
}
