package compiler

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/tliron/commonlog"

	"github.com/chazu/brick/cell"
	"github.com/chazu/brick/pattern"
)

var log = commonlog.GetLogger("brick.compiler")

// Frame layout limits.
const (
	// MaxArgSlots bounds the option-flags, required and option-argument
	// slots together, since option argument offsets are stored as a byte.
	MaxArgSlots = 256

	// MaxFrameSlots bounds all slots including locals.
	MaxFrameSlots = 65535
)

// ErrSlotOverflow is returned when a signature needs more frame slots than
// an argument program can address.
var ErrSlotOverflow = errors.New("too many argument slots")

// DatatypeFunc reports the type mask named by a datatype or typeset word.
type DatatypeFunc func(cell.Atom) (cell.TypeMask, bool)

// ---------------------------------------------------------------------------
// Signature grammar
// ---------------------------------------------------------------------------

// Element ids reported by the signature grammar.
const (
	elGhost uint16 = iota + 1
	elExtern
	elLocal
	elOption
	elLitWord
	elGetWord
	elInt
	elWord
	elDoc
	elOther
)

const matchGhost = 1 // matcher flag set by the ghost marker

// Compiler compiles signatures into argument programs. It is safe for
// concurrent use.
type Compiler struct {
	atoms    *cell.AtomTable
	store    *cell.Store
	datatype DatatypeFunc

	grammar  []uint16
	specRule int
	scanRule int
}

// New creates a compiler. datatype identifies type words in signatures
// and may be nil, in which case no type checks are compiled.
func New(atoms *cell.AtomTable, store *cell.Store, datatype DatatypeFunc) *Compiler {
	c := &Compiler{atoms: atoms, store: store, datatype: datatype}
	c.buildGrammar()
	return c
}

// Grammar returns the pattern program used to classify signature elements.
func (c *Compiler) Grammar() []uint16 {
	return c.grammar
}

// buildGrammar assembles
//
//	spec:    ANY_R element
//	scan:    ANY_R item
//	element: 'ghost | 'extern | '| | option! | lit-word! | get-word! | int!
//	         | word! | string! block! | SKIP
//	item:    THRU_TS [set-word! block! paren!]
func (c *Compiler) buildGrammar() {
	b := pattern.NewBuilder()
	element, item := b.NewLabel(), b.NewLabel()

	c.specRule = b.Len()
	b.EmitLabel(pattern.OpAnyR, element)
	b.Emit(pattern.OpEnd)

	c.scanRule = b.Len()
	b.EmitLabel(pattern.OpAnyR, item)
	b.Emit(pattern.OpEnd)

	b.Mark(element)
	alt := func(id uint16, match func()) {
		next := b.NewLabel()
		b.EmitLabel(pattern.OpNext, next)
		match()
		b.EmitArg(pattern.OpReportEnd, id)
		b.Mark(next)
	}
	alt(elGhost, func() {
		b.EmitAtom(pattern.OpLitWord, c.atoms.Intern("ghost"))
		b.EmitArg(pattern.OpFlag, matchGhost)
	})
	alt(elExtern, func() { b.EmitAtom(pattern.OpLitWord, c.atoms.Intern("extern")) })
	alt(elLocal, func() { b.EmitAtom(pattern.OpLitWord, c.atoms.Intern("|")) })
	alt(elOption, func() { b.EmitType(pattern.OpType, cell.TypeOption) })
	alt(elLitWord, func() { b.EmitType(pattern.OpType, cell.TypeLitWord) })
	alt(elGetWord, func() { b.EmitType(pattern.OpType, cell.TypeGetWord) })
	alt(elInt, func() { b.EmitType(pattern.OpType, cell.TypeInt) })
	alt(elWord, func() { b.EmitType(pattern.OpType, cell.TypeWord) })
	alt(elDoc, func() { b.EmitMask(pattern.OpTypeset, cell.MaskOf(cell.TypeString, cell.TypeBlock)) })
	b.Emit(pattern.OpSkip)
	b.EmitArg(pattern.OpReportEnd, elOther)

	b.Mark(item)
	b.EmitMask(pattern.OpThruTs, cell.MaskOf(cell.TypeSetWord, cell.TypeBlock, cell.TypeParen))
	b.EmitArg(pattern.OpReportEnd, 0)

	c.grammar = b.Code()
}

// ---------------------------------------------------------------------------
// Signatures
// ---------------------------------------------------------------------------

type paramKind uint8

const (
	paramFetch paramKind = iota
	paramLit
	paramEval
	paramVariant
)

type param struct {
	kind    paramKind
	name    cell.Atom
	mask    cell.TypeMask
	variant int64
}

type option struct {
	name cell.Atom
	args []param
}

type signature struct {
	required []param
	options  []option
	locals   []cell.Atom
	externs  []cell.Atom
	ghost    bool

	argBase, optBase, localBase, total int
}

type section uint8

const (
	sectionArgs section = iota
	sectionOption
	sectionLocals
	sectionExtern
	sectionNone
)

type element struct {
	id  uint16
	pos int
}

// Compile compiles a signature. When body is non-zero the body block is
// also rewritten so that its argument, option and local words resolve to
// the function's frame, and set-words in the body become locals.
func (c *Compiler) Compile(spec []cell.Cell, body cell.BufID) (*Program, error) {
	sig := c.parse(spec)
	if body != 0 {
		seen := make(map[cell.BufID]bool)
		c.scanSetWords(body, seen, &sig.locals)
	}
	sig.finishLocals()
	if err := sig.layout(); err != nil {
		return nil, err
	}
	prog := sig.emit()
	if body != 0 {
		c.rebind(body, sig.bindings(body), make(map[cell.BufID]bool))
	}
	log.Debugf("compiled signature: %d required, %d options, %d slots",
		len(sig.required), len(sig.options), sig.total)
	return prog, nil
}

func (c *Compiler) parse(spec []cell.Cell) *signature {
	var elems []element
	m := pattern.NewMatcher(c.grammar)
	m.Report = func(id uint16, start, _ int) {
		elems = append(elems, element{id, start})
	}
	m.Match(c.specRule, spec, 0)

	sig := &signature{ghost: m.Flags&matchGhost != 0}
	sec := sectionArgs
	params := &sig.required
	typed := false // the last param of *params accepts type words

	for _, el := range elems {
		v := &spec[el.pos]
		switch el.id {
		case elExtern:
			sec, typed = sectionExtern, false

		case elLocal:
			sec, typed = sectionLocals, false

		case elOption:
			typed = false
			if len(sig.options) == cell.MaxOptions {
				log.Warningf("ignoring option /%s: at most %d options per signature",
					c.atoms.Name(v.Atom), cell.MaxOptions)
				sec = sectionNone
				continue
			}
			sig.options = append(sig.options, option{name: v.Atom})
			params = &sig.options[len(sig.options)-1].args
			sec = sectionOption

		case elWord:
			if mask, ok := c.typeWord(v.Atom); ok && typed {
				(*params)[len(*params)-1].mask |= mask
				continue
			}
			switch sec {
			case sectionArgs, sectionOption:
				*params = append(*params, param{kind: paramFetch, name: v.Atom})
				typed = true
			case sectionLocals:
				sig.locals = append(sig.locals, v.Atom)
			case sectionExtern:
				sig.externs = append(sig.externs, v.Atom)
			}

		case elLitWord:
			typed = false
			if sec == sectionArgs || sec == sectionOption {
				*params = append(*params, param{kind: paramLit, name: v.Atom})
				typed = true
			}

		case elGetWord:
			typed = false
			switch sec {
			case sectionArgs:
				sig.required = append(sig.required, param{kind: paramEval, name: v.Atom})
			case sectionOption:
				sec = sectionNone
			}

		case elInt:
			typed = false
			switch sec {
			case sectionArgs:
				if v.N < 0 || v.N > math.MaxUint16 {
					log.Warningf("ignoring variant %d: outside 0..%d", v.N, math.MaxUint16)
					break
				}
				sig.required = append(sig.required, param{kind: paramVariant, variant: v.N})
			case sectionOption:
				sec = sectionNone
			}

		case elDoc:
			if v.T == cell.TypeBlock {
				if mask, ok := c.typeBlock(v); ok && typed {
					(*params)[len(*params)-1].mask |= mask
				}
				typed = false
			}

		case elOther:
			typed = false
			if sec == sectionOption {
				sec = sectionNone
			}
		}
	}
	return sig
}

func (c *Compiler) typeWord(a cell.Atom) (cell.TypeMask, bool) {
	if c.datatype == nil {
		return 0, false
	}
	return c.datatype(a)
}

// typeBlock returns the union of a block made only of type words.
func (c *Compiler) typeBlock(v *cell.Cell) (cell.TypeMask, bool) {
	cells := c.store.Cells(v.Buf)
	if int(v.Pos) >= len(cells) {
		return 0, false
	}
	var mask cell.TypeMask
	for i := int(v.Pos); i < len(cells); i++ {
		if cells[i].T != cell.TypeWord {
			return 0, false
		}
		m, ok := c.typeWord(cells[i].Atom)
		if !ok {
			return 0, false
		}
		mask |= m
	}
	return mask, true
}

// scanSetWords appends every set-word found in blk and its nested blocks
// and parens.
func (c *Compiler) scanSetWords(blk cell.BufID, seen map[cell.BufID]bool, out *[]cell.Atom) {
	if seen[blk] {
		return
	}
	seen[blk] = true

	cells := c.store.Cells(blk)
	var found []int
	m := pattern.NewMatcher(c.grammar)
	m.Report = func(_ uint16, _, end int) {
		found = append(found, end-1)
	}
	m.Match(c.scanRule, cells, 0)

	for _, i := range found {
		if cells[i].T == cell.TypeSetWord {
			*out = append(*out, cells[i].Atom)
		} else {
			c.scanSetWords(cells[i].Buf, seen, out)
		}
	}
}

// finishLocals removes duplicates, externs and names already bound as
// arguments or options from the local set.
func (sig *signature) finishLocals() {
	taken := make(map[cell.Atom]bool)
	for _, a := range sig.externs {
		taken[a] = true
	}
	for _, p := range sig.required {
		if p.kind != paramVariant {
			taken[p.name] = true
		}
	}
	for _, o := range sig.options {
		taken[o.name] = true
		for _, p := range o.args {
			taken[p.name] = true
		}
	}
	locals := sig.locals[:0]
	for _, a := range sig.locals {
		if !taken[a] {
			taken[a] = true
			locals = append(locals, a)
		}
	}
	sig.locals = locals
}

// layout assigns slots:
//
//	[opt-flags] [required...] [option args...] [locals...]
func (sig *signature) layout() error {
	if len(sig.options) > 0 {
		sig.argBase = 1
	}
	sig.optBase = sig.argBase + len(sig.required)
	sig.localBase = sig.optBase
	for _, o := range sig.options {
		sig.localBase += len(o.args)
	}
	sig.total = sig.localBase + len(sig.locals)

	if sig.localBase > MaxArgSlots {
		return fmt.Errorf("%w: %d argument slots, limit %d", ErrSlotOverflow, sig.localBase, MaxArgSlots)
	}
	if sig.total > MaxFrameSlots {
		return fmt.Errorf("%w: %d frame slots, limit %d", ErrSlotOverflow, sig.total, MaxFrameSlots)
	}
	return nil
}

func (sig *signature) bindings(owner cell.BufID) map[cell.Atom]cell.Binding {
	binds := make(map[cell.Atom]cell.Binding)
	put := func(a cell.Atom, b cell.Binding) {
		if _, dup := binds[a]; !dup {
			binds[a] = b
		}
	}
	for i, p := range sig.required {
		if p.kind != paramVariant {
			put(p.name, cell.FuncArg(owner, sig.argBase+i))
		}
	}
	for bit, o := range sig.options {
		put(o.name, cell.FuncOption(owner, bit))
		for sub, p := range o.args {
			put(p.name, cell.FuncOptionArg(owner, bit, sub))
		}
	}
	for i, a := range sig.locals {
		put(a, cell.FuncArg(owner, sig.localBase+i))
	}
	return binds
}

func (sig *signature) emit() *Program {
	b := NewBuilder()

	var flags byte
	if sig.ghost {
		flags |= FlagGhost
	}
	for _, p := range sig.required {
		if p.kind == paramEval {
			flags |= FlagEval
		}
	}
	b.EmitRaw(byte(len(sig.options)), flags, 0, 0)

	table := b.Len()
	for bit, o := range sig.options {
		var e [optionEntrySize]byte
		binary.LittleEndian.PutUint32(e[:], uint32(o.name))
		e[4] = byte(bit)
		e[5] = byte(len(o.args))
		b.EmitRaw(e[:]...)
	}

	b.PutUint16(2, uint16(b.Len()))
	b.EmitUint16(OpClearLocal, uint16(sig.total))
	for _, p := range sig.required {
		emitParam(b, p)
	}
	if len(sig.options) > 0 {
		b.EmitByte(OpOptions, byte(sig.optBase))
	}
	b.Emit(OpEnd)

	for bit, o := range sig.options {
		if len(o.args) == 0 {
			continue
		}
		b.Align()
		b.PutUint16(table+bit*optionEntrySize+6, uint16(b.Len()))
		for _, p := range o.args {
			emitParam(b, p)
		}
		b.Emit(OpEnd)
	}
	return &Program{Code: b.Bytes()}
}

func emitParam(b *Builder, p param) {
	switch p.kind {
	case paramFetch:
		b.Emit(OpFetchArg)
	case paramLit:
		b.Emit(OpLitArg)
	case paramEval:
		b.Emit(OpEval)
		return
	case paramVariant:
		b.EmitUint16(OpVariant, uint16(p.variant))
		return
	}
	if p.mask == 0 {
		return
	}
	if t, ok := p.mask.Single(); ok {
		b.EmitByte(OpCheckType, byte(t))
	} else {
		b.EmitCheckTypeMask(p.mask)
	}
}

// rebind rewrites the words of blk and its nested blocks that name a frame
// binding.
func (c *Compiler) rebind(blk cell.BufID, binds map[cell.Atom]cell.Binding, seen map[cell.BufID]bool) {
	if seen[blk] {
		return
	}
	seen[blk] = true

	cells := c.store.Cells(blk)
	for i := range cells {
		v := &cells[i]
		switch {
		case v.T.IsWord():
			if b, ok := binds[v.Atom]; ok {
				v.Bind = b
			}
		case v.T.IsBlock():
			c.rebind(v.Buf, binds, seen)
		}
	}
}
