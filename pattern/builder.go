package pattern

import (
	"fmt"
	"strings"

	"github.com/chazu/brick/cell"
)

// ---------------------------------------------------------------------------
// Builder: Helper for constructing pattern programs
// ---------------------------------------------------------------------------

// Builder assembles pattern programs.
type Builder struct {
	code []uint16
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{code: make([]uint16, 0, 64)}
}

// Code returns the assembled program.
func (b *Builder) Code() []uint16 {
	return b.code
}

// Len returns the current length in words. A rule's offset is the Len
// before its first instruction.
func (b *Builder) Len() int {
	return len(b.code)
}

// Emit appends an opcode with no operands.
func (b *Builder) Emit(op Opcode) {
	b.code = append(b.code, uint16(op))
}

// EmitArg appends an opcode with a one-word operand.
func (b *Builder) EmitArg(op Opcode, n uint16) {
	b.code = append(b.code, uint16(op), n)
}

// EmitType appends a type-testing opcode.
func (b *Builder) EmitType(op Opcode, t cell.Type) {
	b.EmitArg(op, uint16(t))
}

// EmitAtom appends LitWord or ToLitWord.
func (b *Builder) EmitAtom(op Opcode, a cell.Atom) {
	b.code = append(b.code, uint16(op), uint16(a), uint16(a>>16))
}

// EmitMask appends a typeset-testing opcode.
func (b *Builder) EmitMask(op Opcode, m cell.TypeMask) {
	b.code = append(b.code, uint16(op),
		uint16(m), uint16(m>>16), uint16(m>>32), uint16(m>>48))
}

// ---------------------------------------------------------------------------
// Labels for rule and alternative targets
// ---------------------------------------------------------------------------

// Label is a code position that may be referenced before it is known.
type Label struct {
	resolved bool
	position int
	refs     []int
}

// NewLabel creates an unresolved label.
func (b *Builder) NewLabel() *Label {
	return &Label{refs: make([]int, 0, 2)}
}

// Mark resolves a label to the current position.
func (b *Builder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.code)
	for _, ref := range label.refs {
		b.code[ref] = uint16(label.position)
	}
	label.refs = nil
}

// Position returns the resolved position of a label.
func (l *Label) Position() int {
	return l.position
}

// EmitLabel appends an opcode whose operand is the label's position:
// Next, Rule and the rule repetitions.
func (b *Builder) EmitLabel(op Opcode, label *Label) {
	b.code = append(b.code, uint16(op))
	if label.resolved {
		b.code = append(b.code, uint16(label.position))
		return
	}
	label.refs = append(label.refs, len(b.code))
	b.code = append(b.code, 0)
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// Disassemble renders a pattern program. names resolves atoms for LitWord
// operands and may be nil.
func Disassemble(code []uint16, names func(cell.Atom) string) string {
	var sb strings.Builder
	for pc := 0; pc < len(code); {
		pos := pc
		op := Opcode(code[pc])
		info := op.Info()
		pc++
		if pc+info.Operand.Words() > len(code) {
			fmt.Fprintf(&sb, "%04d  %s <truncated>\n", pos, info.Name)
			break
		}
		switch info.Operand {
		case OperandNone:
			fmt.Fprintf(&sb, "%04d  %s\n", pos, info.Name)
		case OperandInt:
			fmt.Fprintf(&sb, "%04d  %s %d\n", pos, info.Name, code[pc])
		case OperandTarget:
			fmt.Fprintf(&sb, "%04d  %s -> %04d\n", pos, info.Name, code[pc])
		case OperandType:
			fmt.Fprintf(&sb, "%04d  %s %s\n", pos, info.Name, cell.Type(code[pc]))
		case OperandAtom:
			a := atomAt(code, pc)
			name := fmt.Sprintf("#%d", a)
			if names != nil {
				name = names(a)
			}
			fmt.Fprintf(&sb, "%04d  %s %s\n", pos, info.Name, name)
		case OperandMask:
			fmt.Fprintf(&sb, "%04d  %s [%s]\n", pos, info.Name, maskAt(code, pc))
		}
		pc += info.Operand.Words()
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func atomAt(code []uint16, pc int) cell.Atom {
	return cell.Atom(code[pc]) | cell.Atom(code[pc+1])<<16
}

func maskAt(code []uint16, pc int) cell.TypeMask {
	return cell.TypeMask(code[pc]) | cell.TypeMask(code[pc+1])<<16 |
		cell.TypeMask(code[pc+2])<<32 | cell.TypeMask(code[pc+3])<<48
}
