package compiler

import (
	"fmt"
	"strings"

	"github.com/chazu/brick/cell"
)

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction disassembles a single instruction at the reader's
// position and advances the reader.
func DisassembleInstruction(r *Reader) (string, Opcode) {
	pos := r.Position()
	op := r.ReadOpcode()
	name := op.Info().Name

	switch op {
	case OpClearLocal, OpVariant:
		return fmt.Sprintf("%04d  %s %d", pos, name, r.ReadUint16()), op
	case OpCheckType:
		return fmt.Sprintf("%04d  %s %s", pos, name, cell.Type(r.ReadByte())), op
	case OpCheckTypeMask:
		return fmt.Sprintf("%04d  %s [%s]", pos, name, r.ReadMask()), op
	case OpOptions:
		return fmt.Sprintf("%04d  %s slot=%d", pos, name, r.ReadByte()), op
	}
	return fmt.Sprintf("%04d  %s", pos, name), op
}

func disassembleRange(sb *strings.Builder, code []byte, start int) {
	r := NewReader(code, start)
	for r.Position() < len(code) {
		line, op := DisassembleInstruction(r)
		sb.WriteString(line)
		sb.WriteByte('\n')
		if op == OpEnd {
			return
		}
	}
}

// Disassemble renders a program: its header, option table, required code
// and each option's fetch sequence. names resolves option atoms and may be
// nil.
func Disassemble(p *Program, names func(cell.Atom) string) string {
	var sb strings.Builder
	if err := p.Validate(); err != nil {
		return err.Error()
	}

	name := func(a cell.Atom) string {
		if names == nil {
			return fmt.Sprintf("#%d", a)
		}
		return names(a)
	}

	fmt.Fprintf(&sb, "options=%d slots=%d", p.OptionCount(), p.SlotCount())
	if p.Ghost() {
		sb.WriteString(" ghost")
	}
	if p.EvalControl() {
		sb.WriteString(" eval")
	}
	sb.WriteByte('\n')
	for i := 0; i < p.OptionCount(); i++ {
		e := p.Option(i)
		fmt.Fprintf(&sb, "  /%s bit=%d argc=%d", name(e.Atom), e.Bit, e.Argc)
		if e.Offset != 0 {
			fmt.Fprintf(&sb, " @%04d", e.Offset)
		}
		sb.WriteByte('\n')
	}

	disassembleRange(&sb, p.Code, p.RequiredOffset())
	for i := 0; i < p.OptionCount(); i++ {
		if e := p.Option(i); e.Offset != 0 {
			fmt.Fprintf(&sb, "/%s:\n", name(e.Atom))
			disassembleRange(&sb, p.Code, e.Offset)
		}
	}
	return strings.TrimSuffix(sb.String(), "\n")
}
