package compiler

import (
	"encoding/binary"

	"github.com/chazu/brick/cell"
)

// ---------------------------------------------------------------------------
// Builder: Helper for constructing argument programs
// ---------------------------------------------------------------------------

// Builder helps construct argument program code.
type Builder struct {
	bytes []byte
}

// NewBuilder creates a new builder.
func NewBuilder() *Builder {
	return &Builder{bytes: make([]byte, 0, 32)}
}

// Bytes returns the constructed code.
func (b *Builder) Bytes() []byte {
	return b.bytes
}

// Len returns the current length.
func (b *Builder) Len() int {
	return len(b.bytes)
}

// Emit appends an opcode with no operands.
func (b *Builder) Emit(op Opcode) {
	b.bytes = append(b.bytes, byte(op))
}

// EmitRaw appends raw bytes.
func (b *Builder) EmitRaw(data ...byte) {
	b.bytes = append(b.bytes, data...)
}

// EmitByte appends an opcode with a single byte operand.
func (b *Builder) EmitByte(op Opcode, operand byte) {
	b.bytes = append(b.bytes, byte(op), operand)
}

// EmitUint16 appends an opcode with a 16-bit operand (little-endian).
func (b *Builder) EmitUint16(op Opcode, operand uint16) {
	b.bytes = append(b.bytes, byte(op), byte(operand), byte(operand>>8))
}

// EmitCheckTypeMask appends CHECK_TYPE_MASK. A pad byte is inserted when
// needed so the two 16-bit mask halves start at an even offset.
func (b *Builder) EmitCheckTypeMask(m cell.TypeMask) {
	pad := (len(b.bytes) + 2) & 1
	b.bytes = append(b.bytes, byte(OpCheckTypeMask), byte(pad))
	if pad != 0 {
		b.bytes = append(b.bytes, 0)
	}
	b.bytes = binary.LittleEndian.AppendUint16(b.bytes, uint16(m))
	b.bytes = binary.LittleEndian.AppendUint16(b.bytes, uint16(m>>16))
}

// Align pads with END until the length is even.
func (b *Builder) Align() {
	if len(b.bytes)&1 != 0 {
		b.bytes = append(b.bytes, byte(OpEnd))
	}
}

// PutUint16 overwrites a 16-bit value at pos.
func (b *Builder) PutUint16(pos int, v uint16) {
	binary.LittleEndian.PutUint16(b.bytes[pos:], v)
}
