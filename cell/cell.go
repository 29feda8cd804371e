package cell

import "math"

// BufID addresses a buffer in the Store. Zero is never a valid buffer.
type BufID uint32

// Cell is the uniform value representation.
//
// A cell is a flat tagged struct rather than an interface so that value
// stacks and blocks are contiguous and copying a value never allocates.
// Which fields are meaningful depends on T:
//
//   - Words: Atom and Bind. A word never stores its value.
//   - Series: Buf, Pos and End (End < 0 means "to the end of the buffer").
//   - int!, char!, logic!: N. double!: N holds the IEEE-754 bits.
//   - datatype!: N holds the TypeMask.
//   - cfunc!: Buf is the argument program, N the native id.
//   - func!: Buf is the argument program, N the body block.
//   - error!: N is the error kind, Buf the message string, Pos the
//     1-based argument index (0 if none).
//   - opt-flags!: Pos holds the option bits, N the packed byte offsets.
type Cell struct {
	T     Type
	Flags uint8
	Bind  Binding
	Atom  Atom
	Buf   BufID
	Pos   int32
	End   int32
	N     int64
}

// Cell flags.
const (
	FlagNewline uint8 = 1 << iota // cell started a new line in source
)

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// Unset returns the unset value.
func Unset() Cell { return Cell{T: TypeUnset} }

// None returns the none value.
func None() Cell { return Cell{T: TypeNone} }

// Logic returns a logic value.
func Logic(b bool) Cell {
	c := Cell{T: TypeLogic}
	if b {
		c.N = 1
	}
	return c
}

// Int returns an integer value.
func Int(n int64) Cell { return Cell{T: TypeInt, N: n} }

// Double returns a decimal value.
func Double(f float64) Cell { return Cell{T: TypeDouble, N: int64(math.Float64bits(f))} }

// Char returns a character value.
func Char(r rune) Cell { return Cell{T: TypeChar, N: int64(r)} }

// Datatype returns a datatype (or typeset) value.
func Datatype(m TypeMask) Cell { return Cell{T: TypeDatatype, N: int64(m)} }

// Word returns an unbound word of the given word type.
func Word(t Type, a Atom) Cell { return Cell{T: t, Atom: a} }

// Series returns a series value positioned at pos.
func Series(t Type, buf BufID, pos int) Cell {
	return Cell{T: t, Buf: buf, Pos: int32(pos), End: -1}
}

// CFunc returns a native function value.
func CFunc(prog BufID, id int) Cell { return Cell{T: TypeCFunc, Buf: prog, N: int64(id)} }

// Func returns a user function value.
func Func(prog, body BufID) Cell { return Cell{T: TypeFunc, Buf: prog, N: int64(body)} }

// OptFlags returns an empty option-flags cell.
func OptFlags() Cell { return Cell{T: TypeOptFlags} }

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Float returns the payload of a double! cell.
func (c *Cell) Float() float64 { return math.Float64frombits(uint64(c.N)) }

// Bool returns the payload of a logic! cell.
func (c *Cell) Bool() bool { return c.N != 0 }

// Mask returns the payload of a datatype! cell.
func (c *Cell) Mask() TypeMask { return TypeMask(c.N) }

// Body returns the body block of a func! cell.
func (c *Cell) Body() BufID { return BufID(c.N) }

// NativeID returns the native index of a cfunc! cell.
func (c *Cell) NativeID() int { return int(c.N) }

// Truthy reports whether the value counts as true in a condition.
// Only none, unset and false are false.
func (c *Cell) Truthy() bool {
	switch c.T {
	case TypeNone, TypeUnset:
		return false
	case TypeLogic:
		return c.N != 0
	}
	return true
}

// ---------------------------------------------------------------------------
// Option flags
// ---------------------------------------------------------------------------

// MaxOptions is the number of options one argument program can declare.
const MaxOptions = 8

// OptionSet reports whether option bit is set in an opt-flags cell.
func (c *Cell) OptionSet(bit int) bool {
	return c.T == TypeOptFlags && c.Pos&(1<<bit) != 0
}

// OptionBits returns the raw bit set of an opt-flags cell.
func (c *Cell) OptionBits() uint8 {
	return uint8(c.Pos)
}

// OptionOffset returns the recorded frame offset of option bit's arguments.
func (c *Cell) OptionOffset(bit int) int {
	return int(uint8(uint64(c.N) >> (8 * bit)))
}

// SetOption marks option bit as present, recording the frame offset at
// which its extra arguments were placed.
func (c *Cell) SetOption(bit int, offset uint8) {
	c.Pos |= 1 << bit
	shift := 8 * uint(bit)
	n := uint64(c.N) &^ (0xFF << shift)
	c.N = int64(n | uint64(offset)<<shift)
}
