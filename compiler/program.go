// Package compiler turns function signatures into argument programs.
//
// An argument program is a small immutable bytecode blob executed by the
// evaluator each time a function is called. It fetches the call's
// arguments from the live input, checks their types, and handles the
// options named on the call path. The compiler also rewrites the words of
// a function body so that arguments, options and locals resolve to frame
// slots without any name lookup at call time.
package compiler

import (
	"encoding/binary"
	"fmt"

	"github.com/chazu/brick/cell"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode is one argument program instruction.
type Opcode byte

// Frame setup
const (
	OpEnd        Opcode = 0x00 // end of a fetch sequence
	OpClearLocal Opcode = 0x01 // reserve and clear slots (16-bit count)
)

// Argument fetch
const (
	OpFetchArg Opcode = 0x10 // evaluate the next input expression into the next slot
	OpLitArg   Opcode = 0x11 // copy the next input cell into the next slot
	OpEval     Opcode = 0x12 // hand the native the raw input cursor
	OpVariant  Opcode = 0x13 // store a fixed int marker (16-bit value)
)

// Type checks on the last fetched slot
const (
	OpCheckType     Opcode = 0x20 // 8-bit type
	OpCheckTypeMask Opcode = 0x21 // pad count, pad, two 16-bit mask halves
)

// Options
const (
	OpOptions Opcode = 0x30 // process path options (8-bit first option-arg slot)
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name         string
	OperandBytes int // -1 for variable length
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpEnd:           {"END", 0},
	OpClearLocal:    {"CLEAR_LOCAL", 2},
	OpFetchArg:      {"FETCH_ARG", 0},
	OpLitArg:        {"LIT_ARG", 0},
	OpEval:          {"EVAL", 0},
	OpVariant:       {"VARIANT", 2},
	OpCheckType:     {"CHECK_TYPE", 1},
	OpCheckTypeMask: {"CHECK_TYPE_MASK", -1},
	OpOptions:       {"OPTIONS", 1},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Info().Name
}

// ---------------------------------------------------------------------------
// Program layout
// ---------------------------------------------------------------------------

// Header flags.
const (
	FlagGhost uint8 = 1 << iota // no trace entries for this function's body
	FlagEval                    // signature contains an Eval parameter
)

const (
	headerSize      = 4
	optionEntrySize = 8
)

// OptionEntry describes one option of a signature.
type OptionEntry struct {
	Atom   cell.Atom // option name
	Bit    int       // bit in the call's option-flags cell
	Argc   int       // number of extra arguments
	Offset int       // code offset of the option's fetch sequence, 0 if none
}

// Program is a compiled argument program.
//
//	0  u8   option count
//	1  u8   flags
//	2  u16  offset of the required-argument code
//	4  OptionEntry * count: u32 atom, u8 bit, u8 argc, u16 offset
//	   CLEAR_LOCAL n, fetches..., [OPTIONS slot], END
//	   per-option fetches..., END
//
// All multi-byte values are little-endian. Option code offsets are even.
type Program struct {
	Code []byte
}

// OptionCount returns the number of declared options.
func (p *Program) OptionCount() int {
	return int(p.Code[0])
}

// Flags returns the header flags.
func (p *Program) Flags() uint8 {
	return p.Code[1]
}

// Ghost reports whether the function suppresses trace entries.
func (p *Program) Ghost() bool {
	return p.Code[1]&FlagGhost != 0
}

// EvalControl reports whether the function takes the raw input cursor.
func (p *Program) EvalControl() bool {
	return p.Code[1]&FlagEval != 0
}

// RequiredOffset returns the offset of the required-argument code.
func (p *Program) RequiredOffset() int {
	return int(binary.LittleEndian.Uint16(p.Code[2:]))
}

// Option returns option entry i.
func (p *Program) Option(i int) OptionEntry {
	e := p.Code[headerSize+i*optionEntrySize:]
	return OptionEntry{
		Atom:   cell.Atom(binary.LittleEndian.Uint32(e)),
		Bit:    int(e[4]),
		Argc:   int(e[5]),
		Offset: int(binary.LittleEndian.Uint16(e[6:])),
	}
}

// FindOption returns the option entry named a.
func (p *Program) FindOption(a cell.Atom) (OptionEntry, bool) {
	for i, n := 0, p.OptionCount(); i < n; i++ {
		e := p.Code[headerSize+i*optionEntrySize:]
		if cell.Atom(binary.LittleEndian.Uint32(e)) == a {
			return p.Option(i), true
		}
	}
	return OptionEntry{}, false
}

// Relocate returns a copy of p with every option atom mapped through fn.
func (p *Program) Relocate(fn func(cell.Atom) cell.Atom) *Program {
	code := append([]byte(nil), p.Code...)
	for i, n := 0, p.OptionCount(); i < n; i++ {
		e := code[headerSize+i*optionEntrySize:]
		binary.LittleEndian.PutUint32(e, uint32(fn(cell.Atom(binary.LittleEndian.Uint32(e)))))
	}
	return &Program{Code: code}
}

// SlotCount returns the number of frame slots the program reserves.
func (p *Program) SlotCount() int {
	off := p.RequiredOffset()
	if Opcode(p.Code[off]) != OpClearLocal {
		return 0
	}
	return int(binary.LittleEndian.Uint16(p.Code[off+1:]))
}

// ArgBase returns the slot of the first required argument. Slot 0 holds
// the option-flags cell when the signature declares options.
func (p *Program) ArgBase() int {
	if p.OptionCount() > 0 {
		return 1
	}
	return 0
}

// Validate checks the structural integrity of a program read from an
// untrusted source such as the program cache.
func (p *Program) Validate() error {
	if len(p.Code) < headerSize+3 {
		return fmt.Errorf("argument program too short: %d bytes", len(p.Code))
	}
	n := p.OptionCount()
	if n > cell.MaxOptions {
		return fmt.Errorf("argument program declares %d options", n)
	}
	req := p.RequiredOffset()
	if req != headerSize+n*optionEntrySize || req >= len(p.Code) {
		return fmt.Errorf("argument program required offset %d out of range", req)
	}
	for i := 0; i < n; i++ {
		e := p.Option(i)
		if e.Offset >= len(p.Code) || e.Offset%2 != 0 || e.Bit >= cell.MaxOptions {
			return fmt.Errorf("argument program option %d malformed", i)
		}
	}
	if p.Code[len(p.Code)-1] != byte(OpEnd) {
		return fmt.Errorf("argument program not terminated")
	}
	return p.validateSlots()
}

// validateSlots walks each fetch sequence and checks that every slot it
// writes or checks lies inside the CLEAR_LOCAL reservation.
func (p *Program) validateSlots() error {
	req := p.RequiredOffset()
	if req+3 > len(p.Code) || Opcode(p.Code[req]) != OpClearLocal {
		return fmt.Errorf("argument program does not start with CLEAR_LOCAL")
	}
	slots := p.SlotCount()
	n := p.OptionCount()

	fetched, optBase, err := p.walk(req+3, n > 0)
	if err != nil {
		return err
	}
	if p.ArgBase()+fetched > slots {
		return fmt.Errorf("argument program fetches %d arguments into %d slots", fetched, slots)
	}
	if n == 0 {
		return nil
	}
	if optBase < p.ArgBase()+fetched {
		return fmt.Errorf("argument program option slots start at %d inside the required arguments", optBase)
	}

	end := optBase
	for i := 0; i < n; i++ {
		e := p.Option(i)
		if e.Offset == 0 {
			if e.Argc != 0 {
				return fmt.Errorf("argument program option %d has %d arguments and no code", i, e.Argc)
			}
			continue
		}
		got, _, err := p.walk(e.Offset, false)
		if err != nil {
			return err
		}
		if got != e.Argc {
			return fmt.Errorf("argument program option %d fetches %d arguments, declares %d", i, got, e.Argc)
		}
		end += got
	}
	if end > slots || end > maxOptionSlot {
		return fmt.Errorf("argument program option arguments end at slot %d, %d reserved", end, slots)
	}
	return nil
}

// maxOptionSlot bounds option-argument slots, whose offsets are a byte.
const maxOptionSlot = 256

// walk decodes one fetch sequence from pos to its END. It returns the
// number of slots filled and the OPTIONS operand, which is allowed only
// when options is set.
func (p *Program) walk(pos int, options bool) (fetched, optBase int, err error) {
	optBase = -1
	need := func(n int) error {
		if pos+n > len(p.Code) {
			return fmt.Errorf("argument program truncated at %d", pos)
		}
		return nil
	}
	for {
		if err := need(1); err != nil {
			return 0, 0, err
		}
		op := Opcode(p.Code[pos])
		switch op {
		case OpEnd:
			if options && optBase < 0 {
				return 0, 0, fmt.Errorf("argument program has options and no OPTIONS")
			}
			return fetched, optBase, nil
		case OpFetchArg, OpLitArg, OpEval:
			fetched++
			pos++
		case OpVariant:
			if err := need(3); err != nil {
				return 0, 0, err
			}
			fetched++
			pos += 3
		case OpCheckType, OpCheckTypeMask:
			if fetched == 0 {
				return 0, 0, fmt.Errorf("argument program checks a type before any fetch at %d", pos)
			}
			size := 2
			if op == OpCheckTypeMask {
				if err := need(2); err != nil {
					return 0, 0, err
				}
				size = 2 + int(p.Code[pos+1]) + 4
			}
			if err := need(size); err != nil {
				return 0, 0, err
			}
			pos += size
		case OpOptions:
			if !options || optBase >= 0 {
				return 0, 0, fmt.Errorf("argument program has an unexpected OPTIONS at %d", pos)
			}
			if err := need(2); err != nil {
				return 0, 0, err
			}
			optBase = int(p.Code[pos+1])
			pos += 2
		default:
			return 0, 0, fmt.Errorf("argument program has unknown opcode 0x%02x at %d", byte(op), pos)
		}
	}
}

// ---------------------------------------------------------------------------
// Reader
// ---------------------------------------------------------------------------

// Reader reads argument program code for execution or disassembly.
type Reader struct {
	code []byte
	pos  int
}

// NewReader creates a reader positioned at pos.
func NewReader(code []byte, pos int) *Reader {
	return &Reader{code: code, pos: pos}
}

// Position returns the current read position.
func (r *Reader) Position() int {
	return r.pos
}

// Seek sets the read position.
func (r *Reader) Seek(pos int) {
	r.pos = pos
}

// ReadOpcode reads the next opcode. Reading past the end yields OpEnd.
func (r *Reader) ReadOpcode() Opcode {
	if r.pos >= len(r.code) {
		return OpEnd
	}
	op := Opcode(r.code[r.pos])
	r.pos++
	return op
}

// ReadByte reads a single byte operand.
func (r *Reader) ReadByte() byte {
	if r.pos >= len(r.code) {
		return 0
	}
	b := r.code[r.pos]
	r.pos++
	return b
}

// ReadUint16 reads a 16-bit operand.
func (r *Reader) ReadUint16() uint16 {
	if r.pos+2 > len(r.code) {
		r.pos = len(r.code)
		return 0
	}
	v := binary.LittleEndian.Uint16(r.code[r.pos:])
	r.pos += 2
	return v
}

// ReadMask reads the operands of CHECK_TYPE_MASK.
func (r *Reader) ReadMask() cell.TypeMask {
	pad := int(r.ReadByte())
	r.pos += pad
	lo := r.ReadUint16()
	hi := r.ReadUint16()
	return cell.TypeMask(lo) | cell.TypeMask(hi)<<16
}
