// Package pattern implements a small bytecode matcher for sequences of cells.
//
// A pattern program is a []uint16 holding one or more rules. Each rule is a
// run of instructions ending in End. Matching a rule against a cell slice
// either succeeds, yielding the position just past the matched cells, or
// fails with no effect other than Report callbacks already fired.
//
// Alternation is single level: Next(alt) registers alt as the place to
// resume, from the rule's starting position, if anything later in the
// current alternative fails. There is no deeper backtracking.
package pattern

import "fmt"

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode is one pattern instruction. Operands follow as 16-bit words.
type Opcode uint16

// Control
const (
	OpEnd       Opcode = iota // rule matched
	OpFlag                    // or operand into Matcher.Flags
	OpReport                  // fire Report(id, start, pos)
	OpReportEnd               // fire Report(id, start, pos) and end the rule
	OpNext                    // on failure resume at operand from the rule start
	OpSkip                    // consume any one cell
	OpRule                    // match a nested rule at operand
)

// Single cell tests
const (
	OpLitWord Opcode = iota + OpRule + 1 // word! cell with the given atom
	OpType                               // cell of type operand
	OpTypeset                            // cell whose type is in the mask
)

// Repetition: R takes a rule, T a type, Ts a typeset
const (
	OpOptR Opcode = iota + OpTypeset + 1
	OpOptT
	OpOptTs
	OpAnyR
	OpAnyT
	OpAnyTs
	OpSomeR
	OpSomeT
	OpSomeTs
)

// Scanning
const (
	OpToT       Opcode = iota + OpSomeTs + 1 // advance to the next cell of type
	OpToTs                                   // advance to the next cell in typeset
	OpToLitWord                              // advance to the next word! with atom
	OpThruT                                  // advance past the next cell of type
	OpThruTs                                 // advance past the next cell in typeset
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OperandKind describes how an opcode's operand words are interpreted.
type OperandKind uint8

const (
	OperandNone   OperandKind = iota
	OperandInt                // one word: flag bits or report id
	OperandTarget             // one word: absolute code offset
	OperandType               // one word: cell type
	OperandAtom               // two words: atom, low word first
	OperandMask               // four words: type mask, low word first
)

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name    string
	Operand OperandKind
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpEnd:       {"END", OperandNone},
	OpFlag:      {"FLAG", OperandInt},
	OpReport:    {"REPORT", OperandInt},
	OpReportEnd: {"REPORT_END", OperandInt},
	OpNext:      {"NEXT", OperandTarget},
	OpSkip:      {"SKIP", OperandNone},
	OpRule:      {"RULE", OperandTarget},

	OpLitWord: {"LIT_WORD", OperandAtom},
	OpType:    {"TYPE", OperandType},
	OpTypeset: {"TYPESET", OperandMask},

	OpOptR:   {"OPT_R", OperandTarget},
	OpOptT:   {"OPT_T", OperandType},
	OpOptTs:  {"OPT_TS", OperandMask},
	OpAnyR:   {"ANY_R", OperandTarget},
	OpAnyT:   {"ANY_T", OperandType},
	OpAnyTs:  {"ANY_TS", OperandMask},
	OpSomeR:  {"SOME_R", OperandTarget},
	OpSomeT:  {"SOME_T", OperandType},
	OpSomeTs: {"SOME_TS", OperandMask},

	OpToT:       {"TO_T", OperandType},
	OpToTs:      {"TO_TS", OperandMask},
	OpToLitWord: {"TO_LIT_WORD", OperandAtom},
	OpThruT:     {"THRU_T", OperandType},
	OpThruTs:    {"THRU_TS", OperandMask},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", uint16(op))}
}

// Words returns the number of operand words that follow op.
func (k OperandKind) Words() int {
	switch k {
	case OperandInt, OperandTarget, OperandType:
		return 1
	case OperandAtom:
		return 2
	case OperandMask:
		return 4
	}
	return 0
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Info().Name
}
