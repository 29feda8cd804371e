package cell

import (
	"math/bits"
	"strings"
)

// ---------------------------------------------------------------------------
// Datatypes
// ---------------------------------------------------------------------------

// Type identifies the kind of a cell.
type Type uint8

// Scalars
const (
	TypeUnset    Type = iota // no value
	TypeDatatype             // datatype or typeset (mask in payload)
	TypeNone                 // none
	TypeLogic                // true/false
	TypeChar                 // unicode code point
	TypeInt                  // 64-bit signed integer
	TypeDouble               // float64 (bits in payload)
)

// Words
const (
	TypeWord    Type = iota + TypeDouble + 1 // word
	TypeLitWord                              // 'word
	TypeSetWord                              // word:
	TypeGetWord                              // :word
	TypeOption                               // /word
)

// Series
const (
	TypeString  Type = iota + TypeOption + 1 // "text"
	TypeBlock                                // [...]
	TypeParen                                // (...)
	TypePath                                 // a/b
	TypeLitPath                              // 'a/b
	TypeSetPath                              // a/b:
)

// Callables and internal kinds
const (
	TypeCFunc    Type = iota + TypeSetPath + 1 // native function
	TypeFunc                                   // user function
	TypeError                                  // error value
	TypeOptFlags                               // option bits + offsets of a call

	TypeCount // number of types
)

// Argument programs encode type masks as two 16-bit immediates.
const _ uint = 32 - uint(TypeCount)

var typeNames = [TypeCount]string{
	TypeUnset:    "unset!",
	TypeDatatype: "datatype!",
	TypeNone:     "none!",
	TypeLogic:    "logic!",
	TypeChar:     "char!",
	TypeInt:      "int!",
	TypeDouble:   "double!",
	TypeWord:     "word!",
	TypeLitWord:  "lit-word!",
	TypeSetWord:  "set-word!",
	TypeGetWord:  "get-word!",
	TypeOption:   "option!",
	TypeString:   "string!",
	TypeBlock:    "block!",
	TypeParen:    "paren!",
	TypePath:     "path!",
	TypeLitPath:  "lit-path!",
	TypeSetPath:  "set-path!",
	TypeCFunc:    "cfunc!",
	TypeFunc:     "func!",
	TypeError:    "error!",
	TypeOptFlags: "opt-flags!",
}

// String returns the datatype name, e.g. "int!".
func (t Type) String() string {
	if t < TypeCount {
		return typeNames[t]
	}
	return "invalid!"
}

// IsWord reports whether t is one of the word kinds that carry a binding.
func (t Type) IsWord() bool {
	return t >= TypeWord && t <= TypeGetWord
}

// IsSeries reports whether t addresses a buffer with a position.
func (t Type) IsSeries() bool {
	return t >= TypeString && t <= TypeSetPath
}

// IsBlock reports whether t is a block of cells (block, paren or path kinds).
func (t Type) IsBlock() bool {
	return t >= TypeBlock && t <= TypeSetPath
}

// IsCallable reports whether cells of type t are invoked when evaluated.
func (t Type) IsCallable() bool {
	return t == TypeCFunc || t == TypeFunc
}

// ---------------------------------------------------------------------------
// TypeMask
// ---------------------------------------------------------------------------

// TypeMask is a set of datatypes.
type TypeMask uint64

// Common typesets.
const (
	MaskNumber   = TypeMask(1<<TypeInt | 1<<TypeDouble)
	MaskAnyWord  = TypeMask(1<<TypeWord | 1<<TypeLitWord | 1<<TypeSetWord | 1<<TypeGetWord | 1<<TypeOption)
	MaskAnyBlock = TypeMask(1<<TypeBlock | 1<<TypeParen | 1<<TypePath | 1<<TypeLitPath | 1<<TypeSetPath)
	MaskSeries   = MaskAnyBlock | TypeMask(1<<TypeString)
	MaskCallable = TypeMask(1<<TypeCFunc | 1<<TypeFunc)
)

// MaskOf returns the mask containing the given types.
func MaskOf(types ...Type) TypeMask {
	var m TypeMask
	for _, t := range types {
		m |= 1 << t
	}
	return m
}

// Has reports whether t is in the mask.
func (m TypeMask) Has(t Type) bool {
	return m&(1<<t) != 0
}

// Single returns the only type of a one-element mask.
func (m TypeMask) Single() (Type, bool) {
	if m == 0 || m&(m-1) != 0 {
		return 0, false
	}
	return Type(bits.TrailingZeros64(uint64(m))), true
}

// Types lists the members of the mask in type order.
func (m TypeMask) Types() []Type {
	var out []Type
	for t := Type(0); t < TypeCount; t++ {
		if m.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

// String renders the mask as space separated datatype names.
func (m TypeMask) String() string {
	names := make([]string, 0, bits.OnesCount64(uint64(m)))
	for _, t := range m.Types() {
		names = append(names, t.String())
	}
	return strings.Join(names, " ")
}
