// Package progcache persists compiled argument programs across runs.
//
// Programs embed atom ids, which are only meaningful for the atom table
// that produced them. The wire form replaces each option atom with an
// index into a name list so a program can be reloaded into any table.
package progcache

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/brick/cell"
	"github.com/chazu/brick/compiler"
)

// wireVersion changes whenever the program layout changes.
const wireVersion = 1

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("progcache: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// WireProgram is the relocatable form of a compiled program.
type WireProgram struct {
	Version int      `cbor:"1,keyasint"`
	Code    []byte   `cbor:"2,keyasint"`
	Options []string `cbor:"3,keyasint,omitempty"` // option names, in table order
}

// Marshal encodes p, resolving option atoms through atoms.
func Marshal(p *compiler.Program, atoms *cell.AtomTable) ([]byte, error) {
	w := WireProgram{Version: wireVersion}
	var idx cell.Atom
	w.Code = p.Relocate(func(a cell.Atom) cell.Atom {
		w.Options = append(w.Options, atoms.Name(a))
		idx++
		return idx - 1
	}).Code
	return cborEncMode.Marshal(&w)
}

// Unmarshal decodes a program, interning its option names in atoms.
func Unmarshal(data []byte, atoms *cell.AtomTable) (*compiler.Program, error) {
	var w WireProgram
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("progcache: unmarshal program: %w", err)
	}
	if w.Version != wireVersion {
		return nil, fmt.Errorf("progcache: program version %d, want %d", w.Version, wireVersion)
	}

	p := &compiler.Program{Code: w.Code}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("progcache: %w", err)
	}
	if n := p.OptionCount(); n != len(w.Options) {
		return nil, fmt.Errorf("progcache: %d option names for %d options", len(w.Options), n)
	}
	for i := range w.Options {
		if int(p.Option(i).Atom) >= len(w.Options) {
			return nil, fmt.Errorf("progcache: option %d refers to name %d", i, p.Option(i).Atom)
		}
	}
	return p.Relocate(func(a cell.Atom) cell.Atom {
		return atoms.Intern(w.Options[a])
	}), nil
}
