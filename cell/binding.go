package cell

import "fmt"

// BindKind selects the variant of a binding descriptor.
type BindKind uint8

const (
	BindUnbound       BindKind = iota // no binding
	BindFuncArg                       // argument or local slot of a function frame
	BindFuncOption                    // option flag of a function frame
	BindFuncOptionArg                 // extra argument of a function option
	BindModule                        // slot of the shared module table
)

var bindKindNames = [...]string{
	BindUnbound:       "unbound",
	BindFuncArg:       "func-arg",
	BindFuncOption:    "func-option",
	BindFuncOptionArg: "func-option-arg",
	BindModule:        "module",
}

// String returns the binding kind name.
func (k BindKind) String() string {
	if int(k) < len(bindKindNames) {
		return bindKindNames[k]
	}
	return fmt.Sprintf("bind(%d)", uint8(k))
}

// Binding maps a word to a storage location.
//
//	FuncArg:       Owner = body buffer, Index = slot
//	FuncOption:    Owner = body buffer, Index = option bit
//	FuncOptionArg: Owner = body buffer, Index = option bit, Sub = argument
//	Module:        Index = module slot
type Binding struct {
	Kind  BindKind
	Sub   uint16
	Index uint32
	Owner BufID
}

// FuncArg binds to a frame slot of the function whose body is owner.
func FuncArg(owner BufID, slot int) Binding {
	return Binding{Kind: BindFuncArg, Owner: owner, Index: uint32(slot)}
}

// FuncOption binds to an option flag of the function whose body is owner.
func FuncOption(owner BufID, bit int) Binding {
	return Binding{Kind: BindFuncOption, Owner: owner, Index: uint32(bit)}
}

// FuncOptionArg binds to extra argument sub of option bit.
func FuncOptionArg(owner BufID, bit, sub int) Binding {
	return Binding{Kind: BindFuncOptionArg, Owner: owner, Index: uint32(bit), Sub: uint16(sub)}
}

// ModuleSlot binds to the shared module table.
func ModuleSlot(index uint32) Binding {
	return Binding{Kind: BindModule, Index: index}
}

// String renders the descriptor for disassembly and debugging.
func (b Binding) String() string {
	switch b.Kind {
	case BindFuncArg:
		return fmt.Sprintf("func-arg{owner=%d slot=%d}", b.Owner, b.Index)
	case BindFuncOption:
		return fmt.Sprintf("func-option{owner=%d bit=%d}", b.Owner, b.Index)
	case BindFuncOptionArg:
		return fmt.Sprintf("func-option-arg{owner=%d bit=%d sub=%d}", b.Owner, b.Index, b.Sub)
	case BindModule:
		return fmt.Sprintf("module{%d}", b.Index)
	}
	return "unbound"
}
