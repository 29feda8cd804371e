package vm

import "github.com/chazu/brick/cell"

// ---------------------------------------------------------------------------
// Word binding resolver
// ---------------------------------------------------------------------------

// Resolve returns the storage of a word's value. Synthesized values
// (option flags, absent option arguments) are returned in the thread's
// scratch cell, which the next Resolve overwrites. Resolve does not
// allocate except to raise an error.
func (t *Thread) Resolve(w *cell.Cell) (*cell.Cell, error) {
	b := &w.Bind
	switch b.Kind {
	case cell.BindFuncArg:
		f := t.findFrame(b.Owner)
		if f == nil {
			return nil, t.outOfScope(w)
		}
		return &t.stack[f.Base+int(b.Index)], nil

	case cell.BindFuncOption:
		f := t.findFrame(b.Owner)
		if f == nil {
			return nil, t.outOfScope(w)
		}
		t.scratch = cell.Logic(t.stack[f.Base].OptionSet(int(b.Index)))
		return &t.scratch, nil

	case cell.BindFuncOptionArg:
		f := t.findFrame(b.Owner)
		if f == nil {
			return nil, t.outOfScope(w)
		}
		flags := &t.stack[f.Base]
		if !flags.OptionSet(int(b.Index)) {
			t.scratch = cell.None()
			return &t.scratch, nil
		}
		return &t.stack[f.Base+flags.OptionOffset(int(b.Index))+int(b.Sub)], nil

	case cell.BindModule:
		if v := t.env.module.At(b.Index); v != nil {
			return v, nil
		}
		return nil, t.internalError("module slot %d of %s does not exist", b.Index, t.env.Atoms.Name(w.Atom))
	}
	return nil, t.scriptError("%s is unbound", t.env.Atoms.Name(w.Atom))
}

// ResolveMut is Resolve for assignment. Option bindings are read-only, and
// module words may only be assigned by the module's owning thread.
func (t *Thread) ResolveMut(w *cell.Cell) (*cell.Cell, error) {
	switch w.Bind.Kind {
	case cell.BindFuncOption, cell.BindFuncOptionArg:
		return nil, t.scriptError("%s is an option and cannot be assigned", t.env.Atoms.Name(w.Atom))
	case cell.BindModule:
		if !t.OwnsModule() {
			return nil, t.scriptError("%s is read-only outside the owning thread", t.env.Atoms.Name(w.Atom))
		}
	}
	return t.Resolve(w)
}

func (t *Thread) outOfScope(w *cell.Cell) error {
	return t.scriptError("%s is not in scope", t.env.Atoms.Name(w.Atom))
}
