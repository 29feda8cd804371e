package vm

import (
	"github.com/chazu/brick/cell"
	"github.com/chazu/brick/compiler"
)

// ---------------------------------------------------------------------------
// Call: Native invocation contract
// ---------------------------------------------------------------------------

// Call is passed to a native function. Args are the frame slots filled by
// the argument program; the native stores its value in Result. For
// natives with a get-word parameter, In is the remaining input, which the
// native consumes by advancing it.
type Call struct {
	Thread *Thread
	Args   []cell.Cell
	Result *cell.Cell
	In     *Cursor

	prog *compiler.Program
}

// Env returns the environment of the calling thread.
func (c *Call) Env() *Env {
	return c.Thread.env
}

// Arg returns required argument i (0-based).
func (c *Call) Arg(i int) *cell.Cell {
	return &c.Args[c.prog.ArgBase()+i]
}

// Option reports whether option bit was given.
func (c *Call) Option(bit int) bool {
	return c.prog.OptionCount() > 0 && c.Args[0].OptionSet(bit)
}

// OptionArg returns argument sub of option bit, or none if the option was
// not given.
func (c *Call) OptionArg(bit, sub int) cell.Cell {
	if !c.Option(bit) {
		return cell.None()
	}
	return c.Args[c.Args[0].OptionOffset(bit)+sub]
}

// ---------------------------------------------------------------------------
// Function-call protocol
// ---------------------------------------------------------------------------

// call runs fn's argument program against it, invokes fn and stores its
// value in res. opts are the option segments of a call path. The
// argument slots are released on every path.
func (t *Thread) call(fn *cell.Cell, it *Cursor, opts []cell.Cell, res *cell.Cell) error {
	prog := t.env.Program(fn)
	if prog == nil {
		return t.internalError("%s has no argument program", fn.T)
	}

	r := compiler.NewReader(prog.Code, prog.RequiredOffset())
	n := 0
	if r.ReadOpcode() == compiler.OpClearLocal {
		n = int(r.ReadUint16())
	} else {
		r.Seek(prog.RequiredOffset())
	}
	if prog.OptionCount() > 0 && n == 0 {
		return t.internalError("argument program has options and no slots")
	}
	base, err := t.PushArgs(n)
	if err != nil {
		return err
	}
	args := t.stack[base : base+n : base+n]
	if prog.OptionCount() > 0 {
		args[0] = cell.OptFlags()
	}

	err = t.fetchArgs(prog, r, args, prog.ArgBase(), it, opts)
	if err == nil {
		err = t.invoke(fn, prog, base, args, it, res)
	}
	t.PopArgs(n)
	return err
}

// fetchArgs executes the argument program from r's position, filling
// slots from slot upwards.
func (t *Thread) fetchArgs(prog *compiler.Program, r *compiler.Reader, args []cell.Cell, slot int, it *Cursor, opts []cell.Cell) error {
	argBase := prog.ArgBase()
	for {
		op := r.ReadOpcode()
		if err := t.checkSlot(op, slot, argBase, len(args), r); err != nil {
			return err
		}
		switch op {
		case compiler.OpEnd:
			if len(opts) > 0 {
				return t.unknownOption(&opts[0])
			}
			return nil

		case compiler.OpFetchArg:
			if it == nil || it.Done() {
				return t.scriptError("missing argument %d", slot-argBase+1)
			}
			if err := t.evalNext(it, &args[slot]); err != nil {
				return err
			}
			slot++

		case compiler.OpLitArg:
			if it == nil || it.Done() {
				return t.scriptError("missing argument %d", slot-argBase+1)
			}
			args[slot] = it.Cells[it.Pos]
			it.Pos++
			slot++

		case compiler.OpEval:
			slot++

		case compiler.OpVariant:
			args[slot] = cell.Int(int64(r.ReadUint16()))
			slot++

		case compiler.OpCheckType:
			want := cell.Type(r.ReadByte())
			if v := &args[slot-1]; v.T != want {
				return t.typeError(slot-argBase, v.T, cell.MaskOf(want))
			}

		case compiler.OpCheckTypeMask:
			want := r.ReadMask()
			if v := &args[slot-1]; !want.Has(v.T) {
				return t.typeError(slot-argBase, v.T, want)
			}

		case compiler.OpOptions:
			next := int(r.ReadByte())
			for i := range opts {
				var err error
				if next, err = t.fetchOption(prog, args, next, &opts[i], it); err != nil {
					return err
				}
			}
			opts = nil

		default:
			return t.internalError("invalid argument opcode 0x%02x at %d", byte(op), r.Position()-1)
		}
	}
}

// checkSlot raises an Internal error when op would touch a slot outside
// args. Programs from the cache are validated, so this only trips on a
// damaged program.
func (t *Thread) checkSlot(op compiler.Opcode, slot, argBase, n int, r *compiler.Reader) error {
	switch op {
	case compiler.OpFetchArg, compiler.OpLitArg, compiler.OpEval, compiler.OpVariant:
		if slot >= n {
			return t.internalError("%s writes slot %d of %d at %d", op, slot, n, r.Position()-1)
		}
	case compiler.OpCheckType, compiler.OpCheckTypeMask:
		if slot <= argBase || slot > n {
			return t.internalError("%s checks slot %d of %d at %d", op, slot-1, n, r.Position()-1)
		}
	}
	return nil
}

// fetchOption records option seg in the option-flags cell and fetches its
// arguments into the slots starting at next. It returns the next free
// option-argument slot.
func (t *Thread) fetchOption(prog *compiler.Program, args []cell.Cell, next int, seg *cell.Cell, it *Cursor) (int, error) {
	if !seg.T.IsWord() {
		return 0, t.scriptError("invalid option %s", t.env.Mold(*seg))
	}
	e, ok := prog.FindOption(seg.Atom)
	if !ok {
		return 0, t.unknownOption(seg)
	}
	flags := &args[0]
	if flags.OptionSet(e.Bit) {
		return 0, t.scriptError("option /%s given twice", t.env.Atoms.Name(seg.Atom))
	}
	flags.SetOption(e.Bit, uint8(next))
	if e.Offset == 0 {
		return next, nil
	}

	r := compiler.NewReader(prog.Code, e.Offset)
	if err := t.fetchArgs(prog, r, args, next, it, nil); err != nil {
		return 0, err
	}
	return next + e.Argc, nil
}

func (t *Thread) unknownOption(seg *cell.Cell) error {
	if seg.T.IsWord() {
		return t.scriptError("unknown option /%s", t.env.Atoms.Name(seg.Atom))
	}
	return t.scriptError("invalid option %s", t.env.Mold(*seg))
}

// invoke runs a native, or evaluates a user function's body in a new frame.
func (t *Thread) invoke(fn *cell.Cell, prog *compiler.Program, base int, args []cell.Cell, it *Cursor, res *cell.Cell) error {
	if fn.T == cell.TypeCFunc {
		id := fn.NativeID()
		if id < 0 || id >= len(t.env.natives) {
			return t.internalError("native %d is not defined", id)
		}
		c := Call{Thread: t, Args: args, Result: res, prog: prog}
		if prog.EvalControl() {
			c.In = it
		}
		*res = cell.Unset()
		return t.env.natives[id].fn(&c)
	}

	body := fn.Body()
	if err := t.PushFrame(body, base); err != nil {
		return err
	}
	sub := t.cursor(&cell.Cell{T: cell.TypeBlock, Buf: body, End: -1})
	err := t.evalBlock(&sub, res, !prog.Ghost())
	t.PopFrame()

	if err != nil && t.exc != nil && t.exc.Kind == ThrowReturn {
		*res = t.Catch().Value
		return nil
	}
	return err
}
