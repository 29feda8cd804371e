package vm

import (
	"fmt"

	"github.com/chazu/brick/cell"
)

// ---------------------------------------------------------------------------
// Built-in natives
// ---------------------------------------------------------------------------

type builtin struct {
	name string
	spec string
	fn   NativeFunc
}

var builtins = []builtin{
	// Functions and control
	{"func", "spec block! body block!", nativeFunc},
	{"does", "body block!", nativeDoes},
	{"return", "val", nativeReturn},
	{"throw", "val /name name word!", nativeThrow},
	{"catch", "body block! /name names [word! block!]", nativeCatch},
	{"try", "body block!", nativeTry},
	{"do", ":code", nativeDo},
	{"if", "cond body block!", nativeIf},
	{"either", "cond a block! b block!", nativeEither},
	{"while", "cond block! body block!", nativeWhile},
	{"loop", "n int! body block!", nativeLoop},
	{"quote", "'val", nativeQuote},

	// Logic and arithmetic
	{"not", "val", nativeNot},
	{"add", "a number! b number!", nativeArith},
	{"sub", "a number! b number! 1", nativeArith},
	{"mul", "a number! b number! 2", nativeArith},
	{"lt", "a number! b number!", nativeCompare},
	{"gt", "a number! b number! 1", nativeCompare},
	{"eq", "a b", nativeEq},

	// Values
	{"print", "val", nativePrint},
	{"probe", "val", nativeProbe},
	{"type?", "val", nativeTypeOf},
	{"get", "word word!", nativeGet},
	{"set", "word word! val", nativeSet},
	{"error?", "val", nativeIsError},

	// Series
	{"append", "series series! val /only", nativeAppend},
	{"length?", "series series!", nativeLength},
	{"pick", "series series! index", nativePick},
	{"poke", "series series! index val", nativePoke},
	{"first", "series series! 1", nativeNth},
	{"second", "series series! 2", nativeNth},

	{"recycle", "", nativeRecycle},
}

// variant returns the fixed marker of a native whose spec ends in an int.
// Natives without one are variant 0.
func variant(c *Call, i int) int64 {
	if i+c.prog.ArgBase() < len(c.Args) {
		if v := c.Arg(i); v.T == cell.TypeInt {
			return v.N
		}
	}
	return 0
}

// ---------------------------------------------------------------------------
// Functions and control
// ---------------------------------------------------------------------------

func nativeFunc(c *Call) error {
	return makeFunc(c, c.Arg(0), c.Arg(1))
}

func nativeDoes(c *Call) error {
	return makeFunc(c, nil, c.Arg(0))
}

func makeFunc(c *Call, spec, body *cell.Cell) error {
	env := c.Env()
	copied := env.copyBlock(body)
	var specCells []cell.Cell
	if spec != nil {
		specCells = view(env.Store, spec)
	}
	prog, err := env.compiler.Compile(specCells, copied)
	if err != nil {
		return c.Thread.scriptError("%s", err)
	}
	*c.Result = cell.Func(env.Store.NewObject(prog), copied)
	return nil
}

// copyBlock copies the series v and every block nested in it, so that
// binding a function body never touches shared source. A block reached
// twice is copied once, which keeps cycles intact.
func (env *Env) copyBlock(v *cell.Cell) cell.BufID {
	copies := make(map[cell.BufID]cell.BufID)
	if v.Pos == 0 && v.End < 0 {
		return env.copyBuffer(v.Buf, copies)
	}
	cells := append([]cell.Cell(nil), view(env.Store, v)...)
	id := env.Store.NewBlock(cells)
	env.copyNested(cells, copies)
	return id
}

func (env *Env) copyBuffer(src cell.BufID, copies map[cell.BufID]cell.BufID) cell.BufID {
	if id, ok := copies[src]; ok {
		return id
	}
	cells := append([]cell.Cell(nil), env.Store.Cells(src)...)
	id := env.Store.NewBlock(cells)
	copies[src] = id
	env.copyNested(cells, copies)
	return id
}

// copyNested redirects nested blocks in cells to their copies. Positions
// are kept since whole buffers are copied.
func (env *Env) copyNested(cells []cell.Cell, copies map[cell.BufID]cell.BufID) {
	for i := range cells {
		if cells[i].T.IsBlock() {
			cells[i].Buf = env.copyBuffer(cells[i].Buf, copies)
		}
	}
}

func nativeReturn(c *Call) error {
	return c.Thread.Throw(*c.Arg(0), 0, ThrowReturn)
}

func nativeThrow(c *Call) error {
	var name cell.Atom
	if c.Option(0) {
		name = c.OptionArg(0, 0).Atom
	}
	return c.Thread.Throw(*c.Arg(0), name, ThrowValue)
}

func nativeCatch(c *Call) error {
	t := c.Thread
	err := t.DoBlock(c.Arg(0), c.Result)
	if err == nil {
		return nil
	}
	exc := t.Pending()
	if exc == nil || exc.Kind == ThrowReturn || exc.IsError() {
		return err
	}
	if c.Option(0) && !catchesName(c.Env(), c.OptionArg(0, 0), exc.Name) {
		return err
	}
	*c.Result = t.Catch().Value
	return nil
}

func catchesName(env *Env, names cell.Cell, name cell.Atom) bool {
	if names.T.IsWord() {
		return names.Atom == name
	}
	for _, w := range view(env.Store, &names) {
		if w.T.IsWord() && w.Atom == name {
			return true
		}
	}
	return false
}

func nativeTry(c *Call) error {
	t := c.Thread
	err := t.DoBlock(c.Arg(0), c.Result)
	if err == nil {
		return nil
	}
	if exc := t.Pending(); exc == nil || !exc.IsError() {
		return err
	}
	*c.Result = t.Catch().Value
	return nil
}

// nativeDo evaluates the next input value: blocks are evaluated, strings
// are loaded and evaluated, and functions are called with the rest of the
// input.
func nativeDo(c *Call) error {
	t := c.Thread
	if c.In == nil {
		return t.scriptError("do needs input")
	}
	next := c.In.Peek()
	if next != nil && next.T.IsCallable() {
		fn := *next
		c.In.Pos++
		return t.call(&fn, c.In, nil, c.Result)
	}

	var v cell.Cell
	if err := t.Next(c.In, &v); err != nil {
		return err
	}
	switch v.T {
	case cell.TypeBlock, cell.TypeParen:
		return t.DoBlock(&v, c.Result)
	case cell.TypeCFunc, cell.TypeFunc:
		return t.call(&v, c.In, nil, c.Result)
	case cell.TypeString:
		blk, err := c.Env().Load(c.Env().Store.Text(v.Buf))
		if err != nil {
			return t.scriptError("%s", err)
		}
		h := c.Env().Store.Hold(blk.Buf)
		defer c.Env().Store.Release(h)
		return t.DoBlock(&blk, c.Result)
	}
	*c.Result = v
	return nil
}

func nativeIf(c *Call) error {
	if c.Arg(0).Truthy() {
		return c.Thread.DoBlock(c.Arg(1), c.Result)
	}
	*c.Result = cell.None()
	return nil
}

func nativeEither(c *Call) error {
	if c.Arg(0).Truthy() {
		return c.Thread.DoBlock(c.Arg(1), c.Result)
	}
	return c.Thread.DoBlock(c.Arg(2), c.Result)
}

func nativeWhile(c *Call) error {
	t := c.Thread
	var cond cell.Cell
	for {
		if err := t.DoBlock(c.Arg(0), &cond); err != nil {
			return err
		}
		if !cond.Truthy() {
			return nil
		}
		if err := t.DoBlock(c.Arg(1), c.Result); err != nil {
			return err
		}
	}
}

func nativeLoop(c *Call) error {
	for i := int64(0); i < c.Arg(0).N; i++ {
		if err := c.Thread.DoBlock(c.Arg(1), c.Result); err != nil {
			return err
		}
	}
	return nil
}

func nativeQuote(c *Call) error {
	*c.Result = *c.Arg(0)
	return nil
}

// ---------------------------------------------------------------------------
// Logic and arithmetic
// ---------------------------------------------------------------------------

func nativeNot(c *Call) error {
	*c.Result = cell.Logic(!c.Arg(0).Truthy())
	return nil
}

func number(v *cell.Cell) float64 {
	if v.T == cell.TypeDouble {
		return v.Float()
	}
	return float64(v.N)
}

// nativeArith implements add (variant 0), sub (1) and mul (2). Two ints
// give an int, anything else a double.
func nativeArith(c *Call) error {
	a, b := c.Arg(0), c.Arg(1)
	op := variant(c, 2)
	if a.T == cell.TypeInt && b.T == cell.TypeInt {
		switch op {
		case 0:
			*c.Result = cell.Int(a.N + b.N)
		case 1:
			*c.Result = cell.Int(a.N - b.N)
		default:
			*c.Result = cell.Int(a.N * b.N)
		}
		return nil
	}
	x, y := number(a), number(b)
	switch op {
	case 0:
		*c.Result = cell.Double(x + y)
	case 1:
		*c.Result = cell.Double(x - y)
	default:
		*c.Result = cell.Double(x * y)
	}
	return nil
}

// nativeCompare implements lt (variant 0) and gt (1).
func nativeCompare(c *Call) error {
	x, y := number(c.Arg(0)), number(c.Arg(1))
	if variant(c, 2) == 0 {
		*c.Result = cell.Logic(x < y)
	} else {
		*c.Result = cell.Logic(x > y)
	}
	return nil
}

func nativeEq(c *Call) error {
	*c.Result = cell.Logic(c.Env().Equal(c.Arg(0), c.Arg(1)))
	return nil
}

// ---------------------------------------------------------------------------
// Values
// ---------------------------------------------------------------------------

func nativePrint(c *Call) error {
	fmt.Fprintln(c.Env().out, c.Env().Form(*c.Arg(0)))
	return nil
}

func nativeProbe(c *Call) error {
	fmt.Fprintln(c.Env().out, c.Env().Mold(*c.Arg(0)))
	*c.Result = *c.Arg(0)
	return nil
}

func nativeTypeOf(c *Call) error {
	*c.Result = cell.Datatype(cell.MaskOf(c.Arg(0).T))
	return nil
}

func nativeGet(c *Call) error {
	p, err := c.Thread.Resolve(c.Arg(0))
	if err != nil {
		return err
	}
	*c.Result = *p
	return nil
}

func nativeSet(c *Call) error {
	p, err := c.Thread.ResolveMut(c.Arg(0))
	if err != nil {
		return err
	}
	*p = *c.Arg(1)
	*c.Result = *c.Arg(1)
	return nil
}

func nativeIsError(c *Call) error {
	*c.Result = cell.Logic(c.Arg(0).T == cell.TypeError)
	return nil
}

// ---------------------------------------------------------------------------
// Series
// ---------------------------------------------------------------------------

func nativeAppend(c *Call) error {
	env := c.Env()
	ser, val := c.Arg(0), c.Arg(1)
	if ser.T == cell.TypeString {
		b := env.Store.Buffer(ser.Buf)
		if b == nil {
			return c.Thread.internalError("string buffer %d is not live", ser.Buf)
		}
		b.Text += env.Form(*val)
		*c.Result = *ser
		return nil
	}

	if val.T.IsBlock() && !c.Option(0) {
		for _, v := range view(env.Store, val) {
			env.Store.Append(ser.Buf, v)
		}
	} else if !env.Store.Append(ser.Buf, *val) {
		return c.Thread.internalError("block buffer %d is not live", ser.Buf)
	}
	*c.Result = *ser
	return nil
}

func nativeLength(c *Call) error {
	s := c.Arg(0)
	if s.T == cell.TypeString {
		*c.Result = cell.Int(int64(len(text(c.Env().Store, s))))
	} else {
		*c.Result = cell.Int(int64(len(view(c.Env().Store, s))))
	}
	return nil
}

func nativePick(c *Call) error {
	s := c.Arg(0)
	return c.Env().Datatype(s.T).Pick(c.Thread, s, c.Arg(1), c.Result)
}

func nativePoke(c *Call) error {
	s := c.Arg(0)
	if err := c.Env().Datatype(s.T).Poke(c.Thread, s, c.Arg(1), c.Arg(2)); err != nil {
		return err
	}
	*c.Result = *c.Arg(2)
	return nil
}

// nativeNth serves first and second; the variant is the index.
func nativeNth(c *Call) error {
	s := c.Arg(0)
	return c.Env().Datatype(s.T).Pick(c.Thread, s, c.Arg(1), c.Result)
}

func nativeRecycle(c *Call) error {
	*c.Result = cell.Int(int64(c.Env().Collect()))
	return nil
}
