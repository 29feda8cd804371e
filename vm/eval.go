package vm

import (
	"github.com/chazu/brick/cell"
)

// ---------------------------------------------------------------------------
// Cursor: Explicit evaluation input
// ---------------------------------------------------------------------------

// Cursor is the remaining input of an evaluation: the cells of block Blk
// from Pos up to End. Every evaluation call consumes cells by advancing
// Pos.
type Cursor struct {
	Blk   cell.BufID
	Cells []cell.Cell
	Pos   int
	End   int
}

// Done reports whether the input is exhausted.
func (c *Cursor) Done() bool {
	return c.Pos >= c.End
}

// Peek returns the next input cell, or nil.
func (c *Cursor) Peek() *cell.Cell {
	if c.Pos >= c.End {
		return nil
	}
	return &c.Cells[c.Pos]
}

func (t *Thread) cursor(v *cell.Cell) Cursor {
	cells := t.env.Store.Cells(v.Buf)
	end := len(cells)
	if v.End >= 0 && int(v.End) < end {
		end = int(v.End)
	}
	pos := int(v.Pos)
	if pos > end {
		pos = end
	}
	return Cursor{Blk: v.Buf, Cells: cells, Pos: pos, End: end}
}

// ---------------------------------------------------------------------------
// Host API
// ---------------------------------------------------------------------------

// Eval evaluates a block and returns the value of its last expression. On
// failure the returned error is the thread's pending *Exception, which Eval
// leaves in place for inspection. A return thrown outside any function
// yields the returned value.
func (t *Thread) Eval(blk cell.Cell) (cell.Cell, error) {
	t.exc = nil
	if !blk.T.IsBlock() {
		return cell.Cell{}, t.scriptError("cannot evaluate %s", blk.T)
	}
	h := t.env.Store.Hold(blk.Buf)
	defer t.env.Store.Release(h)

	var res cell.Cell
	it := t.cursor(&blk)
	if err := t.evalBlock(&it, &res, true); err != nil {
		if t.exc != nil && t.exc.Kind == ThrowReturn {
			return t.Catch().Value, nil
		}
		return cell.Cell{}, err
	}
	return res, nil
}

// DoBlock evaluates the block value blk into res.
func (t *Thread) DoBlock(blk *cell.Cell, res *cell.Cell) error {
	it := t.cursor(blk)
	return t.evalBlock(&it, res, true)
}

// Next evaluates one expression from it into res.
func (t *Thread) Next(it *Cursor, res *cell.Cell) error {
	if it.Done() {
		return t.scriptError("unexpected end of input")
	}
	return t.evalNext(it, res)
}

// ---------------------------------------------------------------------------
// Evaluation
// ---------------------------------------------------------------------------

// evalBlock evaluates every expression of it, leaving the last value in
// res (unset for an empty block). Failures gain a trace entry unless
// trace is false or the exception is a return.
func (t *Thread) evalBlock(it *Cursor, res *cell.Cell, trace bool) error {
	*res = cell.Unset()
	for it.Pos < it.End {
		at := it.Pos
		if err := t.evalNext(it, res); err != nil {
			if trace && t.exc != nil && t.exc.Kind != ThrowReturn {
				t.exc.Trace = append(t.exc.Trace, TracePos{Blk: it.Blk, Pos: at})
			}
			return err
		}
	}
	return nil
}

// evalNext evaluates the expression starting at it.Pos.
func (t *Thread) evalNext(it *Cursor, res *cell.Cell) error {
	if t.depth >= t.env.limits.Depth {
		return t.scriptError("evaluation too deep: limit %d", t.env.limits.Depth)
	}
	t.depth++
	err := t.evalCell(it, res)
	t.depth--
	return err
}

func (t *Thread) evalCell(it *Cursor, res *cell.Cell) error {
	v := &it.Cells[it.Pos]
	it.Pos++

	switch v.T {
	case cell.TypeWord:
		p, err := t.Resolve(v)
		if err != nil {
			return err
		}
		switch {
		case p.T.IsCallable():
			fn := *p
			return t.call(&fn, it, nil, res)
		case p.T == cell.TypeUnset:
			return t.scriptError("%s has no value", t.env.Atoms.Name(v.Atom))
		}
		*res = *p

	case cell.TypeLitWord:
		*res = *v
		res.T = cell.TypeWord

	case cell.TypeSetWord, cell.TypeSetPath:
		return t.evalSet(it, res)

	case cell.TypeGetWord:
		p, err := t.Resolve(v)
		if err != nil {
			return err
		}
		*res = *p

	case cell.TypeParen:
		sub := t.cursor(v)
		return t.evalBlock(&sub, res, true)

	case cell.TypePath:
		return t.evalPath(v, it, res)

	case cell.TypeLitPath:
		*res = *v
		res.T = cell.TypePath

	case cell.TypeCFunc, cell.TypeFunc:
		fn := *v
		return t.call(&fn, it, nil, res)

	default:
		*res = *v
	}
	return nil
}

// evalSet handles a chain of set-words and set-paths. The value expression
// is evaluated once and assigned to every target left to right.
func (t *Thread) evalSet(it *Cursor, res *cell.Cell) error {
	first := it.Pos - 1
	for it.Pos < it.End {
		if ty := it.Cells[it.Pos].T; ty != cell.TypeSetWord && ty != cell.TypeSetPath {
			break
		}
		it.Pos++
	}
	last := it.Pos
	if it.Done() {
		return t.scriptError("%s is missing a value", t.env.Mold(it.Cells[first]))
	}
	if err := t.evalNext(it, res); err != nil {
		return err
	}
	if res.T == cell.TypeUnset {
		return t.scriptError("%s cannot be assigned unset", t.env.Mold(it.Cells[first]))
	}

	for i := first; i < last; i++ {
		target := &it.Cells[i]
		if target.T == cell.TypeSetPath {
			if err := t.setPath(target, res); err != nil {
				return err
			}
			continue
		}
		p, err := t.ResolveMut(target)
		if err != nil {
			return err
		}
		*p = *res
	}
	return nil
}

// ---------------------------------------------------------------------------
// Paths
// ---------------------------------------------------------------------------

// evalPath calls a callable head with the remaining segments as options,
// or selects through the segments with the datatype vtable.
func (t *Thread) evalPath(path *cell.Cell, it *Cursor, res *cell.Cell) error {
	segs := view(t.env.Store, path)
	if len(segs) == 0 {
		*res = cell.None()
		return nil
	}
	head, err := t.pathHead(&segs[0])
	if err != nil {
		return err
	}
	if head.T.IsCallable() {
		fn := head
		return t.call(&fn, it, segs[1:], res)
	}

	val := head
	for i := 1; i < len(segs); i++ {
		var sel cell.Cell
		if err := t.selector(&segs[i], &sel); err != nil {
			return err
		}
		var next cell.Cell
		if err := t.env.Datatype(val.T).Pick(t, &val, &sel, &next); err != nil {
			return err
		}
		val = next
	}
	*res = val
	return nil
}

// setPath assigns val through a set-path: every segment but the last
// selects, the last is poked.
func (t *Thread) setPath(path *cell.Cell, val *cell.Cell) error {
	segs := view(t.env.Store, path)
	if len(segs) < 2 {
		return t.scriptError("set-path %s needs a selector", t.env.Mold(*path))
	}
	cur, err := t.pathHead(&segs[0])
	if err != nil {
		return err
	}
	for i := 1; i < len(segs); i++ {
		var sel cell.Cell
		if err := t.selector(&segs[i], &sel); err != nil {
			return err
		}
		dt := t.env.Datatype(cur.T)
		if i == len(segs)-1 {
			return dt.Poke(t, &cur, &sel, val)
		}
		var next cell.Cell
		if err := dt.Pick(t, &cur, &sel, &next); err != nil {
			return err
		}
		cur = next
	}
	return nil
}

func (t *Thread) pathHead(seg *cell.Cell) (cell.Cell, error) {
	if !seg.T.IsWord() {
		return cell.Cell{}, t.scriptError("path must start with a word, not %s", seg.T)
	}
	p, err := t.Resolve(seg)
	if err != nil {
		return cell.Cell{}, err
	}
	if p.T == cell.TypeUnset {
		return cell.Cell{}, t.scriptError("%s has no value", t.env.Atoms.Name(seg.Atom))
	}
	return *p, nil
}

// selector computes the selector of a path segment. Get-words are
// resolved, everything else is used literally.
func (t *Thread) selector(seg *cell.Cell, sel *cell.Cell) error {
	switch seg.T {
	case cell.TypeGetWord:
		p, err := t.Resolve(seg)
		if err != nil {
			return err
		}
		*sel = *p
	default:
		*sel = *seg
	}
	return nil
}
