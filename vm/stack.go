package vm

import "github.com/chazu/brick/cell"

// ---------------------------------------------------------------------------
// Frame: Activation record of a user function
// ---------------------------------------------------------------------------

// Frame records a live user-function call. Owner is the function's body
// block, which is also the owner of every word bound to the frame.
type Frame struct {
	Owner cell.BufID
	Base  int // stack index of slot 0
}

// ---------------------------------------------------------------------------
// Value stack and frame table
// ---------------------------------------------------------------------------

// The stack and frame table are allocated at their configured capacity
// when the thread is created and never reallocated, so pointers into the
// stack stay valid for the thread's lifetime.

// StackDepth returns the number of cells on the value stack.
func (t *Thread) StackDepth() int {
	return len(t.stack)
}

// FrameDepth returns the number of live frames.
func (t *Thread) FrameDepth() int {
	return len(t.frames)
}

// PushArgs reserves n slots, initialized to none, and returns the index of
// the first. On overflow the stack is left unchanged.
func (t *Thread) PushArgs(n int) (int, error) {
	base := len(t.stack)
	if base+n > cap(t.stack) {
		return 0, t.scriptError("stack overflow: %d cells in use, %d requested, limit %d",
			base, n, cap(t.stack))
	}
	t.stack = t.stack[:base+n]
	for i := base; i < base+n; i++ {
		t.stack[i] = cell.None()
	}
	return base, nil
}

// PopArgs releases the top n slots.
func (t *Thread) PopArgs(n int) {
	t.stack = t.stack[:len(t.stack)-n]
}

// PushFrame records a call of the function owning body at base.
func (t *Thread) PushFrame(owner cell.BufID, base int) error {
	if len(t.frames) == cap(t.frames) {
		return t.scriptError("frame overflow: limit %d", cap(t.frames))
	}
	t.frames = append(t.frames, Frame{Owner: owner, Base: base})
	return nil
}

// PopFrame removes the most recent frame.
func (t *Thread) PopFrame() {
	t.frames = t.frames[:len(t.frames)-1]
}

// findFrame returns the most recent frame of owner.
func (t *Thread) findFrame(owner cell.BufID) *Frame {
	for i := len(t.frames) - 1; i >= 0; i-- {
		if t.frames[i].Owner == owner {
			return &t.frames[i]
		}
	}
	return nil
}
