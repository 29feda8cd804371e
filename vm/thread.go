package vm

import (
	"github.com/google/uuid"

	"github.com/chazu/brick/cell"
)

// ---------------------------------------------------------------------------
// Thread: Private evaluation state
// ---------------------------------------------------------------------------

// Thread evaluates blocks. Its value stack, frame table and pending
// exception are private; a Thread must only be used by one goroutine at a
// time. Threads of the same Env share the module table and compiled
// argument programs.
type Thread struct {
	ID uuid.UUID

	env    *Env
	stack  []cell.Cell
	frames []Frame
	exc    *Exception
	depth  int

	// scratch receives synthesized values from Resolve.
	scratch cell.Cell
}

// NewThread creates a thread. The first thread created owns the module
// table and is the only one allowed to assign module words.
func (env *Env) NewThread() *Thread {
	t := &Thread{
		ID:     uuid.New(),
		env:    env,
		stack:  make([]cell.Cell, 0, env.limits.StackCells),
		frames: make([]Frame, 0, env.limits.Frames),
	}
	env.module.owner.CompareAndSwap(nil, t)

	env.mu.Lock()
	env.threads[t] = struct{}{}
	env.mu.Unlock()

	log.Debugf("thread %s created", t.ID)
	return t
}

// Close detaches the thread from its environment.
func (t *Thread) Close() {
	t.env.mu.Lock()
	delete(t.env.threads, t)
	t.env.mu.Unlock()
}

// Env returns the thread's environment.
func (t *Thread) Env() *Env {
	return t.env
}

// OwnsModule reports whether the thread may assign module words.
func (t *Thread) OwnsModule() bool {
	return t.env.module.owner.Load() == t
}

// Reset clears the pending exception and discards all call state.
func (t *Thread) Reset() {
	t.exc = nil
	t.stack = t.stack[:0]
	t.frames = t.frames[:0]
	t.depth = 0
}

// MarkRoots marks the thread's live cells and frame owners.
func (t *Thread) MarkRoots(m *cell.Marking) {
	for i := range t.stack {
		m.Cell(&t.stack[i])
	}
	for _, f := range t.frames {
		m.Buffer(f.Owner)
	}
	if t.exc != nil {
		m.Cell(&t.exc.Value)
		for _, tp := range t.exc.Trace {
			m.Buffer(tp.Blk)
		}
	}
	m.Cell(&t.scratch)
}
