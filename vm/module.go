package vm

import (
	"sync"
	"sync/atomic"

	"github.com/chazu/brick/cell"
)

// ---------------------------------------------------------------------------
// Module: Shared top-level bindings
// ---------------------------------------------------------------------------

type moduleSlot struct {
	name  cell.Atom
	value cell.Cell
}

// Module is the table of top-level words shared by every thread of an
// environment. Slots never move once created, so a ModuleSlot binding can
// be resolved without locking.
type Module struct {
	mu    sync.RWMutex
	index map[cell.Atom]uint32
	slots cell.Arena[moduleSlot]
	owner atomic.Pointer[Thread]
}

func newModule() *Module {
	return &Module{index: make(map[cell.Atom]uint32)}
}

// Slot returns the slot index for name, creating an unset slot if needed.
func (m *Module) Slot(name cell.Atom) uint32 {
	m.mu.RLock()
	if i, ok := m.index[name]; ok {
		m.mu.RUnlock()
		return i
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.index[name]; ok {
		return i
	}
	i := m.slots.Append(moduleSlot{name: name})
	m.index[name] = i
	return i
}

// Lookup returns the slot index of name without creating it.
func (m *Module) Lookup(name cell.Atom) (uint32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.index[name]
	return i, ok
}

// At returns the value cell of slot i, or nil.
func (m *Module) At(i uint32) *cell.Cell {
	s := m.slots.At(i)
	if s == nil {
		return nil
	}
	return &s.value
}

// Name returns the atom bound to slot i.
func (m *Module) Name(i uint32) cell.Atom {
	if s := m.slots.At(i); s != nil {
		return s.name
	}
	return 0
}

// Len returns the number of slots.
func (m *Module) Len() int {
	return int(m.slots.Len())
}

// Names returns the atoms of every slot holding a value, in slot order.
func (m *Module) Names() []cell.Atom {
	n := m.slots.Len()
	out := make([]cell.Atom, 0, n)
	for i := uint32(0); i < n; i++ {
		s := m.slots.At(i)
		if s.value.T != cell.TypeUnset {
			out = append(out, s.name)
		}
	}
	return out
}

// MarkRoots marks every module value.
func (m *Module) MarkRoots(mk *cell.Marking) {
	n := m.slots.Len()
	for i := uint32(0); i < n; i++ {
		mk.Cell(&m.slots.At(i).value)
	}
}
