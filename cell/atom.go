package cell

import "sync"

// Atom is the interned id of a symbolic name.
type Atom uint32

// ---------------------------------------------------------------------------
// AtomTable: Interned names
// ---------------------------------------------------------------------------

// AtomTable interns names to unique atoms.
// It is shared by every thread of an environment.
type AtomTable struct {
	mu     sync.RWMutex
	byName map[string]Atom
	byID   []string
}

// NewAtomTable creates an empty atom table.
func NewAtomTable() *AtomTable {
	return &AtomTable{
		byName: make(map[string]Atom),
		byID:   make([]string, 0, 256),
	}
}

// Intern returns the atom for name, creating it if needed.
func (at *AtomTable) Intern(name string) Atom {
	at.mu.RLock()
	if id, ok := at.byName[name]; ok {
		at.mu.RUnlock()
		return id
	}
	at.mu.RUnlock()

	at.mu.Lock()
	defer at.mu.Unlock()

	// Double-check after acquiring write lock
	if id, ok := at.byName[name]; ok {
		return id
	}

	id := Atom(len(at.byID))
	at.byName[name] = id
	at.byID = append(at.byID, name)
	return id
}

// Lookup returns the atom for name without creating it.
func (at *AtomTable) Lookup(name string) (Atom, bool) {
	at.mu.RLock()
	defer at.mu.RUnlock()
	id, ok := at.byName[name]
	return id, ok
}

// Name returns the name of an atom, or "" if unknown.
func (at *AtomTable) Name(id Atom) string {
	at.mu.RLock()
	defer at.mu.RUnlock()

	if int(id) >= len(at.byID) {
		return ""
	}
	return at.byID[id]
}

// Len returns the number of interned atoms.
func (at *AtomTable) Len() int {
	at.mu.RLock()
	defer at.mu.RUnlock()
	return len(at.byID)
}
