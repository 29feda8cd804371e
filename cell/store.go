package cell

import "sync"

// ---------------------------------------------------------------------------
// Buffer store
// ---------------------------------------------------------------------------

// Buffer is one entry of the store: a block of cells, a string, or an
// opaque host object such as a compiled argument program.
type Buffer struct {
	Kind  Type // TypeBlock, TypeString, or TypeUnset for host objects
	Cells []Cell
	Text  string
	Obj   any

	live  bool
	mark  bool
	holds int32
}

// Store is the arena of buffers. Cycles between blocks, words and
// functions are plain index references; liveness is decided by Collect.
type Store struct {
	buffers Arena[Buffer]

	mu   sync.Mutex // guards free list, holds and collection
	free []BufID
}

// NewStore creates an empty store. Buffer id 0 is reserved.
func NewStore() *Store {
	s := &Store{}
	s.buffers.Append(Buffer{})
	return s
}

func (s *Store) alloc(b Buffer) BufID {
	b.live = true
	s.mu.Lock()
	if n := len(s.free); n > 0 {
		id := s.free[n-1]
		s.free = s.free[:n-1]
		*s.buffers.At(uint32(id)) = b
		s.mu.Unlock()
		return id
	}
	s.mu.Unlock()
	return BufID(s.buffers.Append(b))
}

// NewBlock allocates a block holding cells. The slice is owned by the store.
func (s *Store) NewBlock(cells []Cell) BufID {
	return s.alloc(Buffer{Kind: TypeBlock, Cells: cells})
}

// NewString allocates a string buffer.
func (s *Store) NewString(text string) BufID {
	return s.alloc(Buffer{Kind: TypeString, Text: text})
}

// NewObject allocates a buffer wrapping a host object.
func (s *Store) NewObject(obj any) BufID {
	return s.alloc(Buffer{Obj: obj})
}

// Buffer returns the buffer for id, or nil if id is not live.
func (s *Store) Buffer(id BufID) *Buffer {
	if id == 0 {
		return nil
	}
	b := s.buffers.At(uint32(id))
	if b == nil || !b.live {
		return nil
	}
	return b
}

// Cells returns the cells of a block buffer.
func (s *Store) Cells(id BufID) []Cell {
	if b := s.Buffer(id); b != nil {
		return b.Cells
	}
	return nil
}

// Text returns the content of a string buffer.
func (s *Store) Text(id BufID) string {
	if b := s.Buffer(id); b != nil {
		return b.Text
	}
	return ""
}

// Object returns the host object of an object buffer.
func (s *Store) Object(id BufID) any {
	if b := s.Buffer(id); b != nil {
		return b.Obj
	}
	return nil
}

// Append adds a cell to the end of a block buffer.
func (s *Store) Append(id BufID, c Cell) bool {
	b := s.Buffer(id)
	if b == nil || b.Kind != TypeBlock {
		return false
	}
	b.Cells = append(b.Cells, c)
	return true
}

// Live returns the number of allocated buffers.
func (s *Store) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.buffers.Len()) - 1 - len(s.free)
}

// ---------------------------------------------------------------------------
// Hold / Release
// ---------------------------------------------------------------------------

// Hold pins a buffer across operations that may trigger collection.
type Hold struct {
	id BufID
}

// Hold pins id until the returned token is released.
func (s *Store) Hold(id BufID) Hold {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b := s.Buffer(id); b != nil {
		b.holds++
	}
	return Hold{id: id}
}

// Release unpins a buffer held by h.
func (s *Store) Release(h Hold) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b := s.Buffer(h.id); b != nil && b.holds > 0 {
		b.holds--
	}
}

// ---------------------------------------------------------------------------
// Mark-sweep collection
// ---------------------------------------------------------------------------

// Marker reports the roots it owns during collection.
type Marker interface {
	MarkRoots(m *Marking)
}

// Marking accumulates reachable buffers during a collection.
type Marking struct {
	s    *Store
	work []BufID
}

// Buffer marks id reachable.
func (m *Marking) Buffer(id BufID) {
	b := m.s.Buffer(id)
	if b == nil || b.mark {
		return
	}
	b.mark = true
	if b.Kind == TypeBlock {
		m.work = append(m.work, id)
	}
}

// Cell marks every buffer referenced by c.
func (m *Marking) Cell(c *Cell) {
	switch {
	case c.T.IsSeries(), c.T == TypeError, c.T == TypeCFunc:
		m.Buffer(c.Buf)
	case c.T == TypeFunc:
		m.Buffer(c.Buf)
		m.Buffer(c.Body())
	case c.T.IsWord():
		if c.Bind.Kind != BindUnbound && c.Bind.Kind != BindModule {
			m.Buffer(c.Bind.Owner)
		}
	}
}

// Collect frees every buffer not reachable from roots or a hold and
// returns the number of buffers freed. No thread may be evaluating while
// a collection runs unless it is itself one of the roots.
func (s *Store) Collect(roots ...Marker) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := &Marking{s: s}
	n := s.buffers.Len()
	for id := uint32(1); id < n; id++ {
		if b := s.buffers.At(id); b.live && b.holds > 0 {
			m.Buffer(BufID(id))
		}
	}
	for _, r := range roots {
		r.MarkRoots(m)
	}
	for len(m.work) > 0 {
		id := m.work[len(m.work)-1]
		m.work = m.work[:len(m.work)-1]
		cells := s.buffers.At(uint32(id)).Cells
		for i := range cells {
			m.Cell(&cells[i])
		}
	}

	freed := 0
	for id := uint32(1); id < n; id++ {
		b := s.buffers.At(id)
		if !b.live {
			continue
		}
		if b.mark {
			b.mark = false
			continue
		}
		*b = Buffer{}
		s.free = append(s.free, BufID(id))
		freed++
	}
	return freed
}
