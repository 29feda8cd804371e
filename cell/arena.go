package cell

import (
	"sync"
	"sync/atomic"
)

const (
	arenaChunkBits = 10
	arenaChunkSize = 1 << arenaChunkBits
	arenaChunkMask = arenaChunkSize - 1
)

// Arena is append-only chunked storage.
//
// Elements never move once allocated, so pointers returned by At stay
// valid for the life of the arena. Appends are serialized by a mutex;
// At is lock-free and safe for concurrent use with Append, provided the
// index was obtained after the element was published.
type Arena[T any] struct {
	mu     sync.Mutex
	chunks atomic.Pointer[[][]T]
	n      atomic.Uint32
}

// Append stores v and returns its index.
func (a *Arena[T]) Append(v T) uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()

	i := a.n.Load()
	ci := int(i >> arenaChunkBits)

	var chunks [][]T
	if p := a.chunks.Load(); p != nil {
		chunks = *p
	}
	if ci >= len(chunks) {
		grown := make([][]T, ci+1)
		copy(grown, chunks)
		grown[ci] = make([]T, arenaChunkSize)
		a.chunks.Store(&grown)
		chunks = grown
	}
	chunks[ci][i&arenaChunkMask] = v
	a.n.Store(i + 1)
	return i
}

// At returns a pointer to element i, or nil if i was never allocated.
func (a *Arena[T]) At(i uint32) *T {
	if i >= a.n.Load() {
		return nil
	}
	chunks := *a.chunks.Load()
	return &chunks[i>>arenaChunkBits][i&arenaChunkMask]
}

// Len returns the number of allocated elements.
func (a *Arena[T]) Len() uint32 {
	return a.n.Load()
}
