package pipeline

import "sync"

// Ring is a fixed-capacity ring buffer with overwrite-oldest semantics.
// Slots are addressed by a monotonically increasing write cursor modulo the
// capacity, so appends never allocate. All methods are safe for concurrent use;
// readers always observe a consistent snapshot.
type Ring[T any] struct {
	mu      sync.RWMutex
	buf     []T
	written uint64 // total appends since the last Reset
	size    int
}

// NewRing creates a ring holding at most capacity elements
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("pipeline: ring capacity must be > 0")
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Append stores v and reports whether the oldest element was evicted
func (r *Ring[T]) Append(v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	capacity := uint64(len(r.buf))
	r.buf[r.written%capacity] = v
	r.written++
	if r.size < len(r.buf) {
		r.size++
		return false
	}
	return true
}

// Snapshot returns the most recent limit elements, oldest first.
// A limit <= 0 returns every stored element.
func (r *Ring[T]) Snapshot(limit int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]T, n)
	capacity := uint64(len(r.buf))
	start := r.written - uint64(n)
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+uint64(i))%capacity]
	}
	return out
}

// Last returns the newest element
func (r *Ring[T]) Last() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.size == 0 {
		var zero T
		return zero, false
	}
	return r.buf[(r.written-1)%uint64(len(r.buf))], true
}

// Len returns the number of stored elements
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Reset drops every element
func (r *Ring[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.written = 0
	r.size = 0
}
