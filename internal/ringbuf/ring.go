// Package ringbuf provides a bounded, insertion-ordered FIFO.
//
// Items are appended at the back; once the ring is full the oldest item is
// evicted from the front. A capacity of zero means unbounded, which keeps
// the "nn_budget = None" behaviour available for appearance galleries.
package ringbuf

// Ring is a fixed-capacity circular buffer. The zero value is an empty,
// unbounded ring.
type Ring[T any] struct {
	buf   []T
	head  int // index of the oldest item
	size  int
	limit int // 0 = unbounded
}

// New returns a ring holding at most capacity items (0 = unbounded).
func New[T any](capacity int) *Ring[T] {
	if capacity < 0 {
		capacity = 0
	}
	r := &Ring[T]{limit: capacity}
	if capacity > 0 {
		r.buf = make([]T, capacity)
	}
	return r
}

// Add appends v, evicting the oldest item if the ring is full.
// It reports whether an item was evicted.
func (r *Ring[T]) Add(v T) bool {
	if r.limit == 0 {
		r.buf = append(r.buf, v)
		r.size++
		return false
	}
	if r.size < r.limit {
		r.buf[(r.head+r.size)%r.limit] = v
		r.size++
		return false
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % r.limit
	return true
}

// Len returns the number of stored items.
func (r *Ring[T]) Len() int { return r.size }

// Cap returns the configured capacity (0 = unbounded).
func (r *Ring[T]) Cap() int { return r.limit }

// At returns the i-th oldest item. It panics if i is out of range.
func (r *Ring[T]) At(i int) T {
	if i < 0 || i >= r.size {
		panic("ringbuf: index out of range")
	}
	if r.limit == 0 {
		return r.buf[i]
	}
	return r.buf[(r.head+i)%r.limit]
}

// Last returns the item n places from the newest (Last(0) is the newest).
// ok is false when fewer than n+1 items are stored.
func (r *Ring[T]) Last(n int) (v T, ok bool) {
	if n < 0 || n >= r.size {
		return v, false
	}
	return r.At(r.size - 1 - n), true
}

// Items returns a copy of the contents, oldest first.
func (r *Ring[T]) Items() []T {
	out := make([]T, r.size)
	for i := range out {
		out[i] = r.At(i)
	}
	return out
}

// Each calls fn for every item, oldest first, until fn returns false.
func (r *Ring[T]) Each(fn func(T) bool) {
	for i := 0; i < r.size; i++ {
		if !fn(r.At(i)) {
			return
		}
	}
}

// Clear drops all items but keeps the capacity.
func (r *Ring[T]) Clear() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	if r.limit == 0 {
		r.buf = r.buf[:0]
	}
	r.head = 0
	r.size = 0
}

// Clone returns an independent ring with the same capacity and contents.
// Items themselves are copied by value.
func (r *Ring[T]) Clone() *Ring[T] {
	out := New[T](r.limit)
	r.Each(func(v T) bool {
		out.Add(v)
		return true
	})
	return out
}
