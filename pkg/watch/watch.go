// Package watch provides a single-slot broadcast cell. The producer never
// blocks; each subscriber sees the most recent value and skips whatever it
// was too slow to observe.
package watch

import "sync"

var closed = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Cell holds the latest value of T.
type Cell[T any] struct {
	mu      sync.Mutex
	value   T
	set     bool
	version uint64
	notify  chan struct{}
}

// New returns an empty cell.
func New[T any]() *Cell[T] {
	return &Cell[T]{notify: make(chan struct{})}
}

// Set replaces the value and wakes every subscriber.
func (c *Cell[T]) Set(v T) {
	c.mu.Lock()
	c.value = v
	c.set = true
	c.version++
	close(c.notify)
	c.notify = make(chan struct{})
	c.mu.Unlock()
}

// Load returns the current value and whether one was ever set.
func (c *Cell[T]) Load() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.set
}

// Subscribe returns a receiver that is notified of values set after this
// call.
func (c *Cell[T]) Subscribe() *Receiver[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Receiver[T]{c: c, seen: c.version}
}

// Receiver tracks which version of a Cell a consumer has seen.
type Receiver[T any] struct {
	c    *Cell[T]
	seen uint64
}

// Changed returns a channel that is closed once the cell holds a value the
// receiver has not seen. Call it again after every Latest.
func (r *Receiver[T]) Changed() <-chan struct{} {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	if r.c.version != r.seen {
		return closed
	}
	return r.c.notify
}

// Latest returns the current value and marks it seen.
func (r *Receiver[T]) Latest() (T, bool) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	r.seen = r.c.version
	return r.c.value, r.c.set
}
