package sched

import "fmt"

// Resource is state shared between tasks. Its ceiling is the highest
// priority of any task that accesses it; while it is locked no task at or
// below the ceiling can start, so access is exclusive without blocking.
type Resource[T any] struct {
	s       *Scheduler
	name    string
	ceiling int
	value   T
}

// NewResource wraps value. priorities lists every task priority that will
// lock it.
func NewResource[T any](s *Scheduler, name string, value T, priorities ...int) *Resource[T] {
	ceiling := 0
	for _, p := range priorities {
		checkPriority("resource accessor", name, p)
		ceiling = max(ceiling, p)
	}
	if ceiling == 0 {
		panic(fmt.Sprintf("sched: resource %q has no accessors", name))
	}
	return &Resource[T]{s: s, name: name, ceiling: ceiling, value: value}
}

// Ceiling returns the resource's ceiling priority.
func (r *Resource[T]) Ceiling() int { return r.ceiling }

// Lock runs fn with exclusive access to the value. It must be called from a
// task, or before Run. Locking from a task above the ceiling panics: that
// task was not declared as an accessor.
func (r *Resource[T]) Lock(fn func(v *T)) {
	s := r.s
	if s.running > r.ceiling {
		panic(fmt.Sprintf("sched: resource %q locked at priority %d above ceiling %d", r.name, s.running, r.ceiling))
	}

	prev := s.ceiling
	s.ceiling = max(prev, r.ceiling)
	fn(&r.value)
	s.ceiling = prev

	if s.running > 0 {
		s.dispatch()
	}
}
