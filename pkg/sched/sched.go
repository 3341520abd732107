// Package sched is a fixed-priority run-to-completion task scheduler with
// priority-ceiling resources.
//
// All tasks execute on the goroutine that calls Run. A task only starts when
// its priority is above both the priority of the running task and the
// current system ceiling (the highest ceiling of any held Resource). Higher
// priority work preempts a running task at its preemption points: Resource
// release, Delay, and task completion. Interrupts may be pended from any
// goroutine, or from a hardware interrupt handler with PendFromISR.
package sched

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// MaxPriority is the highest task priority. Priority 0 is the idle loop.
const MaxPriority = 8

// IdlePoll bounds how long the scheduler sleeps while interrupts are
// registered, so flags raised by PendFromISR are seen without a wakeup.
const IdlePoll = time.Millisecond

// ErrQueueFull is returned when a task already has capacity instances pending.
var ErrQueueFull = errors.New("task queue full")

type job struct {
	priority int
	pending  *int
	run      func()
}

// Scheduler dispatches tasks by priority.
type Scheduler struct {
	mu     sync.Mutex
	ready  [MaxPriority + 1][]job
	timers timerQueue
	irqs   []*Interrupt
	seq    uint64
	wake   chan struct{}

	// Owned by the dispatching goroutine.
	ctx     context.Context
	running int
	ceiling int
}

// New returns an idle scheduler.
func New() *Scheduler {
	return &Scheduler{
		wake: make(chan struct{}, 1),
		ctx:  context.Background(),
	}
}

// Now returns the scheduler's monotonic time.
func (s *Scheduler) Now() time.Time {
	return time.Now()
}

// Run dispatches tasks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	for {
		s.dispatch()
		if err := ctx.Err(); err != nil {
			return err
		}
		s.sleep(time.Time{})
	}
}

// Delay busy-waits for d inside a task. Tasks that may preempt the caller
// keep running meanwhile.
func (s *Scheduler) Delay(d time.Duration) {
	deadline := time.Now().Add(d)
	for {
		s.dispatch()
		if !time.Now().Before(deadline) || s.ctx.Err() != nil {
			return
		}
		s.sleep(deadline)
	}
}

// Priority returns the priority of the running task, 0 when idle.
func (s *Scheduler) Priority() int {
	return s.running
}

func (s *Scheduler) dispatch() {
	for {
		fn, prio := s.next(max(s.running, s.ceiling))
		if fn == nil {
			return
		}
		prev := s.running
		s.running = prio
		fn()
		s.running = prev
	}
}

// next pops the highest-priority runnable job above threshold.
func (s *Scheduler) next(threshold int) (func(), int) {
	if s.ctx.Err() != nil {
		return nil, 0
	}
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for s.timers.Len() > 0 && !s.timers[0].at.After(now) {
		t := heap.Pop(&s.timers).(*timer)
		s.ready[t.job.priority] = append(s.ready[t.job.priority], t.job)
	}

	for p := MaxPriority; p > threshold; p-- {
		for _, irq := range s.irqs {
			if irq.priority == p && irq.pending.CompareAndSwap(true, false) {
				return irq.fn, p
			}
		}
		if q := s.ready[p]; len(q) > 0 {
			j := q[0]
			q[0] = job{}
			s.ready[p] = q[1:]
			if j.pending != nil {
				*j.pending--
			}
			return j.run, p
		}
	}
	return nil, 0
}

// sleep waits for a spawn, an interrupt, the next timer or deadline. With
// interrupts registered it never waits longer than IdlePoll.
func (s *Scheduler) sleep(deadline time.Time) {
	s.mu.Lock()
	until := deadline
	if s.timers.Len() > 0 && (until.IsZero() || s.timers[0].at.Before(until)) {
		until = s.timers[0].at
	}
	polled := len(s.irqs) > 0
	s.mu.Unlock()

	if polled {
		if poll := time.Now().Add(IdlePoll); until.IsZero() || poll.Before(until) {
			until = poll
		}
	}

	var expired <-chan time.Time
	if !until.IsZero() {
		d := time.Until(until)
		if d <= 0 {
			return
		}
		t := time.NewTimer(d)
		defer t.Stop()
		expired = t.C
	}

	select {
	case <-s.wake:
	case <-expired:
	case <-s.ctx.Done():
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) enqueue(j job, d time.Duration) {
	if d <= 0 {
		s.ready[j.priority] = append(s.ready[j.priority], j)
		return
	}
	s.seq++
	heap.Push(&s.timers, &timer{at: time.Now().Add(d), seq: s.seq, job: j})
}

func checkPriority(kind, name string, priority int) {
	if priority < 1 || priority > MaxPriority {
		panic(fmt.Sprintf("sched: %s %q priority %d outside 1..%d", kind, name, priority, MaxPriority))
	}
}

// Task is a software task carrying an argument of type T.
type Task[T any] struct {
	s        *Scheduler
	name     string
	priority int
	capacity int
	pending  int
	fn       func(T)
}

// NewTask registers a task. capacity bounds the number of queued or
// scheduled instances.
func NewTask[T any](s *Scheduler, name string, priority, capacity int, fn func(T)) *Task[T] {
	checkPriority("task", name, priority)
	if capacity < 1 {
		capacity = 1
	}
	return &Task[T]{s: s, name: name, priority: priority, capacity: capacity, fn: fn}
}

// Name returns the task name.
func (t *Task[T]) Name() string { return t.name }

// Spawn queues the task for immediate dispatch.
func (t *Task[T]) Spawn(arg T) error {
	return t.SpawnAfter(0, arg)
}

// SpawnAfter queues the task to become ready after d.
func (t *Task[T]) SpawnAfter(d time.Duration, arg T) error {
	s := t.s
	s.mu.Lock()
	if t.pending >= t.capacity {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrQueueFull, t.name)
	}
	t.pending++
	s.enqueue(job{
		priority: t.priority,
		pending:  &t.pending,
		run:      func() { t.fn(arg) },
	}, d)
	s.mu.Unlock()

	s.signal()
	return nil
}

// Interrupt is a hardware-bound task. Pending it twice before it runs
// coalesces into one run, like an interrupt flag.
type Interrupt struct {
	s        *Scheduler
	name     string
	priority int
	pending  atomic.Bool
	fn       func()
}

// NewInterrupt binds fn to an interrupt line at the given priority.
func NewInterrupt(s *Scheduler, name string, priority int, fn func()) *Interrupt {
	checkPriority("interrupt", name, priority)
	irq := &Interrupt{s: s, name: name, priority: priority, fn: fn}
	s.mu.Lock()
	s.irqs = append(s.irqs, irq)
	s.mu.Unlock()
	return irq
}

// Pend raises the interrupt and wakes the scheduler. Safe from any goroutine.
func (i *Interrupt) Pend() {
	i.pending.Store(true)
	i.s.signal()
}

// PendFromISR raises the interrupt with a single atomic store. The idle loop
// picks it up within IdlePoll. Use it from hardware interrupt handlers, where
// channel operations are not allowed.
func (i *Interrupt) PendFromISR() {
	i.pending.Store(true)
}

type timer struct {
	at  time.Time
	seq uint64
	job job
}

type timerQueue []*timer

func (q timerQueue) Len() int { return len(q) }
func (q timerQueue) Less(i, j int) bool {
	if q[i].at.Equal(q[j].at) {
		return q[i].seq < q[j].seq
	}
	return q[i].at.Before(q[j].at)
}
func (q timerQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *timerQueue) Push(x any)   { *q = append(*q, x.(*timer)) }
func (q *timerQueue) Pop() any {
	old := *q
	t := old[len(old)-1]
	old[len(old)-1] = nil
	*q = old[:len(old)-1]
	return t
}
