package sched

import (
	"sync"
	"time"
)

// Watchdog resets the system unless fed regularly.
type Watchdog interface {
	Feed()
}

// SoftWatchdog is a host-side Watchdog. If it is not fed within timeout it
// calls onExpire once and stays expired.
type SoftWatchdog struct {
	mu      sync.Mutex
	timeout time.Duration
	timer   *time.Timer
	expired bool
	stopped bool
}

// NewSoftWatchdog starts an armed watchdog.
func NewSoftWatchdog(timeout time.Duration, onExpire func()) *SoftWatchdog {
	w := &SoftWatchdog{timeout: timeout}
	w.timer = time.AfterFunc(timeout, func() {
		w.mu.Lock()
		if w.stopped || w.expired {
			w.mu.Unlock()
			return
		}
		w.expired = true
		w.mu.Unlock()
		onExpire()
	})
	return w
}

// Feed re-arms the watchdog.
func (w *SoftWatchdog) Feed() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.expired || w.stopped {
		return
	}
	w.timer.Reset(w.timeout)
}

// Expired reports whether the watchdog has fired.
func (w *SoftWatchdog) Expired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.expired
}

// Stop disarms the watchdog.
func (w *SoftWatchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	w.timer.Stop()
}
