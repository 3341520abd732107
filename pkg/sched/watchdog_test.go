package sched

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSoftWatchdog_FedStaysArmed(t *testing.T) {
	var fired atomic.Int32
	w := NewSoftWatchdog(50*time.Millisecond, func() { fired.Add(1) })
	defer w.Stop()

	for i := 0; i < 10; i++ {
		time.Sleep(10 * time.Millisecond)
		w.Feed()
	}
	assert.Equal(t, int32(0), fired.Load())
	assert.False(t, w.Expired())
}

func TestSoftWatchdog_ExpiresOnce(t *testing.T) {
	fired := make(chan struct{}, 2)
	w := NewSoftWatchdog(10*time.Millisecond, func() { fired <- struct{}{} })
	defer w.Stop()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not fire")
	}
	assert.True(t, w.Expired())

	w.Feed()
	select {
	case <-fired:
		t.Fatal("watchdog fired twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSoftWatchdog_Stop(t *testing.T) {
	var fired atomic.Bool
	w := NewSoftWatchdog(10*time.Millisecond, func() { fired.Store(true) })
	w.Stop()
	time.Sleep(30 * time.Millisecond)
	assert.False(t, fired.Load())
}
