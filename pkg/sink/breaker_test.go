package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_OpensAfterFailures(t *testing.T) {
	inner := &recordingSink{err: errors.New("unreachable")}
	b := NewBreaker("test", BreakerConfig{Failures: 2, OpenTimeout: time.Hour}, inner)

	for range 2 {
		assert.ErrorContains(t, b.Push(context.Background(), weatherSamples()), "unreachable")
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	err := b.Push(context.Background(), weatherSamples())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Len(t, inner.pushes, 2, "open breaker must not call the sink")
}

func TestBreaker_PassesThrough(t *testing.T) {
	inner := &recordingSink{}
	b := NewBreaker("test", BreakerConfig{}, inner)

	require.NoError(t, b.Push(context.Background(), moistureSamples()))
	assert.Equal(t, gobreaker.StateClosed, b.State())
	assert.Equal(t, [][]Sample{moistureSamples()}, inner.pushes)

	require.NoError(t, b.Close())
	assert.True(t, inner.closed)
}

func TestBreaker_HalfOpenRecovers(t *testing.T) {
	inner := &recordingSink{err: errors.New("unreachable")}
	b := NewBreaker("test", BreakerConfig{Failures: 1, OpenTimeout: 20 * time.Millisecond}, inner)

	assert.Error(t, b.Push(context.Background(), weatherSamples()))
	assert.Equal(t, gobreaker.StateOpen, b.State())

	time.Sleep(30 * time.Millisecond)
	inner.err = nil
	require.NoError(t, b.Push(context.Background(), weatherSamples()))
	assert.Equal(t, gobreaker.StateClosed, b.State())
}
