// Package sink delivers fused sensor samples to metrics and time-series
// backends. Delivery is best-effort: callers log failures and move on.
package sink

import (
	"context"
	"errors"
	"log"
	"maps"
	"slices"
	"strings"
)

// Sample is one named numeric measurement.
type Sample struct {
	Name   string
	Help   string
	Value  float64
	Labels map[string]string
}

// Sink accepts samples.
type Sink interface {
	Push(ctx context.Context, samples []Sample) error
}

// labelKey identifies a label set, independent of map order.
func labelKey(labels map[string]string) string {
	var b strings.Builder
	for _, k := range slices.Sorted(maps.Keys(labels)) {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
		b.WriteByte(',')
	}
	return b.String()
}

// groupByLabels splits samples into runs that share a label set, keeping
// first-seen order.
func groupByLabels(samples []Sample) [][]Sample {
	var (
		groups [][]Sample
		index  = map[string]int{}
	)
	for _, s := range samples {
		k := labelKey(s.Labels)
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], s)
	}
	return groups
}

// Multi pushes to every child sink.
type Multi struct {
	sinks []Sink
}

var _ Sink = (*Multi)(nil)

// NewMulti fans out to sinks.
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

// Len returns the number of child sinks.
func (m *Multi) Len() int { return len(m.sinks) }

// Push pushes to all children and joins their errors.
func (m *Multi) Push(ctx context.Context, samples []Sample) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Push(ctx, samples); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every child that holds resources.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// Log writes samples to the standard logger.
type Log struct{}

var _ Sink = Log{}

// Push implements Sink.
func (Log) Push(_ context.Context, samples []Sample) error {
	for _, s := range samples {
		if len(s.Labels) > 0 {
			log.Printf("%s{%s} = %.3f", s.Name, strings.TrimSuffix(labelKey(s.Labels), ","), s.Value)
		} else {
			log.Printf("%s = %.3f", s.Name, s.Value)
		}
	}
	return nil
}
