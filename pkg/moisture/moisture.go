// Package moisture drives a multiplexed RC-discharge moisture probe. One edge
// interrupt counts oscillations of the selected channel while three select
// lines pick the channel.
package moisture

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/itohio/garden/pkg/protocol"
)

const (
	// DefaultRestDelay separates complete measurement cycles.
	DefaultRestDelay = 60 * time.Second
	// DefaultSettleDelay is the measuring window of each channel.
	DefaultSettleDelay = time.Second
)

// ErrIncomplete is returned by Report before every channel has been measured.
var ErrIncomplete = errors.New("moisture readings incomplete")

// Pin is an output line.
type Pin interface {
	Set(high bool)
}

// EdgeInput is the interrupt-capable counting input.
type EdgeInput interface {
	EnableInterrupt()
	DisableInterrupt()
	InterruptPending() bool
	ClearInterrupt()
}

type reading struct {
	clocks   uint16
	duration time.Duration
	valid    bool
}

// Sensor is the measurement state machine. It is Off between cycles and
// Measuring(channel, start) while a channel's edges are being counted.
//
// count is written by Tick (interrupt context) and reset by Step. Both must
// run under the same lock.
type Sensor struct {
	input    EdgeInput
	selects  [3]Pin
	channels int

	readings  [protocol.MaxMoistureChannels]reading
	measuring bool
	channel   int
	start     time.Time
	count     uint16

	rest   time.Duration
	settle time.Duration
}

// New returns an idle sensor for 1 to 8 channels.
func New(channels int, input EdgeInput, a1, a2, a3 Pin) (*Sensor, error) {
	if channels < 1 || channels > protocol.MaxMoistureChannels {
		return nil, fmt.Errorf("invalid channel count %d (1..%d)", channels, protocol.MaxMoistureChannels)
	}
	return &Sensor{
		input:    input,
		selects:  [3]Pin{a1, a2, a3},
		channels: channels,
		rest:     DefaultRestDelay,
		settle:   DefaultSettleDelay,
	}, nil
}

// SetDelays overrides the whole-cycle rest and per-channel settle delays.
// Zero values keep the current setting.
func (s *Sensor) SetDelays(rest, settle time.Duration) {
	if rest > 0 {
		s.rest = rest
	}
	if settle > 0 {
		s.settle = settle
	}
}

// Channels returns the configured channel count.
func (s *Sensor) Channels() int { return s.channels }

// Channel returns the channel being measured, or -1 when Off.
func (s *Sensor) Channel() int {
	if !s.measuring {
		return -1
	}
	return s.channel
}

// Step advances the state machine and returns the delay until the next step.
func (s *Sensor) Step(now time.Time) time.Duration {
	if !s.measuring {
		s.selectChannel(0)
		s.on()
		s.measuring, s.channel, s.start = true, 0, now
		return s.settle
	}

	elapsed := now.Sub(s.start)
	if elapsed < 0 {
		elapsed = 0
	}
	s.readings[s.channel] = reading{clocks: s.count, duration: elapsed, valid: true}
	s.count = 0

	if s.channel+1 == s.channels {
		s.input.DisableInterrupt()
		s.measuring = false
		return s.rest
	}

	s.channel++
	s.selectChannel(s.channel)
	s.start = now
	return s.settle
}

// Ready reports whether the machine is Off. Report still fails until the
// first cycle has completed.
func (s *Sensor) Ready() bool {
	return !s.measuring
}

// Report assembles the readings of the last completed cycle.
func (s *Sensor) Report() (protocol.MoistureReport, error) {
	if s.measuring {
		return protocol.MoistureReport{}, ErrIncomplete
	}
	report := protocol.MoistureReport{Readings: make([]protocol.MoistureReading, s.channels)}
	for n := range report.Readings {
		r := s.readings[n]
		if !r.valid {
			return protocol.MoistureReport{}, ErrIncomplete
		}
		report.Readings[n] = protocol.MoistureReading{Clocks: r.clocks, Duration: r.duration}
	}
	return report, nil
}

// Tick handles the edge interrupt: it counts one edge if the interrupt is
// pending and acknowledges it. The counter saturates.
func (s *Sensor) Tick() {
	if !s.input.InterruptPending() {
		return
	}
	if s.count < math.MaxUint16 {
		s.count++
	}
	s.input.ClearInterrupt()
}

func (s *Sensor) on() {
	s.input.EnableInterrupt()
	s.count = 0
	s.readings = [protocol.MaxMoistureChannels]reading{}
}

func (s *Sensor) selectChannel(n int) {
	for bit, pin := range s.selects {
		pin.Set(n&(1<<bit) != 0)
	}
}
