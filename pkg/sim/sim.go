// Package sim simulates the field unit's peripherals so the complete system
// can run on a host: pins that record their level, an RC oscillator feeding
// the moisture edge interrupt, a weather source, and a software watchdog.
package sim

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itohio/garden/pkg/fieldunit"
	"github.com/itohio/garden/pkg/moisture"
	"github.com/itohio/garden/pkg/protocol"
	"github.com/itohio/garden/pkg/radio"
	"github.com/itohio/garden/pkg/sched"
)

// Config parameterises the simulated garden.
type Config struct {
	// Loss is the probability of a frame being lost on air.
	Loss    float64 `yaml:"loss"`
	Seed    int64   `yaml:"seed"`
	Airtime bool    `yaml:"airtime"`

	// Moisture is the oscillator rate of each channel in dry soil, in
	// edges per second. Watering raises it.
	Moisture []float64 `yaml:"moisture"`

	Temperature   float64 `yaml:"temperature"`
	Pressure      float64 `yaml:"pressure"`
	Humidity      float64 `yaml:"humidity"`
	GasResistance float64 `yaml:"gas_resistance"`
	NoiseLevel    float64 `yaml:"noise_level"`
	// GlitchEvery makes every Nth environmental reading implausible. Zero
	// disables glitches.
	GlitchEvery int `yaml:"glitch_every"`
}

// DefaultConfig returns a mild, slightly lossy garden.
func DefaultConfig() Config {
	return Config{
		Loss:          0.05,
		Seed:          1,
		Moisture:      []float64{25, 18, 12},
		Temperature:   30,
		Pressure:      100500,
		Humidity:      55,
		GasResistance: 50000,
		NoiseLevel:    0.5,
	}
}

// oscillatorTick is the resolution of the simulated RC oscillator.
const oscillatorTick = 2 * time.Millisecond

// Pin records the level it is driven to.
type Pin struct {
	high atomic.Bool
}

// Set implements moisture.Pin.
func (p *Pin) Set(high bool) { p.high.Store(high) }

// High returns the driven level.
func (p *Pin) High() bool { return p.high.Load() }

// Edge is the moisture oscillator input with its interrupt flag.
type Edge struct {
	enabled atomic.Bool
	pending atomic.Bool
}

var _ moisture.EdgeInput = (*Edge)(nil)

func (e *Edge) EnableInterrupt()       { e.enabled.Store(true) }
func (e *Edge) DisableInterrupt()      { e.enabled.Store(false) }
func (e *Edge) InterruptPending() bool { return e.pending.Load() }
func (e *Edge) ClearInterrupt()        { e.pending.Store(false) }

// Field is one simulated field unit's hardware.
type Field struct {
	cfg   Config
	radio radio.Transceiver

	Pump    Pin
	Valve   Pin
	LED     Pin
	Selects [3]Pin
	Edge    Edge

	mu       sync.Mutex
	start    time.Time
	wetness  float64
	readings int
	watchdog *sched.SoftWatchdog
	reboots  chan string
	stop     chan struct{}
	running  bool
	boots    atomic.Int32
}

// NewField returns simulated hardware around a radio endpoint.
func NewField(cfg Config, tr radio.Transceiver) *Field {
	return &Field{
		cfg:     cfg,
		radio:   tr,
		start:   time.Now(),
		reboots: make(chan string, 1),
	}
}

// Hardware returns the peripherals for fieldunit.New. The watchdog starts
// armed with timeout.
func (f *Field) Hardware(timeout time.Duration) fieldunit.Hardware {
	f.boots.Add(1)
	f.mu.Lock()
	if f.watchdog != nil {
		f.watchdog.Stop()
	}
	f.watchdog = sched.NewSoftWatchdog(timeout, func() { f.reboot("watchdog expired") })
	wdt := f.watchdog
	f.mu.Unlock()

	return fieldunit.Hardware{
		Radio:    f.radio,
		Edge:     &f.Edge,
		Select:   [3]moisture.Pin{&f.Selects[0], &f.Selects[1], &f.Selects[2]},
		Env:      weather{f},
		Pump:     &f.Pump,
		Valve:    &f.Valve,
		LED:      &f.LED,
		Watchdog: wdt,
		Reboot:   func() { f.reboot("reset requested") },
	}
}

// Boots returns how many times Hardware was handed out.
func (f *Field) Boots() int { return int(f.boots.Load()) }

// Reboots delivers the reason each time the unit asks to restart.
func (f *Field) Reboots() <-chan string { return f.reboots }

func (f *Field) reboot(reason string) {
	select {
	case f.reboots <- reason:
	default:
	}
}

// Start runs the oscillator, calling onEdge for every edge while the edge
// interrupt is enabled.
func (f *Field) Start(onEdge func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return fmt.Errorf("already running")
	}
	f.running = true
	f.stop = make(chan struct{})
	go f.oscillate(onEdge, f.stop)
	return nil
}

// Close stops the oscillator and disarms the watchdog.
func (f *Field) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watchdog != nil {
		f.watchdog.Stop()
	}
	if !f.running {
		return nil
	}
	close(f.stop)
	f.running = false
	return nil
}

// Channel returns the moisture channel addressed by the select pins.
func (f *Field) Channel() int {
	n := 0
	for bit := range f.Selects {
		if f.Selects[bit].High() {
			n |= 1 << bit
		}
	}
	return n
}

// Rate returns the oscillator rate of channel n in edges per second.
func (f *Field) Rate(n int) float64 {
	if n >= len(f.cfg.Moisture) {
		return 0
	}
	f.mu.Lock()
	wet := f.wetness
	f.mu.Unlock()
	return f.cfg.Moisture[n] * (1 + wet)
}

func (f *Field) oscillate(onEdge func(), stop <-chan struct{}) {
	ticker := time.NewTicker(oscillatorTick)
	defer ticker.Stop()

	var acc float64
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		f.water(oscillatorTick)
		if !f.Edge.enabled.Load() {
			acc = 0
			continue
		}
		acc += f.Rate(f.Channel()) * oscillatorTick.Seconds()
		if acc >= 1 {
			acc--
			f.Edge.pending.Store(true)
			onEdge()
		}
	}
}

// water soaks the soil while the pump runs and lets it dry otherwise.
func (f *Field) water(dt time.Duration) {
	watering := f.Pump.High() && f.Valve.High()
	f.mu.Lock()
	defer f.mu.Unlock()
	if watering {
		f.wetness = math.Min(f.wetness+0.05*dt.Seconds(), 1)
	} else {
		f.wetness = math.Max(f.wetness-0.001*dt.Seconds(), 0)
	}
}

// weather is the simulated environmental sensor.
type weather struct{ f *Field }

// Measure implements fieldunit.EnvSensor.
func (w weather) Measure() (protocol.EnvironmentalReport, error) {
	f := w.f
	f.mu.Lock()
	f.readings++
	n := f.readings
	t := time.Since(f.start).Seconds()
	f.mu.Unlock()

	noise := func(phase float64) float64 {
		return (math.Sin(t*0.01+phase) + math.Cos(t*0.013+phase)) * f.cfg.NoiseLevel * 0.5
	}
	r := protocol.EnvironmentalReport{
		Temp:          float32(f.cfg.Temperature + noise(0)),
		Pressure:      float32(f.cfg.Pressure + noise(1)*10),
		Humidity:      float32(f.cfg.Humidity + noise(2)*5),
		GasResistance: float32(f.cfg.GasResistance + noise(3)*1000),
	}
	if f.cfg.GlitchEvery > 0 && n%f.cfg.GlitchEvery == 0 {
		r.Temp = 150
	}
	return r, nil
}
