// Package fieldunit is the field unit application: it samples the soil and
// air sensors, drives the pump and valve, and talks to the base station over
// the radio. Everything runs on a sched.Scheduler so the same code runs in
// firmware and on a host against simulated hardware.
package fieldunit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/itohio/garden/pkg/moisture"
	"github.com/itohio/garden/pkg/protocol"
	"github.com/itohio/garden/pkg/radio"
	"github.com/itohio/garden/pkg/sched"
)

// Task priorities. Interrupt handlers sit above the periodic sampler, which
// sits above everything that touches the radio.
const (
	PriorityApp       = 1
	PriorityTicker    = 2
	PriorityInterrupt = 3
)

// Queue capacities.
const (
	broadcastCapacity = 3
	commandCapacity   = 3
)

// EnvSensor takes one forced environmental measurement.
type EnvSensor interface {
	Measure() (protocol.EnvironmentalReport, error)
}

// Hardware is the set of peripherals the application drives.
type Hardware struct {
	Radio    radio.Transceiver
	Edge     moisture.EdgeInput
	Select   [3]moisture.Pin
	Env      EnvSensor
	Pump     moisture.Pin
	Valve    moisture.Pin
	LED      moisture.Pin // optional
	Watchdog sched.Watchdog
	// Reboot restarts the unit. On hardware it does not return.
	Reboot func()
}

func (hw Hardware) validate() error {
	var missing []string
	if hw.Radio == nil {
		missing = append(missing, "radio")
	}
	if hw.Edge == nil {
		missing = append(missing, "edge input")
	}
	for i, p := range hw.Select {
		if p == nil {
			missing = append(missing, fmt.Sprintf("select %d", i+1))
		}
	}
	if hw.Env == nil {
		missing = append(missing, "environmental sensor")
	}
	if hw.Pump == nil {
		missing = append(missing, "pump")
	}
	if hw.Valve == nil {
		missing = append(missing, "valve")
	}
	if hw.Watchdog == nil {
		missing = append(missing, "watchdog")
	}
	if hw.Reboot == nil {
		missing = append(missing, "reboot")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing hardware: %v", missing)
	}
	return nil
}

// actuators is the pump and valve state, mirrored onto their pins.
type actuators struct {
	flags protocol.StatusFlags
	pump  moisture.Pin
	valve moisture.Pin
}

func (a *actuators) apply(flags protocol.StatusFlags) {
	a.flags = flags
	a.pump.Set(flags.Contains(protocol.PumpOn))
	a.valve.Set(flags.Contains(protocol.ValveOpen))
}

// App is the field unit application.
type App struct {
	cfg Config
	hw  Hardware
	s   *sched.Scheduler

	moisture *sched.Resource[*moisture.Sensor]
	status   *sched.Resource[actuators]
	env      protocol.EnvironmentalValidator

	edge       *sched.Interrupt
	sampler    *sched.Task[struct{}]
	envTask    *sched.Task[struct{}]
	statusTask *sched.Task[struct{}]
	feeder     *sched.Task[struct{}]
	broadcast  *sched.Task[protocol.Message]
	handle     *sched.Task[protocol.Command]

	flags   atomic.Uint32
	started bool
	buf     [protocol.MaxFrameSize]byte
}

// New initialises the hardware and registers the application tasks. Any
// error here means the unit cannot operate.
func New(cfg Config, hw Hardware) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := hw.validate(); err != nil {
		return nil, err
	}

	sensor, err := moisture.New(cfg.MoistureChannels, hw.Edge, hw.Select[0], hw.Select[1], hw.Select[2])
	if err != nil {
		return nil, fmt.Errorf("failed to create moisture sensor: %w", err)
	}
	sensor.SetDelays(cfg.MoistureRest, cfg.MoistureSettle)

	if err := hw.Radio.Reset(); err != nil {
		return nil, fmt.Errorf("failed to reset radio: %w", err)
	}
	if err := hw.Radio.Configure(cfg.Radio); err != nil {
		return nil, fmt.Errorf("failed to configure radio: %w", err)
	}

	s := sched.New()
	a := &App{cfg: cfg, hw: hw, s: s}

	a.moisture = sched.NewResource(s, "moisture", sensor, PriorityInterrupt, PriorityTicker)
	a.status = sched.NewResource(s, "status", actuators{pump: hw.Pump, valve: hw.Valve}, PriorityApp)
	a.status.Lock(func(st *actuators) { st.apply(0) })
	a.setLED(false)

	a.edge = sched.NewInterrupt(s, "moisture_edge", PriorityInterrupt, a.countEdge)
	a.sampler = sched.NewTask(s, "moisture_ticker", PriorityTicker, 1, a.sampleMoisture)
	a.feeder = sched.NewTask(s, "watchdog", PriorityTicker, 1, a.feedWatchdog)
	a.envTask = sched.NewTask(s, "environmental", PriorityApp, 1, a.measureEnvironment)
	a.statusTask = sched.NewTask(s, "status", PriorityApp, 1, a.reportStatus)
	a.broadcast = sched.NewTask(s, "broadcast", PriorityApp, broadcastCapacity, a.transmit)
	a.handle = sched.NewTask(s, "handle_command", PriorityApp, commandCapacity, a.handleCommand)
	return a, nil
}

// EdgeInterrupt is called from the moisture input's interrupt handler. It
// only sets a flag, so it is safe in interrupt context.
func (a *App) EdgeInterrupt() {
	a.edge.PendFromISR()
}

// Status returns the actuator state. Safe from any goroutine.
func (a *App) Status() protocol.DeviceStatus {
	return protocol.DeviceStatus{Flags: protocol.FlagsFromBits(uint8(a.flags.Load()))}
}

// Start schedules the periodic tasks. Run calls it if it was not called.
func (a *App) Start() error {
	if a.started {
		return nil
	}
	for _, start := range []struct {
		task  *sched.Task[struct{}]
		delay time.Duration
	}{
		{a.feeder, 0},
		{a.sampler, a.cfg.MoistureStart},
		{a.envTask, a.cfg.EnvironmentalStart},
		{a.statusTask, a.cfg.StatusStart},
	} {
		if err := start.task.SpawnAfter(start.delay, struct{}{}); err != nil {
			return fmt.Errorf("failed to start %s: %w", start.task.Name(), err)
		}
	}
	a.started = true
	return nil
}

// Run dispatches tasks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(); err != nil {
		return err
	}
	log.Printf("Field unit %d running, reporting to %d", a.cfg.Address, a.cfg.BaseAddress)
	err := a.s.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) countEdge() {
	a.moisture.Lock(func(m **moisture.Sensor) { (*m).Tick() })
}

func (a *App) feedWatchdog(struct{}) {
	a.hw.Watchdog.Feed()
	a.reschedule(a.feeder, a.cfg.WatchdogPeriod)
}

func (a *App) sampleMoisture(struct{}) {
	var (
		next   = a.cfg.MoistureRest
		report protocol.MoistureReport
		err    error
		done   bool
	)
	a.moisture.Lock(func(m **moisture.Sensor) {
		next = (*m).Step(a.s.Now())
		if done = (*m).Ready(); done {
			report, err = (*m).Report()
		}
	})
	a.reschedule(a.sampler, next)

	if !done {
		return
	}
	if err != nil {
		log.Printf("Moisture report unavailable: %v", err)
		return
	}
	a.send(report)
}

func (a *App) measureEnvironment(struct{}) {
	defer a.reschedule(a.envTask, a.cfg.EnvironmentalPeriod)

	r, err := a.hw.Env.Measure()
	if err != nil {
		log.Printf("Environmental measurement failed: %v", err)
		return
	}
	r.Temp += a.cfg.TempOffset
	r, err = a.env.Check(r)
	if err != nil {
		log.Printf("Discarding environmental reading: %v", err)
		return
	}
	a.send(r)
}

func (a *App) reportStatus(struct{}) {
	defer a.reschedule(a.statusTask, a.cfg.StatusPeriod)

	var flags protocol.StatusFlags
	a.status.Lock(func(st *actuators) { flags = st.flags })
	a.send(protocol.StatusUpdate{Status: protocol.DeviceStatus{Flags: flags}})
}

func (a *App) handleCommand(cmd protocol.Command) {
	switch c := cmd.(type) {
	case protocol.SyncFlags:
		var flags protocol.StatusFlags
		a.status.Lock(func(st *actuators) {
			st.apply(c.Flags)
			flags = st.flags
		})
		a.flags.Store(uint32(flags.Bits()))
		log.Printf("Actuators set to %v", flags)
		a.send(protocol.StatusUpdate{Status: protocol.DeviceStatus{Flags: flags}})
	case protocol.Reset:
		log.Printf("Reset requested by base station")
		a.hw.Reboot()
	default:
		log.Printf("Ignoring unknown command %T", cmd)
	}
}

// send queues msg for broadcast, dropping it when the queue is full.
func (a *App) send(msg protocol.Message) {
	if err := a.broadcast.Spawn(msg); err != nil {
		log.Printf("Dropping %T: %v", msg, err)
	}
}

func (a *App) reschedule(t *sched.Task[struct{}], d time.Duration) {
	if err := t.SpawnAfter(d, struct{}{}); err != nil {
		log.Printf("Failed to reschedule %s: %v", t.Name(), err)
	}
}

func (a *App) setLED(on bool) {
	if a.hw.LED != nil {
		a.hw.LED.Set(on)
	}
}
