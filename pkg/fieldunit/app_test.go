package fieldunit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/itohio/garden/pkg/moisture"
	"github.com/itohio/garden/pkg/protocol"
	"github.com/itohio/garden/pkg/radio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePin struct{ high atomic.Bool }

func (p *fakePin) Set(high bool) { p.high.Store(high) }

type fakeEdge struct {
	enabled atomic.Bool
	pending atomic.Bool
}

func (e *fakeEdge) EnableInterrupt()       { e.enabled.Store(true) }
func (e *fakeEdge) DisableInterrupt()      { e.enabled.Store(false) }
func (e *fakeEdge) InterruptPending() bool { return e.pending.Load() }
func (e *fakeEdge) ClearInterrupt()        { e.pending.Store(false) }

type fakeEnv struct {
	mu       sync.Mutex
	readings []protocol.EnvironmentalReport
}

func (f *fakeEnv) Measure() (protocol.EnvironmentalReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.readings[0]
	if len(f.readings) > 1 {
		f.readings = f.readings[1:]
	}
	return r, nil
}

type fakeWatchdog struct{ feeds atomic.Int32 }

func (w *fakeWatchdog) Feed() { w.feeds.Add(1) }

type rig struct {
	app     *App
	base    *radio.BaseEndpoint
	pump    *fakePin
	valve   *fakePin
	edge    *fakeEdge
	wdt     *fakeWatchdog
	reboots chan struct{}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MoistureChannels = 2
	cfg.MoistureRest = time.Hour
	cfg.MoistureSettle = 30 * time.Millisecond
	cfg.EnvironmentalPeriod = time.Hour
	cfg.StatusPeriod = time.Hour
	cfg.MoistureStart = time.Hour
	cfg.EnvironmentalStart = time.Hour
	cfg.StatusStart = 5 * time.Millisecond
	cfg.WatchdogPeriod = 5 * time.Millisecond
	cfg.WatchdogTimeout = time.Second
	cfg.ListenSlots = 50
	cfg.PollDelay = 2 * time.Millisecond
	cfg.FrameGap = 5 * time.Millisecond
	return cfg
}

func startRig(t *testing.T, cfg Config, env *fakeEnv) *rig {
	t.Helper()
	if env == nil {
		env = &fakeEnv{readings: []protocol.EnvironmentalReport{{Temp: 30, Pressure: 100000, Humidity: 50}}}
	}
	air := radio.NewAir()
	r := &rig{
		base:    air.BaseStation(),
		pump:    &fakePin{},
		valve:   &fakePin{},
		edge:    &fakeEdge{},
		wdt:     &fakeWatchdog{},
		reboots: make(chan struct{}, 1),
	}
	app, err := New(cfg, Hardware{
		Radio:    air.FieldUnit(),
		Edge:     r.edge,
		Select:   [3]moisture.Pin{&fakePin{}, &fakePin{}, &fakePin{}},
		Env:      env,
		Pump:     r.pump,
		Valve:    r.valve,
		LED:      &fakePin{},
		Watchdog: r.wdt,
		Reboot: func() {
			select {
			case r.reboots <- struct{}{}:
			default:
			}
		},
	})
	require.NoError(t, err)
	r.app = app

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return r
}

// next returns the next frame heard by the base station.
func (r *rig) next(t *testing.T) protocol.Transmission[protocol.Message] {
	t.Helper()
	frame, err := r.base.Receive(context.Background(), 2*time.Second)
	require.NoError(t, err)
	msg, err := protocol.UnmarshalMessage(frame)
	require.NoError(t, err)
	return msg
}

// reply sends cmd inside the listen window that follows a received frame.
func (r *rig) reply(t *testing.T, cmd protocol.Command) {
	t.Helper()
	frame, err := protocol.MarshalCommand(protocol.Transmission[protocol.Command]{
		Src: protocol.BaseStationAddr,
		Msg: cmd,
	})
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, r.base.Transmit(context.Background(), frame))
}

func TestNew_Validation(t *testing.T) {
	air := radio.NewAir()
	hw := Hardware{Radio: air.FieldUnit()}
	_, err := New(testConfig(), hw)
	assert.ErrorContains(t, err, "missing hardware")

	cfg := testConfig()
	cfg.MoistureChannels = 9
	_, err = New(cfg, hw)
	assert.ErrorContains(t, err, "invalid config")

	cfg = testConfig()
	cfg.BaseAddress = cfg.Address
	assert.Error(t, cfg.Validate())

	cfg = testConfig()
	cfg.WatchdogPeriod = cfg.WatchdogTimeout
	assert.Error(t, cfg.Validate())
}

func TestApp_InitialStatus(t *testing.T) {
	r := startRig(t, testConfig(), nil)

	msg := r.next(t)
	assert.Equal(t, protocol.FieldUnitAddr, msg.Src)
	assert.Equal(t, protocol.StatusUpdate{}, msg.Msg)
	assert.False(t, r.pump.high.Load())
	assert.False(t, r.valve.high.Load())
}

func TestApp_SyncFlags(t *testing.T) {
	r := startRig(t, testConfig(), nil)
	r.next(t)

	r.reply(t, protocol.SyncFlags{Flags: protocol.PumpOn})
	msg := r.next(t)
	assert.Equal(t, protocol.StatusUpdate{Status: protocol.DeviceStatus{Flags: protocol.PumpOn}}, msg.Msg)
	assert.True(t, r.pump.high.Load())
	assert.False(t, r.valve.high.Load())
	assert.Equal(t, protocol.PumpOn, r.app.Status().Flags)

	// Re-sending the same flags is harmless and still acknowledged.
	r.reply(t, protocol.SyncFlags{Flags: protocol.PumpOn})
	msg = r.next(t)
	assert.Equal(t, protocol.StatusUpdate{Status: protocol.DeviceStatus{Flags: protocol.PumpOn}}, msg.Msg)

	r.reply(t, protocol.SyncFlags{Flags: protocol.ValveOpen})
	msg = r.next(t)
	assert.Equal(t, protocol.StatusUpdate{Status: protocol.DeviceStatus{Flags: protocol.ValveOpen}}, msg.Msg)
	assert.False(t, r.pump.high.Load())
	assert.True(t, r.valve.high.Load())
}

func TestApp_IgnoresForeignSender(t *testing.T) {
	r := startRig(t, testConfig(), nil)
	r.next(t)

	frame, err := protocol.MarshalCommand(protocol.Transmission[protocol.Command]{
		Src: 7,
		Msg: protocol.SyncFlags{Flags: protocol.PumpOn},
	})
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, r.base.Transmit(context.Background(), frame))

	_, err = r.base.Receive(context.Background(), 300*time.Millisecond)
	assert.ErrorIs(t, err, radio.ErrTimeout)
	assert.False(t, r.pump.high.Load())
}

func TestApp_Reset(t *testing.T) {
	r := startRig(t, testConfig(), nil)
	r.next(t)

	r.reply(t, protocol.Reset{})
	select {
	case <-r.reboots:
	case <-time.After(2 * time.Second):
		t.Fatal("reset was not executed")
	}
}

func TestApp_Environmental(t *testing.T) {
	cfg := testConfig()
	cfg.StatusStart = time.Hour
	cfg.EnvironmentalStart = 5 * time.Millisecond
	cfg.EnvironmentalPeriod = 150 * time.Millisecond
	env := &fakeEnv{readings: []protocol.EnvironmentalReport{
		{Temp: 30, Pressure: 100000, Humidity: 40, GasResistance: 1000},
		{Temp: 80, Pressure: 100000, Humidity: 40}, // glitch, 70 after offset
		{Temp: 31, Pressure: 100010, Humidity: 41},
	}}
	r := startRig(t, cfg, env)

	msg := r.next(t)
	assert.Equal(t, protocol.EnvironmentalReport{Temp: 20, Pressure: 100000, Humidity: 40, GasResistance: 1000}, msg.Msg)

	// The glitch is dropped and the baseline cleared, so the third
	// reading is accepted.
	msg = r.next(t)
	assert.Equal(t, protocol.EnvironmentalReport{Temp: 21, Pressure: 100010, Humidity: 41}, msg.Msg)
}

func TestApp_Moisture(t *testing.T) {
	cfg := testConfig()
	cfg.StatusStart = time.Hour
	cfg.MoistureStart = 5 * time.Millisecond
	r := startRig(t, cfg, nil)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				if r.edge.enabled.Load() {
					r.edge.pending.Store(true)
					r.app.EdgeInterrupt()
				}
			}
		}
	}()

	msg := r.next(t)
	report, ok := msg.Msg.(protocol.MoistureReport)
	require.True(t, ok, "got %T", msg.Msg)
	require.Len(t, report.Readings, 2)
	for _, reading := range report.Readings {
		assert.Greater(t, reading.Clocks, uint16(0))
		assert.GreaterOrEqual(t, reading.Duration, cfg.MoistureSettle)
	}
	assert.False(t, r.edge.enabled.Load())
}

func TestApp_FeedsWatchdog(t *testing.T) {
	r := startRig(t, testConfig(), nil)
	assert.Eventually(t, func() bool { return r.wdt.feeds.Load() >= 5 }, time.Second, 5*time.Millisecond)
}
