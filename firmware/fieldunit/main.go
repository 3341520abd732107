//go:build tinygo

//go:generate tinygo flash -target=feather-m0

package main

import (
	"context"
	"machine"
	"sync/atomic"
	"time"

	"github.com/itohio/garden/pkg/bme68x"
	"github.com/itohio/garden/pkg/fieldunit"
	"github.com/itohio/garden/pkg/moisture"
	"github.com/itohio/garden/pkg/sx127x"
)

// edgeInput counts rising edges of the moisture oscillator.
type edgeInput struct {
	pin     machine.Pin
	pending atomic.Bool
	onEdge  func()
}

func (e *edgeInput) EnableInterrupt() {
	// Interrupt context: atomic stores only.
	e.pin.SetInterrupt(machine.PinRising, func(machine.Pin) {
		e.pending.Store(true)
		e.onEdge()
	})
}

func (e *edgeInput) DisableInterrupt() {
	e.pin.SetInterrupt(0, nil)
}

func (e *edgeInput) InterruptPending() bool { return e.pending.Load() }
func (e *edgeInput) ClearInterrupt()        { e.pending.Store(false) }

type watchdog struct{}

func (watchdog) Feed() { machine.Watchdog.Update() }

func main() {
	for _, p := range []machine.Pin{PIN_PUMP, PIN_VALVE, PIN_SEL_A1, PIN_SEL_A2, PIN_SEL_A3, PIN_RADIO_CS, PIN_RADIO_RST, machine.LED} {
		p.Configure(machine.PinConfig{Mode: machine.PinOutput})
		p.Low()
	}
	PIN_MOISTURE.Configure(machine.PinConfig{Mode: machine.PinInput})
	PIN_RADIO_IRQ.Configure(machine.PinConfig{Mode: machine.PinInput})

	if err := machine.SPI0.Configure(machine.SPIConfig{Frequency: SPI_FREQUENCY, Mode: 0}); err != nil {
		fatal("spi", err)
	}
	if err := machine.I2C0.Configure(machine.I2CConfig{Frequency: I2C_FREQUENCY}); err != nil {
		fatal("i2c", err)
	}

	env := bme68x.New(machine.I2C0, bme68x.AddressHigh)
	if err := env.Init(); err != nil {
		fatal("bme68x", err)
	}

	cfg := fieldunit.DefaultConfig()
	edge := &edgeInput{pin: PIN_MOISTURE}
	hw := fieldunit.Hardware{
		Radio:    sx127x.New(machine.SPI0, PIN_RADIO_CS, PIN_RADIO_RST),
		Edge:     edge,
		Select:   [3]moisture.Pin{PIN_SEL_A1, PIN_SEL_A2, PIN_SEL_A3},
		Env:      env,
		Pump:     PIN_PUMP,
		Valve:    PIN_VALVE,
		LED:      machine.LED,
		Watchdog: watchdog{},
		Reboot:   machine.CPUReset,
	}

	app, err := fieldunit.New(cfg, hw)
	if err != nil {
		fatal("init", err)
	}
	edge.onEdge = app.EdgeInterrupt

	machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: WATCHDOG_TIMEOUT_MS})
	if err := machine.Watchdog.Start(); err != nil {
		fatal("watchdog", err)
	}

	if err := app.Run(context.Background()); err != nil {
		fatal("run", err)
	}
}

// fatal reports err and stops. Without the radio the unit cannot do anything
// useful, so it blinks until someone power cycles it.
func fatal(what string, err error) {
	for {
		println(what+":", err.Error())
		machine.LED.High()
		time.Sleep(100 * time.Millisecond)
		machine.LED.Low()
		time.Sleep(900 * time.Millisecond)
	}
}
