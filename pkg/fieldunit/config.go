package fieldunit

import (
	"fmt"
	"time"

	"github.com/itohio/garden/pkg/moisture"
	"github.com/itohio/garden/pkg/protocol"
	"github.com/itohio/garden/pkg/radio"
)

// Config holds the field unit's timing, addressing and radio parameters.
type Config struct {
	Address          protocol.DevAddr `yaml:"address"`
	BaseAddress      protocol.DevAddr `yaml:"base_address"`
	MoistureChannels int              `yaml:"moisture_channels"`

	MoistureRest        time.Duration `yaml:"moisture_rest"`
	MoistureSettle      time.Duration `yaml:"moisture_settle"`
	EnvironmentalPeriod time.Duration `yaml:"environmental_period"`
	StatusPeriod        time.Duration `yaml:"status_period"`
	MoistureStart       time.Duration `yaml:"moisture_start"`
	EnvironmentalStart  time.Duration `yaml:"environmental_start"`
	StatusStart         time.Duration `yaml:"status_start"`
	WatchdogPeriod      time.Duration `yaml:"watchdog_period"`
	WatchdogTimeout     time.Duration `yaml:"watchdog_timeout"`

	ListenSlots     int           `yaml:"listen_slots"`
	PollDelay       time.Duration `yaml:"poll_delay"`
	TransmitTimeout time.Duration `yaml:"transmit_timeout"`
	FrameGap        time.Duration `yaml:"frame_gap"`

	// TempOffset corrects sensor self-heating, in °C.
	TempOffset float32      `yaml:"temp_offset"`
	Radio      radio.Config `yaml:"radio"`
}

// DefaultConfig returns the deployed field unit settings.
func DefaultConfig() Config {
	return Config{
		Address:             protocol.FieldUnitAddr,
		BaseAddress:         protocol.BaseStationAddr,
		MoistureChannels:    3,
		MoistureRest:        moisture.DefaultRestDelay,
		MoistureSettle:      moisture.DefaultSettleDelay,
		EnvironmentalPeriod: 60 * time.Second,
		StatusPeriod:        10 * time.Second,
		MoistureStart:       3 * time.Second,
		EnvironmentalStart:  5 * time.Second,
		StatusStart:         10 * time.Second,
		WatchdogPeriod:      100 * time.Millisecond,
		WatchdogTimeout:     2 * time.Second,
		ListenSlots:         50,
		PollDelay:           10 * time.Millisecond,
		TransmitTimeout:     2 * time.Second,
		FrameGap:            50 * time.Millisecond,
		TempOffset:          -10,
		Radio:               radio.DefaultConfig(),
	}
}

// Validate rejects configurations the firmware cannot run with.
func (c Config) Validate() error {
	if c.Address == c.BaseAddress {
		return fmt.Errorf("field unit and base station share address %d", c.Address)
	}
	if c.MoistureChannels < 1 || c.MoistureChannels > protocol.MaxMoistureChannels {
		return fmt.Errorf("moisture channels %d out of range 1..%d", c.MoistureChannels, protocol.MaxMoistureChannels)
	}
	if c.WatchdogPeriod <= 0 || c.WatchdogPeriod >= c.WatchdogTimeout {
		return fmt.Errorf("watchdog period %v must be positive and below timeout %v", c.WatchdogPeriod, c.WatchdogTimeout)
	}
	if c.ListenSlots < 0 || c.PollDelay <= 0 {
		return fmt.Errorf("invalid listen window: %d slots of %v", c.ListenSlots, c.PollDelay)
	}
	return c.Radio.Validate()
}
