// Package radio defines the LoRa transceiver abstractions shared by the
// field unit and the base station.
package radio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrTimeout is returned by Link.Receive when no frame arrived in time.
	ErrTimeout = errors.New("radio receive timeout")
	// ErrNotConnected is returned when the radio link is closed or not open yet.
	ErrNotConnected = errors.New("radio not connected")
	// ErrBusy is returned when an operation conflicts with the current mode.
	ErrBusy = errors.New("radio busy")
)

// Config is the LoRa physical layer configuration. Both ends must agree.
type Config struct {
	Frequency       uint32 `yaml:"frequency"`        // Hz
	Bandwidth       uint32 `yaml:"bandwidth"`        // Hz
	SpreadingFactor uint8  `yaml:"spreading_factor"` // 6..12
	CodingRate      uint8  `yaml:"coding_rate"`      // denominator of 4/x, 5..8
	CRC             bool   `yaml:"crc"`
	Preamble        uint16 `yaml:"preamble"`
	TxPower         int8   `yaml:"tx_power"` // dBm
}

// DefaultConfig is 868 MHz, 125 kHz, SF7, CR 4/8 with payload CRC.
func DefaultConfig() Config {
	return Config{
		Frequency:       868_000_000,
		Bandwidth:       125_000,
		SpreadingFactor: 7,
		CodingRate:      8,
		CRC:             true,
		Preamble:        8,
		TxPower:         10,
	}
}

var bandwidths = []uint32{7_800, 10_400, 15_600, 20_800, 31_250, 41_700, 62_500, 125_000, 250_000, 500_000}

// BandwidthIndex returns the register code of the bandwidth (0..9).
func (c Config) BandwidthIndex() (uint8, error) {
	for i, bw := range bandwidths {
		if bw == c.Bandwidth {
			return uint8(i), nil
		}
	}
	return 0, fmt.Errorf("unsupported bandwidth %d Hz", c.Bandwidth)
}

// Validate checks the configuration against the LoRa parameter ranges.
func (c Config) Validate() error {
	if c.Frequency < 137_000_000 || c.Frequency > 1_020_000_000 {
		return fmt.Errorf("frequency %d Hz out of range", c.Frequency)
	}
	if _, err := c.BandwidthIndex(); err != nil {
		return err
	}
	if c.SpreadingFactor < 6 || c.SpreadingFactor > 12 {
		return fmt.Errorf("spreading factor %d out of range 6..12", c.SpreadingFactor)
	}
	if c.CodingRate < 5 || c.CodingRate > 8 {
		return fmt.Errorf("coding rate 4/%d out of range 4/5..4/8", c.CodingRate)
	}
	if c.TxPower < 2 || c.TxPower > 20 {
		return fmt.Errorf("tx power %d dBm out of range 2..20", c.TxPower)
	}
	return nil
}

// LowDataRateOptimize reports whether the symbol time exceeds 16 ms.
func (c Config) LowDataRateOptimize() bool {
	return c.symbolTime() > 16*time.Millisecond
}

func (c Config) symbolTime() time.Duration {
	if c.Bandwidth == 0 {
		return 0
	}
	return time.Duration(float64(uint32(1)<<c.SpreadingFactor) / float64(c.Bandwidth) * float64(time.Second))
}

// TimeOnAir returns the airtime of an explicit-header packet of n payload bytes.
func (c Config) TimeOnAir(n int) time.Duration {
	tsym := c.symbolTime()
	if tsym == 0 {
		return 0
	}
	sf := float64(c.SpreadingFactor)
	crc, de := 0.0, 0.0
	if c.CRC {
		crc = 1
	}
	if c.LowDataRateOptimize() {
		de = 1
	}
	cr := float64(c.CodingRate - 4)

	symbols := math.Ceil((8*float64(n)-4*sf+28+16*crc)/(4*(sf-2*de))) * (cr + 4)
	payload := 8 + math.Max(symbols, 0)
	preamble := float64(c.Preamble) + 4.25
	return time.Duration((preamble + payload) * float64(tsym))
}

// Transceiver is the non-blocking radio interface of the field unit. Every
// call returns promptly; the caller polls between short delays.
type Transceiver interface {
	// StartTransmit keys the radio and begins sending frame.
	StartTransmit(frame []byte) error
	// TransmitDone reports whether the last transmission has completed.
	TransmitDone() (bool, error)
	// StartReceive switches the radio into continuous receive.
	StartReceive() error
	// CheckReceive reports whether a frame is waiting.
	CheckReceive() (bool, error)
	// Received copies the waiting frame into buf and returns its length.
	Received(buf []byte) (int, error)
	// Reset returns the radio to standby, dropping any state.
	Reset() error
	// Configure programs the physical layer.
	Configure(cfg Config) error
}

// Link is the blocking radio interface of the base station.
type Link interface {
	// Receive waits up to timeout for one frame. It returns ErrTimeout when
	// nothing arrived.
	Receive(ctx context.Context, timeout time.Duration) ([]byte, error)
	// Transmit sends one frame and returns once it is on air.
	Transmit(ctx context.Context, frame []byte) error
}
