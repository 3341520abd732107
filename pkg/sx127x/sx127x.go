// Package sx127x drives Semtech SX1276/77/78/79 (HopeRF RFM95/96/98) LoRa
// transceivers over SPI. Device implements radio.Transceiver.
package sx127x

import (
	"errors"
	"fmt"
	"time"

	"github.com/itohio/garden/pkg/radio"
)

// Registers in LoRa mode.
const (
	regFifo               = 0x00
	regOpMode             = 0x01
	regFrfMsb             = 0x06
	regFrfMid             = 0x07
	regFrfLsb             = 0x08
	regPaConfig           = 0x09
	regOcp                = 0x0B
	regLna                = 0x0C
	regFifoAddrPtr        = 0x0D
	regFifoTxBaseAddr     = 0x0E
	regFifoRxBaseAddr     = 0x0F
	regFifoRxCurrentAddr  = 0x10
	regIrqFlags           = 0x12
	regRxNbBytes          = 0x13
	regPktSnrValue        = 0x19
	regPktRssiValue       = 0x1A
	regModemConfig1       = 0x1D
	regModemConfig2       = 0x1E
	regPreambleMsb        = 0x20
	regPreambleLsb        = 0x21
	regPayloadLength      = 0x22
	regModemConfig3       = 0x26
	regDetectionOptimize  = 0x31
	regDetectionThreshold = 0x37
	regSyncWord           = 0x39
	regVersion            = 0x42
	regPaDac              = 0x4D
)

const (
	modeLongRange = 0x80
	modeSleep     = 0x00
	modeStandby   = 0x01
	modeTx        = 0x03
	modeRxCont    = 0x05
)

const (
	irqRxDone     = 0x40
	irqCrcError   = 0x20
	irqTxDone     = 0x08
	irqAll        = 0xFF
	paBoost       = 0x80
	writeFlag     = 0x80
	chipVersion   = 0x12
	syncWord      = 0x12
	oscillatorHz  = 32_000_000
	maxPacketSize = 255
)

var (
	// ErrVersion is returned by Reset when the chip does not identify as an SX127x.
	ErrVersion = errors.New("sx127x: unexpected chip version")
	// ErrPacketSize is returned for empty or oversized frames and short buffers.
	ErrPacketSize = errors.New("sx127x: bad packet size")
)

// SPI is the bus the radio is attached to. TinyGo's machine.SPI satisfies it.
type SPI interface {
	Tx(w, r []byte) error
}

// Pin is a digital output. TinyGo's machine.Pin satisfies it.
type Pin interface {
	Set(high bool)
}

// Device is one transceiver.
type Device struct {
	spi SPI
	cs  Pin
	rst Pin

	sleep func(time.Duration)
	cfg   radio.Config

	crcErrors int
	rssi      int16
	snr       float32

	w [maxPacketSize + 1]byte
	r [maxPacketSize + 1]byte
}

var _ radio.Transceiver = (*Device)(nil)

// New returns a driver. rst may be nil when the reset line is not wired.
func New(spi SPI, cs, rst Pin) *Device {
	cs.Set(true)
	return &Device{spi: spi, cs: cs, rst: rst, sleep: time.Sleep, cfg: radio.DefaultConfig()}
}

// Version reads the silicon revision.
func (d *Device) Version() (uint8, error) {
	return d.read(regVersion)
}

// Reset pulses the reset line, verifies the chip and leaves it in LoRa standby.
func (d *Device) Reset() error {
	if d.rst != nil {
		d.rst.Set(false)
		d.sleep(time.Millisecond)
		d.rst.Set(true)
		d.sleep(10 * time.Millisecond)
	}
	v, err := d.Version()
	if err != nil {
		return err
	}
	if v != chipVersion {
		return fmt.Errorf("%w: 0x%02x", ErrVersion, v)
	}
	// The LoRa bit can only be changed in sleep mode.
	if err := d.write(regOpMode, modeLongRange|modeSleep); err != nil {
		return err
	}
	return d.write(regOpMode, modeLongRange|modeStandby)
}

// Configure programs the physical layer and returns to standby.
func (d *Device) Configure(cfg radio.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	bw, _ := cfg.BandwidthIndex()

	if err := d.write(regOpMode, modeLongRange|modeSleep); err != nil {
		return err
	}

	frf := uint64(cfg.Frequency) << 19 / oscillatorHz
	mc1 := bw<<4 | (cfg.CodingRate-4)<<1
	mc2 := cfg.SpreadingFactor << 4
	if cfg.CRC {
		mc2 |= 0x04
	}
	mc3 := byte(0x04) // AGC
	if cfg.LowDataRateOptimize() {
		mc3 |= 0x08
	}
	detectOpt, detectThr := byte(0xC3), byte(0x0A)
	if cfg.SpreadingFactor == 6 {
		detectOpt, detectThr = 0xC5, 0x0C
	}
	paConfig, paDac := paBoost|byte(cfg.TxPower-2), byte(0x84)
	if cfg.TxPower > 17 {
		paConfig, paDac = paBoost|byte(cfg.TxPower-5), 0x87
	}

	lna, err := d.read(regLna)
	if err != nil {
		return err
	}

	writes := [...][2]byte{
		{regFrfMsb, byte(frf >> 16)},
		{regFrfMid, byte(frf >> 8)},
		{regFrfLsb, byte(frf)},
		{regFifoTxBaseAddr, 0},
		{regFifoRxBaseAddr, 0},
		{regLna, lna | 0x03},
		{regModemConfig1, mc1},
		{regModemConfig2, mc2},
		{regModemConfig3, mc3},
		{regPreambleMsb, byte(cfg.Preamble >> 8)},
		{regPreambleLsb, byte(cfg.Preamble)},
		{regDetectionOptimize, detectOpt},
		{regDetectionThreshold, detectThr},
		{regSyncWord, syncWord},
		{regPaDac, paDac},
		{regPaConfig, paConfig},
		{regOcp, 0x20 | 0x0B},
		{regOpMode, modeLongRange | modeStandby},
	}
	for _, w := range writes {
		if err := d.write(w[0], w[1]); err != nil {
			return err
		}
	}
	d.cfg = cfg
	return nil
}

// StartTransmit loads frame into the FIFO and keys the transmitter.
func (d *Device) StartTransmit(frame []byte) error {
	if len(frame) == 0 || len(frame) > maxPacketSize {
		return fmt.Errorf("%w: %d", ErrPacketSize, len(frame))
	}
	if err := d.write(regOpMode, modeLongRange|modeStandby); err != nil {
		return err
	}
	if err := d.write(regFifoAddrPtr, 0); err != nil {
		return err
	}
	if err := d.burstWrite(regFifo, frame); err != nil {
		return err
	}
	if err := d.write(regPayloadLength, byte(len(frame))); err != nil {
		return err
	}
	if err := d.write(regIrqFlags, irqAll); err != nil {
		return err
	}
	return d.write(regOpMode, modeLongRange|modeTx)
}

// TransmitDone polls the TxDone interrupt flag.
func (d *Device) TransmitDone() (bool, error) {
	irq, err := d.read(regIrqFlags)
	if err != nil {
		return false, err
	}
	if irq&irqTxDone == 0 {
		return false, nil
	}
	return true, d.write(regIrqFlags, irqTxDone)
}

// StartReceive enters continuous receive.
func (d *Device) StartReceive() error {
	if err := d.write(regOpMode, modeLongRange|modeStandby); err != nil {
		return err
	}
	if err := d.write(regFifoAddrPtr, 0); err != nil {
		return err
	}
	if err := d.write(regIrqFlags, irqAll); err != nil {
		return err
	}
	return d.write(regOpMode, modeLongRange|modeRxCont)
}

// CheckReceive reports whether a frame with a valid CRC is waiting. Frames
// with a bad CRC are discarded and counted.
func (d *Device) CheckReceive() (bool, error) {
	irq, err := d.read(regIrqFlags)
	if err != nil {
		return false, err
	}
	if irq&irqRxDone == 0 {
		return false, nil
	}
	if irq&irqCrcError != 0 {
		d.crcErrors++
		return false, d.write(regIrqFlags, irqAll)
	}
	return true, nil
}

// Received reads the waiting frame into buf and records its signal quality.
func (d *Device) Received(buf []byte) (int, error) {
	n, err := d.read(regRxNbBytes)
	if err != nil {
		return 0, err
	}
	if int(n) > len(buf) {
		return 0, fmt.Errorf("%w: %d byte frame, %d byte buffer", ErrPacketSize, n, len(buf))
	}
	addr, err := d.read(regFifoRxCurrentAddr)
	if err != nil {
		return 0, err
	}
	if err := d.write(regFifoAddrPtr, addr); err != nil {
		return 0, err
	}
	if err := d.burstRead(regFifo, buf[:n]); err != nil {
		return 0, err
	}

	snr, err := d.read(regPktSnrValue)
	if err != nil {
		return 0, err
	}
	rssi, err := d.read(regPktRssiValue)
	if err != nil {
		return 0, err
	}
	d.snr = float32(int8(snr)) / 4
	d.rssi = int16(rssi) - 157
	if d.cfg.Frequency < 779_000_000 {
		d.rssi = int16(rssi) - 164
	}

	return int(n), d.write(regIrqFlags, irqAll)
}

// Packet returns the RSSI (dBm) and SNR (dB) of the last received frame.
func (d *Device) Packet() (rssi int16, snr float32) {
	return d.rssi, d.snr
}

// CRCErrors returns how many frames were dropped for a bad payload CRC.
func (d *Device) CRCErrors() int {
	return d.crcErrors
}

// Sleep puts the radio into its lowest power mode.
func (d *Device) Sleep() error {
	return d.write(regOpMode, modeLongRange|modeSleep)
}

func (d *Device) read(reg byte) (byte, error) {
	var v [1]byte
	if err := d.burstRead(reg, v[:]); err != nil {
		return 0, err
	}
	return v[0], nil
}

func (d *Device) write(reg, v byte) error {
	return d.burstWrite(reg, []byte{v})
}

func (d *Device) burstRead(reg byte, dst []byte) error {
	w, r := d.w[:len(dst)+1], d.r[:len(dst)+1]
	clear(w)
	w[0] = reg &^ writeFlag
	d.cs.Set(false)
	err := d.spi.Tx(w, r)
	d.cs.Set(true)
	if err != nil {
		return fmt.Errorf("sx127x: read 0x%02x: %w", reg, err)
	}
	copy(dst, r[1:])
	return nil
}

func (d *Device) burstWrite(reg byte, src []byte) error {
	w := d.w[:len(src)+1]
	w[0] = reg | writeFlag
	copy(w[1:], src)
	d.cs.Set(false)
	err := d.spi.Tx(w, nil)
	d.cs.Set(true)
	if err != nil {
		return fmt.Errorf("sx127x: write 0x%02x: %w", reg, err)
	}
	return nil
}
