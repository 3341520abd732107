// Package bme68x reads temperature, pressure and humidity from a Bosch
// BME680/BME688 over I2C using forced mode with the gas heater off.
package bme68x

import (
	"errors"
	"fmt"
	"time"

	"github.com/chewxy/math32"

	"github.com/itohio/garden/pkg/protocol"
)

// I2C addresses selected by the SDO pin.
const (
	AddressLow  = 0x76
	AddressHigh = 0x77
)

const (
	regStatus   = 0x1D
	regCtrlGas1 = 0x71
	regCtrlHum  = 0x72
	regCtrlMeas = 0x74
	regConfig   = 0x75
	regChipID   = 0xD0
	regReset    = 0xE0
	regCalib1   = 0x8A // 0x8A..0xA0
	regCalib2   = 0xE1 // 0xE1..0xEA

	calib1Len = 23
	calib2Len = 10
	fieldLen  = 11 // 0x1D..0x27

	chipID      = 0x61
	softReset   = 0xB6
	newData     = 0x80
	modeForced  = 0x01
	osrsHumX2   = 0x02
	osrsTempX8  = 0x04 << 5
	osrsPresX4  = 0x03 << 2
	filterSize3 = 0x02 << 2
)

var (
	// ErrChipID is returned by Init when the device is not a BME68x.
	ErrChipID = errors.New("bme68x: unexpected chip id")
	// ErrNoData is returned when a forced measurement does not complete.
	ErrNoData = errors.New("bme68x: measurement not ready")
)

// I2C is the bus the sensor hangs off. TinyGo's machine.I2C satisfies it.
type I2C interface {
	Tx(addr uint16, w, r []byte) error
}

type calibration struct {
	t1 uint16
	t2 int16
	t3 int8

	p1  uint16
	p2  int16
	p3  int8
	p4  int16
	p5  int16
	p6  int8
	p7  int8
	p8  int16
	p9  int16
	p10 uint8

	h1 uint16
	h2 uint16
	h3 int8
	h4 int8
	h5 int8
	h6 uint8
	h7 int8
}

// Device is one sensor.
type Device struct {
	bus   I2C
	addr  uint16
	calib calibration
	sleep func(time.Duration)
}

// New returns a driver for the sensor at addr. Call Init before Measure.
func New(bus I2C, addr uint16) *Device {
	return &Device{bus: bus, addr: addr, sleep: time.Sleep}
}

// Init resets the sensor, checks its identity, loads the factory calibration
// and programs oversampling and the IIR filter.
func (d *Device) Init() error {
	id, err := d.read(regChipID)
	if err != nil {
		return err
	}
	if id != chipID {
		return fmt.Errorf("%w: 0x%02x", ErrChipID, id)
	}
	if err := d.write(regReset, softReset); err != nil {
		return err
	}
	d.sleep(10 * time.Millisecond)

	var c1 [calib1Len]byte
	var c2 [calib2Len]byte
	if err := d.readInto(regCalib1, c1[:]); err != nil {
		return err
	}
	if err := d.readInto(regCalib2, c2[:]); err != nil {
		return err
	}
	d.calib = parseCalibration(c1, c2)

	for _, w := range [...][2]byte{
		{regCtrlHum, osrsHumX2},
		{regConfig, filterSize3},
		{regCtrlGas1, 0},
		{regCtrlMeas, osrsTempX8 | osrsPresX4},
	} {
		if err := d.write(w[0], w[1]); err != nil {
			return err
		}
	}
	return nil
}

func parseCalibration(c1 [calib1Len]byte, c2 [calib2Len]byte) calibration {
	u16 := func(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
	// c1 starts at 0x8A, c2 at 0xE1.
	return calibration{
		t1: u16(c2[8:]),
		t2: int16(u16(c1[0:])),
		t3: int8(c1[2]),

		p1:  u16(c1[4:]),
		p2:  int16(u16(c1[6:])),
		p3:  int8(c1[8]),
		p4:  int16(u16(c1[10:])),
		p5:  int16(u16(c1[12:])),
		p7:  int8(c1[14]),
		p6:  int8(c1[15]),
		p8:  int16(u16(c1[18:])),
		p9:  int16(u16(c1[20:])),
		p10: c1[22],

		h1: uint16(c2[2])<<4 | uint16(c2[1]&0x0F),
		h2: uint16(c2[0])<<4 | uint16(c2[1]>>4),
		h3: int8(c2[3]),
		h4: int8(c2[4]),
		h5: int8(c2[5]),
		h6: c2[6],
		h7: int8(c2[7]),
	}
}

// Measure triggers one forced-mode conversion and returns the compensated
// result. GasResistance is always zero since the heater stays off.
func (d *Device) Measure() (protocol.EnvironmentalReport, error) {
	if err := d.write(regCtrlMeas, osrsTempX8|osrsPresX4|modeForced); err != nil {
		return protocol.EnvironmentalReport{}, err
	}

	var raw [fieldLen]byte
	for attempt := 0; ; attempt++ {
		if attempt == 10 {
			return protocol.EnvironmentalReport{}, ErrNoData
		}
		d.sleep(10 * time.Millisecond)
		if err := d.readInto(regStatus, raw[:]); err != nil {
			return protocol.EnvironmentalReport{}, err
		}
		if raw[0]&newData != 0 {
			break
		}
	}

	pres := uint32(raw[2])<<12 | uint32(raw[3])<<4 | uint32(raw[4])>>4
	temp := uint32(raw[5])<<12 | uint32(raw[6])<<4 | uint32(raw[7])>>4
	hum := uint16(raw[8])<<8 | uint16(raw[9])

	tFine := d.calib.tFine(temp)
	return protocol.EnvironmentalReport{
		Temp:     tFine / 5120,
		Pressure: d.calib.pressure(pres, tFine),
		Humidity: d.calib.humidity(hum, tFine),
	}, nil
}

func (c calibration) tFine(adc uint32) float32 {
	t := float32(adc)
	t1 := float32(c.t1)
	v1 := (t/16384 - t1/1024) * float32(c.t2)
	v2 := t/131072 - t1/8192
	v2 = v2 * v2 * float32(c.t3) * 16
	return v1 + v2
}

// pressure returns Pa.
func (c calibration) pressure(adc uint32, tFine float32) float32 {
	v1 := tFine/2 - 64000
	v2 := v1 * v1 * float32(c.p6) / 131072
	v2 += v1 * float32(c.p5) * 2
	v2 = v2/4 + float32(c.p4)*65536
	v1 = (float32(c.p3)*v1*v1/16384 + float32(c.p2)*v1) / 524288
	v1 = (1 + v1/32768) * float32(c.p1)
	if v1 == 0 {
		return 0
	}

	p := 1048576 - float32(adc)
	p = (p - v2/4096) * 6250 / v1
	v1 = float32(c.p9) * p * p / 2147483648
	v2 = p * float32(c.p8) / 32768
	v3 := math32.Pow(p/256, 3) * float32(c.p10) / 131072
	return p + (v1+v2+v3+float32(c.p7)*128)/16
}

// humidity returns %RH clamped to 0..100.
func (c calibration) humidity(adc uint16, tFine float32) float32 {
	t := tFine / 5120
	v1 := float32(adc) - (float32(c.h1)*16 + float32(c.h3)/2*t)
	v2 := v1 * (float32(c.h2) / 262144 * (1 + float32(c.h4)/16384*t + float32(c.h5)/1048576*t*t))
	v3 := float32(c.h6) / 16384
	v4 := float32(c.h7) / 2097152
	h := v2 + (v3+v4*t)*v2*v2
	return math32.Min(math32.Max(h, 0), 100)
}

func (d *Device) read(reg byte) (byte, error) {
	var v [1]byte
	err := d.readInto(reg, v[:])
	return v[0], err
}

func (d *Device) readInto(reg byte, dst []byte) error {
	if err := d.bus.Tx(d.addr, []byte{reg}, dst); err != nil {
		return fmt.Errorf("bme68x: read 0x%02x: %w", reg, err)
	}
	return nil
}

func (d *Device) write(reg, v byte) error {
	if err := d.bus.Tx(d.addr, []byte{reg, v}, nil); err != nil {
		return fmt.Errorf("bme68x: write 0x%02x: %w", reg, err)
	}
	return nil
}
