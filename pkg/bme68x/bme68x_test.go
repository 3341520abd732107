package bme68x

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSensor struct {
	addr   uint16
	regs   [256]byte
	resets int
	stall  bool
	fail   error
}

func (s *fakeSensor) Tx(addr uint16, w, r []byte) error {
	if s.fail != nil {
		return s.fail
	}
	if addr != s.addr {
		return errors.New("nack")
	}
	reg := w[0]
	if len(w) == 2 {
		v := w[1]
		switch {
		case reg == regReset && v == softReset:
			s.resets++
		case reg == regCtrlMeas && v&0x03 == modeForced:
			s.regs[reg] = v &^ 0x03
			if !s.stall {
				s.regs[regStatus] |= newData
			}
		default:
			s.regs[reg] = v
		}
		return nil
	}
	for i := range r {
		r[i] = s.regs[int(reg)+i]
	}
	return nil
}

func (s *fakeSensor) put16(reg byte, v int) {
	u := uint16(int16(v))
	s.regs[reg] = byte(u)
	s.regs[reg+1] = byte(u >> 8)
}

func (s *fakeSensor) put20(reg byte, v uint32) {
	s.regs[reg] = byte(v >> 12)
	s.regs[reg+1] = byte(v >> 4)
	s.regs[reg+2] = byte(v << 4)
}

// newFakeSensor carries the factory trim of a real BME680.
func newFakeSensor() *fakeSensor {
	s := &fakeSensor{addr: AddressHigh}
	s.regs[regChipID] = chipID

	s.put16(0xE9, 26182) // t1
	s.put16(0x8A, 26330) // t2
	s.regs[0x8C] = 3     // t3

	s.put16(0x8E, 35894)  // p1
	s.put16(0x90, -10394) // p2
	s.regs[0x92] = 88     // p3
	s.put16(0x94, 7023)   // p4
	s.put16(0x96, -125)   // p5
	s.regs[0x99] = 30     // p6
	s.regs[0x98] = 44     // p7
	s.put16(0x9C, -3030)  // p8
	s.put16(0x9E, -2375)  // p9
	s.regs[0xA0] = 30     // p10

	// h1 = 784, h2 = 1009
	s.regs[0xE1] = 0x3F
	s.regs[0xE2] = 0x10
	s.regs[0xE3] = 0x31
	s.regs[0xE4] = 0   // h3
	s.regs[0xE5] = 45  // h4
	s.regs[0xE6] = 20  // h5
	s.regs[0xE7] = 120 // h6
	s.regs[0xE8] = 156 // h7 = -100

	s.put20(0x1F, 380000)
	s.put20(0x22, 513000)
	s.regs[0x25] = 0x55
	s.regs[0x26] = 0xF0 // 22000
	return s
}

func newTestDevice(t *testing.T, s *fakeSensor) *Device {
	t.Helper()
	d := New(s, AddressHigh)
	d.sleep = func(time.Duration) {}
	return d
}

func TestInit(t *testing.T) {
	s := newFakeSensor()
	d := newTestDevice(t, s)
	require.NoError(t, d.Init())

	assert.Equal(t, 1, s.resets)
	assert.Equal(t, byte(osrsHumX2), s.regs[regCtrlHum])
	assert.Equal(t, byte(osrsTempX8|osrsPresX4), s.regs[regCtrlMeas])
	assert.Equal(t, byte(filterSize3), s.regs[regConfig])
	assert.Zero(t, s.regs[regCtrlGas1])

	c := d.calib
	assert.Equal(t, uint16(26182), c.t1)
	assert.Equal(t, int16(-10394), c.p2)
	assert.Equal(t, int8(44), c.p7)
	assert.Equal(t, int8(30), c.p6)
	assert.Equal(t, uint16(784), c.h1)
	assert.Equal(t, uint16(1009), c.h2)
	assert.Equal(t, int8(-100), c.h7)
}

func TestInit_WrongChip(t *testing.T) {
	s := newFakeSensor()
	s.regs[regChipID] = 0x60
	err := newTestDevice(t, s).Init()
	require.ErrorIs(t, err, ErrChipID)
	assert.Zero(t, s.resets)
}

func TestInit_WrongAddress(t *testing.T) {
	s := newFakeSensor()
	d := New(s, AddressLow)
	assert.Error(t, d.Init())
}

func TestMeasure(t *testing.T) {
	s := newFakeSensor()
	d := newTestDevice(t, s)
	require.NoError(t, d.Init())

	r, err := d.Measure()
	require.NoError(t, err)
	assert.InDelta(t, 29.537, r.Temp, 0.01)
	assert.InDelta(t, 97483.07, r.Pressure, 2)
	assert.InDelta(t, 49.399, r.Humidity, 0.05)
	assert.Zero(t, r.GasResistance)
	_, err = r.SanityCheck(nil)
	assert.NoError(t, err)
}

func TestMeasure_HumidityClamped(t *testing.T) {
	s := newFakeSensor()
	s.regs[0x25], s.regs[0x26] = 0xFF, 0xFF
	d := newTestDevice(t, s)
	require.NoError(t, d.Init())

	r, err := d.Measure()
	require.NoError(t, err)
	assert.Equal(t, float32(100), r.Humidity)
}

func TestMeasure_NotReady(t *testing.T) {
	s := newFakeSensor()
	s.stall = true
	d := newTestDevice(t, s)
	require.NoError(t, d.Init())

	_, err := d.Measure()
	assert.ErrorIs(t, err, ErrNoData)
}

func TestMeasure_BusError(t *testing.T) {
	s := newFakeSensor()
	d := newTestDevice(t, s)
	require.NoError(t, d.Init())

	boom := errors.New("boom")
	s.fail = boom
	_, err := d.Measure()
	assert.ErrorIs(t, err, boom)
}
