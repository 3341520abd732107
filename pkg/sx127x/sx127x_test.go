package sx127x

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/garden/pkg/radio"
)

type fakePin struct {
	high    bool
	toggles int
}

func (p *fakePin) Set(high bool) {
	p.high = high
	p.toggles++
}

// fakeChip models the SX127x register file and FIFO closely enough to exercise
// the driver: auto-incrementing bursts, write-one-to-clear IRQ flags and an
// instantaneous transmitter.
type fakeChip struct {
	cs   *fakePin
	regs [0x80]byte
	fifo [256]byte

	sent [][]byte
	fail error
}

func newFakeChip() *fakeChip {
	c := &fakeChip{cs: &fakePin{high: true}}
	c.regs[regVersion] = chipVersion
	c.regs[regLna] = 0x20
	return c
}

func (c *fakeChip) Tx(w, r []byte) error {
	if c.fail != nil {
		return c.fail
	}
	if c.cs.high {
		return errors.New("chip select not asserted")
	}
	addr := w[0] &^ writeFlag
	if w[0]&writeFlag != 0 {
		for i, v := range w[1:] {
			c.store(addr, byte(i), v)
		}
		return nil
	}
	for i := range r[1:] {
		r[i+1] = c.load(addr, byte(i))
	}
	return nil
}

func (c *fakeChip) store(addr, off, v byte) {
	if addr == regFifo {
		c.fifo[c.regs[regFifoAddrPtr]] = v
		c.regs[regFifoAddrPtr]++
		return
	}
	reg := addr + off
	switch reg {
	case regIrqFlags:
		c.regs[reg] &^= v
	case regOpMode:
		c.regs[reg] = v
		if v&0x07 == modeTx {
			base := c.regs[regFifoTxBaseAddr]
			n := int(c.regs[regPayloadLength])
			c.sent = append(c.sent, append([]byte(nil), c.fifo[base:int(base)+n]...))
			c.regs[regIrqFlags] |= irqTxDone
			c.regs[reg] = v&^0x07 | modeStandby
		}
	default:
		c.regs[reg] = v
	}
}

func (c *fakeChip) load(addr, off byte) byte {
	if addr == regFifo {
		v := c.fifo[c.regs[regFifoAddrPtr]]
		c.regs[regFifoAddrPtr]++
		return v
	}
	return c.regs[addr+off]
}

// deliver places frame into the FIFO the way the modem does on RxDone.
func (c *fakeChip) deliver(frame []byte, flags byte) {
	const at = 0x40
	copy(c.fifo[at:], frame)
	c.regs[regFifoRxCurrentAddr] = at
	c.regs[regRxNbBytes] = byte(len(frame))
	c.regs[regIrqFlags] |= flags
	c.regs[regPktRssiValue] = 80
	c.regs[regPktSnrValue] = 0xF6 // -10 / 4
}

func newTestDevice(t *testing.T) (*Device, *fakeChip, *fakePin) {
	t.Helper()
	chip := newFakeChip()
	rst := &fakePin{high: true}
	d := New(chip, chip.cs, rst)
	d.sleep = func(time.Duration) {}
	require.NoError(t, d.Reset())
	require.NoError(t, d.Configure(radio.DefaultConfig()))
	return d, chip, rst
}

func TestReset(t *testing.T) {
	d, chip, rst := newTestDevice(t)
	assert.True(t, rst.high)
	assert.Equal(t, 2, rst.toggles)
	assert.Equal(t, byte(modeLongRange|modeStandby), chip.regs[regOpMode])

	v, err := d.Version()
	require.NoError(t, err)
	assert.Equal(t, uint8(chipVersion), v)
}

func TestReset_WrongChip(t *testing.T) {
	chip := newFakeChip()
	chip.regs[regVersion] = 0x22
	d := New(chip, chip.cs, nil)
	err := d.Reset()
	require.ErrorIs(t, err, ErrVersion)
	assert.Contains(t, err.Error(), "0x22")
}

func TestConfigure(t *testing.T) {
	_, chip, _ := newTestDevice(t)

	// 868 MHz
	assert.Equal(t, byte(0xD9), chip.regs[regFrfMsb])
	assert.Equal(t, byte(0x00), chip.regs[regFrfMid])
	assert.Equal(t, byte(0x00), chip.regs[regFrfLsb])
	// BW125 (7), CR 4/8 (4), explicit header
	assert.Equal(t, byte(0x78), chip.regs[regModemConfig1])
	// SF7, CRC on
	assert.Equal(t, byte(0x74), chip.regs[regModemConfig2])
	assert.Equal(t, byte(0x04), chip.regs[regModemConfig3])
	assert.Equal(t, byte(8), chip.regs[regPreambleLsb])
	assert.Equal(t, byte(paBoost|8), chip.regs[regPaConfig])
	assert.Equal(t, byte(0x84), chip.regs[regPaDac])
	assert.Equal(t, byte(0x23), chip.regs[regLna])
	assert.Equal(t, byte(syncWord), chip.regs[regSyncWord])
}

func TestConfigure_HighPowerSlowRate(t *testing.T) {
	d, chip, _ := newTestDevice(t)
	cfg := radio.DefaultConfig()
	cfg.TxPower = 20
	cfg.SpreadingFactor = 12
	require.NoError(t, d.Configure(cfg))

	assert.Equal(t, byte(0x87), chip.regs[regPaDac])
	assert.Equal(t, byte(paBoost|15), chip.regs[regPaConfig])
	assert.Equal(t, byte(0x0C), chip.regs[regModemConfig3], "low data rate optimize")
}

func TestConfigure_Invalid(t *testing.T) {
	d, _, _ := newTestDevice(t)
	cfg := radio.DefaultConfig()
	cfg.Bandwidth = 100_000
	assert.Error(t, d.Configure(cfg))
}

func TestTransmit(t *testing.T) {
	d, chip, _ := newTestDevice(t)
	frame := []byte{0x45, 0x00, 0x02, 0x01}

	require.NoError(t, d.StartTransmit(frame))
	done, err := d.TransmitDone()
	require.NoError(t, err)
	assert.True(t, done)
	require.Len(t, chip.sent, 1)
	assert.Equal(t, frame, chip.sent[0])
	assert.Zero(t, chip.regs[regIrqFlags]&irqTxDone, "flag cleared")

	done, err = d.TransmitDone()
	require.NoError(t, err)
	assert.False(t, done)
}

func TestTransmit_Size(t *testing.T) {
	d, _, _ := newTestDevice(t)
	assert.ErrorIs(t, d.StartTransmit(nil), ErrPacketSize)
	assert.ErrorIs(t, d.StartTransmit(make([]byte, 256)), ErrPacketSize)
}

func TestReceive(t *testing.T) {
	d, chip, _ := newTestDevice(t)
	require.NoError(t, d.StartReceive())
	assert.Equal(t, byte(modeLongRange|modeRxCont), chip.regs[regOpMode])

	ok, err := d.CheckReceive()
	require.NoError(t, err)
	assert.False(t, ok)

	frame := []byte{0x45, 0x00, 0x00}
	chip.deliver(frame, irqRxDone)
	ok, err = d.CheckReceive()
	require.NoError(t, err)
	require.True(t, ok)

	buf := make([]byte, 255)
	n, err := d.Received(buf)
	require.NoError(t, err)
	assert.Equal(t, frame, buf[:n])
	assert.Zero(t, chip.regs[regIrqFlags])

	rssi, snr := d.Packet()
	assert.Equal(t, int16(80-157), rssi)
	assert.InDelta(t, -2.5, snr, 1e-6)
}

func TestReceive_CRCError(t *testing.T) {
	d, chip, _ := newTestDevice(t)
	require.NoError(t, d.StartReceive())
	chip.deliver([]byte{1, 2, 3}, irqRxDone|irqCrcError)

	ok, err := d.CheckReceive()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, d.CRCErrors())
	assert.Zero(t, chip.regs[regIrqFlags])
}

func TestReceived_ShortBuffer(t *testing.T) {
	d, chip, _ := newTestDevice(t)
	chip.deliver([]byte{1, 2, 3, 4}, irqRxDone)
	_, err := d.Received(make([]byte, 2))
	assert.ErrorIs(t, err, ErrPacketSize)
}

func TestBusError(t *testing.T) {
	d, chip, _ := newTestDevice(t)
	boom := errors.New("boom")
	chip.fail = boom
	_, err := d.CheckReceive()
	assert.ErrorIs(t, err, boom)
	assert.True(t, chip.cs.high, "chip select released")
}
