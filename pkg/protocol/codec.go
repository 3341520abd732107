package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// The radio encoding is positional and self-delimiting: unsigned integers and
// enum tags are LEB128 varints, float32 is 4 bytes little-endian, StatusFlags
// is one raw byte, sequences carry a varint length prefix and durations are
// encoded as (seconds, nanoseconds). The layout matches postcard, so frames
// interoperate with existing field units.

// AppendMessage appends the encoding of t to dst.
func AppendMessage(dst []byte, t Transmission[Message]) ([]byte, error) {
	start := len(dst)
	dst = binary.AppendUvarint(dst, uint64(t.Src))

	switch m := t.Msg.(type) {
	case MoistureReport:
		if len(m.Readings) > MaxMoistureChannels {
			return dst[:start], ErrTooManyChannels
		}
		dst = binary.AppendUvarint(dst, uint64(tagMoistureReport))
		dst = binary.AppendUvarint(dst, uint64(len(m.Readings)))
		for _, r := range m.Readings {
			dst = binary.AppendUvarint(dst, uint64(r.Clocks))
			dst = appendDuration(dst, r.Duration)
		}
	case EnvironmentalReport:
		dst = binary.AppendUvarint(dst, uint64(tagEnvironmentalReport))
		dst = appendFloat32(dst, m.Temp)
		dst = appendFloat32(dst, m.Pressure)
		dst = appendFloat32(dst, m.Humidity)
		dst = appendFloat32(dst, m.GasResistance)
	case StatusUpdate:
		dst = binary.AppendUvarint(dst, uint64(tagStatusUpdate))
		dst = append(dst, m.Status.Flags.Bits())
	default:
		return dst[:start], fmt.Errorf("%w: message %T", ErrUnknownVariant, t.Msg)
	}

	if len(dst)-start > MaxFrameSize {
		return dst[:start], ErrFrameTooLarge
	}
	return dst, nil
}

// MarshalMessage encodes t into a new slice.
func MarshalMessage(t Transmission[Message]) ([]byte, error) {
	return AppendMessage(make([]byte, 0, 64), t)
}

// UnmarshalMessage decodes a field-unit frame.
func UnmarshalMessage(data []byte) (Transmission[Message], error) {
	var t Transmission[Message]
	if len(data) > MaxFrameSize {
		return t, ErrFrameTooLarge
	}

	d := decoder{buf: data}
	t.Src = DevAddr(d.uint16())
	tag := d.uint32()
	if d.err != nil {
		return t, d.err
	}

	switch tag {
	case tagMoistureReport:
		n := d.uvarint(math.MaxUint32)
		if d.err == nil && n > MaxMoistureChannels {
			return t, ErrTooManyChannels
		}
		var report MoistureReport
		if n > 0 {
			report.Readings = make([]MoistureReading, 0, n)
		}
		for i := uint64(0); i < n && d.err == nil; i++ {
			clocks := d.uint16()
			report.Readings = append(report.Readings, MoistureReading{
				Clocks:   clocks,
				Duration: d.duration(),
			})
		}
		t.Msg = report
	case tagEnvironmentalReport:
		t.Msg = EnvironmentalReport{
			Temp:          d.float32(),
			Pressure:      d.float32(),
			Humidity:      d.float32(),
			GasResistance: d.float32(),
		}
	case tagStatusUpdate:
		t.Msg = StatusUpdate{Status: DeviceStatus{Flags: FlagsFromBits(d.byte())}}
	default:
		return t, fmt.Errorf("%w: message tag %d", ErrUnknownVariant, tag)
	}

	if err := d.finish(); err != nil {
		return Transmission[Message]{}, err
	}
	return t, nil
}

// AppendCommand appends the encoding of t to dst.
func AppendCommand(dst []byte, t Transmission[Command]) ([]byte, error) {
	start := len(dst)
	dst = binary.AppendUvarint(dst, uint64(t.Src))

	switch c := t.Msg.(type) {
	case SyncFlags:
		dst = binary.AppendUvarint(dst, uint64(tagSyncFlags))
		dst = append(dst, c.Flags.Bits())
	case Reset:
		dst = binary.AppendUvarint(dst, uint64(tagReset))
	default:
		return dst[:start], fmt.Errorf("%w: command %T", ErrUnknownVariant, t.Msg)
	}
	return dst, nil
}

// MarshalCommand encodes t into a new slice.
func MarshalCommand(t Transmission[Command]) ([]byte, error) {
	return AppendCommand(make([]byte, 0, 8), t)
}

// UnmarshalCommand decodes a base-station frame.
func UnmarshalCommand(data []byte) (Transmission[Command], error) {
	var t Transmission[Command]
	if len(data) > MaxFrameSize {
		return t, ErrFrameTooLarge
	}

	d := decoder{buf: data}
	t.Src = DevAddr(d.uint16())
	tag := d.uint32()
	if d.err != nil {
		return t, d.err
	}

	switch tag {
	case tagSyncFlags:
		t.Msg = SyncFlags{Flags: FlagsFromBits(d.byte())}
	case tagReset:
		t.Msg = Reset{}
	default:
		return t, fmt.Errorf("%w: command tag %d", ErrUnknownVariant, tag)
	}

	if err := d.finish(); err != nil {
		return Transmission[Command]{}, err
	}
	return t, nil
}

func appendFloat32(dst []byte, v float32) []byte {
	return binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
}

func appendDuration(dst []byte, d time.Duration) []byte {
	if d < 0 {
		d = 0
	}
	dst = binary.AppendUvarint(dst, uint64(d/time.Second))
	return binary.AppendUvarint(dst, uint64(d%time.Second))
}

// decoder reads sequentially and latches the first error.
type decoder struct {
	buf []byte
	err error
}

func (d *decoder) uvarint(max uint64) uint64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.buf)
	switch {
	case n == 0:
		d.err = ErrTruncated
		return 0
	case n < 0 || v > max:
		d.err = ErrVarintOverflow
		return 0
	}
	d.buf = d.buf[n:]
	return v
}

func (d *decoder) uint16() uint16 { return uint16(d.uvarint(math.MaxUint16)) }
func (d *decoder) uint32() uint32 { return uint32(d.uvarint(math.MaxUint32)) }

func (d *decoder) byte() uint8 {
	if d.err != nil {
		return 0
	}
	if len(d.buf) < 1 {
		d.err = ErrTruncated
		return 0
	}
	b := d.buf[0]
	d.buf = d.buf[1:]
	return b
}

func (d *decoder) float32() float32 {
	if d.err != nil {
		return 0
	}
	if len(d.buf) < 4 {
		d.err = ErrTruncated
		return 0
	}
	v := math.Float32frombits(binary.LittleEndian.Uint32(d.buf))
	d.buf = d.buf[4:]
	return v
}

func (d *decoder) duration() time.Duration {
	secs := d.uvarint(uint64(math.MaxInt64 / int64(time.Second)))
	nanos := d.uvarint(math.MaxUint32)
	if d.err != nil {
		return 0
	}
	if nanos >= uint64(time.Second) {
		d.err = ErrInvalidDuration
		return 0
	}
	return time.Duration(secs)*time.Second + time.Duration(nanos)
}

func (d *decoder) finish() error {
	if d.err != nil {
		return d.err
	}
	if len(d.buf) != 0 {
		return fmt.Errorf("%w: %d bytes", ErrTrailingData, len(d.buf))
	}
	return nil
}
