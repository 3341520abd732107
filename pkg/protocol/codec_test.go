package protocol

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{
			name: "moisture report",
			msg: MoistureReport{Readings: []MoistureReading{
				{Clocks: 17, Duration: time.Second},
				{Clocks: 0, Duration: 0},
				{Clocks: 65535, Duration: 1500 * time.Millisecond},
			}},
		},
		{
			name: "empty moisture report",
			msg:  MoistureReport{},
		},
		{
			name: "full moisture report",
			msg:  MoistureReport{Readings: make([]MoistureReading, MaxMoistureChannels)},
		},
		{
			name: "environmental report",
			msg:  EnvironmentalReport{Temp: 21.5, Pressure: 101325, Humidity: 48.25, GasResistance: 12000},
		},
		{
			name: "status update",
			msg:  StatusUpdate{Status: DeviceStatus{Flags: PumpOn | ValveOpen}},
		},
		{
			name: "status update empty",
			msg:  StatusUpdate{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := Transmission[Message]{Src: FieldUnitAddr, Msg: tt.msg}
			data, err := MarshalMessage(in)
			require.NoError(t, err)
			assert.LessOrEqual(t, len(data), MaxFrameSize)

			out, err := UnmarshalMessage(data)
			require.NoError(t, err)
			assert.Equal(t, in, out)
		})
	}
}

func TestEmptyMoistureReport_DecodesToZeroValue(t *testing.T) {
	nilData, err := MarshalMessage(Transmission[Message]{Src: FieldUnitAddr, Msg: MoistureReport{}})
	require.NoError(t, err)
	emptyData, err := MarshalMessage(Transmission[Message]{Src: FieldUnitAddr, Msg: MoistureReport{Readings: []MoistureReading{}}})
	require.NoError(t, err)
	assert.Equal(t, nilData, emptyData)

	out, err := UnmarshalMessage(emptyData)
	require.NoError(t, err)
	report, ok := out.Msg.(MoistureReport)
	require.True(t, ok)
	assert.Nil(t, report.Readings)
	assert.Equal(t, MoistureReport{}, report)
}

func TestCommandRoundTrip(t *testing.T) {
	for _, cmd := range []Command{
		SyncFlags{},
		SyncFlags{Flags: PumpOn},
		SyncFlags{Flags: ValveOpen},
		SyncFlags{Flags: PumpOn | ValveOpen},
		Reset{},
	} {
		in := Transmission[Command]{Src: BaseStationAddr, Msg: cmd}
		data, err := MarshalCommand(in)
		require.NoError(t, err)

		out, err := UnmarshalCommand(data)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	}
}

func TestWireLayout(t *testing.T) {
	tests := []struct {
		name string
		enc  func() ([]byte, error)
		want []byte
	}{
		{
			name: "status update",
			enc: func() ([]byte, error) {
				return MarshalMessage(Transmission[Message]{Src: FieldUnitAddr, Msg: StatusUpdate{Status: DeviceStatus{Flags: PumpOn}}})
			},
			want: []byte{0x69, 0x02, 0x01},
		},
		{
			name: "moisture report",
			enc: func() ([]byte, error) {
				return MarshalMessage(Transmission[Message]{Src: FieldUnitAddr, Msg: MoistureReport{Readings: []MoistureReading{
					{Clocks: 300, Duration: 1500 * time.Millisecond},
				}}})
			},
			want: []byte{0x69, 0x00, 0x01, 0xac, 0x02, 0x01, 0x80, 0xca, 0xb5, 0xee, 0x01},
		},
		{
			name: "environmental report",
			enc: func() ([]byte, error) {
				return MarshalMessage(Transmission[Message]{Src: FieldUnitAddr, Msg: EnvironmentalReport{Temp: 21.5, Pressure: 101325}})
			},
			want: []byte{0x69, 0x01, 0x00, 0x00, 0xac, 0x41, 0x80, 0xe6, 0xc5, 0x47, 0, 0, 0, 0, 0, 0, 0, 0},
		},
		{
			name: "sync flags",
			enc: func() ([]byte, error) {
				return MarshalCommand(Transmission[Command]{Src: BaseStationAddr, Msg: SyncFlags{Flags: PumpOn | ValveOpen}})
			},
			want: []byte{0x45, 0x00, 0x03},
		},
		{
			name: "reset",
			enc: func() ([]byte, error) {
				return MarshalCommand(Transmission[Command]{Src: BaseStationAddr, Msg: Reset{}})
			},
			want: []byte{0x45, 0x01},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.enc()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAppendMessage_ReusesBuffer(t *testing.T) {
	var buf [MaxFrameSize]byte
	frame, err := AppendMessage(buf[:0], Transmission[Message]{Src: FieldUnitAddr, Msg: StatusUpdate{}})
	require.NoError(t, err)
	assert.Same(t, &buf[0], &frame[0])
}

func TestMarshalMessage_Errors(t *testing.T) {
	_, err := MarshalMessage(Transmission[Message]{Src: FieldUnitAddr})
	assert.ErrorIs(t, err, ErrUnknownVariant)

	_, err = MarshalMessage(Transmission[Message]{Src: FieldUnitAddr, Msg: MoistureReport{
		Readings: make([]MoistureReading, MaxMoistureChannels+1),
	}})
	assert.ErrorIs(t, err, ErrTooManyChannels)

	_, err = MarshalCommand(Transmission[Command]{Src: BaseStationAddr})
	assert.ErrorIs(t, err, ErrUnknownVariant)
}

func TestUnmarshal_Errors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{name: "empty", data: nil, want: ErrTruncated},
		{name: "missing tag", data: []byte{0x69}, want: ErrTruncated},
		{name: "unknown tag", data: []byte{0x69, 0x07}, want: ErrUnknownVariant},
		{name: "missing flags", data: []byte{0x69, 0x02}, want: ErrTruncated},
		{name: "trailing data", data: []byte{0x69, 0x02, 0x01, 0xff}, want: ErrTrailingData},
		{name: "short float", data: []byte{0x69, 0x01, 0x00, 0x00}, want: ErrTruncated},
		{name: "too many channels", data: []byte{0x69, 0x00, 0x09}, want: ErrTooManyChannels},
		{name: "address overflow", data: []byte{0xff, 0xff, 0x7f, 0x02, 0x00}, want: ErrVarintOverflow},
		{name: "bad nanos", data: []byte{0x69, 0x00, 0x01, 0x01, 0x00, 0x80, 0x94, 0xeb, 0xdc, 0x03}, want: ErrInvalidDuration},
		{name: "oversized", data: bytes.Repeat([]byte{0}, MaxFrameSize+1), want: ErrFrameTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalMessage(tt.data)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := UnmarshalCommand([]byte{0x45, 0x02})
	assert.ErrorIs(t, err, ErrUnknownVariant)
	_, err = UnmarshalCommand([]byte{0x45, 0x00})
	assert.ErrorIs(t, err, ErrTruncated)
	_, err = UnmarshalCommand([]byte{0x45, 0x01, 0x00})
	assert.ErrorIs(t, err, ErrTrailingData)
}

func TestUnmarshal_DropsUnknownFlagBits(t *testing.T) {
	cmd, err := UnmarshalCommand([]byte{0x45, 0x00, 0xff})
	require.NoError(t, err)
	assert.Equal(t, SyncFlags{Flags: PumpOn | ValveOpen}, cmd.Msg)
}
