package wire

import (
	"strings"
	"testing"

	"github.com/itohio/garden/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppend(t *testing.T) {
	tests := []struct {
		name string
		line Line
		want string
	}{
		{"tx", TX([]byte{0x45, 0x01, 0x00}), "TX,450100\n"},
		{"rx", RX(-87, 9.5, []byte{0x69, 0x02}), "RX,-87,9.5,6902\n"},
		{"ok", OK(), "OK\n"},
		{"err", Err("tx timeout"), "ERR,tx timeout\n"},
		{"err newline", Err("a\nb"), "ERR,a b\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(tt.line.Append(nil)))
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    Line
		wantErr bool
	}{
		{name: "ok", line: "OK", want: OK()},
		{name: "ok with crlf", line: "OK\r\n", want: OK()},
		{name: "err", line: "ERR,radio busy, retry", want: Err("radio busy, retry")},
		{name: "tx", line: "TX,45010a", want: TX([]byte{0x45, 0x01, 0x0a})},
		{name: "rx", line: "RX,-120,-7.5,690200", want: RX(-120, -7.5, []byte{0x69, 0x02, 0x00})},
		{name: "unknown", line: "HELLO", wantErr: true},
		{name: "empty", line: "", wantErr: true},
		{name: "ok trailing", line: "OK,1", wantErr: true},
		{name: "tx empty", line: "TX,", wantErr: true},
		{name: "tx odd hex", line: "TX,450", wantErr: true},
		{name: "tx not hex", line: "TX,zz", wantErr: true},
		{name: "rx missing fields", line: "RX,-80,690200", wantErr: true},
		{name: "rx bad rssi", line: "RX,loud,1.0,69", wantErr: true},
		{name: "rx bad snr", line: "RX,-80,x,69", wantErr: true},
		{name: "tx too large", line: "TX," + strings.Repeat("00", protocol.MaxFrameSize+1), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.line)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_AcceptsOwnOutput(t *testing.T) {
	frame := make([]byte, protocol.MaxFrameSize)
	for i := range frame {
		frame[i] = byte(i)
	}
	for _, l := range []Line{TX(frame), RX(-40, 11.5, frame), OK(), Err("nope")} {
		got, err := Parse(string(l.Append(nil)))
		require.NoError(t, err)
		assert.Equal(t, l, got)
	}
}
