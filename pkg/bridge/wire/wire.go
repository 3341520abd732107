// Package wire is the line protocol between the base station host and the
// LoRa bridge MCU. Each line is comma separated and newline terminated:
//
//	TX,<hex frame>               host to MCU
//	RX,<rssi>,<snr>,<hex frame>  MCU to host, a received frame
//	OK                           MCU to host, transmit accepted
//	ERR,<text>                   MCU to host, transmit failed
package wire

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/itohio/garden/pkg/protocol"
)

// ErrMalformed is returned for lines that do not follow the protocol.
var ErrMalformed = errors.New("malformed bridge line")

// Kind is the line type.
type Kind uint8

const (
	KindTX Kind = iota + 1
	KindRX
	KindOK
	KindErr
)

func (k Kind) String() string {
	switch k {
	case KindTX:
		return "TX"
	case KindRX:
		return "RX"
	case KindOK:
		return "OK"
	case KindErr:
		return "ERR"
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Line is one decoded protocol line.
type Line struct {
	Kind  Kind
	RSSI  int     // RX
	SNR   float32 // RX
	Frame []byte  // TX, RX
	Text  string  // ERR
}

// TX returns a transmit request for frame.
func TX(frame []byte) Line { return Line{Kind: KindTX, Frame: frame} }

// RX returns a received-frame report.
func RX(rssi int, snr float32, frame []byte) Line {
	return Line{Kind: KindRX, RSSI: rssi, SNR: snr, Frame: frame}
}

// OK acknowledges a transmit.
func OK() Line { return Line{Kind: KindOK} }

// Err reports a failed transmit.
func Err(text string) Line { return Line{Kind: KindErr, Text: text} }

// Append encodes l, including the trailing newline, onto dst.
func (l Line) Append(dst []byte) []byte {
	dst = append(dst, l.Kind.String()...)
	switch l.Kind {
	case KindTX:
		dst = append(dst, ',')
		dst = hex.AppendEncode(dst, l.Frame)
	case KindRX:
		dst = append(dst, ',')
		dst = strconv.AppendInt(dst, int64(l.RSSI), 10)
		dst = append(dst, ',')
		dst = strconv.AppendFloat(dst, float64(l.SNR), 'f', 1, 32)
		dst = append(dst, ',')
		dst = hex.AppendEncode(dst, l.Frame)
	case KindErr:
		dst = append(dst, ',')
		dst = append(dst, strings.ReplaceAll(l.Text, "\n", " ")...)
	}
	return append(dst, '\n')
}

// Parse decodes one line without its terminator. Surrounding whitespace is
// ignored.
func Parse(s string) (Line, error) {
	s = strings.TrimSpace(s)
	kind, rest, _ := strings.Cut(s, ",")
	switch kind {
	case "OK":
		if rest != "" {
			return Line{}, fmt.Errorf("%w: trailing data after OK", ErrMalformed)
		}
		return OK(), nil
	case "ERR":
		return Err(rest), nil
	case "TX":
		frame, err := decodeFrame(rest)
		if err != nil {
			return Line{}, err
		}
		return TX(frame), nil
	case "RX":
		parts := strings.Split(rest, ",")
		if len(parts) != 3 {
			return Line{}, fmt.Errorf("%w: RX expects 3 fields, got %d", ErrMalformed, len(parts))
		}
		rssi, err := strconv.Atoi(parts[0])
		if err != nil {
			return Line{}, fmt.Errorf("%w: invalid rssi: %v", ErrMalformed, err)
		}
		snr, err := strconv.ParseFloat(parts[1], 32)
		if err != nil {
			return Line{}, fmt.Errorf("%w: invalid snr: %v", ErrMalformed, err)
		}
		frame, err := decodeFrame(parts[2])
		if err != nil {
			return Line{}, err
		}
		return RX(rssi, float32(snr), frame), nil
	}
	return Line{}, fmt.Errorf("%w: unknown line type %q", ErrMalformed, kind)
}

func decodeFrame(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformed)
	}
	if len(s) > 2*protocol.MaxFrameSize {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, protocol.ErrFrameTooLarge)
	}
	frame, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex: %v", ErrMalformed, err)
	}
	return frame, nil
}
