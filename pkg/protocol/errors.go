package protocol

import (
	"errors"
	"fmt"
)

// Codec errors.
var (
	ErrFrameTooLarge   = errors.New("frame exceeds 255 bytes")
	ErrTruncated       = errors.New("frame truncated")
	ErrTrailingData    = errors.New("trailing bytes after frame")
	ErrUnknownVariant  = errors.New("unknown variant tag")
	ErrTooManyChannels = errors.New("too many moisture channels")
	ErrVarintOverflow  = errors.New("varint overflows target type")
	ErrInvalidDuration = errors.New("duration nanoseconds out of range")
)

// Validation errors. A rejected reading is dropped and the baseline is reset.
var (
	ErrNotFinite          = errors.New("reading is not a finite number")
	ErrUnreasonablyHot    = errors.New("temperature above physical ceiling")
	ErrLargeTempDelta     = errors.New("temperature changed too much")
	ErrLargePressureDelta = errors.New("pressure changed too much")
	ErrLargeHumidityDelta = errors.New("humidity changed too much")
	ErrDifferingLengths   = errors.New("moisture channel count changed")
	ErrLargeDelta         = errors.New("moisture rate changed too much")
)

// LargeDeltaError identifies the moisture channel whose rate jumped.
type LargeDeltaError struct {
	Sensor int
	Diff   float32
}

func (e *LargeDeltaError) Error() string {
	return fmt.Sprintf("moisture sensor %d rate changed by %.2f", e.Sensor, e.Diff)
}

// Is makes errors.Is(err, ErrLargeDelta) match.
func (e *LargeDeltaError) Is(target error) bool {
	return target == ErrLargeDelta
}
