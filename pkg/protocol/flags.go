package protocol

import "strings"

// StatusFlags is the actuator bitset. Only PumpOn and ValveOpen are ever set.
type StatusFlags uint8

const (
	PumpOn StatusFlags = 1 << iota
	ValveOpen

	allFlags = PumpOn | ValveOpen
)

// FlagsFromBits drops any bits other than PumpOn and ValveOpen.
func FlagsFromBits(bits uint8) StatusFlags {
	return StatusFlags(bits) & allFlags
}

// Bits returns the raw byte.
func (f StatusFlags) Bits() uint8 { return uint8(f) }

// Contains reports whether every bit of other is set in f.
func (f StatusFlags) Contains(other StatusFlags) bool {
	return f&other == other
}

// With returns f with other set.
func (f StatusFlags) With(other StatusFlags) StatusFlags {
	return (f | other) & allFlags
}

// Without returns f with other cleared.
func (f StatusFlags) Without(other StatusFlags) StatusFlags {
	return f &^ other
}

// Set returns f with other set or cleared.
func (f StatusFlags) Set(other StatusFlags, on bool) StatusFlags {
	if on {
		return f.With(other)
	}
	return f.Without(other)
}

func (f StatusFlags) String() string {
	var parts []string
	if f.Contains(PumpOn) {
		parts = append(parts, "PUMP_ON")
	}
	if f.Contains(ValveOpen) {
		parts = append(parts, "VALVE_OPEN")
	}
	if len(parts) == 0 {
		return "{}"
	}
	return "{" + strings.Join(parts, " | ") + "}"
}
