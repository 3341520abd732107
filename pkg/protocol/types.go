package protocol

import "time"

// DevAddr is a 16-bit network address carried in every transmission.
type DevAddr uint16

const (
	// FieldUnitAddr is the address of the sensing/actuation node.
	FieldUnitAddr DevAddr = 0x69
	// BaseStationAddr is the address of the relay. It differs from FieldUnitAddr
	// so each side can reject its own echoes.
	BaseStationAddr DevAddr = 69
)

const (
	// MaxFrameSize is the largest encoded transmission the radio can carry.
	MaxFrameSize = 255
	// MaxMoistureChannels is the number of channels addressable by the three select lines.
	MaxMoistureChannels = 8
)

// DeviceStatus is the actual actuator state of the field unit.
type DeviceStatus struct {
	Flags StatusFlags `json:"flags"`
}

// MoistureReading is the raw discharge-cycle count and elapsed time of one channel.
type MoistureReading struct {
	Clocks   uint16
	Duration time.Duration
}

// Rate returns the edge rate in clocks per second. A zero duration yields 0.
func (r MoistureReading) Rate() float32 {
	secs := float32(r.Duration.Seconds())
	if secs <= 0 {
		return 0
	}
	return float32(r.Clocks) / secs
}

// Transmission is the envelope of every radio frame.
type Transmission[T any] struct {
	Src DevAddr
	Msg T
}

// Message is sent by the field unit to the base station.
// Implemented by MoistureReport, EnvironmentalReport and StatusUpdate.
type Message interface {
	messageTag() uint32
}

// MoistureReport carries one reading per moisture channel, in channel order.
type MoistureReport struct {
	Readings []MoistureReading
}

// EnvironmentalReport is a BME688 reading in physical units:
// °C, Pa, % relative humidity and Ω.
type EnvironmentalReport struct {
	Temp          float32
	Pressure      float32
	Humidity      float32
	GasResistance float32
}

// StatusUpdate reports the field unit's actuator state.
type StatusUpdate struct {
	Status DeviceStatus
}

const (
	tagMoistureReport uint32 = iota
	tagEnvironmentalReport
	tagStatusUpdate
)

func (MoistureReport) messageTag() uint32      { return tagMoistureReport }
func (EnvironmentalReport) messageTag() uint32 { return tagEnvironmentalReport }
func (StatusUpdate) messageTag() uint32        { return tagStatusUpdate }

// Command is sent by the base station to the field unit.
// Implemented by SyncFlags and Reset.
type Command interface {
	commandTag() uint32
}

// SyncFlags asks the field unit to drive its actuators to the given flags.
type SyncFlags struct {
	Flags StatusFlags
}

// Reset asks the field unit to reboot.
type Reset struct{}

const (
	tagSyncFlags uint32 = iota
	tagReset
)

func (SyncFlags) commandTag() uint32 { return tagSyncFlags }
func (Reset) commandTag() uint32     { return tagReset }
