package protocol

import (
	"encoding/json"
	"fmt"
)

// The operator link uses externally tagged JSON: unit variants are bare
// strings and data-carrying variants are single-key objects.

// MarshalJSON encodes the flags as {"bits":N}.
func (f StatusFlags) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Bits uint8 `json:"bits"`
	}{f.Bits()})
}

// UnmarshalJSON decodes {"bits":N}, dropping unknown bits.
func (f *StatusFlags) UnmarshalJSON(data []byte) error {
	var v struct {
		Bits uint8 `json:"bits"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid status flags: %w", err)
	}
	*f = FlagsFromBits(v.Bits)
	return nil
}

// UICommand is an operator intent. It edits the desired state rather than
// carrying a raw flag set.
type UICommand uint8

const (
	UIPumpOn UICommand = iota + 1
	UIPumpOff
	UIValveOpen
	UIValveClose
	UIReset
)

var uiCommandNames = map[UICommand]string{
	UIPumpOn:     "PumpOn",
	UIPumpOff:    "PumpOff",
	UIValveOpen:  "ValveOpen",
	UIValveClose: "ValveClose",
	UIReset:      "Reset",
}

func (c UICommand) String() string {
	if name, ok := uiCommandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("UICommand(%d)", uint8(c))
}

// Apply returns the desired flags after c. Reset leaves them unchanged.
func (c UICommand) Apply(flags StatusFlags) StatusFlags {
	switch c {
	case UIPumpOn:
		return flags.With(PumpOn)
	case UIPumpOff:
		return flags.Without(PumpOn)
	case UIValveOpen:
		return flags.With(ValveOpen)
	case UIValveClose:
		return flags.Without(ValveOpen)
	}
	return flags
}

func (c UICommand) MarshalJSON() ([]byte, error) {
	name, ok := uiCommandNames[c]
	if !ok {
		return nil, fmt.Errorf("%w: ui command %d", ErrUnknownVariant, uint8(c))
	}
	return json.Marshal(name)
}

func (c *UICommand) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("invalid ui command: %w", err)
	}
	for cmd, n := range uiCommandNames {
		if n == name {
			*c = cmd
			return nil
		}
	}
	return fmt.Errorf("%w: ui command %q", ErrUnknownVariant, name)
}

// PanelKind selects the PanelMessage variant.
type PanelKind uint8

const (
	PanelHello PanelKind = iota
	PanelStatus
	PanelDesiredStatus
)

// PanelMessage is broadcast to operator connections.
type PanelMessage struct {
	Kind    PanelKind
	Status  DeviceStatus // PanelStatus
	Desired StatusFlags  // PanelDesiredStatus
}

// HelloMessage opens every operator connection.
func HelloMessage() PanelMessage { return PanelMessage{Kind: PanelHello} }

// StatusMessage carries the last validated field-unit status.
func StatusMessage(s DeviceStatus) PanelMessage {
	return PanelMessage{Kind: PanelStatus, Status: s}
}

// DesiredStatusMessage carries the operator-held desired flags.
func DesiredStatusMessage(f StatusFlags) PanelMessage {
	return PanelMessage{Kind: PanelDesiredStatus, Desired: f}
}

func (m PanelMessage) MarshalJSON() ([]byte, error) {
	switch m.Kind {
	case PanelHello:
		return json.Marshal("Hello")
	case PanelStatus:
		return json.Marshal(map[string]DeviceStatus{"Status": m.Status})
	case PanelDesiredStatus:
		return json.Marshal(map[string]StatusFlags{"DesiredStatus": m.Desired})
	}
	return nil, fmt.Errorf("%w: panel message %d", ErrUnknownVariant, m.Kind)
}

func (m *PanelMessage) UnmarshalJSON(data []byte) error {
	var unit string
	if err := json.Unmarshal(data, &unit); err == nil {
		if unit != "Hello" {
			return fmt.Errorf("%w: panel message %q", ErrUnknownVariant, unit)
		}
		*m = HelloMessage()
		return nil
	}

	var tagged struct {
		Status        *DeviceStatus `json:"Status"`
		DesiredStatus *StatusFlags  `json:"DesiredStatus"`
	}
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("invalid panel message: %w", err)
	}
	switch {
	case tagged.Status != nil:
		*m = StatusMessage(*tagged.Status)
	case tagged.DesiredStatus != nil:
		*m = DesiredStatusMessage(*tagged.DesiredStatus)
	default:
		return fmt.Errorf("%w: panel message %s", ErrUnknownVariant, data)
	}
	return nil
}
