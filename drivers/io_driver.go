package drivers

import (
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrNotSupported    = errors.New("operation not supported by hardware")
	ErrUnknownChannel  = errors.New("channel not present on hardware")
	ErrValueOutOfRange = errors.New("value out of range")
)

// Hardware is the capability a bridge session drives. Implementations are
// not expected to be safe for concurrent use.
type Hardware interface {
	Enable() error
	Disable() error
	Close() error
	String() string

	Ports() []Port
	ConfigureDigitalPinMode(channel int, mode PinMode) error
	WriteDigital(channel int, value bool) error
	WritePWM(channel int, value float64) error
	ReadDigital(channel int) (bool, error)
	ReadAnalog(channel int) (float64, error)
}

type PinMode int

const (
	ModeInput PinMode = iota
	ModeOutput
	ModeInputPullup
)

func (m PinMode) String() string {
	switch m {
	case ModeOutput:
		return "OUTPUT"
	case ModeInput:
		return "INPUT"
	case ModeInputPullup:
		return "INPUT_PULLUP"
	default:
		return "UNKNOWN"
	}
}

// ParsePinMode accepts the wire names of the modes, case insensitive.
func ParsePinMode(s string) (PinMode, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "OUTPUT":
		return ModeOutput, true
	case "INPUT":
		return ModeInput, true
	case "INPUT_PULLUP":
		return ModeInputPullup, true
	}
	return ModeInput, false
}

type PortKind int

const (
	PortDigital PortKind = iota
	PortAnalog
)

func (k PortKind) String() string {
	if k == PortAnalog {
		return "analog"
	}
	return "digital"
}

type Direction int

const (
	Bidirectional Direction = iota
	InputOnly
	OutputOnly
)

func (d Direction) String() string {
	switch d {
	case InputOnly:
		return "INPUT_ONLY"
	case OutputOnly:
		return "OUTPUT_ONLY"
	default:
		return "BIDIRECTIONAL"
	}
}

func (d *Direction) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "", "bidirectional", "inout":
		*d = Bidirectional
	case "input", "input_only", "in":
		*d = InputOnly
	case "output", "output_only", "out":
		*d = OutputOnly
	default:
		return errors.Errorf("unknown port direction %q", string(text))
	}
	return nil
}

// Accepts reports whether a pin on a port of this direction can be put in mode.
func (d Direction) Accepts(mode PinMode) bool {
	switch d {
	case InputOnly:
		return mode != ModeOutput
	case OutputOnly:
		return mode == ModeOutput
	default:
		return true
	}
}

type Port struct {
	Channel   int
	Kind      PortKind
	Direction Direction
	PWM       bool
}

// FindPort looks up a port of the given kind in the list.
func FindPort(ports []Port, kind PortKind, channel int) (Port, bool) {
	for _, p := range ports {
		if p.Kind == kind && p.Channel == channel {
			return p, true
		}
	}
	return Port{}, false
}
