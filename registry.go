package repbot

import (
	"github.com/hubertat/repbot/drivers"
)

// Registry keeps the mode of every digital channel. It is not safe for
// concurrent use; the hardware worker is its only caller.
type Registry struct {
	hw    drivers.Hardware
	ports []drivers.Port
	modes map[int]drivers.PinMode
}

func NewRegistry(hw drivers.Hardware) *Registry {
	return &Registry{
		hw:    hw,
		ports: hw.Ports(),
		modes: make(map[int]drivers.PinMode),
	}
}

func (r *Registry) Ports() []drivers.Port {
	return append([]drivers.Port(nil), r.ports...)
}

func (r *Registry) digitalPort(channel int) (drivers.Port, bool) {
	return drivers.FindPort(r.ports, drivers.PortDigital, channel)
}

// Configure applies mode to channel on the hardware and remembers it.
func (r *Registry) Configure(channel int, mode drivers.PinMode) error {
	port, ok := r.digitalPort(channel)
	if !ok {
		return &ConfigError{Channel: channel, Mode: mode, Kind: ErrInvalidChannel}
	}
	if !port.Direction.Accepts(mode) {
		return &ConfigError{Channel: channel, Mode: mode, Kind: ErrUnsupportedMode}
	}

	err := r.hw.ConfigureDigitalPinMode(channel, mode)
	if err != nil {
		return &ConfigError{Channel: channel, Mode: mode, Kind: ErrUnsupportedMode, Err: err}
	}

	r.modes[channel] = mode
	return nil
}

// CurrentMode returns the last applied mode, INPUT when never configured.
func (r *Registry) CurrentMode(channel int) drivers.PinMode {
	mode, ok := r.modes[channel]
	if !ok {
		return drivers.ModeInput
	}
	return mode
}

func (r *Registry) Modes() map[int]drivers.PinMode {
	modes := make(map[int]drivers.PinMode, len(r.modes))
	for ch, mode := range r.modes {
		modes[ch] = mode
	}
	return modes
}
