package repbot

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/hubertat/repbot/drivers"
)

var (
	ErrInvalidChannel  = errors.New("invalid channel")
	ErrUnsupportedMode = errors.New("unsupported pin mode")
	ErrPinModeMismatch = errors.New("pin mode mismatch")
	ErrDisabled        = errors.New("hardware not enabled")
	ErrHardwareTimeout = errors.New("hardware call timed out")
	ErrHardwareBusy    = errors.New("hardware busy with an abandoned call")
	ErrWorkerStopped   = errors.New("hardware worker stopped")
	ErrAlreadyStarted  = errors.New("session already started")
)

// ConfigError reports a pin configuration that was not applied. Kind is
// ErrInvalidChannel or ErrUnsupportedMode.
type ConfigError struct {
	Channel int
	Mode    drivers.PinMode
	Kind    error
	Err     error
}

func (ce *ConfigError) Error() string {
	if ce.Err != nil {
		return fmt.Sprintf("configure channel %d as %s: %v: %v", ce.Channel, ce.Mode, ce.Kind, ce.Err)
	}
	return fmt.Sprintf("configure channel %d as %s: %v", ce.Channel, ce.Mode, ce.Kind)
}

func (ce *ConfigError) Is(target error) bool {
	return target == ce.Kind
}

func (ce *ConfigError) Unwrap() error {
	return ce.Err
}

// StartupError tells in which startup state the session failed.
type StartupError struct {
	State State
	Err   error
}

func (se *StartupError) Error() string {
	return fmt.Sprintf("session startup failed in %s: %v", se.State, se.Err)
}

func (se *StartupError) Unwrap() error {
	return se.Err
}

func (se *StartupError) Cause() error {
	return se.Err
}
