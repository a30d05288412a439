package drivers

import (
	"fmt"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

const periphDriverName = "periph"
const periphPwmMax = 255
const defaultPeriphPinPrefix = "GPIO"

// PeriphIO uses the periph.io host drivers, which cover most single board
// computers. Pins are looked up by name, "GPIO<channel>" unless a different
// prefix is set.
type PeriphIO struct {
	ports []Port
	pins  map[int]gpio.PinIO

	PwmFreq physic.Frequency
}

func NewPeriphIO(pinPrefix string, ports []Port) (*PeriphIO, error) {
	if len(pinPrefix) == 0 {
		pinPrefix = defaultPeriphPinPrefix
	}

	_, err := host.Init()
	if err != nil {
		return nil, errors.Wrap(err, "failed to init periph host")
	}

	pio := &PeriphIO{
		ports:   ports,
		pins:    make(map[int]gpio.PinIO),
		PwmFreq: 10 * physic.KiloHertz,
	}
	for _, p := range ports {
		if p.Kind == PortAnalog {
			return nil, errors.Errorf("periph driver has no analog inputs (channel %d)", p.Channel)
		}
		name := fmt.Sprintf("%s%d", pinPrefix, p.Channel)
		pin := gpioreg.ByName(name)
		if pin == nil {
			return nil, errors.Errorf("pin %s not found in periph registry", name)
		}
		pio.pins[p.Channel] = pin
	}

	return pio, nil
}

func (pio *PeriphIO) pin(channel int) (gpio.PinIO, error) {
	pin, ok := pio.pins[channel]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownChannel, "periph channel %d", channel)
	}
	return pin, nil
}

func (pio *PeriphIO) String() string {
	return periphDriverName
}

func (pio *PeriphIO) Enable() error {
	return nil
}

func (pio *PeriphIO) Disable() (err error) {
	for _, p := range pio.ports {
		if p.Direction == InputOnly {
			continue
		}
		outErr := pio.pins[p.Channel].Out(gpio.Low)
		if outErr != nil && err == nil {
			err = errors.Wrapf(outErr, "failed to reset output %d", p.Channel)
		}
	}
	return
}

func (pio *PeriphIO) Close() error {
	err := pio.Disable()
	for _, pin := range pio.pins {
		pin.Halt()
	}
	return err
}

func (pio *PeriphIO) Ports() []Port {
	return append([]Port(nil), pio.ports...)
}

func (pio *PeriphIO) ConfigureDigitalPinMode(channel int, mode PinMode) error {
	pin, err := pio.pin(channel)
	if err != nil {
		return err
	}

	switch mode {
	case ModeOutput:
		return pin.Out(gpio.Low)
	case ModeInput:
		return pin.In(gpio.Float, gpio.NoEdge)
	case ModeInputPullup:
		return pin.In(gpio.PullUp, gpio.NoEdge)
	}
	return errors.Errorf("unsupported pin mode %s", mode)
}

func (pio *PeriphIO) WriteDigital(channel int, value bool) error {
	pin, err := pio.pin(channel)
	if err != nil {
		return err
	}
	return pin.Out(gpio.Level(value))
}

func (pio *PeriphIO) WritePWM(channel int, value float64) error {
	pin, err := pio.pin(channel)
	if err != nil {
		return err
	}
	if port, _ := FindPort(pio.ports, PortDigital, channel); !port.PWM {
		return errors.Wrapf(ErrNotSupported, "periph channel %d is not pwm capable", channel)
	}
	if value < 0 || value > periphPwmMax {
		return errors.Wrapf(ErrValueOutOfRange, "pwm value %g not in [0, %d]", value, periphPwmMax)
	}

	duty := gpio.Duty(value / periphPwmMax * float64(gpio.DutyMax))
	return pin.PWM(duty, pio.PwmFreq)
}

func (pio *PeriphIO) ReadDigital(channel int) (bool, error) {
	pin, err := pio.pin(channel)
	if err != nil {
		return false, err
	}
	return pin.Read() == gpio.High, nil
}

func (pio *PeriphIO) ReadAnalog(channel int) (float64, error) {
	return 0, errors.Wrapf(ErrNotSupported, "periph analog read on channel %d", channel)
}
