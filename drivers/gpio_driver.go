package drivers

import (
	"github.com/pkg/errors"
	"github.com/stianeikeland/go-rpio/v4"
)

const gpioDriverName = "gpio"
const gpioPwmCycle = 255
const defaultGpioPwmFreq = 64000

// GpIO drives the Raspberry Pi header through /dev/gpiomem. The SoC has no
// ADC so only digital ports are reported.
type GpIO struct {
	ports  []Port
	isOpen bool

	InvertInputs  bool
	InvertOutputs bool
	PwmFreq       int
}

func NewGpIO(ports []Port) (*GpIO, error) {
	for _, p := range ports {
		if p.Kind == PortAnalog {
			return nil, errors.Errorf("gpio driver has no analog inputs (channel %d)", p.Channel)
		}
		if p.Channel < 0 || p.Channel > 255 {
			return nil, errors.Errorf("pin %d out of range (gpio takes uint8 pin)", p.Channel)
		}
	}

	err := rpio.Open()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open gpio for pins: %v", ports)
	}

	return &GpIO{ports: ports, isOpen: true, PwmFreq: defaultGpioPwmFreq}, nil
}

func (gp *GpIO) pin(kind PortKind, channel int) (rpio.Pin, Port, error) {
	port, ok := FindPort(gp.ports, kind, channel)
	if !ok {
		return 0, Port{}, errors.Wrapf(ErrUnknownChannel, "gpio channel %d", channel)
	}
	return rpio.Pin(uint8(channel)), port, nil
}

func (gp *GpIO) String() string {
	return gpioDriverName
}

func (gp *GpIO) Enable() error {
	if !gp.isOpen {
		return errors.New("gpio driver closed")
	}
	return nil
}

// Disable drives every output low.
func (gp *GpIO) Disable() error {
	for _, p := range gp.ports {
		if p.Direction != InputOnly {
			gp.level(rpio.Pin(uint8(p.Channel)), false)
		}
	}
	return nil
}

func (gp *GpIO) Close() error {
	if !gp.isOpen {
		return nil
	}
	gp.Disable()
	gp.isOpen = false
	return rpio.Close()
}

func (gp *GpIO) Ports() []Port {
	return append([]Port(nil), gp.ports...)
}

func (gp *GpIO) ConfigureDigitalPinMode(channel int, mode PinMode) error {
	pin, _, err := gp.pin(PortDigital, channel)
	if err != nil {
		return err
	}

	switch mode {
	case ModeOutput:
		pin.Output()
	case ModeInput:
		pin.Input()
		pin.PullOff()
	case ModeInputPullup:
		pin.Input()
		pin.PullUp()
	default:
		return errors.Errorf("unsupported pin mode %s", mode)
	}
	return nil
}

func (gp *GpIO) level(pin rpio.Pin, state bool) {
	if gp.InvertOutputs {
		state = !state
	}
	if state {
		pin.High()
	} else {
		pin.Low()
	}
}

func (gp *GpIO) WriteDigital(channel int, value bool) error {
	pin, _, err := gp.pin(PortDigital, channel)
	if err != nil {
		return err
	}
	gp.level(pin, value)
	return nil
}

func (gp *GpIO) WritePWM(channel int, value float64) error {
	pin, port, err := gp.pin(PortDigital, channel)
	if err != nil {
		return err
	}
	if !port.PWM {
		return errors.Wrapf(ErrNotSupported, "gpio channel %d is not pwm capable", channel)
	}
	if value < 0 || value > gpioPwmCycle {
		return errors.Wrapf(ErrValueOutOfRange, "pwm value %g not in [0, %d]", value, gpioPwmCycle)
	}

	pin.Pwm()
	pin.Freq(gp.PwmFreq)
	pin.DutyCycle(uint32(value), gpioPwmCycle)
	return nil
}

func (gp *GpIO) ReadDigital(channel int) (state bool, err error) {
	pin, _, err := gp.pin(PortDigital, channel)
	if err != nil {
		return
	}
	if gp.InvertInputs {
		state = pin.Read() == rpio.Low
	} else {
		state = pin.Read() == rpio.High
	}
	return
}

func (gp *GpIO) ReadAnalog(channel int) (float64, error) {
	return 0, errors.Wrapf(ErrNotSupported, "gpio analog read on channel %d", channel)
}
