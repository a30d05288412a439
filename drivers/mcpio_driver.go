package drivers

import (
	"github.com/pkg/errors"
	"github.com/racerxdl/go-mcp23017"
)

const mcpioDriverName = "mcpio"
const mcpPinCount = 16

// McpIO drives a MCP23017 I2C port expander. It has digital pins only.
type McpIO struct {
	device *mcp23017.Device
	ports  []Port

	BusNo         uint8
	DevNo         uint8
	InvertInputs  bool
	InvertOutputs bool
}

func NewMcpIO(busNo, devNo uint8, ports []Port) (*McpIO, error) {
	for _, p := range ports {
		if p.Kind == PortAnalog || p.PWM {
			return nil, errors.Errorf("mcpio supports plain digital pins only (channel %d)", p.Channel)
		}
		if p.Channel < 0 || p.Channel >= mcpPinCount {
			return nil, errors.Errorf("pin %d out of range (mcpio has %d pins)", p.Channel, mcpPinCount)
		}
	}

	device, err := mcp23017.Open(busNo, devNo)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open mcp23017 at bus %d device %d", busNo, devNo)
	}

	return &McpIO{device: device, ports: ports, BusNo: busNo, DevNo: devNo}, nil
}

func (mcp *McpIO) pin(channel int) (uint8, error) {
	if _, ok := FindPort(mcp.ports, PortDigital, channel); !ok {
		return 0, errors.Wrapf(ErrUnknownChannel, "mcpio channel %d", channel)
	}
	return uint8(channel), nil
}

func (mcp *McpIO) String() string {
	return mcpioDriverName
}

func (mcp *McpIO) Enable() error {
	return nil
}

func (mcp *McpIO) Disable() (err error) {
	for _, p := range mcp.ports {
		if p.Direction == InputOnly {
			continue
		}
		writeErr := mcp.WriteDigital(p.Channel, false)
		if writeErr != nil && err == nil {
			err = errors.Wrapf(writeErr, "failed to reset output %d", p.Channel)
		}
	}
	return
}

func (mcp *McpIO) Close() error {
	mcp.Disable()
	return mcp.device.Close()
}

func (mcp *McpIO) Ports() []Port {
	return append([]Port(nil), mcp.ports...)
}

func (mcp *McpIO) ConfigureDigitalPinMode(channel int, mode PinMode) (err error) {
	pin, err := mcp.pin(channel)
	if err != nil {
		return
	}

	switch mode {
	case ModeOutput:
		err = mcp.device.PinMode(pin, mcp23017.OUTPUT)
	case ModeInput, ModeInputPullup:
		err = mcp.device.PinMode(pin, mcp23017.INPUT)
		if err != nil {
			return
		}
		err = mcp.device.SetPullUp(pin, mode == ModeInputPullup)
	default:
		err = errors.Errorf("unsupported pin mode %s", mode)
	}
	return
}

func (mcp *McpIO) WriteDigital(channel int, value bool) error {
	pin, err := mcp.pin(channel)
	if err != nil {
		return err
	}
	if mcp.InvertOutputs {
		value = !value
	}
	return mcp.device.DigitalWrite(pin, mcp23017.PinLevel(value))
}

func (mcp *McpIO) WritePWM(channel int, value float64) error {
	return errors.Wrapf(ErrNotSupported, "mcpio pwm on channel %d", channel)
}

func (mcp *McpIO) ReadDigital(channel int) (state bool, err error) {
	pin, err := mcp.pin(channel)
	if err != nil {
		return
	}
	rawState, err := mcp.device.DigitalRead(pin)
	if err != nil {
		return
	}

	if mcp.InvertInputs {
		state = !bool(rawState)
	} else {
		state = bool(rawState)
	}
	return
}

func (mcp *McpIO) ReadAnalog(channel int) (float64, error) {
	return 0, errors.Wrapf(ErrNotSupported, "mcpio analog read on channel %d", channel)
}
