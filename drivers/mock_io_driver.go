package drivers

import (
	"fmt"
	"io"
	"sync"

	"github.com/pkg/errors"
)

const mockDriverName = "mock"
const mockPwmMax = 255

type mockPin struct {
	mode    PinMode
	state   bool
	pwm     float64
	analog  float64
	readErr error
}

// MockHardware is an in-memory board used for development and tests.
type MockHardware struct {
	mu sync.Mutex

	ports   []Port
	digital map[int]*mockPin
	analog  map[int]*mockPin
	enabled bool

	EnableErr  error
	DisableErr error

	writeTo          io.Writer
	writeStateChange bool

	calls []string
}

func NewMockHardware(ports []Port) *MockHardware {
	md := &MockHardware{
		ports:   append([]Port(nil), ports...),
		digital: make(map[int]*mockPin),
		analog:  make(map[int]*mockPin),
	}
	for _, p := range ports {
		if p.Kind == PortAnalog {
			md.analog[p.Channel] = &mockPin{}
		} else {
			md.digital[p.Channel] = &mockPin{}
		}
	}
	return md
}

func (md *MockHardware) record(format string, args ...interface{}) {
	md.calls = append(md.calls, fmt.Sprintf(format, args...))
}

func (md *MockHardware) String() string {
	return mockDriverName
}

func (md *MockHardware) Enable() error {
	md.mu.Lock()
	defer md.mu.Unlock()
	md.record("enable")
	if md.EnableErr != nil {
		return md.EnableErr
	}
	md.enabled = true
	return nil
}

func (md *MockHardware) Disable() error {
	md.mu.Lock()
	defer md.mu.Unlock()
	md.record("disable")
	if md.DisableErr != nil {
		return md.DisableErr
	}
	md.enabled = false
	return nil
}

func (md *MockHardware) Close() error {
	return nil
}

func (md *MockHardware) Ports() []Port {
	return append([]Port(nil), md.ports...)
}

func (md *MockHardware) digitalPin(channel int) (*mockPin, error) {
	pin, ok := md.digital[channel]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownChannel, "mock digital channel %d", channel)
	}
	return pin, nil
}

func (md *MockHardware) ConfigureDigitalPinMode(channel int, mode PinMode) error {
	md.mu.Lock()
	defer md.mu.Unlock()
	md.record("mode %d %s", channel, mode)

	pin, err := md.digitalPin(channel)
	if err != nil {
		return err
	}
	pin.mode = mode
	if mode == ModeInputPullup {
		pin.state = true
	}
	return nil
}

func (md *MockHardware) WriteDigital(channel int, value bool) error {
	md.mu.Lock()
	defer md.mu.Unlock()
	md.record("write %d %v", channel, value)

	pin, err := md.digitalPin(channel)
	if err != nil {
		return err
	}
	if md.writeStateChange && value != pin.state {
		fmt.Fprintf(md.writeTo, "[pin %d] state changed to %v\n", channel, value)
	}
	pin.state = value
	return nil
}

func (md *MockHardware) WritePWM(channel int, value float64) error {
	md.mu.Lock()
	defer md.mu.Unlock()
	md.record("pwm %d %g", channel, value)

	port, ok := FindPort(md.ports, PortDigital, channel)
	if !ok {
		return errors.Wrapf(ErrUnknownChannel, "mock pwm channel %d", channel)
	}
	if !port.PWM {
		return errors.Wrapf(ErrNotSupported, "mock channel %d is not pwm capable", channel)
	}
	if value < 0 || value > mockPwmMax {
		return errors.Wrapf(ErrValueOutOfRange, "pwm value %g not in [0, %d]", value, mockPwmMax)
	}
	md.digital[channel].pwm = value
	return nil
}

func (md *MockHardware) ReadDigital(channel int) (bool, error) {
	md.mu.Lock()
	defer md.mu.Unlock()
	md.record("read %d", channel)

	pin, err := md.digitalPin(channel)
	if err != nil {
		return false, err
	}
	if pin.readErr != nil {
		return false, pin.readErr
	}
	return pin.state, nil
}

func (md *MockHardware) ReadAnalog(channel int) (float64, error) {
	md.mu.Lock()
	defer md.mu.Unlock()
	md.record("analog %d", channel)

	pin, ok := md.analog[channel]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownChannel, "mock analog channel %d", channel)
	}
	if pin.readErr != nil {
		return 0, pin.readErr
	}
	return pin.analog, nil
}

// SetInput drives the level seen by ReadDigital on a digital channel.
func (md *MockHardware) SetInput(channel int, state bool) {
	md.mu.Lock()
	defer md.mu.Unlock()
	if pin, ok := md.digital[channel]; ok {
		pin.state = state
	}
}

func (md *MockHardware) SetAnalog(channel int, value float64) {
	md.mu.Lock()
	defer md.mu.Unlock()
	if pin, ok := md.analog[channel]; ok {
		pin.analog = value
	}
}

// FailReads makes every read of the channel return err, nil clears it.
func (md *MockHardware) FailReads(kind PortKind, channel int, err error) {
	md.mu.Lock()
	defer md.mu.Unlock()
	pins := md.digital
	if kind == PortAnalog {
		pins = md.analog
	}
	if pin, ok := pins[channel]; ok {
		pin.readErr = err
	}
}

func (md *MockHardware) State(channel int) (mode PinMode, state bool, pwm float64) {
	md.mu.Lock()
	defer md.mu.Unlock()
	if pin, ok := md.digital[channel]; ok {
		return pin.mode, pin.state, pin.pwm
	}
	return
}

func (md *MockHardware) IsEnabled() bool {
	md.mu.Lock()
	defer md.mu.Unlock()
	return md.enabled
}

// Calls returns the operations applied so far, oldest first.
func (md *MockHardware) Calls() []string {
	md.mu.Lock()
	defer md.mu.Unlock()
	return append([]string(nil), md.calls...)
}

func (md *MockHardware) MonitorStateChanges(writer io.Writer) {
	md.mu.Lock()
	defer md.mu.Unlock()
	md.writeTo = writer
	md.writeStateChange = true
}
