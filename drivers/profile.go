package drivers

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// DefaultProfileName is the profile used when nothing else is configured.
const DefaultProfileName = "default"

type PortSpec struct {
	Channel   int       `yaml:"channel"`
	Direction Direction `yaml:"direction"`
	PWM       bool      `yaml:"pwm"`
	Sensor    string    `yaml:"sensor"`
}

// Profile describes one robot hardware setup: which driver to open and the
// port list it advertises.
type Profile struct {
	Driver  string     `yaml:"driver"`
	Digital []PortSpec `yaml:"digital"`
	Analog  []PortSpec `yaml:"analog"`

	Bus       uint8  `yaml:"bus"`
	Device    uint8  `yaml:"device"`
	PinPrefix string `yaml:"pin_prefix"`
	WirePath  string `yaml:"wire_path"`

	CheckBounds        bool `yaml:"check_bounds"`
	BoundMinimumMillis int  `yaml:"bound_min_millis"`
	BoundMaximumMillis int  `yaml:"bound_max_millis"`

	InvertInputs  bool `yaml:"invert_inputs"`
	InvertOutputs bool `yaml:"invert_outputs"`
}

func (p Profile) Ports() (ports []Port) {
	for _, d := range p.Digital {
		ports = append(ports, Port{Channel: d.Channel, Kind: PortDigital, Direction: d.Direction, PWM: d.PWM})
	}
	for _, a := range p.Analog {
		ports = append(ports, Port{Channel: a.Channel, Kind: PortAnalog, Direction: InputOnly})
	}
	return
}

func (p Profile) Open() (Hardware, error) {
	switch strings.ToLower(p.Driver) {
	case mockDriverName, "":
		return NewMockHardware(p.Ports()), nil
	case gpioDriverName:
		gp, err := NewGpIO(p.Ports())
		if err != nil {
			return nil, err
		}
		gp.InvertInputs = p.InvertInputs
		gp.InvertOutputs = p.InvertOutputs
		return gp, nil
	case mcpioDriverName:
		mcp, err := NewMcpIO(p.Bus, p.Device, p.Ports())
		if err != nil {
			return nil, err
		}
		mcp.InvertInputs = p.InvertInputs
		mcp.InvertOutputs = p.InvertOutputs
		return mcp, nil
	case periphDriverName:
		return NewPeriphIO(p.PinPrefix, p.Ports())
	case wireDriverName:
		return p.openWire()
	}
	return nil, errors.Errorf("unknown hardware driver %q", p.Driver)
}

func (p Profile) openWire() (Hardware, error) {
	if len(p.Digital) > 0 {
		return nil, errors.New("wire driver has no digital ports")
	}
	sensors := make(map[int]string, len(p.Analog))
	for _, a := range p.Analog {
		if len(a.Sensor) == 0 {
			return nil, errors.Errorf("wire analog channel %d has no sensor id", a.Channel)
		}
		sensors[a.Channel] = a.Sensor
	}

	w1, err := NewWireIO(p.WirePath, sensors)
	if err != nil {
		return nil, err
	}
	w1.CheckBounds = p.CheckBounds
	w1.BoundMinimumMillis = p.BoundMinimumMillis
	w1.BoundMaximumMillis = p.BoundMaximumMillis
	return w1, nil
}

type Profiles map[string]Profile

// DefaultProfiles holds the built in simulated board.
func DefaultProfiles() Profiles {
	def := Profile{Driver: mockDriverName}
	for ch := 0; ch < 8; ch++ {
		def.Digital = append(def.Digital, PortSpec{Channel: ch, PWM: ch < 4})
	}
	for ch := 0; ch < 4; ch++ {
		def.Analog = append(def.Analog, PortSpec{Channel: ch})
	}
	return Profiles{DefaultProfileName: def}
}

func (ps Profiles) Names() (names []string) {
	for name := range ps {
		names = append(names, name)
	}
	sort.Strings(names)
	return
}

// Open builds the hardware for the named profile.
func (ps Profiles) Open(name string) (Hardware, error) {
	profile, ok := ps[name]
	if !ok {
		return nil, errors.Errorf("hardware profile %q not found (have: %s)", name, strings.Join(ps.Names(), ", "))
	}

	hw, err := profile.Open()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s hardware for profile %q", profile.Driver, name)
	}
	return hw, nil
}
