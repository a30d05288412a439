package drivers

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const wireSystemPath string = "/sys/bus/w1/devices"
const wireSensorPrefix string = "28-"

const wireDriverName string = "wire"

// WireIO exposes 1-wire temperature sensors as analog channels, values in
// degrees Celsius. It has no digital ports.
type WireIO struct {
	CheckBounds        bool
	BoundMinimumMillis int
	BoundMaximumMillis int

	ports []Port
	paths map[int]string
}

func wireSensorFolder(id string) (string, error) {
	intBase := 10
	stringId := strings.ToLower(id)
	if strings.HasPrefix(stringId, "0x") {
		stringId = strings.TrimPrefix(stringId, "0x")
		intBase = 16
	}
	numId, err := strconv.ParseInt(stringId, intBase, 64)
	if err != nil {
		return "", errors.Wrapf(err, "failed to convert string id: %s to int", id)
	}
	return fmt.Sprintf("%s%012x", wireSensorPrefix, numId), nil
}

// NewWireIO maps analog channels to sensor ids. sysPath defaults to the
// kernel w1 devices dir.
func NewWireIO(sysPath string, sensors map[int]string) (*WireIO, error) {
	if len(sysPath) == 0 {
		sysPath = wireSystemPath
	}
	_, err := os.ReadDir(sysPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to init wire driver: error reading dir (%s)", sysPath)
	}

	channels := make([]int, 0, len(sensors))
	for ch := range sensors {
		channels = append(channels, ch)
	}
	sort.Ints(channels)

	w1 := &WireIO{paths: make(map[int]string)}
	for _, ch := range channels {
		id := sensors[ch]
		folder, err := wireSensorFolder(id)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to init wire driver, analog channel %d", ch)
		}
		filePath := path.Join(sysPath, folder, "temperature")
		_, err = os.ReadFile(filePath)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to init wire driver, cannot read file %s", filePath)
		}
		w1.paths[ch] = filePath
		w1.ports = append(w1.ports, Port{Channel: ch, Kind: PortAnalog, Direction: InputOnly})
	}
	return w1, nil
}

func (w1 *WireIO) String() string {
	return wireDriverName
}

func (w1 *WireIO) Enable() error {
	return nil
}

func (w1 *WireIO) Disable() error {
	return nil
}

func (w1 *WireIO) Close() error {
	return nil
}

func (w1 *WireIO) Ports() []Port {
	return append([]Port(nil), w1.ports...)
}

func (w1 *WireIO) ConfigureDigitalPinMode(channel int, mode PinMode) error {
	return errors.Wrap(ErrNotSupported, "wire driver has no digital pins")
}

func (w1 *WireIO) WriteDigital(channel int, value bool) error {
	return errors.Wrap(ErrNotSupported, "wire driver has no digital pins")
}

func (w1 *WireIO) WritePWM(channel int, value float64) error {
	return errors.Wrap(ErrNotSupported, "wire driver has no pwm")
}

func (w1 *WireIO) ReadDigital(channel int) (bool, error) {
	return false, errors.Wrap(ErrNotSupported, "wire driver has no digital pins")
}

func (w1 *WireIO) checkBounds(readout int) bool {
	return readout >= w1.BoundMinimumMillis && readout <= w1.BoundMaximumMillis
}

func (w1 *WireIO) ReadAnalog(channel int) (float64, error) {
	filePath, ok := w1.paths[channel]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownChannel, "wire analog channel %d", channel)
	}

	temperatureBytes, err := os.ReadFile(filePath)
	if err != nil {
		return 0, errors.Wrapf(err, "failed reading file %s", filePath)
	}
	temperatureString := strings.TrimSpace(string(temperatureBytes))
	milliCelsiuses, err := strconv.ParseInt(temperatureString, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "failed converting temperature string: %s to milli °C int value", temperatureString)
	}
	if w1.CheckBounds && !w1.checkBounds(int(milliCelsiuses)) {
		return 0, errors.Wrapf(ErrValueOutOfRange, "wire sensor bound check failed, value: %d m°C on channel %d", milliCelsiuses, channel)
	}
	return float64(milliCelsiuses) / 1000, nil
}
