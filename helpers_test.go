package repbot

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/hubertat/repbot/drivers"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func assertErrorIs(t testing.TB, got, want error) {
	t.Helper()

	if !errors.Is(got, want) {
		t.Errorf("got error %v want %v", got, want)
	}
}

func assertMode(t testing.TB, got, want drivers.PinMode) {
	t.Helper()

	if got != want {
		t.Errorf("got mode %s want %s", got, want)
	}
}

// testPorts: digital 0-3 pwm capable, 4 input only, 5 output only, analog 0-1.
func testPorts() []drivers.Port {
	ports := []drivers.Port{}
	for ch := 0; ch < 4; ch++ {
		ports = append(ports, drivers.Port{Channel: ch, Kind: drivers.PortDigital, PWM: true})
	}
	ports = append(ports,
		drivers.Port{Channel: 4, Kind: drivers.PortDigital, Direction: drivers.InputOnly},
		drivers.Port{Channel: 5, Kind: drivers.PortDigital, Direction: drivers.OutputOnly},
		drivers.Port{Channel: 0, Kind: drivers.PortAnalog, Direction: drivers.InputOnly},
		drivers.Port{Channel: 1, Kind: drivers.PortAnalog, Direction: drivers.InputOnly},
	)
	return ports
}

type bench struct {
	hw       *drivers.MockHardware
	session  *Session
	worker   *Worker
	registry *Registry
	handlers *Handlers
}

// newBench wires handlers to a running worker over mock hardware, without
// going through session startup.
func newBench(t *testing.T, timeout time.Duration) *bench {
	t.Helper()

	b := &bench{hw: drivers.NewMockHardware(testPorts())}
	b.session = New(Options{Logger: quietLogger()})
	b.worker = NewWorker(b.hw, timeout, quietLogger())
	b.registry = NewRegistry(b.hw)
	b.handlers = NewHandlers(b.session, b.worker, b.registry, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go b.worker.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-b.worker.Done()
	})
	return b
}
