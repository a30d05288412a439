package repbot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubertat/repbot/drivers"
	"github.com/hubertat/repbot/msgs"
)

type recordingSink struct {
	mu      sync.Mutex
	digital []msgs.DigitalIn
	analog  []msgs.AnalogIn
	err     error
}

func (rs *recordingSink) PublishDigital(reading msgs.DigitalIn) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.digital = append(rs.digital, reading)
	return rs.err
}

func (rs *recordingSink) PublishAnalog(reading msgs.AnalogIn) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.analog = append(rs.analog, reading)
	return rs.err
}

func (rs *recordingSink) readings() ([]msgs.DigitalIn, []msgs.AnalogIn) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]msgs.DigitalIn(nil), rs.digital...), append([]msgs.AnalogIn(nil), rs.analog...)
}

func newTestSampler(t *testing.T, period time.Duration, sinks ...TelemetrySink) (*Sampler, *drivers.MockHardware) {
	t.Helper()

	hw := drivers.NewMockHardware(testPorts())
	w := startWorker(t, hw, 0)
	return NewSampler("bot", period, w, hw.Ports(), sinks, quietLogger()), hw
}

func TestTickReadsAllInputs(t *testing.T) {
	sink := &recordingSink{}
	s, hw := newTestSampler(t, time.Hour, sink)
	hw.SetInput(4, true)
	hw.SetAnalog(1, 3.3)

	assert.True(t, s.Tick(context.Background()))

	digital, analog := sink.readings()
	assert.Equal(t, []msgs.DigitalIn{
		{Source: "bot", Channel: 0, Value: 0},
		{Source: "bot", Channel: 1, Value: 0},
		{Source: "bot", Channel: 2, Value: 0},
		{Source: "bot", Channel: 3, Value: 0},
		{Source: "bot", Channel: 4, Value: 1},
	}, digital)
	assert.Equal(t, []msgs.AnalogIn{
		{Source: "bot", Channel: 0, Value: 0},
		{Source: "bot", Channel: 1, Value: 3.3},
	}, analog)
	assert.NotContains(t, hw.Calls(), "read 5")
}

func TestTickIsolatesReadFailures(t *testing.T) {
	sink := &recordingSink{}
	s, hw := newTestSampler(t, time.Hour, sink)
	hw.FailReads(drivers.PortDigital, 2, errors.New("bus error"))
	hw.FailReads(drivers.PortAnalog, 0, errors.New("adc timeout"))

	s.Tick(context.Background())

	digital, analog := sink.readings()
	assert.Len(t, digital, 4)
	for _, r := range digital {
		assert.NotEqual(t, 2, r.Channel)
	}
	require.Len(t, analog, 1)
	assert.Equal(t, 1, analog[0].Channel)
	assert.Equal(t, uint64(2), s.Stats().ReadFailures)
}

func TestTickIsolatesSinkFailures(t *testing.T) {
	failing := &recordingSink{err: errors.New("broker gone")}
	healthy := &recordingSink{}
	s, _ := newTestSampler(t, time.Hour, failing, healthy)

	s.Tick(context.Background())

	digital, analog := healthy.readings()
	assert.Len(t, digital, 5)
	assert.Len(t, analog, 2)
}

func TestTickSkippedWhileTicking(t *testing.T) {
	sink := &recordingSink{}
	s, _ := newTestSampler(t, time.Hour, sink)

	s.ticking.Store(true)
	assert.False(t, s.Tick(context.Background()))
	s.ticking.Store(false)

	digital, _ := sink.readings()
	assert.Empty(t, digital)
	assert.Equal(t, SamplerStats{Skipped: 1}, s.Stats())
}

func TestTickAbandonedWhenPeriodEnds(t *testing.T) {
	sink := &recordingSink{}
	s, _ := newTestSampler(t, time.Hour, sink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, s.Tick(ctx))

	digital, analog := sink.readings()
	assert.Empty(t, digital)
	assert.Empty(t, analog)
	assert.Equal(t, uint64(1), s.Stats().Abandoned)
}

func TestSamplerStartStop(t *testing.T) {
	sink := &recordingSink{}
	s, _ := newTestSampler(t, 5*time.Millisecond, sink)
	assert.Equal(t, SamplerIdle, s.State())

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, SamplerRunning, s.State())
	assert.Error(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool { return s.Stats().Ticks >= 2 }, time.Second, time.Millisecond)

	s.Stop()
	assert.Equal(t, SamplerStopped, s.State())
	ticks := s.Stats().Ticks
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, ticks, s.Stats().Ticks)

	assert.Error(t, s.Start(context.Background()))
	s.Stop()
}

func TestSamplerStopsWithContext(t *testing.T) {
	s, _ := newTestSampler(t, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()

	assert.Eventually(t, func() bool { return s.State() == SamplerStopped }, time.Second, time.Millisecond)
	s.Stop()
}
