package repbot

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/hubertat/repbot/drivers"
	"github.com/hubertat/repbot/msgs"
)

// DefaultSamplePeriod is the telemetry tick period.
const DefaultSamplePeriod = 50 * time.Millisecond

type SamplerState int

const (
	SamplerIdle SamplerState = iota
	SamplerRunning
	SamplerStopped
)

func (s SamplerState) String() string {
	switch s {
	case SamplerRunning:
		return "running"
	case SamplerStopped:
		return "stopped"
	default:
		return "idle"
	}
}

// TelemetrySink receives every reading of a tick.
type TelemetrySink interface {
	PublishDigital(msgs.DigitalIn) error
	PublishAnalog(msgs.AnalogIn) error
}

type SamplerStats struct {
	Ticks        uint64
	Skipped      uint64
	Abandoned    uint64
	ReadFailures uint64
}

// Sampler reads every input capable port once per period and hands the
// readings to the sinks.
type Sampler struct {
	source string
	period time.Duration
	worker *Worker
	ports  []drivers.Port
	sinks  []TelemetrySink
	logger *log.Logger

	mu    sync.Mutex
	state SamplerState
	stop  chan struct{}
	done  chan struct{}

	ticking      atomic.Bool
	ticks        atomic.Uint64
	skipped      atomic.Uint64
	abandoned    atomic.Uint64
	readFailures atomic.Uint64
}

func NewSampler(source string, period time.Duration, worker *Worker, ports []drivers.Port, sinks []TelemetrySink, logger *log.Logger) *Sampler {
	if period <= 0 {
		period = DefaultSamplePeriod
	}
	return &Sampler{
		source: source,
		period: period,
		worker: worker,
		ports:  append([]drivers.Port(nil), ports...),
		sinks:  sinks,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (s *Sampler) State() SamplerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start launches the tick loop. A sampler runs once; it cannot be
// restarted after Stop.
func (s *Sampler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SamplerIdle {
		return errors.Errorf("sampler can not start from state %s", s.state)
	}
	s.state = SamplerRunning

	go s.loop(ctx)
	return nil
}

// Stop ends the loop between ticks and waits for it to exit.
func (s *Sampler) Stop() {
	s.mu.Lock()
	state := s.state
	if state != SamplerStopped {
		s.state = SamplerStopped
		close(s.stop)
	}
	s.mu.Unlock()

	if state == SamplerRunning {
		<-s.done
	}
}

func (s *Sampler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			s.mu.Lock()
			if s.state == SamplerRunning {
				s.state = SamplerStopped
				close(s.stop)
			}
			s.mu.Unlock()
			return
		case <-ticker.C:
			tickCtx, cancel := context.WithTimeout(ctx, s.period)
			s.Tick(tickCtx)
			cancel()
		}
	}
}

// Tick samples all ports once. It returns false when another tick was
// still in progress and this one was skipped.
func (s *Sampler) Tick(ctx context.Context) bool {
	if !s.ticking.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.logger.Debug("tick skipped, previous tick still running")
		return false
	}
	defer s.ticking.Store(false)
	s.ticks.Add(1)

	for i, port := range s.ports {
		if ctx.Err() != nil {
			s.abandoned.Add(1)
			s.logger.Warn("tick abandoned", "unread", len(s.ports)-i, "err", ctx.Err())
			return true
		}

		switch port.Kind {
		case drivers.PortDigital:
			if port.Direction == drivers.OutputOnly {
				continue
			}
			s.sampleDigital(ctx, port.Channel)
		case drivers.PortAnalog:
			s.sampleAnalog(ctx, port.Channel)
		}
	}
	return true
}

func (s *Sampler) sampleDigital(ctx context.Context, channel int) {
	var state bool
	err := s.worker.Do(ctx, PriorityTelemetry, func(hw drivers.Hardware) (err error) {
		state, err = hw.ReadDigital(channel)
		return
	})
	if err != nil {
		s.readFailures.Add(1)
		s.logger.Warn("digital read failed", "channel", channel, "err", err)
		return
	}

	reading := msgs.DigitalIn{Source: s.source, Channel: channel}
	if state {
		reading.Value = 1
	}
	for _, sink := range s.sinks {
		if err := sink.PublishDigital(reading); err != nil {
			s.logger.Warn("failed to publish digital reading", "channel", channel, "err", err)
		}
	}
}

func (s *Sampler) sampleAnalog(ctx context.Context, channel int) {
	var value float64
	err := s.worker.Do(ctx, PriorityTelemetry, func(hw drivers.Hardware) (err error) {
		value, err = hw.ReadAnalog(channel)
		return
	})
	if err != nil {
		s.readFailures.Add(1)
		s.logger.Warn("analog read failed", "channel", channel, "err", err)
		return
	}

	reading := msgs.AnalogIn{Source: s.source, Channel: channel, Value: value}
	for _, sink := range s.sinks {
		if err := sink.PublishAnalog(reading); err != nil {
			s.logger.Warn("failed to publish analog reading", "channel", channel, "err", err)
		}
	}
}

func (s *Sampler) Stats() SamplerStats {
	return SamplerStats{
		Ticks:        s.ticks.Load(),
		Skipped:      s.skipped.Load(),
		Abandoned:    s.abandoned.Load(),
		ReadFailures: s.readFailures.Load(),
	}
}
