package repbot

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/hubertat/repbot/drivers"
	"github.com/hubertat/repbot/msgs"
	"github.com/hubertat/repbot/params"
)

const defaultNodeName = "repbot"
const defaultCallTimeout = 250 * time.Millisecond
const defaultRequestTimeout = 2 * time.Second

type State int

const (
	StateCreated State = iota
	StateResolvingParams
	StateAcquiringHardware
	StateRegisteringHandlers
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateResolvingParams:
		return "resolving_params"
	case StateAcquiringHardware:
		return "acquiring_hardware"
	case StateRegisteringHandlers:
		return "registering_handlers"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// HardwareFactory opens the hardware for a profile name.
type HardwareFactory func(profile string) (drivers.Hardware, error)

type Options struct {
	NodeName string

	Params       params.Store
	Declared     []Param
	ParamTimeout time.Duration

	Hardware   HardwareFactory
	Transports []Transport
	Sinks      []TelemetrySink
	Codec      msgs.Codec

	SamplePeriod   time.Duration
	CallTimeout    time.Duration
	RequestTimeout time.Duration

	Logger *log.Logger
}

// SessionState is a copy of the session's externally visible state.
type SessionState struct {
	NodeName string
	Config   map[string]string
	Enabled  bool
	Ready    bool
}

// Session runs one bridge: it resolves parameters, opens the hardware,
// registers handlers on the transports and then samples telemetry.
type Session struct {
	opts   Options
	logger *log.Logger

	mu      sync.RWMutex
	state   State
	config  map[string]string
	enabled bool
	ready   bool
	readyCh chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	hw       drivers.Hardware
	registry *Registry
	worker   *Worker
	handlers *Handlers
	sampler  *Sampler
	sinks    []TelemetrySink

	closeOnce sync.Once
}

func New(opts Options) *Session {
	if len(opts.NodeName) == 0 {
		opts.NodeName = defaultNodeName
	}
	if opts.Declared == nil {
		opts.Declared = DefaultParams()
	}
	if opts.Hardware == nil {
		opts.Hardware = drivers.DefaultProfiles().Open
	}
	if opts.Codec == nil {
		opts.Codec = msgs.JSON{}
	}
	if opts.SamplePeriod <= 0 {
		opts.SamplePeriod = DefaultSamplePeriod
	}
	if opts.CallTimeout == 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.Logger == nil {
		opts.Logger = NewLogger(opts.NodeName)
	}

	return &Session{
		opts:    opts,
		logger:  opts.Logger,
		config:  make(map[string]string),
		readyCh: make(chan struct{}),
	}
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) transition(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	s.logger.Debug("session state", "from", prev, "to", next)
}

func (s *Session) fail(state State, err error) error {
	s.transition(StateFailed)
	return &StartupError{State: state, Err: err}
}

func (s *Session) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

func (s *Session) setEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
}

// Ready is closed once the session reached StateReady.
func (s *Session) Ready() <-chan struct{} {
	return s.readyCh
}

func (s *Session) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

func (s *Session) Snapshot() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	config := make(map[string]string, len(s.config))
	for k, v := range s.config {
		config[k] = v
	}
	return SessionState{
		NodeName: s.opts.NodeName,
		Config:   config,
		Enabled:  s.enabled,
		Ready:    s.ready,
	}
}

func (s *Session) Handlers() *Handlers {
	return s.handlers
}

func (s *Session) Sampler() *Sampler {
	return s.sampler
}

// Start walks the startup states in order. ctx bounds the whole session
// lifetime, not only startup.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateCreated {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("=== REPBot session starting ===", "node", s.opts.NodeName)

	s.resolveParams()

	err := s.acquireHardware()
	if err != nil {
		return s.fail(StateAcquiringHardware, err)
	}

	err = s.registerHandlers()
	if err != nil {
		return s.fail(StateRegisteringHandlers, err)
	}

	err = s.becomeReady()
	if err != nil {
		return s.fail(StateReady, err)
	}
	return nil
}

func (s *Session) resolveParams() {
	s.transition(StateResolvingParams)

	config := resolveParams(s.ctx, s.opts.NodeName, s.opts.Params, s.opts.Declared, s.opts.ParamTimeout, s.logger)

	s.mu.Lock()
	s.config = config
	s.mu.Unlock()
	s.logger.Info("parameters resolved", "config", config)
}

func (s *Session) acquireHardware() error {
	s.transition(StateAcquiringHardware)

	profile := s.Snapshot().Config[ParamConfiguration]
	hw, err := s.opts.Hardware(profile)
	if err != nil {
		return errors.Wrapf(err, "failed to acquire hardware for configuration %q", profile)
	}

	s.hw = hw
	s.registry = NewRegistry(hw)
	s.worker = NewWorker(hw, s.opts.CallTimeout, s.logger.WithPrefix(s.opts.NodeName+"/worker"))
	go s.worker.Run(s.ctx)

	s.logger.Info("hardware acquired", "driver", hw, "profile", profile, "ports", len(s.registry.ports))
	return nil
}

func (s *Session) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, s.opts.RequestTimeout)
}

func (s *Session) registerHandlers() error {
	s.transition(StateRegisteringHandlers)

	s.handlers = NewHandlers(s, s.worker, s.registry, s.logger.WithPrefix(s.opts.NodeName+"/handlers"))
	s.sinks = append([]TelemetrySink(nil), s.opts.Sinks...)

	for _, t := range s.opts.Transports {
		err := s.registerOn(t)
		if err != nil {
			return errors.Wrapf(err, "failed to register handlers on %s", t)
		}
	}

	for _, t := range s.opts.Transports {
		err := t.Connect(s.ctx)
		if err != nil {
			return errors.Wrapf(err, "failed to connect %s", t)
		}
		s.logger.Info("transport connected", "transport", t)
	}
	return nil
}

func (s *Session) registerOn(t Transport) error {
	codec := s.opts.Codec

	err := t.Subscribe(TopicDigitalOut, func(payload []byte) {
		var cmd msgs.DigitalOut
		if err := codec.Unmarshal(payload, &cmd); err != nil {
			s.logger.Warn("dropping undecodable message", "topic", TopicDigitalOut, "err", err)
			return
		}
		ctx, cancel := s.requestContext()
		defer cancel()
		s.handlers.HandleDigitalWrite(ctx, cmd.Channel, cmd.Value)
	})
	if err != nil {
		return err
	}

	err = t.Subscribe(TopicPwmOut, func(payload []byte) {
		var cmd msgs.PwmOut
		if err := codec.Unmarshal(payload, &cmd); err != nil {
			s.logger.Warn("dropping undecodable message", "topic", TopicPwmOut, "err", err)
			return
		}
		ctx, cancel := s.requestContext()
		defer cancel()
		s.handlers.HandlePwmWrite(ctx, cmd.Channel, cmd.Value)
	})
	if err != nil {
		return err
	}

	sink, err := newTopicSink(t, codec)
	if err != nil {
		return err
	}
	s.sinks = append(s.sinks, sink)

	err = t.Serve(ServiceConfigIO, func(ctx context.Context, request []byte) ([]byte, error) {
		var req msgs.ConfigureIORequest
		if err := codec.Unmarshal(request, &req); err != nil {
			return nil, errors.Wrap(err, "failed to decode config_io request")
		}
		ctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
		result := s.handlers.HandleConfigureBatch(ctx, req.Configs)
		return codec.Marshal(msgs.ConfigureIOResponse{Success: result.Success, RetCode: result.RetCode})
	})
	if err != nil {
		return err
	}

	return t.Serve(ServiceEnable, func(ctx context.Context, request []byte) ([]byte, error) {
		var req msgs.EnableRequest
		if err := codec.Unmarshal(request, &req); err != nil {
			return nil, errors.Wrap(err, "failed to decode enable request")
		}
		ctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
		result := s.handlers.HandleEnable(ctx, req.Enabled)
		return codec.Marshal(msgs.EnableResponse{Success: result.Success})
	})
}

func (s *Session) becomeReady() error {
	s.sampler = NewSampler(s.opts.NodeName, s.opts.SamplePeriod, s.worker, s.registry.Ports(), s.sinks, s.logger.WithPrefix(s.opts.NodeName+"/sampler"))

	s.mu.Lock()
	s.state = StateReady
	s.ready = true
	close(s.readyCh)
	s.mu.Unlock()
	s.logger.Info("session ready", "node", s.opts.NodeName)

	return s.sampler.Start(s.ctx)
}

// Run starts the session and blocks until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	err := s.Start(ctx)
	if err != nil {
		s.Close()
		return err
	}
	<-ctx.Done()
	return s.Close()
}

// Close stops the sampler and the worker, then disables and releases the
// hardware.
func (s *Session) Close() (err error) {
	s.closeOnce.Do(func() {
		if s.sampler != nil {
			s.sampler.Stop()
		}
		if s.cancel != nil {
			s.cancel()
		}
		if s.worker != nil {
			<-s.worker.Done()
		}
		if s.hw == nil {
			return
		}
		if s.worker != nil && s.worker.Busy() {
			s.logger.Warn("hardware still busy, skipping disable and close")
			return
		}

		disableErr := s.hw.Disable()
		if disableErr != nil {
			s.logger.Warn("failed to disable hardware on close", "err", disableErr)
		}
		err = errors.Wrap(s.hw.Close(), "failed to close hardware")
		s.setEnabled(false)
		s.logger.Info("session closed")
	})
	return
}
