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
	"github.com/hubertat/repbot/params"
)

type memPublisher struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (mp *memPublisher) Publish(payload []byte) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.payloads = append(mp.payloads, payload)
	return nil
}

func (mp *memPublisher) count() int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return len(mp.payloads)
}

// memTransport keeps registrations in maps and lets tests deliver
// messages and call services directly.
type memTransport struct {
	handlers   map[string]MessageHandler
	services   map[string]ServiceHandler
	publishers map[string]*memPublisher
	connected  bool
	connectErr error
}

func newMemTransport() *memTransport {
	return &memTransport{
		handlers:   make(map[string]MessageHandler),
		services:   make(map[string]ServiceHandler),
		publishers: make(map[string]*memPublisher),
	}
}

func (mt *memTransport) Subscribe(name string, handler MessageHandler) error {
	mt.handlers[name] = handler
	return nil
}

func (mt *memTransport) Advertise(name string) (Publisher, error) {
	pub := &memPublisher{}
	mt.publishers[name] = pub
	return pub, nil
}

func (mt *memTransport) Serve(name string, handler ServiceHandler) error {
	mt.services[name] = handler
	return nil
}

func (mt *memTransport) Connect(ctx context.Context) error {
	if mt.connectErr != nil {
		return mt.connectErr
	}
	mt.connected = true
	return nil
}

func (mt *memTransport) String() string {
	return "mem"
}

func (mt *memTransport) call(t *testing.T, service string, request, response interface{}) {
	t.Helper()

	payload, err := msgs.JSON{}.Marshal(request)
	require.NoError(t, err)
	reply, err := mt.services[service](context.Background(), payload)
	require.NoError(t, err)
	require.NoError(t, msgs.JSON{}.Unmarshal(reply, response))
}

func (mt *memTransport) send(t *testing.T, topic string, msg interface{}) {
	t.Helper()

	payload, err := msgs.JSON{}.Marshal(msg)
	require.NoError(t, err)
	mt.handlers[topic](payload)
}

type failingStore struct{}

func (failingStore) Get(ctx context.Context, key string) (string, error) {
	return "", errors.New("param server unreachable")
}

func mockFactory(hw *drivers.MockHardware, profiles *[]string) HardwareFactory {
	return func(profile string) (drivers.Hardware, error) {
		*profiles = append(*profiles, profile)
		return hw, nil
	}
}

func startSession(t *testing.T, opts Options) *Session {
	t.Helper()

	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	if opts.SamplePeriod == 0 {
		opts.SamplePeriod = time.Hour
	}
	s := New(opts)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionStartup(t *testing.T) {
	hw := drivers.NewMockHardware(testPorts())
	var profiles []string
	mt := newMemTransport()

	s := startSession(t, Options{
		NodeName:   "bot1",
		Params:     params.Map{"/bot1/configuration": "bench"},
		Hardware:   mockFactory(hw, &profiles),
		Transports: []Transport{mt},
	})

	assert.Equal(t, StateReady, s.State())
	assert.True(t, s.IsReady())
	select {
	case <-s.Ready():
	default:
		t.Error("ready channel not closed")
	}

	assert.Equal(t, []string{"bench"}, profiles)
	assert.Equal(t, SessionState{
		NodeName: "bot1",
		Config:   map[string]string{ParamConfiguration: "bench"},
		Ready:    true,
	}, s.Snapshot())

	assert.True(t, mt.connected)
	assert.Contains(t, mt.handlers, TopicDigitalOut)
	assert.Contains(t, mt.handlers, TopicPwmOut)
	assert.Contains(t, mt.services, ServiceConfigIO)
	assert.Contains(t, mt.services, ServiceEnable)
	assert.Contains(t, mt.publishers, TopicDigitalIn)
	assert.Contains(t, mt.publishers, TopicAnalogIn)
	assert.Equal(t, SamplerRunning, s.Sampler().State())

	assertErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
}

func TestSessionParamFallback(t *testing.T) {
	tests := []struct {
		name  string
		store params.Store
	}{
		{"no store", nil},
		{"failing store", failingStore{}},
		{"missing key", params.Map{"/other/configuration": "bench"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var profiles []string
			s := startSession(t, Options{
				Params:   tt.store,
				Hardware: mockFactory(drivers.NewMockHardware(testPorts()), &profiles),
			})

			assert.Equal(t, StateReady, s.State())
			assert.Equal(t, []string{drivers.DefaultProfileName}, profiles)
		})
	}
}

func TestSessionDefaultHardware(t *testing.T) {
	s := startSession(t, Options{})

	assert.Equal(t, StateReady, s.State())
	assert.Len(t, s.registry.Ports(), 12)
}

func TestSessionHardwareFailure(t *testing.T) {
	mt := newMemTransport()
	s := New(Options{
		Logger:     quietLogger(),
		Transports: []Transport{mt},
		Hardware: func(profile string) (drivers.Hardware, error) {
			return nil, errors.New("no such board")
		},
	})

	err := s.Start(context.Background())
	require.Error(t, err)

	var se *StartupError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StateAcquiringHardware, se.State)
	assert.Equal(t, StateFailed, s.State())
	assert.False(t, s.IsReady())
	assert.False(t, mt.connected)
	assert.Empty(t, mt.handlers)
	assert.NoError(t, s.Close())
}

func TestSessionTransportFailure(t *testing.T) {
	mt := newMemTransport()
	mt.connectErr = errors.New("broker refused")
	s := New(Options{Logger: quietLogger(), Transports: []Transport{mt}})

	err := s.Start(context.Background())

	var se *StartupError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StateRegisteringHandlers, se.State)
	assert.Equal(t, StateFailed, s.State())
	s.Close()
}

func TestSessionEndToEnd(t *testing.T) {
	hw := drivers.NewMockHardware(testPorts())
	var profiles []string
	mt := newMemTransport()
	s := startSession(t, Options{
		Hardware:   mockFactory(hw, &profiles),
		Transports: []Transport{mt},
	})

	var cfgResp msgs.ConfigureIOResponse
	mt.call(t, ServiceConfigIO, msgs.ConfigureIORequest{Configs: []msgs.PinConfig{
		{Channel: 1, Config: "OUTPUT"},
		{Channel: 2, Config: "INPUT"},
		{Channel: 99, Config: "OUTPUT"},
	}}, &cfgResp)
	assert.Equal(t, msgs.ConfigureIOResponse{Success: false, RetCode: 1}, cfgResp)

	mt.send(t, TopicDigitalOut, msgs.DigitalOut{Channel: 1, Value: true})
	_, state, _ := hw.State(1)
	assert.False(t, state, "write accepted while disabled")

	var enResp msgs.EnableResponse
	mt.call(t, ServiceEnable, msgs.EnableRequest{Enabled: true}, &enResp)
	assert.True(t, enResp.Success)
	assert.True(t, s.Enabled())

	mt.send(t, TopicDigitalOut, msgs.DigitalOut{Channel: 1, Value: true})
	_, state, _ = hw.State(1)
	assert.True(t, state)
	assert.Equal(t, 1, countCalls(hw.Calls(), "write 1 true"))

	mt.handlers[TopicPwmOut]([]byte("not json"))

	_, err := mt.services[ServiceEnable](context.Background(), []byte("{"))
	assert.Error(t, err)

	require.True(t, s.Sampler().Tick(context.Background()))
	assert.Equal(t, 5, mt.publishers[TopicDigitalIn].count())
	assert.Equal(t, 2, mt.publishers[TopicAnalogIn].count())
}

func TestSessionClose(t *testing.T) {
	hw := drivers.NewMockHardware(testPorts())
	var profiles []string
	mt := newMemTransport()
	s := startSession(t, Options{
		Hardware:   mockFactory(hw, &profiles),
		Transports: []Transport{mt},
	})

	var resp msgs.EnableResponse
	mt.call(t, ServiceEnable, msgs.EnableRequest{Enabled: true}, &resp)
	require.True(t, hw.IsEnabled())

	require.NoError(t, s.Close())
	assert.False(t, hw.IsEnabled())
	assert.False(t, s.Enabled())
	assert.Equal(t, SamplerStopped, s.Sampler().State())
	assert.NoError(t, s.Close())
}

func TestSessionRun(t *testing.T) {
	s := New(Options{Logger: quietLogger(), SamplePeriod: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-s.Ready():
	case <-time.After(time.Second):
		require.FailNow(t, "session not ready")
	}
	assert.Eventually(t, func() bool { return s.Sampler().Stats().Ticks > 0 }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		require.FailNow(t, "session did not stop")
	}
}
