package repbot

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hubertat/repbot/msgs"
)

// Topic and service names, private to the node.
const (
	TopicDigitalOut = "~digital_out"
	TopicPwmOut     = "~pwm_out"
	TopicDigitalIn  = "~digital_in"
	TopicAnalogIn   = "~analog_in"

	ServiceConfigIO = "~config_io"
	ServiceEnable   = "~enable"
)

type MessageHandler func(payload []byte)

type ServiceHandler func(ctx context.Context, request []byte) ([]byte, error)

type Publisher interface {
	Publish(payload []byte) error
}

// Transport binds the session to a pub/sub and request/response
// substrate. Names are given unresolved; the transport applies its node
// namespace and remaps. Connect is called once everything is registered.
type Transport interface {
	Subscribe(name string, handler MessageHandler) error
	Advertise(name string) (Publisher, error)
	Serve(name string, handler ServiceHandler) error
	Connect(ctx context.Context) error
	String() string
}

// topicSink publishes readings on a transport's telemetry topics.
type topicSink struct {
	codec   msgs.Codec
	digital Publisher
	analog  Publisher
}

func newTopicSink(t Transport, codec msgs.Codec) (*topicSink, error) {
	digital, err := t.Advertise(TopicDigitalIn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to advertise %s on %s", TopicDigitalIn, t)
	}
	analog, err := t.Advertise(TopicAnalogIn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to advertise %s on %s", TopicAnalogIn, t)
	}
	return &topicSink{codec: codec, digital: digital, analog: analog}, nil
}

func (ts *topicSink) PublishDigital(reading msgs.DigitalIn) error {
	payload, err := ts.codec.Marshal(reading)
	if err != nil {
		return errors.Wrap(err, "failed to encode digital reading")
	}
	return ts.digital.Publish(payload)
}

func (ts *topicSink) PublishAnalog(reading msgs.AnalogIn) error {
	payload, err := ts.codec.Marshal(reading)
	if err != nil {
		return errors.Wrap(err, "failed to encode analog reading")
	}
	return ts.analog.Publish(payload)
}
