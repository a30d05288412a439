package mqtt

import (
	"context"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hubertat/repbot"
	"github.com/hubertat/repbot/names"
)

const subscribeTimeoutSeconds = 15
const connectionTimeoutSeconds = 5
const publishTimeoutSeconds = 4
const serviceTimeoutSeconds = 5

const replySuffix = "/reply"
const errorProperty = "error"

var ErrNotConnected = errors.New("mqtt client not connected")

type publishFunc func(ctx context.Context, pub *paho.Publish) error
type subscribeFunc func(ctx context.Context, sub *paho.Subscribe) error

// MqttClient carries the bridge topics and services over an MQTT v5
// broker. Services use the request's response topic and correlation data.
type MqttClient struct {
	config autopaho.ClientConfig
	conn   *autopaho.ConnectionManager
	logger *log.Logger

	node        string
	remaps      map[string]string
	contentType string

	mu       sync.RWMutex
	handlers map[string]repbot.MessageHandler
	services map[string]repbot.ServiceHandler

	replyTopic string
	pending    map[string]chan *paho.Publish

	// closed once the first subscribe after connecting has returned
	subscribed     chan struct{}
	subscribedOnce sync.Once

	publish publishFunc
}

// Publisher sends on one resolved topic.
type Publisher struct {
	topic  string
	client *MqttClient
}

func (pub *Publisher) Publish(payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeoutSeconds*time.Second)
	defer cancel()

	return pub.client.publish(ctx, &paho.Publish{
		Topic:   pub.topic,
		QoS:     0,
		Payload: payload,
		Properties: &paho.PublishProperties{
			ContentType: pub.client.contentType,
		},
	})
}

func (pub *Publisher) Topic() string {
	return pub.topic
}

func (mc *MqttClient) String() string {
	return "mqtt"
}

func (mc *MqttClient) resolve(name string) string {
	return names.Topic(mc.node, name, mc.remaps)
}

func (mc *MqttClient) Subscribe(name string, handler repbot.MessageHandler) error {
	topic := mc.resolve(name)

	mc.mu.Lock()
	defer mc.mu.Unlock()
	if _, taken := mc.handlers[topic]; taken {
		return errors.Errorf("topic %s already subscribed", topic)
	}
	mc.handlers[topic] = handler
	mc.logger.Debug("subscription registered", "topic", topic)
	return nil
}

func (mc *MqttClient) Advertise(name string) (repbot.Publisher, error) {
	topic := mc.resolve(name)
	mc.logger.Debug("publisher registered", "topic", topic)
	return &Publisher{topic: topic, client: mc}, nil
}

func (mc *MqttClient) Serve(name string, handler repbot.ServiceHandler) error {
	topic := mc.resolve(name)

	mc.mu.Lock()
	defer mc.mu.Unlock()
	if _, taken := mc.services[topic]; taken {
		return errors.Errorf("service %s already served", topic)
	}
	mc.services[topic] = handler
	mc.logger.Debug("service registered", "topic", topic)
	return nil
}

func (mc *MqttClient) topics() (topics []string) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	for topic := range mc.handlers {
		topics = append(topics, topic)
	}
	for topic := range mc.services {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return
}

func (mc *MqttClient) connPublish(ctx context.Context, pub *paho.Publish) error {
	if mc.conn == nil {
		return ErrNotConnected
	}
	_, err := mc.conn.Publish(ctx, pub)
	return err
}

// route hands an inbound publish to its handler. Topic handlers run in
// the receiving goroutine so commands keep their order; services get their
// own goroutine since replying publishes from within the callback.
func (mc *MqttClient) route(pub *paho.Publish) bool {
	if pub.Topic == mc.replyTopic {
		mc.deliverReply(pub)
		return true
	}

	mc.mu.RLock()
	handler, isTopic := mc.handlers[pub.Topic]
	service, isService := mc.services[pub.Topic]
	mc.mu.RUnlock()

	switch {
	case isTopic:
		handler(pub.Payload)
		return true
	case isService:
		go mc.serve(pub, service)
		return true
	}
	return false
}

func (mc *MqttClient) serve(req *paho.Publish, service repbot.ServiceHandler) {
	ctx, cancel := context.WithTimeout(context.Background(), serviceTimeoutSeconds*time.Second)
	defer cancel()

	reply := &paho.Publish{
		Topic:      req.Topic + replySuffix,
		QoS:        1,
		Properties: &paho.PublishProperties{ContentType: mc.contentType},
	}
	if req.Properties != nil {
		if len(req.Properties.ResponseTopic) > 0 {
			reply.Topic = req.Properties.ResponseTopic
		}
		reply.Properties.CorrelationData = req.Properties.CorrelationData
	}

	payload, err := service(ctx, req.Payload)
	if err != nil {
		mc.logger.Warn("service call failed", "topic", req.Topic, "err", err)
		reply.Properties.User = append(reply.Properties.User, paho.UserProperty{Key: errorProperty, Value: err.Error()})
	}
	reply.Payload = payload

	err = mc.publish(ctx, reply)
	if err != nil {
		mc.logger.Error("failed to publish service reply", "topic", reply.Topic, "err", err)
	}
}

func (mc *MqttClient) deliverReply(pub *paho.Publish) {
	if pub.Properties == nil {
		return
	}
	mc.mu.RLock()
	reply, waiting := mc.pending[string(pub.Properties.CorrelationData)]
	mc.mu.RUnlock()
	if !waiting {
		mc.logger.Debug("dropping late or unknown reply", "correlation", string(pub.Properties.CorrelationData))
		return
	}
	select {
	case reply <- pub:
	default:
	}
}

// Call sends request to a service and waits for the reply until ctx ends.
func (mc *MqttClient) Call(ctx context.Context, name string, request []byte) ([]byte, error) {
	correlation := uuid.NewString()
	reply := make(chan *paho.Publish, 1)

	mc.mu.Lock()
	mc.pending[correlation] = reply
	mc.mu.Unlock()
	defer func() {
		mc.mu.Lock()
		delete(mc.pending, correlation)
		mc.mu.Unlock()
	}()

	err := mc.publish(ctx, &paho.Publish{
		Topic:   mc.resolve(name),
		QoS:     1,
		Payload: request,
		Properties: &paho.PublishProperties{
			ContentType:     mc.contentType,
			ResponseTopic:   mc.replyTopic,
			CorrelationData: []byte(correlation),
		},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to call %s", name)
	}

	select {
	case pub := <-reply:
		for _, prop := range pub.Properties.User {
			if prop.Key == errorProperty {
				return nil, errors.Errorf("service %s failed: %s", name, prop.Value)
			}
		}
		return pub.Payload, nil
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "no reply from %s", name)
	}
}

// Send publishes a single message on a topic.
func (mc *MqttClient) Send(name string, payload []byte) error {
	pub, err := mc.Advertise(name)
	if err != nil {
		return err
	}
	return pub.Publish(payload)
}

func (mc *MqttClient) onConnUp(cm *autopaho.ConnectionManager, connAck *paho.Connack) {
	mc.logger.Info("Connected to MQTT broker")

	mc.subscribeTopics(func(ctx context.Context, sub *paho.Subscribe) error {
		_, err := cm.Subscribe(ctx, sub)
		return err
	})
}

func (mc *MqttClient) subscribeTopics(subscribe subscribeFunc) {
	defer mc.subscribedOnce.Do(func() { close(mc.subscribed) })

	subs := []paho.SubscribeOptions{}
	for _, topic := range append(mc.topics(), mc.replyTopic) {
		subs = append(subs, paho.SubscribeOptions{
			QoS:   1,
			Topic: topic,
		})
	}
	mc.logger.Debug("subscribing mqtt", "subs", subs)

	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeoutSeconds*time.Second)
	defer cancel()

	err := subscribe(ctx, &paho.Subscribe{
		Subscriptions: subs,
	})
	if err != nil {
		mc.logger.Error("Failed to subscribe to topics", "err", err)
	}
}

// waitSubscribed blocks until the topics and the reply topic were
// subscribed, so a Call right after Connect cannot miss its reply.
func (mc *MqttClient) waitSubscribed(ctx context.Context) error {
	select {
	case <-mc.subscribed:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "mqtt subscriptions not confirmed")
	}
}

func (mc *MqttClient) onConnError(err error) {
	mc.logger.Error("Received Mqtt connection error", "err", err)
}

func (mc *MqttClient) onSrvDisconnect(d *paho.Disconnect) {
	mc.logger.Info("Disconnected from MQTT broker", "reason", d.ReasonCode)
}

func (mc *MqttClient) onPublishRecv() []func(paho.PublishReceived) (bool, error) {
	return []func(paho.PublishReceived) (bool, error){
		func(pr paho.PublishReceived) (bool, error) {
			handled := mc.route(pr.Packet)
			if !handled {
				mc.logger.Debug("no handler for message", "topic", pr.Packet.Topic)
			}
			return handled, nil
		},
	}
}

// Connect dials the broker and waits for the first connection. The
// connection lives until ctx ends. Topics registered so far are
// subscribed on every (re)connect.
func (mc *MqttClient) Connect(ctx context.Context) (err error) {
	awaitCtx, cancel := context.WithTimeout(ctx, connectionTimeoutSeconds*time.Second)
	defer cancel()

	mc.logger.Debug("NewConnection", "topics", mc.topics())
	cm, err := autopaho.NewConnection(ctx, mc.config)
	if err != nil {
		return errors.Wrap(err, "failed to create mqtt connection")
	}
	mc.conn = cm

	err = cm.AwaitConnection(awaitCtx)
	if err != nil {
		return errors.Wrap(err, "mqtt broker not reachable")
	}
	return mc.waitSubscribed(awaitCtx)
}

func (mc *MqttClient) Disconnect(ctx context.Context) error {
	if mc.conn == nil {
		return nil
	}
	return mc.conn.Disconnect(ctx)
}

func NewMqttClient(broker, node string, remaps map[string]string, contentType string) (mc *MqttClient, err error) {
	addr, err := url.Parse(broker)
	if err != nil {
		err = errors.Wrapf(err, "failed to parse broker url %s", broker)
		return
	}

	mc = &MqttClient{
		logger:      repbot.NewLogger("mqtt"),
		node:        node,
		remaps:      remaps,
		contentType: contentType,
		handlers:    make(map[string]repbot.MessageHandler),
		services:    make(map[string]repbot.ServiceHandler),
		pending:     make(map[string]chan *paho.Publish),
		subscribed:  make(chan struct{}),
	}
	mc.publish = mc.connPublish

	clientId := names.Namespace(node)[1:] + "-" + uuid.NewString()[:8]
	mc.replyTopic = clientId + replySuffix

	mc.config = autopaho.ClientConfig{
		ServerUrls:            []*url.URL{addr},
		KeepAlive:             20,
		SessionExpiryInterval: 60,
		OnConnectionUp:        mc.onConnUp,
		OnConnectError:        mc.onConnError,
		ClientConfig: paho.ClientConfig{
			ClientID:           clientId,
			OnClientError:      mc.onConnError,
			OnServerDisconnect: mc.onSrvDisconnect,
			OnPublishReceived:  mc.onPublishRecv(),
		},
	}

	return
}
