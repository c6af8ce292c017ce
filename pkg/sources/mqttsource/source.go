// Package mqttsource provides an events.EventSource that subscribes to a
// set of MQTT topics and reports each message as an impacted leaf
// condition, adapted from the teacher's pkg/mqtt publisher-oriented client
// into a subscribing event feed.
package mqttsource

import (
	"context"
	"fmt"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/lumenhome/condrules/pkg/engine"
	"github.com/lumenhome/condrules/pkg/logx"
)

// Mapper turns one received MQTT message into the conditions it impacts.
// The default mapper (used when Config.Mapper is nil) sets the message's
// topic leaf true and reports only that leaf.
type Mapper func(topic string, payload []byte) []engine.Condition

// Config configures the MQTT event source.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topics   []string
	QoS      byte
	// Mapper overrides how a received message maps to impacted conditions.
	// Leave nil to use the default per-topic leaf.
	Mapper Mapper
}

// TopicLeaf is the leaf condition a subscribed topic drives: Set(true) on
// every message received, matching the simplest possible "topic has fired"
// semantics; payload-derived boolean logic goes through Config.Mapper
// instead of this leaf.
type TopicLeaf struct {
	*engine.LeafCondition
	Topic string
}

// Source is an events.EventSource backed by a live MQTT subscription.
type Source struct {
	cfg    Config
	client MQTT.Client
	logger *logx.Logger

	mu     sync.Mutex
	leaves map[string]*TopicLeaf
	msgs   chan mqttMessage
}

type mqttMessage struct {
	topic   string
	payload []byte
}

// New constructs a Source. It does not connect until Run is called.
func New(cfg Config, engineRef *engine.Engine, logger *logx.Logger) *Source {
	leaves := make(map[string]*TopicLeaf, len(cfg.Topics))
	for _, topic := range cfg.Topics {
		leaves[topic] = &TopicLeaf{LeafCondition: engine.NewLeaf(fmt.Sprintf("mqtt(%s)", topic)), Topic: topic}
	}
	return &Source{
		cfg:    cfg,
		logger: logger,
		leaves: leaves,
		msgs:   make(chan mqttMessage, 64),
	}
}

// Leaf returns the leaf condition for topic, if it was included in Config's
// topic list, so rule code can reference it directly.
func (s *Source) Leaf(topic string) (*TopicLeaf, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leaves[topic]
	return l, ok
}

// Run implements events.EventSource. It connects on first call and blocks
// until the next batch of impacted conditions (a single topic's leaf,
// driven On by message arrival) is ready, or ctx is cancelled.
func (s *Source) Run(ctx context.Context) ([]engine.Condition, error) {
	s.mu.Lock()
	if s.client == nil {
		if err := s.connect(); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	s.mu.Unlock()

	select {
	case msg := <-s.msgs:
		if s.cfg.Mapper != nil {
			return s.cfg.Mapper(msg.topic, msg.payload), nil
		}
		s.mu.Lock()
		leaf, ok := s.leaves[msg.topic]
		s.mu.Unlock()
		if !ok {
			return nil, nil
		}
		leaf.Set(true)
		return []engine.Condition{leaf}, nil
	case <-ctx.Done():
		s.disconnect()
		return nil, ctx.Err()
	}
}

func (s *Source) connect() error {
	opts := MQTT.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(s.cfg.ClientID)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetDefaultPublishHandler(s.onMessage)

	client := MQTT.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	s.client = client

	for topic := range s.leaves {
		token := client.Subscribe(topic, s.cfg.QoS, s.onMessage)
		if token.Wait() && token.Error() != nil {
			return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
		}
	}

	s.logger.Info("mqtt event source connected", "broker", s.cfg.Broker, "topics", len(s.leaves))
	return nil
}

func (s *Source) onMessage(_ MQTT.Client, msg MQTT.Message) {
	select {
	case s.msgs <- mqttMessage{topic: msg.Topic(), payload: msg.Payload()}:
	default:
		s.logger.Warn("mqtt event source dropped message: queue full", "topic", msg.Topic())
	}
}

func (s *Source) disconnect() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}
