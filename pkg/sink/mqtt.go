package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const publishTimeout = 5 * time.Second

// ErrPublishTimeout is returned when the broker does not acknowledge a
// publish in time.
var ErrPublishTimeout = errors.New("mqtt publish timed out")

// MQTT publishes each sample as a JSON document under a topic derived from
// its name and label values, e.g. garden/moisture_level/0.
type MQTT struct {
	client mqtt.Client
	prefix string
	now    func() time.Time
}

var _ Sink = (*MQTT)(nil)

type mqttPayload struct {
	Value  float64           `json:"value"`
	Labels map[string]string `json:"labels,omitempty"`
	Time   time.Time         `json:"time"`
}

// NewMQTT wraps an already connected client.
func NewMQTT(client mqtt.Client, prefix string) *MQTT {
	return &MQTT{client: client, prefix: strings.TrimSuffix(prefix, "/"), now: time.Now}
}

// DialMQTT connects to cfg.Broker, retrying with exponential backoff.
func DialMQTT(ctx context.Context, cfg MQTTConfig) (*MQTT, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	retries := uint64(max(cfg.ConnectRetries, 1))

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			log.Printf("Failed to connect to MQTT broker %s: %v", cfg.Broker, token.Error())
			return token.Error()
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, retries-1), ctx))
	if err != nil {
		return nil, fmt.Errorf("could not connect to %s: %w", cfg.Broker, err)
	}

	log.Printf("Connected to MQTT broker at %s", cfg.Broker)
	return NewMQTT(client, cfg.TopicPrefix), nil
}

// Topic returns the topic a sample is published to.
func (m *MQTT) Topic(s Sample) string {
	parts := []string{s.Name}
	if m.prefix != "" {
		parts = append([]string{m.prefix}, parts...)
	}
	for _, k := range slices.Sorted(maps.Keys(s.Labels)) {
		parts = append(parts, s.Labels[k])
	}
	return strings.Join(parts, "/")
}

// Push implements Sink.
func (m *MQTT) Push(ctx context.Context, samples []Sample) error {
	t := m.now()
	for _, s := range samples {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, err := json.Marshal(mqttPayload{Value: s.Value, Labels: s.Labels, Time: t})
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", s.Name, err)
		}
		topic := m.Topic(s)
		token := m.client.Publish(topic, 0, false, payload)
		if !token.WaitTimeout(publishTimeout) {
			return fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to publish %s: %w", topic, err)
		}
	}
	return nil
}

// Close disconnects from the broker.
func (m *MQTT) Close() error {
	if m.client.IsConnected() {
		m.client.Disconnect(250)
	}
	return nil
}
