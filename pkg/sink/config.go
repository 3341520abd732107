package sink

import (
	"context"
	"fmt"
	"log"
	"time"
)

// PushgatewayConfig configures the Prometheus Pushgateway sink.
type PushgatewayConfig struct {
	URL string `yaml:"url"`
	Job string `yaml:"job"`
}

// InfluxConfig configures the InfluxDB v2 sink. Empty URL disables it.
type InfluxConfig struct {
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`
}

// MQTTConfig configures the MQTT sink. Empty Broker disables it.
type MQTTConfig struct {
	Broker         string `yaml:"broker"`
	ClientID       string `yaml:"client_id"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	TopicPrefix    string `yaml:"topic_prefix"`
	ConnectRetries int    `yaml:"connect_retries"`
}

// BreakerConfig configures the circuit breaker in front of each sink.
type BreakerConfig struct {
	Failures    int           `yaml:"failures"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// Config selects and configures the sinks.
type Config struct {
	Pushgateway PushgatewayConfig `yaml:"pushgateway"`
	Influx      InfluxConfig      `yaml:"influx"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Breaker     BreakerConfig     `yaml:"breaker"`
}

// DefaultConfig pushes to a local Pushgateway only.
func DefaultConfig() Config {
	return Config{
		Pushgateway: PushgatewayConfig{
			URL: "http://localhost:9091",
			Job: "reporter",
		},
		Influx: InfluxConfig{
			Measurement: "garden",
		},
		MQTT: MQTTConfig{
			ClientID:       "garden-base",
			TopicPrefix:    "garden",
			ConnectRetries: 5,
		},
		Breaker: BreakerConfig{
			Failures:    5,
			OpenTimeout: 30 * time.Second,
			Interval:    time.Minute,
		},
	}
}

// Build creates every configured sink, each behind its own breaker. The
// returned Multi must be closed.
func Build(ctx context.Context, cfg Config) (*Multi, error) {
	var sinks []Sink
	if cfg.Pushgateway.URL != "" {
		sinks = append(sinks, NewBreaker("pushgateway", cfg.Breaker, NewPushgateway(cfg.Pushgateway)))
	}
	if cfg.Influx.URL != "" {
		sinks = append(sinks, NewBreaker("influx", cfg.Breaker, NewInflux(cfg.Influx)))
	}
	if cfg.MQTT.Broker != "" {
		m, err := DialMQTT(ctx, cfg.MQTT)
		if err != nil {
			NewMulti(sinks...).Close()
			return nil, fmt.Errorf("failed to connect mqtt sink: %w", err)
		}
		sinks = append(sinks, NewBreaker("mqtt", cfg.Breaker, m))
	}
	if len(sinks) == 0 {
		log.Printf("No metrics sinks configured, logging samples")
		sinks = append(sinks, Log{})
	}
	return NewMulti(sinks...), nil
}
