package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/itohio/garden/pkg/fieldunit"
	"github.com/itohio/garden/pkg/fusion"
	"github.com/itohio/garden/pkg/sim"
	"github.com/itohio/garden/pkg/sink"
	"github.com/itohio/garden/pkg/station"
)

// Config represents the application configuration.
type Config struct {
	Base  BaseConfig       `yaml:"base"`
	Field fieldunit.Config `yaml:"field"`
}

// BaseConfig contains everything the base station process needs.
type BaseConfig struct {
	Station station.Config `yaml:"station"`
	Bridge  BridgeConfig   `yaml:"bridge"`
	HTTP    HTTPConfig     `yaml:"http"`
	Fusion  fusion.Config  `yaml:"fusion"`
	Sinks   sink.Config    `yaml:"sinks"`
	Mock    sim.Config     `yaml:"mock"`
}

// BridgeConfig contains the serial port of the LoRa bridge.
type BridgeConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// HTTPConfig contains the operator endpoint configuration.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Base: BaseConfig{
			Station: station.DefaultConfig(),
			Bridge: BridgeConfig{
				Port:     "/dev/ttyACM0", // "COM3" on Windows
				BaudRate: 115200,
			},
			HTTP: HTTPConfig{
				Listen: ":8080",
			},
			Fusion: fusion.DefaultConfig(),
			Sinks:  sink.DefaultConfig(),
			Mock:   sim.DefaultConfig(),
		},
		Field: fieldunit.DefaultConfig(),
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Field.Validate(); err != nil {
		return nil, fmt.Errorf("invalid field unit config: %w", err)
	}
	if cfg.Base.Station.Address == cfg.Base.Station.FieldAddress {
		return nil, fmt.Errorf("invalid station config: address %d used by both ends", cfg.Base.Station.Address)
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()
	b, db := &c.Base, def.Base

	if b.Station.Address == 0 {
		b.Station.Address = db.Station.Address
	}
	if b.Station.FieldAddress == 0 {
		b.Station.FieldAddress = db.Station.FieldAddress
	}
	if b.Station.ReceiveTimeout == 0 {
		b.Station.ReceiveTimeout = db.Station.ReceiveTimeout
	}
	if b.Station.GuardDelay == 0 {
		b.Station.GuardDelay = db.Station.GuardDelay
	}

	if b.Bridge.Port == "" {
		b.Bridge.Port = db.Bridge.Port
	}
	if b.Bridge.BaudRate == 0 {
		b.Bridge.BaudRate = db.Bridge.BaudRate
	}
	if b.HTTP.Listen == "" {
		b.HTTP.Listen = db.HTTP.Listen
	}

	if b.Fusion.ProcessNoise == 0 {
		b.Fusion.ProcessNoise = db.Fusion.ProcessNoise
	}
	if b.Fusion.MeasurementNoise == 0 {
		b.Fusion.MeasurementNoise = db.Fusion.MeasurementNoise
	}

	if b.Sinks.Pushgateway.URL != "" && b.Sinks.Pushgateway.Job == "" {
		b.Sinks.Pushgateway.Job = db.Sinks.Pushgateway.Job
	}
	if b.Sinks.Influx.URL != "" && b.Sinks.Influx.Measurement == "" {
		b.Sinks.Influx.Measurement = db.Sinks.Influx.Measurement
	}
	if b.Sinks.MQTT.Broker != "" {
		if b.Sinks.MQTT.ClientID == "" {
			b.Sinks.MQTT.ClientID = db.Sinks.MQTT.ClientID
		}
		if b.Sinks.MQTT.TopicPrefix == "" {
			b.Sinks.MQTT.TopicPrefix = db.Sinks.MQTT.TopicPrefix
		}
	}
	if b.Sinks.Breaker.Failures == 0 {
		b.Sinks.Breaker = db.Sinks.Breaker
	}

	if len(b.Mock.Moisture) == 0 {
		b.Mock.Moisture = db.Mock.Moisture
	}

	f, df := &c.Field, def.Field
	if f.Address == 0 {
		f.Address = df.Address
	}
	if f.BaseAddress == 0 {
		f.BaseAddress = df.BaseAddress
	}
	if f.MoistureChannels == 0 {
		f.MoistureChannels = df.MoistureChannels
	}
	if f.EnvironmentalPeriod == 0 {
		f.EnvironmentalPeriod = df.EnvironmentalPeriod
	}
	if f.StatusPeriod == 0 {
		f.StatusPeriod = df.StatusPeriod
	}
	if f.WatchdogPeriod == 0 {
		f.WatchdogPeriod = df.WatchdogPeriod
	}
	if f.WatchdogTimeout == 0 {
		f.WatchdogTimeout = df.WatchdogTimeout
	}
	if f.PollDelay == 0 {
		f.PollDelay = df.PollDelay
	}
	if f.TransmitTimeout == 0 {
		f.TransmitTimeout = df.TransmitTimeout
	}
	if f.Radio.Frequency == 0 {
		f.Radio = df.Radio
	}
}
