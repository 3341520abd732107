// Package fusion validates and smooths sensor reports on the base station
// and hands the results to a metrics sink.
package fusion

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/itohio/garden/pkg/protocol"
	"github.com/itohio/garden/pkg/sink"
)

// Config holds filter parameters.
type Config struct {
	ProcessNoise     float32 `yaml:"process_noise"`
	MeasurementNoise float32 `yaml:"measurement_noise"`
	InitialTemp      float32 `yaml:"initial_temp"`
	InitialHumidity  float32 `yaml:"initial_humidity"`
	InitialPressure  float32 `yaml:"initial_pressure"`
	InitialMoisture  float32 `yaml:"initial_moisture"`
}

// DefaultConfig returns the deployed filter parameters.
func DefaultConfig() Config {
	return Config{
		ProcessNoise:     0.01,
		MeasurementNoise: 1,
		InitialTemp:      19,
		InitialHumidity:  50,
		InitialPressure:  100,
		InitialMoisture:  17,
	}
}

// Estimates is a snapshot of the filtered values.
type Estimates struct {
	Temperature   float32   `json:"temperature"`
	Pressure      float32   `json:"pressure"`
	Humidity      float32   `json:"humidity"`
	GasResistance float32   `json:"gas_resistance"`
	Moisture      []float32 `json:"moisture"`
	Environmental time.Time `json:"environmental_at,omitzero"`
	Soil          time.Time `json:"moisture_at,omitzero"`
}

// Metric names.
const (
	MetricMoisture      = "moisture_level"
	MetricTemperature   = "temperature"
	MetricPressure      = "pressure"
	MetricHumidity      = "humidity"
	MetricGasResistance = "gas_resistance"

	LabelMoistureSensor = "moisture_sensor"
)

// Exporter owns one filter per quantity and its own validation baselines.
// Submit must be called from a single goroutine; Estimates is safe from any.
type Exporter struct {
	cfg  Config
	sink sink.Sink
	now  func() time.Time

	temp     *Kalman
	pressure *Kalman
	humidity *Kalman
	moisture []*Kalman

	env  protocol.EnvironmentalValidator
	soil protocol.MoistureValidator

	mu  sync.RWMutex
	est Estimates
}

// NewExporter returns an exporter pushing to s.
func NewExporter(cfg Config, s sink.Sink) *Exporter {
	e := &Exporter{
		cfg:      cfg,
		sink:     s,
		now:      time.Now,
		temp:     NewKalman(cfg.InitialTemp, cfg.ProcessNoise, cfg.MeasurementNoise),
		pressure: NewKalman(cfg.InitialPressure, cfg.ProcessNoise, cfg.MeasurementNoise),
		humidity: NewKalman(cfg.InitialHumidity, cfg.ProcessNoise, cfg.MeasurementNoise),
	}
	e.est = Estimates{
		Temperature: cfg.InitialTemp,
		Pressure:    cfg.InitialPressure,
		Humidity:    cfg.InitialHumidity,
	}
	return e
}

// Submit validates msg, folds it into the filters and pushes the estimates.
// Validation errors are returned; sink errors are only logged. Status
// updates carry no sensor data and are ignored.
func (e *Exporter) Submit(ctx context.Context, msg protocol.Message) error {
	var samples []sink.Sample
	switch m := msg.(type) {
	case protocol.MoistureReport:
		r, err := e.soil.Check(m)
		if err != nil {
			return err
		}
		samples = e.fuseMoisture(r)
	case protocol.EnvironmentalReport:
		r, err := e.env.Check(m)
		if err != nil {
			return err
		}
		samples = e.fuseEnvironment(r)
	default:
		return nil
	}

	if err := e.sink.Push(ctx, samples); err != nil {
		log.Printf("Failed to push metrics: %v", err)
	}
	return nil
}

func (e *Exporter) fuseMoisture(r protocol.MoistureReport) []sink.Sample {
	for len(e.moisture) < len(r.Readings) {
		e.moisture = append(e.moisture, NewKalman(e.cfg.InitialMoisture, e.cfg.ProcessNoise, e.cfg.MeasurementNoise))
	}

	levels := make([]float32, len(r.Readings))
	samples := make([]sink.Sample, len(r.Readings))
	for n, reading := range r.Readings {
		levels[n] = step(e.moisture[n], reading.Rate())
		samples[n] = sink.Sample{
			Name:   MetricMoisture,
			Help:   "Arbitrary moisture level",
			Value:  float64(levels[n]),
			Labels: map[string]string{LabelMoistureSensor: strconv.Itoa(n)},
		}
	}

	e.mu.Lock()
	e.est.Moisture = levels
	e.est.Soil = e.now()
	e.mu.Unlock()
	return samples
}

func (e *Exporter) fuseEnvironment(r protocol.EnvironmentalReport) []sink.Sample {
	temp := step(e.temp, r.Temp)
	pressure := step(e.pressure, r.Pressure)
	humidity := step(e.humidity, r.Humidity)

	e.mu.Lock()
	e.est.Temperature = temp
	e.est.Pressure = pressure
	e.est.Humidity = humidity
	e.est.GasResistance = r.GasResistance
	e.est.Environmental = e.now()
	e.mu.Unlock()

	return []sink.Sample{
		{Name: MetricTemperature, Help: "Temperature in Celsius", Value: float64(temp)},
		{Name: MetricPressure, Help: "Pressure in Pascals", Value: float64(pressure)},
		{Name: MetricHumidity, Help: "Humidity in Percent (0-100)", Value: float64(humidity)},
		{Name: MetricGasResistance, Help: "Gas resistance in Ohms", Value: float64(r.GasResistance)},
	}
}

// step runs update-then-predict and returns the new estimate.
func step(k *Kalman, z float32) float32 {
	k.Update(z)
	k.Predict()
	return k.Estimate()
}

// Estimates returns a copy of the current estimates.
func (e *Exporter) Estimates() Estimates {
	e.mu.RLock()
	defer e.mu.RUnlock()

	est := e.est
	est.Moisture = append([]float32(nil), e.est.Moisture...)
	return est
}
