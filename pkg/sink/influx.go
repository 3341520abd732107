package sink

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Influx writes samples as points of one measurement, one field per sample
// name and the labels as tags.
type Influx struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPIBlocking
	measurement string
	now         func() time.Time
}

var _ Sink = (*Influx)(nil)

// NewInflux returns a sink writing to cfg.Bucket.
func NewInflux(cfg InfluxConfig) *Influx {
	measurement := cfg.Measurement
	if measurement == "" {
		measurement = "garden"
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Influx{
		client:      client,
		writeAPI:    client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: measurement,
		now:         time.Now,
	}
}

// Push implements Sink.
func (i *Influx) Push(ctx context.Context, samples []Sample) error {
	t := i.now()
	points := make([]*write.Point, 0, len(samples))
	for _, group := range groupByLabels(samples) {
		fields := make(map[string]any, len(group))
		for _, s := range group {
			fields[s.Name] = s.Value
		}
		points = append(points, influxdb2.NewPoint(i.measurement, group[0].Labels, fields, t))
	}
	if err := i.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("influx write: %w", err)
	}
	return nil
}

// Close releases the client.
func (i *Influx) Close() error {
	i.client.Close()
	return nil
}
