package sink

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Pushgateway pushes samples as gauges. Each label set becomes its own
// grouping key so per-channel series do not overwrite one another.
type Pushgateway struct {
	url    string
	job    string
	client *http.Client
}

var _ Sink = (*Pushgateway)(nil)

// NewPushgateway returns a sink for the gateway at cfg.URL.
func NewPushgateway(cfg PushgatewayConfig) *Pushgateway {
	job := cfg.Job
	if job == "" {
		job = "reporter"
	}
	return &Pushgateway{
		url:    cfg.URL,
		job:    job,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Push implements Sink.
func (p *Pushgateway) Push(ctx context.Context, samples []Sample) error {
	for _, group := range groupByLabels(samples) {
		reg := prometheus.NewRegistry()
		for _, s := range group {
			g := prometheus.NewGauge(prometheus.GaugeOpts{Name: s.Name, Help: s.Help})
			if err := reg.Register(g); err != nil {
				return fmt.Errorf("failed to register %s: %w", s.Name, err)
			}
			g.Set(s.Value)
		}

		pusher := push.New(p.url, p.job).Client(p.client).Gatherer(reg)
		for k, v := range group[0].Labels {
			pusher = pusher.Grouping(k, v)
		}
		if err := pusher.PushContext(ctx); err != nil {
			return fmt.Errorf("failed to push to %s: %w", p.url, err)
		}
	}
	return nil
}
