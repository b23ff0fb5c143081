// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package.
//
// Because a cleansing run is a short-lived batch job rather than a long-
// running server, metrics are pushed to a Pushgateway at the end of the run
// instead of being exposed on a scrape endpoint. The package contains all
// Prometheus-specific dependencies so the rest of the project stays
// decoupled and can swap to alternative backends without changes to the
// core pipeline.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"cleanse/internal/metrics"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string // e.g. http://pushgateway:9091
	jobName    string // Pushgateway "job" group
	reg        *prometheus.Registry

	stepCounter  *prometheus.CounterVec // "cleanse_step_total"
	stepDuration *prometheus.SummaryVec // "cleanse_step_duration_seconds"

	recordCounter *prometheus.CounterVec // "cleanse_records_total"
}

// NewBackend constructs a Prometheus Pushgateway backend.
// jobName: the Pushgateway "job" name. gatewayURL: base URL of the server.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "cleanse"
	}

	reg := prometheus.NewRegistry()

	stepCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanse_step_total",
			Help: "Total number of pipeline step executions, partitioned by step and status.",
		},
		[]string{"step", "status"},
	)
	stepDuration := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "cleanse_step_duration_seconds",
			Help:       "Duration of pipeline steps in seconds, partitioned by step and status.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"step", "status"},
	)
	recordCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanse_records_total",
			Help: "Record-level counts per kind (rows_read, accepted, rejected_duplicate, etc.).",
		},
		[]string{"kind"},
	)

	if err := reg.Register(stepCounter); err != nil {
		return nil, fmt.Errorf("prompush: register step counter: %w", err)
	}
	if err := reg.Register(stepDuration); err != nil {
		return nil, fmt.Errorf("prompush: register step summary: %w", err)
	}
	if err := reg.Register(recordCounter); err != nil {
		return nil, fmt.Errorf("prompush: register record counter: %w", err)
	}

	return &Backend{
		gatewayURL:    gatewayURL,
		jobName:       jobName,
		reg:           reg,
		stepCounter:   stepCounter,
		stepDuration:  stepDuration,
		recordCounter: recordCounter,
	}, nil
}

// IncCounter implements metrics.Backend.IncCounter.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case "cleanse_step_total":
		if b.stepCounter == nil {
			return
		}
		b.stepCounter.WithLabelValues(labels["step"], labels["status"]).Add(delta)

	case "cleanse_records_total":
		if b.recordCounter == nil {
			return
		}
		b.recordCounter.WithLabelValues(labels["kind"]).Add(delta)

	default:
		// unknown metric name: ignore
	}
}

// ObserveHistogram implements metrics.Backend.ObserveHistogram.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != "cleanse_step_duration_seconds" || b.stepDuration == nil {
		return
	}
	b.stepDuration.WithLabelValues(labels["step"], labels["status"]).Observe(value)
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
