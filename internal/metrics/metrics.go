// Package metrics instruments completion calls and worker batches with Prometheus.
//
// Each run owns its own registry; nothing is registered globally. The CLI can
// dump the registry to a node-exporter textfile at the end of a run.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"llmflow/internal/completion"
)

// Call status label values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds the collectors for one run.
type Metrics struct {
	workflow string
	registry *prometheus.Registry

	calls         *prometheus.CounterVec
	callDuration  *prometheus.HistogramVec
	batchDuration *prometheus.HistogramVec
	batchTasks    *prometheus.CounterVec
}

// New creates a [Metrics] for the named workflow with a private registry.
func New(workflow string) *Metrics {
	m := &Metrics{
		workflow: workflow,
		registry: prometheus.NewRegistry(),
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmflow_completion_calls_total",
				Help: "Total number of completion calls",
			},
			[]string{"workflow", "status"},
		),
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llmflow_completion_duration_seconds",
				Help:    "Completion call duration in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"workflow"},
		),
		batchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llmflow_batch_duration_seconds",
				Help:    "Worker batch duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"workflow", "outcome"},
		),
		batchTasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmflow_batch_tasks_total",
				Help: "Worker tasks dispatched, by whether they were dropped",
			},
			[]string{"workflow", "dropped"},
		),
	}
	m.registry.MustRegister(m.calls, m.callDuration, m.batchDuration, m.batchTasks)
	return m
}

// Registry returns the run's registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Instrument wraps c so every call is counted and timed.
func (m *Metrics) Instrument(c completion.Completer) completion.Completer {
	return completion.CompleterFunc(func(ctx context.Context, req completion.Request) (string, error) {
		start := time.Now()
		out, err := c.Complete(ctx, req)
		m.callDuration.WithLabelValues(m.workflow).Observe(time.Since(start).Seconds())

		status := StatusOK
		if err != nil {
			status = StatusError
		}
		m.calls.WithLabelValues(m.workflow, status).Inc()
		return out, err
	})
}

// ObserveBatch records a finished worker batch.
func (m *Metrics) ObserveBatch(elapsed time.Duration, tasks, dropped int, outcome string) {
	if m == nil {
		return
	}
	m.batchDuration.WithLabelValues(m.workflow, outcome).Observe(elapsed.Seconds())
	m.batchTasks.WithLabelValues(m.workflow, "false").Add(float64(tasks - dropped))
	m.batchTasks.WithLabelValues(m.workflow, "true").Add(float64(dropped))
}

// WriteTextfile writes the registry in the Prometheus text format to path.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
