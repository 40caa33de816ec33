package api

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"taskdesk/domain"
)

type metrics struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	tasks      prometheus.Gauge
}

// newMetrics builds a private registry so that several servers, as in tests,
// never collide on the default one.
func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	return &metrics{
		registry: reg,
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskdesk",
			Name:      "store_operations_total",
			Help:      "Task store operations by kind and outcome.",
		}, []string{"operation", "outcome"}),
		tasks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskdesk",
			Name:      "tasks",
			Help:      "Number of tasks returned by the most recent list.",
		}),
	}
}

func (m *metrics) observe(op string, err error) {
	m.operations.WithLabelValues(op, outcome(err)).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrInvalid):
		return "invalid"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
