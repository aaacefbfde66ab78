package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the dispatcher's Prometheus metrics.
type Metrics struct {
	tasksDispatched *prometheus.CounterVec
	tasksCompleted  *prometheus.CounterVec
	workersActive   prometheus.Gauge
	workersCapacity prometheus.Gauge
	taskDuration    *prometheus.HistogramVec
}

// NewMetrics creates and registers all dispatcher metrics on the given
// registerer. Pass prometheus.DefaultRegisterer in production; tests use a
// private registry so repeated construction cannot double-register.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tasksDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_tasks_total",
				Help: "Total number of tasks handed to workers",
			},
			[]string{"kind"},
		),
		tasksCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_tasks_completed_total",
				Help: "Total number of tasks completed, by terminal status",
			},
			[]string{"kind", "status"},
		),
		workersActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dispatch_workers_active",
				Help: "Number of workers currently running",
			},
		),
		workersCapacity: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dispatch_workers_capacity",
				Help: "Configured concurrency ceiling",
			},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dispatch_task_duration_seconds",
				Help:    "Worker execution duration in seconds",
				Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 300, 600},
			},
			[]string{"kind"},
		),
	}

	reg.MustRegister(
		m.tasksDispatched,
		m.tasksCompleted,
		m.workersActive,
		m.workersCapacity,
		m.taskDuration,
	)

	return m
}
