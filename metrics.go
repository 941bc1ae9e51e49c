package taskvisor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the supervisor's prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	created       prometheus.Counter
	createFailed  prometheus.Counter
	stopped       prometheus.Counter
	active        prometheus.Gauge
	events        *prometheus.CounterVec
	createLatency prometheus.Histogram
}

// NewMetrics builds the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskvisor_workers_created_total",
			Help: "Total number of workers created.",
		}),
		createFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskvisor_workers_create_failed_total",
			Help: "Total number of workers whose context failed to bootstrap.",
		}),
		stopped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskvisor_workers_stopped_total",
			Help: "Total number of workers stopped.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskvisor_workers_active",
			Help: "Number of workers currently registered.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskvisor_worker_events_total",
			Help: "Total number of worker lifecycle events by kind.",
		}, []string{"kind"}),
		createLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskvisor_worker_create_seconds",
			Help:    "Time from a create request until the worker context is ready.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	if reg != nil {
		reg.MustRegister(m.created, m.createFailed, m.stopped, m.active, m.events, m.createLatency)
	}
	return m
}

func (m *Metrics) workerCreated() {
	if m == nil {
		return
	}
	m.created.Inc()
	m.active.Inc()
}

func (m *Metrics) workerReady(since time.Time) {
	if m == nil {
		return
	}
	m.createLatency.Observe(time.Since(since).Seconds())
}

func (m *Metrics) workerCreateFailed() {
	if m == nil {
		return
	}
	m.createFailed.Inc()
}

func (m *Metrics) workerStopped() {
	if m == nil {
		return
	}
	m.stopped.Inc()
	m.active.Dec()
}

func (m *Metrics) event(kind WorkerEventKind) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(kind)).Inc()
}
