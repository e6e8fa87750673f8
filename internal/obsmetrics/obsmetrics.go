// Package obsmetrics wires optional Prometheus instrumentation into the
// subscription manager and operation engine. A nil *Metrics is always safe
// to call methods on — instrumentation is opt-in via NewMetrics plus
// registration, never required to use the core.
package obsmetrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the gauges and counters the core emits to. Labels are
// restricted to "kind" (request-response / event-stream) and, for
// AcquireResults, "result" (the acquire outcome name) — never to topic
// filter or correlation token, both user-supplied strings that would give
// the time series store unbounded cardinality. The core does not update
// OperationsInFlight; it changes only through SetOperationsInFlight.
type Metrics struct {
	SubscriptionRecords *prometheus.GaugeVec
	OperationsInFlight  *prometheus.GaugeVec
	AcquireResults      *prometheus.CounterVec
	OperationTimeouts   prometheus.Counter
	QueueDepth          prometheus.Gauge
}

// NewMetrics constructs a fresh set of collectors. Callers register them
// with a prometheus.Registerer of their choosing (or prometheus.DefaultRegisterer
// via MustRegister) — the module never registers itself implicitly.
func NewMetrics() *Metrics {
	return &Metrics{
		SubscriptionRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mqrr_subscription_records",
			Help: "Current subscription manager records by kind.",
		}, []string{"kind"}),
		OperationsInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mqrr_operations_in_flight",
			Help: "Operations currently tracked by the engine, by kind.",
		}, []string{"kind"}),
		AcquireResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqrr_acquire_results_total",
			Help: "Subscription manager Acquire() outcomes by result.",
		}, []string{"result"}),
		OperationTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqrr_operation_timeouts_total",
			Help: "Request/response operations completed with a timeout error.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mqrr_service_queue_depth",
			Help: "Number of operations currently waiting in the FIFO service queue.",
		}),
	}
}

// Collectors returns every collector for bulk registration, e.g.
// for _, c := range m.Collectors() { registerer.MustRegister(c) }.
func (m *Metrics) Collectors() []prometheus.Collector {
	if m == nil {
		return nil
	}
	return []prometheus.Collector{
		m.SubscriptionRecords,
		m.OperationsInFlight,
		m.AcquireResults,
		m.OperationTimeouts,
		m.QueueDepth,
	}
}

func (m *Metrics) recordAcquire(result string) {
	if m == nil {
		return
	}
	m.AcquireResults.WithLabelValues(result).Inc()
}

// RecordAcquire is the package-external entry point used by submgr.
func (m *Metrics) RecordAcquire(result string) { m.recordAcquire(result) }

// SetSubscriptionRecords reports the current per-kind record count.
func (m *Metrics) SetSubscriptionRecords(kind string, n int) {
	if m == nil {
		return
	}
	m.SubscriptionRecords.WithLabelValues(kind).Set(float64(n))
}

// SetOperationsInFlight reports the current per-kind operation count.
func (m *Metrics) SetOperationsInFlight(kind string, n int) {
	if m == nil {
		return
	}
	m.OperationsInFlight.WithLabelValues(kind).Set(float64(n))
}

// IncTimeout records a single operation timeout.
func (m *Metrics) IncTimeout() {
	if m == nil {
		return
	}
	m.OperationTimeouts.Inc()
}

// SetQueueDepth reports the current FIFO queue length.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}
