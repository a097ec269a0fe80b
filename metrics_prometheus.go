package tcmu

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusObserver implements Observer by exporting the same events
// Metrics tracks as a set of Prometheus collectors, for devices embedded in
// a process that already runs a promhttp handler. It does not replace
// Metrics/MetricsObserver — the two can be registered side by side via
// MultiObserver.
type PrometheusObserver struct {
	ops       *prometheus.CounterVec
	bytes     *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	queueDepth prometheus.Gauge
}

// NewPrometheusObserver builds a PrometheusObserver and registers its
// collectors with reg. devID is attached as a constant label so multiple
// devices in one process export distinguishable series.
func NewPrometheusObserver(reg prometheus.Registerer, devID string) (*PrometheusObserver, error) {
	labels := prometheus.Labels{"device": devID}

	o := &PrometheusObserver{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "tcmu",
			Name:        "ops_total",
			Help:        "Completed operations by type.",
			ConstLabels: labels,
		}, []string{"op"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "tcmu",
			Name:        "bytes_total",
			Help:        "Bytes transferred by op type.",
			ConstLabels: labels,
		}, []string{"op"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "tcmu",
			Name:        "errors_total",
			Help:        "Failed operations by type.",
			ConstLabels: labels,
		}, []string{"op"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "tcmu",
			Name:        "op_latency_seconds",
			Help:        "Operation latency in seconds.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1e-6, 10, 8),
		}, []string{"op"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "tcmu",
			Name:        "worker_queue_depth",
			Help:        "Worker pool queue depth at last sample.",
			ConstLabels: labels,
		}),
	}

	for _, c := range []prometheus.Collector{o.ops, o.bytes, o.errors, o.latency, o.queueDepth} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *PrometheusObserver) observe(op string, bytes uint64, latencyNs uint64, success bool) {
	o.ops.WithLabelValues(op).Inc()
	if bytes > 0 {
		o.bytes.WithLabelValues(op).Add(float64(bytes))
	}
	if !success {
		o.errors.WithLabelValues(op).Inc()
	}
	o.latency.WithLabelValues(op).Observe(time.Duration(latencyNs).Seconds())
}

func (o *PrometheusObserver) ObserveRead(bytes uint64, latencyNs uint64, success bool) {
	o.observe("read", bytes, latencyNs, success)
}

func (o *PrometheusObserver) ObserveWrite(bytes uint64, latencyNs uint64, success bool) {
	o.observe("write", bytes, latencyNs, success)
}

func (o *PrometheusObserver) ObserveFlush(latencyNs uint64, success bool) {
	o.observe("flush", 0, latencyNs, success)
}

func (o *PrometheusObserver) ObserveCAW(latencyNs uint64, miscompare bool, success bool) {
	o.observe("caw", 0, latencyNs, success && !miscompare)
}

func (o *PrometheusObserver) ObserveWriteVerify(latencyNs uint64, miscompare bool, success bool) {
	o.observe("write_verify", 0, latencyNs, success && !miscompare)
}

func (o *PrometheusObserver) ObserveQueueDepth(depth uint32) {
	o.queueDepth.Set(float64(depth))
}

var _ Observer = (*PrometheusObserver)(nil)

// MultiObserver fans a single Observer call out to several Observers, so a
// Device can feed both an in-process Metrics snapshot and a
// PrometheusObserver from the same call sites.
type MultiObserver []Observer

func (m MultiObserver) ObserveRead(bytes, latencyNs uint64, success bool) {
	for _, o := range m {
		o.ObserveRead(bytes, latencyNs, success)
	}
}

func (m MultiObserver) ObserveWrite(bytes, latencyNs uint64, success bool) {
	for _, o := range m {
		o.ObserveWrite(bytes, latencyNs, success)
	}
}

func (m MultiObserver) ObserveFlush(latencyNs uint64, success bool) {
	for _, o := range m {
		o.ObserveFlush(latencyNs, success)
	}
}

func (m MultiObserver) ObserveCAW(latencyNs uint64, miscompare, success bool) {
	for _, o := range m {
		o.ObserveCAW(latencyNs, miscompare, success)
	}
}

func (m MultiObserver) ObserveWriteVerify(latencyNs uint64, miscompare, success bool) {
	for _, o := range m {
		o.ObserveWriteVerify(latencyNs, miscompare, success)
	}
}

func (m MultiObserver) ObserveQueueDepth(depth uint32) {
	for _, o := range m {
		o.ObserveQueueDepth(depth)
	}
}

var _ Observer = (MultiObserver)(nil)
