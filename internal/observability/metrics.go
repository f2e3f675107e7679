// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Bidding metrics
	BidsAccepted    prometheus.Counter
	BidsRejected    *prometheus.CounterVec
	AutoBids        prometheus.Counter
	BuyNowTriggered prometheus.Counter
	Extensions      prometheus.Counter
	ResolveDuration prometheus.Histogram

	// Gate metrics
	GateWait      prometheus.Histogram
	GateConflicts prometheus.Counter
	GateExhausted prometheus.Counter

	// Lifecycle metrics
	AuctionsClosed *prometheus.CounterVec
	SweepDuration  prometheus.Histogram

	// Notification metrics
	NotifyErrors *prometheus.CounterVec
	WSClients    prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered on its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "gavel"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		BidsAccepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bidding",
			Name:      "bids_accepted_total",
			Help:      "Total number of accepted bids",
		}),
		BidsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bidding",
			Name:      "bids_rejected_total",
			Help:      "Total number of rejected bids by error code",
		}, []string{"code"}),
		AutoBids: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bidding",
			Name:      "auto_bids_total",
			Help:      "Accepted bids after which the incumbent's proxy kept the lead",
		}),
		BuyNowTriggered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bidding",
			Name:      "buy_now_total",
			Help:      "Auctions ended by a buy-now bid",
		}),
		Extensions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bidding",
			Name:      "auto_extensions_total",
			Help:      "Deadline extensions caused by late bids",
		}),
		ResolveDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bidding",
			Name:      "place_bid_duration_seconds",
			Help:      "Latency of the gated place-bid transaction",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),

		GateWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "wait_seconds",
			Help:      "Time spent waiting to acquire a product gate",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		}),
		GateConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "conflicts_total",
			Help:      "Storage conflicts that caused a retry",
		}),
		GateExhausted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "retries_exhausted_total",
			Help:      "Operations that failed after the retry budget",
		}),

		AuctionsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "auctions_closed_total",
			Help:      "Auctions moved to a terminal state by reason",
		}, []string{"reason"}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of expired-auction sweeps",
			Buckets:   prometheus.DefBuckets,
		}),

		NotifyErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "errors_total",
			Help:      "Notification delivery failures by sink",
		}, []string{"sink"}),
		WSClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "websocket_clients",
			Help:      "Connected websocket subscribers",
		}),
	}
}

// Handler returns the HTTP handler exposing this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordBidAccepted records one accepted bid.
func (m *Metrics) RecordBidAccepted(seconds float64, autoBid, buyNow, extended bool) {
	if m == nil {
		return
	}
	m.BidsAccepted.Inc()
	m.ResolveDuration.Observe(seconds)
	if autoBid {
		m.AutoBids.Inc()
	}
	if buyNow {
		m.BuyNowTriggered.Inc()
		m.AuctionsClosed.WithLabelValues("buy_now").Inc()
	}
	if extended {
		m.Extensions.Inc()
	}
}

// RecordBidRejected records a rejected bid by error code.
func (m *Metrics) RecordBidRejected(code string) {
	if m == nil {
		return
	}
	m.BidsRejected.WithLabelValues(code).Inc()
}

// RecordGateWait records time spent acquiring a gate.
func (m *Metrics) RecordGateWait(seconds float64) {
	if m == nil {
		return
	}
	m.GateWait.Observe(seconds)
}

// RecordConflict records one retried conflict.
func (m *Metrics) RecordConflict() {
	if m == nil {
		return
	}
	m.GateConflicts.Inc()
}

// RecordExhausted records an operation that ran out of retries.
func (m *Metrics) RecordExhausted() {
	if m == nil {
		return
	}
	m.GateExhausted.Inc()
}

// RecordClosed records an auction reaching a terminal state.
func (m *Metrics) RecordClosed(reason string) {
	if m == nil {
		return
	}
	m.AuctionsClosed.WithLabelValues(reason).Inc()
}

// RecordSweep records the duration of one expiry sweep.
func (m *Metrics) RecordSweep(seconds float64) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(seconds)
}

// RecordNotifyError records a failed notification delivery.
func (m *Metrics) RecordNotifyError(sink string) {
	if m == nil {
		return
	}
	m.NotifyErrors.WithLabelValues(sink).Inc()
}

// SetWSClients sets the number of connected websocket subscribers.
func (m *Metrics) SetWSClients(n int) {
	if m == nil {
		return
	}
	m.WSClients.Set(float64(n))
}
