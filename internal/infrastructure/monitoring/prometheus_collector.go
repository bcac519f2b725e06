package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"lanlink/internal/core/domain"
	"lanlink/internal/core/ports"
)

// PrometheusCollector implements the service and connection metrics on
// Prometheus collectors under the lanlink_ namespace.
type PrometheusCollector struct {
	peersOnline     prometheus.Gauge
	connectionsOpen prometheus.Gauge

	requestsCreated  *prometheus.CounterVec
	requestsResolved *prometheus.CounterVec
	pendingRequests  prometheus.Gauge

	callsActive   prometheus.Gauge
	callDuration  *prometheus.HistogramVec
	signalsRelay  *prometheus.CounterVec
	wsMessages    *prometheus.CounterVec
	sweepsRemoved *prometheus.CounterVec

	uploadsInFlight prometheus.Gauge
	uploadsFailed   *prometheus.CounterVec
	chunksReceived  prometheus.Counter
	bytesReceived   prometheus.Counter
	bytesMerged     prometheus.Counter
	mergeDuration   prometheus.Histogram
}

var _ ports.Metrics = (*PrometheusCollector)(nil)

// NewPrometheusCollector registers all lanlink metrics with reg. A nil reg
// means the default registry.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		peersOnline: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lanlink_peers_online",
			Help: "Number of registered peers",
		}),

		connectionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lanlink_ws_connections_open",
			Help: "Number of open real-time connections",
		}),

		requestsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lanlink_requests_created_total",
			Help: "Chat and call requests created",
		}, []string{"kind"}),

		requestsResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lanlink_requests_resolved_total",
			Help: "Chat and call requests resolved, by outcome",
		}, []string{"kind", "outcome"}),

		pendingRequests: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lanlink_requests_pending",
			Help: "Requests waiting for an answer",
		}),

		callsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lanlink_calls_active",
			Help: "Calls in progress",
		}),

		callDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lanlink_call_duration_seconds",
			Help:    "Duration of finished calls",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		}, []string{"kind"}),

		signalsRelay: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lanlink_signals_total",
			Help: "Signaling messages relayed, by kind and result",
		}, []string{"kind", "result"}),

		wsMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lanlink_ws_messages_total",
			Help: "Real-time events received, by event name",
		}, []string{"event"}),

		sweepsRemoved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lanlink_sweep_removed_total",
			Help: "Items removed by the expiry sweeper",
		}, []string{"kind"}),

		uploadsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lanlink_uploads_in_flight",
			Help: "Upload sessions started and not yet finished",
		}),

		uploadsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lanlink_uploads_failed_total",
			Help: "Uploads that did not complete, by reason",
		}, []string{"reason"}),

		chunksReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "lanlink_chunks_received_total",
			Help: "Upload chunks stored",
		}),

		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "lanlink_upload_bytes_received_total",
			Help: "Chunk bytes stored",
		}),

		bytesMerged: factory.NewCounter(prometheus.CounterOpts{
			Name: "lanlink_upload_bytes_completed_total",
			Help: "Bytes of completed files",
		}),

		mergeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lanlink_upload_merge_duration_seconds",
			Help:    "Time spent merging chunks into the final file",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 15, 60},
		}),
	}
}

func (p *PrometheusCollector) SetPeersOnline(n int) {
	p.peersOnline.Set(float64(n))
}

func (p *PrometheusCollector) RecordConnectionOpened() {
	p.connectionsOpen.Inc()
}

func (p *PrometheusCollector) RecordConnectionClosed() {
	p.connectionsOpen.Dec()
}

func (p *PrometheusCollector) RecordEvent(event string) {
	p.wsMessages.WithLabelValues(event).Inc()
}

func (p *PrometheusCollector) RequestCreated(kind domain.RequestKind) {
	p.requestsCreated.WithLabelValues(string(kind)).Inc()
	p.pendingRequests.Inc()
}

func (p *PrometheusCollector) RequestResolved(kind domain.RequestKind, outcome string) {
	p.requestsResolved.WithLabelValues(string(kind), outcome).Inc()
	p.pendingRequests.Dec()
}

func (p *PrometheusCollector) CallStarted(kind domain.RequestKind) {
	p.callsActive.Inc()
}

func (p *PrometheusCollector) CallEnded(kind domain.RequestKind, duration time.Duration) {
	p.callsActive.Dec()
	p.callDuration.WithLabelValues(string(kind)).Observe(duration.Seconds())
}

// SignalForwarded counts a relayed payload as delivered or dropped.
func (p *PrometheusCollector) SignalForwarded(kind domain.SignalKind, delivered bool) {
	result := "delivered"
	if !delivered {
		result = "dropped"
	}
	p.signalsRelay.WithLabelValues(string(kind), result).Inc()
}

func (p *PrometheusCollector) ChunkStored(bytes int64) {
	p.chunksReceived.Inc()
	p.bytesReceived.Add(float64(bytes))
}

func (p *PrometheusCollector) UploadStarted() {
	p.uploadsInFlight.Inc()
}

func (p *PrometheusCollector) UploadCompleted(bytes int64, mergeDuration time.Duration) {
	p.uploadsInFlight.Dec()
	p.bytesMerged.Add(float64(bytes))
	p.mergeDuration.Observe(mergeDuration.Seconds())
}

func (p *PrometheusCollector) UploadFailed(reason string) {
	p.uploadsInFlight.Dec()
	p.uploadsFailed.WithLabelValues(reason).Inc()
}

// SweepRemoved counts entries removed by a sweep of the given kind.
func (p *PrometheusCollector) SweepRemoved(kind string, n int) {
	if n <= 0 {
		return
	}
	p.sweepsRemoved.WithLabelValues(kind).Add(float64(n))
	if kind == "uploads" {
		p.uploadsInFlight.Sub(float64(n))
	}
}
