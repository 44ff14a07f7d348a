package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MaginkMetrics tracks node operations, mints and block height.
type MaginkMetrics struct {
	operations  *prometheus.CounterVec
	opDuration  *prometheus.HistogramVec
	mints       *prometheus.CounterVec
	height      prometheus.Gauge
	aborts      *prometheus.CounterVec
	streamDrops prometheus.Counter
}

var (
	maginkOnce     sync.Once
	maginkRegistry *MaginkMetrics
)

// Magink returns the process-wide magink collectors, registering them on
// first use.
func Magink() *MaginkMetrics {
	maginkOnce.Do(func() {
		maginkRegistry = &MaginkMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "magink_operations_total",
				Help: "Count of node operations by name and outcome.",
			}, []string{"op", "outcome"}),
			opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "magink_operation_duration_seconds",
				Help:    "Latency of node operations including issuer round trips.",
				Buckets: prometheus.DefBuckets,
			}, []string{"op"}),
			mints: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "magink_wizard_mints_total",
				Help: "Count of confirmed Wizard mints by id mode.",
			}, []string{"mode"}),
			height: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "magink_block_height",
				Help: "Current block height of the node.",
			}),
			aborts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "magink_operation_aborts_total",
				Help: "Operations rolled back because of an abort.",
			}, []string{"op"}),
			streamDrops: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "magink_event_stream_drops_total",
				Help: "Subscribers disconnected because they fell behind the event stream.",
			}),
		}
		prometheus.MustRegister(
			maginkRegistry.operations,
			maginkRegistry.opDuration,
			maginkRegistry.mints,
			maginkRegistry.height,
			maginkRegistry.aborts,
			maginkRegistry.streamDrops,
		)
	})
	return maginkRegistry
}

// ObserveOperation records the outcome and latency of one operation.
func (m *MaginkMetrics) ObserveOperation(op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "ok"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.opDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveAbort records a rolled back operation.
func (m *MaginkMetrics) ObserveAbort(op string) {
	if m == nil {
		return
	}
	m.aborts.WithLabelValues(op).Inc()
}

// ObserveMint records a confirmed mint.
func (m *MaginkMetrics) ObserveMint(mode string) {
	if m == nil {
		return
	}
	m.mints.WithLabelValues(mode).Inc()
}

// SetHeight publishes the current block height.
func (m *MaginkMetrics) SetHeight(height uint64) {
	if m == nil {
		return
	}
	m.height.Set(float64(height))
}

// ObserveStreamDrop records a subscriber disconnected for lagging.
func (m *MaginkMetrics) ObserveStreamDrop() {
	if m == nil {
		return
	}
	m.streamDrops.Inc()
}
