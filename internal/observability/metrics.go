package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the synchronization engine's health: connection churn,
// operation throughput, transform conflicts, and everywhere the engine
// deliberately sheds load (rate limits, slow-consumer drops, expired
// outbound entries).
type Metrics struct {
	// ActiveConnections gauges currently admitted channel connections.
	ActiveConnections prometheus.Gauge

	// OperationsTotal counts accepted operations by type.
	OperationsTotal *prometheus.CounterVec

	// TransformsTotal counts operations that required transformation.
	TransformsTotal prometheus.Counter

	// BroadcastsTotal counts frames fanned out to members.
	BroadcastsTotal prometheus.Counter

	// DroppedFramesTotal counts frames dropped for slow consumers.
	DroppedFramesTotal prometheus.Counter

	// RateLimitedTotal counts rejections by limit scope (api|auth|sync).
	RateLimitedTotal *prometheus.CounterVec

	// ResyncRequiredTotal counts operations rejected for pruned parents.
	ResyncRequiredTotal prometheus.Counter

	// DegradedOpsTotal counts operations degraded to no-ops instead of
	// crashing the serialization loop.
	DegradedOpsTotal prometheus.Counter
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// NewMetrics creates and registers the boardsync metrics exactly once; later
// calls return the same instance (promauto registration panics on
// duplicates).
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "boardsync_active_connections",
				Help: "Current number of admitted sync channel connections",
			}),
			OperationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "boardsync_operations_total",
				Help: "Total accepted operations by type",
			}, []string{"type"}),
			TransformsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "boardsync_transforms_total",
				Help: "Total operations adjusted by the transformer",
			}),
			BroadcastsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "boardsync_broadcasts_total",
				Help: "Total frames broadcast to board members",
			}),
			DroppedFramesTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "boardsync_dropped_frames_total",
				Help: "Total frames dropped for slow consumers",
			}),
			RateLimitedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "boardsync_rate_limited_total",
				Help: "Total rate limit rejections by scope",
			}, []string{"scope"}),
			ResyncRequiredTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "boardsync_resync_required_total",
				Help: "Total operations rejected because their parent version was pruned",
			}),
			DegradedOpsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "boardsync_degraded_ops_total",
				Help: "Total malformed operations degraded to no-ops",
			}),
		}
	})
	return metricsInstance
}
