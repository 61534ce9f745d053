package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	QueueDepth          prometheus.Gauge
	QueueItems          *prometheus.CounterVec
	ItemsClaimed        *prometheus.CounterVec
	ItemsFinalized      *prometheus.CounterVec
	ActiveSessions      prometheus.Gauge
	LongRunningSessions prometheus.Gauge
	HeartbeatTicks      *prometheus.CounterVec
	HeartbeatDuration   prometheus.Histogram
	AutonomyDecisions   *prometheus.CounterVec
	AutonomyBudgetLeft  prometheus.Gauge

	stages *heartbeatStageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_ready_depth",
			Help:      "Queued items currently eligible to run.",
		}),
		QueueItems: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_items_total",
			Help:      "Queue submissions by outcome (created or coalesced).",
		}, []string{"outcome"}),
		ItemsClaimed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_claimed_total",
			Help:      "Items claimed by lane.",
		}, []string{"lane"}),
		ItemsFinalized: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_finalized_total",
			Help:      "Items finalized by outcome.",
		}, []string{"outcome"}),
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Live execution sessions.",
		}),
		LongRunningSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "long_running_sessions",
			Help:      "Sessions flagged by the watchdog as held past threshold.",
		}),
		HeartbeatTicks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_ticks_total",
			Help:      "Heartbeat ticks by resolved mode.",
		}, []string{"mode"}),
		HeartbeatDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "heartbeat_duration_ms",
			Help:      "Duration of a full heartbeat tick in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		}),
		AutonomyDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "autonomy_decisions_total",
			Help:      "Autonomy planner decisions by reason.",
		}, []string{"reason"}),
		AutonomyBudgetLeft: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "autonomy_budget_remaining",
			Help:      "Admissions left in the current hourly autonomy window.",
		}),
		stages: newHeartbeatStageWindow(256),
	}
}

func (m *Metrics) ObserveHeartbeatDuration(d time.Duration) {
	m.HeartbeatDuration.Observe(float64(d.Milliseconds()))
}

// ObserveStage records one heartbeat stage duration in the rolling window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil || m.stages == nil {
		return
	}
	m.stages.Observe(stage, float64(d.Microseconds())/1000)
}

func (m *Metrics) ObserveIndicator(name string) {
	if m == nil || m.stages == nil {
		return
	}
	m.stages.ObserveIndicator(name)
}

func (m *Metrics) SnapshotStages() StageSnapshot {
	if m == nil || m.stages == nil {
		return StageSnapshot{}
	}
	return m.stages.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
