package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics — Prometheus метрики оркестратора.
type Metrics struct {
	// Transitions — переходы стадий по типу.
	Transitions *prometheus.CounterVec

	// TerminalFailures — pipelines, переведённые в FAILED.
	TerminalFailures *prometheus.CounterVec

	// Dispatches — попытки поставить job: enqueued, duplicate, error.
	Dispatches *prometheus.CounterVec

	// Callbacks — входящие callbacks: accepted, duplicate, stale, rejected, unauthorized.
	Callbacks *prometheus.CounterVec

	// RetryDelay — запланированные задержки ретраев.
	RetryDelay *prometheus.HistogramVec

	// SweepTimeouts — стадии, снятые sweep'ом по таймауту.
	SweepTimeouts prometheus.Counter

	// SweepDuration — длительность одного прохода sweep.
	SweepDuration prometheus.Histogram
}

// NewMetrics регистрирует метрики в reg (nil — глобальный registry).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "atelier_stage_transitions_total",
			Help: "Stage transitions by stage and transition type",
		}, []string{"stage", "transition"}),

		TerminalFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "atelier_pipeline_terminal_failures_total",
			Help: "Pipelines moved to FAILED by stage",
		}, []string{"stage"}),

		Dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "atelier_job_dispatches_total",
			Help: "Job dispatch attempts by stage and result",
		}, []string{"stage", "result"}),

		Callbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "atelier_callbacks_total",
			Help: "Inbound stage callbacks by stage and result",
		}, []string{"stage", "result"}),

		RetryDelay: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "atelier_retry_delay_seconds",
			Help:    "Scheduled retry backoff delays",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		}, []string{"stage"}),

		SweepTimeouts: f.NewCounter(prometheus.CounterOpts{
			Name: "atelier_sweep_timeouts_total",
			Help: "In-flight stages timed out by the periodic sweep",
		}),

		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "atelier_sweep_duration_seconds",
			Help:    "Duration of one sweep pass",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
