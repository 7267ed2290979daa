package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry 只包含本服务的指标
	Registry = prometheus.NewRegistry()

	ledgerEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "custody",
			Subsystem: "ledger",
			Name:      "entries_total",
			Help:      "Ledger entries committed, by cause type and currency.",
		},
		[]string{"cause", "currency"},
	)

	ledgerRejects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "custody",
			Subsystem: "ledger",
			Name:      "rejected_total",
			Help:      "Balance mutations rejected, by error code.",
		},
		[]string{"code"},
	)

	transferEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "custody",
			Subsystem: "softlock",
			Name:      "events_total",
			Help:      "Soft-lock transfer outcomes (reserved, claimed, claim_failed, expired).",
		},
		[]string{"outcome"},
	)

	escrowOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "custody",
			Subsystem: "escrow",
			Name:      "outcomes_total",
			Help:      "Fee escrow results (succeeded, refunded, refund_failed).",
		},
		[]string{"outcome"},
	)

	gatewayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "custody",
			Subsystem: "gateway",
			Name:      "call_duration_seconds",
			Help:      "Duration of external gateway calls.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"op", "success"},
	)

	sweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "custody",
			Subsystem: "worker",
			Name:      "runs_total",
			Help:      "Background task runs, by task and result.",
		},
		[]string{"task", "result"},
	)
)

func init() {
	Registry.MustRegister(ledgerEntries, ledgerRejects, transferEvents, escrowOutcomes, gatewayDuration, sweepRuns)
}

// Handler 暴露 /metrics
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordEntry(cause, currency string) {
	ledgerEntries.WithLabelValues(cause, currency).Inc()
}

func RecordReject(code string) {
	ledgerRejects.WithLabelValues(code).Inc()
}

func RecordTransfer(outcome string) {
	transferEvents.WithLabelValues(outcome).Inc()
}

func RecordEscrow(outcome string) {
	escrowOutcomes.WithLabelValues(outcome).Inc()
}

func ObserveGateway(op string, success bool, d time.Duration) {
	s := "false"
	if success {
		s = "true"
	}
	gatewayDuration.WithLabelValues(op, s).Observe(d.Seconds())
}

func RecordRun(task, result string) {
	sweepRuns.WithLabelValues(task, result).Inc()
}
