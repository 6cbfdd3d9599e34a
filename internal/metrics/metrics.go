package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	ScanCount        prometheus.Counter
	ScanFailures     prometheus.Counter
	EmailsSeen       prometheus.Counter
	TopupsCreated    prometheus.Counter
	EmailsSkipped    prometheus.Counter
	RuleRejections   prometheus.Counter
	DuplicatesFound  prometheus.Counter
	WebhookEvents    *prometheus.CounterVec
	CreditSuccesses  prometheus.Counter
	CreditFailures   prometheus.Counter
	ScanDuration     prometheus.Histogram
	PendingTopups    prometheus.Gauge
}

// NewMetrics creates new Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ScanCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "topup_reconciler_scan_count",
			Help: "Total number of inbox scan cycles",
		}),
		ScanFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "topup_reconciler_scan_failures",
			Help: "Total number of scan cycles that failed",
		}),
		EmailsSeen: promauto.NewCounter(prometheus.CounterOpts{
			Name: "topup_reconciler_emails_seen",
			Help: "Total number of inbox messages examined",
		}),
		TopupsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "topup_reconciler_topups_created",
			Help: "Total number of pending topups created",
		}),
		EmailsSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "topup_reconciler_emails_skipped",
			Help: "Total number of emails skipped as not transactions",
		}),
		RuleRejections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "topup_reconciler_rule_rejections",
			Help: "Total number of candidates rejected by the rule filter",
		}),
		DuplicatesFound: promauto.NewCounter(prometheus.CounterOpts{
			Name: "topup_reconciler_duplicates_found",
			Help: "Total number of candidates flagged above clear risk",
		}),
		WebhookEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "topup_reconciler_webhook_events",
			Help: "Total number of inbound webhook events by outcome",
		}, []string{"outcome"}),
		CreditSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "topup_reconciler_credit_successes",
			Help: "Total number of successful wallet credits",
		}),
		CreditFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "topup_reconciler_credit_failures",
			Help: "Total number of failed wallet credits",
		}),
		ScanDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "topup_reconciler_scan_duration_seconds",
			Help:    "Time spent per inbox scan cycle",
			Buckets: prometheus.DefBuckets,
		}),
		PendingTopups: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "topup_reconciler_pending_topups",
			Help: "Number of topups currently awaiting review",
		}),
	}
}
