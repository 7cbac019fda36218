package app

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments exported by the wallet service.
type Metrics struct {
	transactionsTotal     *prometheus.CounterVec
	webhookEventsTotal    *prometheus.CounterVec
	webhookReplaysTotal   prometheus.Counter
	idempotencyHitsTotal  *prometheus.CounterVec
	reaperRunsTotal       *prometheus.CounterVec
	reaperLastReaped      prometheus.Gauge
	reaperLastRunUnix     prometheus.Gauge
	providerCallsTotal    *prometheus.CounterVec
	providerCallSeconds   *prometheus.HistogramVec
	virtualDepositsTotal  *prometheus.CounterVec
	compensationsTotal    prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		transactionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "vaultpay",
				Subsystem: "wallet",
				Name:      "transactions_total",
				Help:      "Total transactions partitioned by type and outcome.",
			},
			[]string{"type", "outcome"},
		),
		webhookEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "vaultpay",
				Subsystem: "webhooks",
				Name:      "events_total",
				Help:      "Total webhook events processed partitioned by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		),
		webhookReplaysTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "vaultpay",
				Subsystem: "webhooks",
				Name:      "replays_total",
				Help:      "Total webhook replay requests accepted.",
			},
		),
		idempotencyHitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "vaultpay",
				Subsystem: "idempotency",
				Name:      "hits_total",
				Help:      "Total idempotency key hits partitioned by disposition.",
			},
			[]string{"disposition"},
		),
		reaperRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "vaultpay",
				Subsystem: "idempotency",
				Name:      "reaper_runs_total",
				Help:      "Total idempotency reaper runs partitioned by result.",
			},
			[]string{"result"},
		),
		reaperLastReaped: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "vaultpay",
				Subsystem: "idempotency",
				Name:      "reaper_last_reaped",
				Help:      "Number of keys failed in the most recent reaper run.",
			},
		),
		reaperLastRunUnix: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "vaultpay",
				Subsystem: "idempotency",
				Name:      "reaper_last_run_unix",
				Help:      "Unix time of the most recent reaper run.",
			},
		),
		providerCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "vaultpay",
				Subsystem: "providers",
				Name:      "calls_total",
				Help:      "Total provider API calls partitioned by provider, operation and outcome.",
			},
			[]string{"provider", "operation", "outcome"},
		),
		providerCallSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "vaultpay",
				Subsystem: "providers",
				Name:      "call_seconds",
				Help:      "Provider API call latency in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider", "operation"},
		),
		virtualDepositsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "vaultpay",
				Subsystem: "webhooks",
				Name:      "virtual_deposits_total",
				Help:      "Total virtual account deposits partitioned by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		),
		compensationsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "vaultpay",
				Subsystem: "wallet",
				Name:      "compensations_total",
				Help:      "Total withdrawal reversals credited back after provider failure.",
			},
		),
	}
}

func (m *Metrics) ObserveTransaction(txType, outcome string) {
	if m == nil {
		return
	}
	m.transactionsTotal.WithLabelValues(txType, outcome).Inc()
}

func (m *Metrics) ObserveWebhookEvent(provider, outcome string) {
	if m == nil {
		return
	}
	m.webhookEventsTotal.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) ObserveWebhookReplay() {
	if m == nil {
		return
	}
	m.webhookReplaysTotal.Inc()
}

func (m *Metrics) ObserveIdempotencyHit(disposition string) {
	if m == nil {
		return
	}
	m.idempotencyHitsTotal.WithLabelValues(disposition).Inc()
}

func (m *Metrics) ObserveReaperRun(reaped int64, err error) {
	if m == nil {
		return
	}
	m.reaperLastRunUnix.Set(float64(time.Now().UTC().Unix()))
	m.reaperLastReaped.Set(float64(reaped))
	if err != nil {
		m.reaperRunsTotal.WithLabelValues("error").Inc()
		return
	}
	m.reaperRunsTotal.WithLabelValues("success").Inc()
}

func (m *Metrics) ObserveProviderCall(provider, operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.providerCallsTotal.WithLabelValues(provider, operation, outcome).Inc()
	m.providerCallSeconds.WithLabelValues(provider, operation).Observe(time.Since(started).Seconds())
}

func (m *Metrics) ObserveVirtualDeposit(provider, outcome string) {
	if m == nil {
		return
	}
	m.virtualDepositsTotal.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) ObserveCompensation() {
	if m == nil {
		return
	}
	m.compensationsTotal.Inc()
}
