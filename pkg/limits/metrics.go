package limits

import (
	"time"

	"leadlove-hq/meter/pkg/limits/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for rate limiting, the credit ledger
// and housekeeping. It implements the observer interfaces of the
// ratelimit, credits and housekeeping packages.
type Metrics struct {
	// Rate limiting
	checks        *prometheus.CounterVec
	blocks        *prometheus.CounterVec
	blockDuration *prometheus.HistogramVec
	failOpen      *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec

	// Credits
	debited      prometheus.Counter
	refunded     prometheus.Counter
	credited     *prometheus.CounterVec
	insufficient prometheus.Counter

	// Gateway
	decisions   *prometheus.CounterVec
	settlements *prometheus.CounterVec

	// Housekeeping
	sweeps      *prometheus.CounterVec
	sweptWindow prometheus.Counter
}

// NewMetrics registers the collectors on reg. A nil reg uses the default
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		checks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meter_ratelimit_checks_total",
				Help: "Total number of rate limit checks performed",
			},
			[]string{"category", "result"},
		),

		blocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meter_ratelimit_blocks_total",
				Help: "Total number of blocks applied after a quota was exceeded",
			},
			[]string{"category"},
		),

		blockDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meter_ratelimit_block_duration_seconds",
				Help:    "Duration of applied blocks in seconds",
				Buckets: prometheus.ExponentialBuckets(60, 2, 10), // 1m to ~8.5h
			},
			[]string{"category"},
		),

		failOpen: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meter_ratelimit_fail_open_total",
				Help: "Total number of requests admitted because the window store was unavailable",
			},
			[]string{"category"},
		),

		checkDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meter_ratelimit_check_duration_seconds",
				Help:    "Duration of rate limit checks in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15), // 100µs to 1.6s
			},
			[]string{"category"},
		),

		debited: factory.NewCounter(prometheus.CounterOpts{
			Name: "meter_credits_debited_total",
			Help: "Total credits debited for metered operations",
		}),

		refunded: factory.NewCounter(prometheus.CounterOpts{
			Name: "meter_credits_refunded_total",
			Help: "Total credits refunded for failed operations",
		}),

		credited: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meter_credits_added_total",
				Help: "Total credits added by purchases, refills and bonuses",
			},
			[]string{"type"},
		),

		insufficient: factory.NewCounter(prometheus.CounterOpts{
			Name: "meter_credits_insufficient_total",
			Help: "Total number of debits rejected for insufficient credits",
		}),

		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meter_gateway_decisions_total",
				Help: "Total number of authorize decisions by reason",
			},
			[]string{"reason"},
		),

		settlements: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meter_gateway_settlements_total",
				Help: "Total number of settled operations by outcome",
			},
			[]string{"outcome"},
		),

		sweeps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meter_housekeeping_sweeps_total",
				Help: "Total number of housekeeping sweeps by result",
			},
			[]string{"result"},
		),

		sweptWindow: factory.NewCounter(prometheus.CounterOpts{
			Name: "meter_housekeeping_windows_purged_total",
			Help: "Total number of expired window records purged",
		}),
	}
}

// ObserveCheck records a rate limit check.
func (m *Metrics) ObserveCheck(category string, allowed bool, elapsed time.Duration) {
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	m.checks.WithLabelValues(category, result).Inc()
	m.checkDuration.WithLabelValues(category).Observe(elapsed.Seconds())
}

// ObserveBlock records an applied block.
func (m *Metrics) ObserveBlock(category string, duration time.Duration) {
	m.blocks.WithLabelValues(category).Inc()
	m.blockDuration.WithLabelValues(category).Observe(duration.Seconds())
}

// ObserveFailOpen records a request admitted without the store.
func (m *Metrics) ObserveFailOpen(category string) {
	m.failOpen.WithLabelValues(category).Inc()
}

// ObserveDebit records debited credits.
func (m *Metrics) ObserveDebit(amount int64) {
	m.debited.Add(float64(amount))
}

// ObserveRefund records refunded credits.
func (m *Metrics) ObserveRefund(amount int64) {
	m.refunded.Add(float64(amount))
}

// ObserveCredit records added credits.
func (m *Metrics) ObserveCredit(txType storage.TransactionType, amount int64) {
	m.credited.WithLabelValues(string(txType)).Add(float64(amount))
}

// ObserveInsufficient records a rejected debit.
func (m *Metrics) ObserveInsufficient() {
	m.insufficient.Inc()
}

// ObserveSweep records a housekeeping sweep.
func (m *Metrics) ObserveSweep(deleted int64, err error) {
	if err != nil {
		m.sweeps.WithLabelValues("failure").Inc()
		return
	}
	m.sweeps.WithLabelValues("success").Inc()
	m.sweptWindow.Add(float64(deleted))
}

// RecordDecision records an authorize decision.
func (m *Metrics) RecordDecision(reason Reason) {
	m.decisions.WithLabelValues(string(reason)).Inc()
}

// RecordSettlement records a settle outcome.
func (m *Metrics) RecordSettlement(outcome Outcome) {
	m.settlements.WithLabelValues(string(outcome)).Inc()
}
