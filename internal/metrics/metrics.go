// Package metrics holds the Prometheus collectors for signup, login and
// referral-code issuance.
//
// A nil *Metrics is valid and records nothing, so services can be built in
// tests without a registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "storefront_auth"

// Rollback results.
const (
	RollbackSucceeded = "succeeded"
	RollbackFailed    = "failed"
)

type Metrics struct {
	signupOutcomes       *prometheus.CounterVec
	signupDuration       prometheus.Histogram
	signupRollbacks      *prometheus.CounterVec
	referralCollisions   prometheus.Counter
	referralFallbacks    prometheus.Counter
	loginOutcomes        *prometheus.CounterVec
	orphanedAccountAlert prometheus.Counter
	orphansReconciled    prometheus.Counter
}

// New registers every collector with reg, normally the registry served on
// /metrics.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		signupOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "signup_outcomes_total",
				Help:      "Signup attempts: committed, or the saga step they failed at.",
			},
			[]string{"state", "kind"},
		),
		signupDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "signup_duration_seconds",
				Help:      "Wall time of a signup attempt.",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10},
			},
		),
		signupRollbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "signup_rollbacks_total",
				Help:      "Compensating account deletions by result.",
			},
			[]string{"result"},
		),
		referralCollisions: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "referral_code_collisions_total",
				Help:      "Generated referral codes that were already taken.",
			},
		),
		referralFallbacks: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "referral_code_fallbacks_total",
				Help:      "Referral codes issued from the globally unique fallback.",
			},
		),
		loginOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "login_outcomes_total",
				Help:      "Login attempts by result.",
			},
			[]string{"result"},
		),
		orphanedAccountAlert: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orphaned_accounts_total",
				Help:      "Accounts left without a profile after a failed rollback. Alert on any increase.",
			},
		),
		orphansReconciled: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orphaned_accounts_reconciled_total",
				Help:      "Orphan records cleared by the reconciler.",
			},
		),
	}
}

func (m *Metrics) SignupFinished(state, kind string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.signupOutcomes.WithLabelValues(state, kind).Inc()
	m.signupDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) Rollback(result string) {
	if m == nil {
		return
	}
	m.signupRollbacks.WithLabelValues(result).Inc()
}

func (m *Metrics) OrphanedAccount() {
	if m == nil {
		return
	}
	m.orphanedAccountAlert.Inc()
}

func (m *Metrics) OrphanReconciled() {
	if m == nil {
		return
	}
	m.orphansReconciled.Inc()
}

func (m *Metrics) ReferralCollision() {
	if m == nil {
		return
	}
	m.referralCollisions.Inc()
}

func (m *Metrics) ReferralFallback() {
	if m == nil {
		return
	}
	m.referralFallbacks.Inc()
}

func (m *Metrics) LoginFinished(result string) {
	if m == nil {
		return
	}
	m.loginOutcomes.WithLabelValues(result).Inc()
}
