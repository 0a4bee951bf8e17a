package telemetry

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels shared by the auth and link counters.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// AuthMetrics counts authentication and external-link outcomes.
type AuthMetrics struct {
	logins     *prometheus.CounterVec
	refreshes  *prometheus.CounterVec
	links      *prometheus.CounterVec
	unlinks    *prometheus.CounterVec
	registered prometheus.Counter
	resets     *prometheus.CounterVec
}

// NewAuthMetrics registers the auth collectors with reg, reusing collectors already registered.
func NewAuthMetrics(reg prometheus.Registerer) (*AuthMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	logins, err := registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: "iam",
		Subsystem: "auth",
		Name:      "logins_total",
		Help:      "Login attempts partitioned by outcome and failure reason.",
	}, []string{"outcome", "reason"})
	if err != nil {
		return nil, err
	}

	refreshes, err := registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: "iam",
		Subsystem: "auth",
		Name:      "refreshes_total",
		Help:      "Refresh token rotations partitioned by outcome.",
	}, []string{"outcome"})
	if err != nil {
		return nil, err
	}

	resets, err := registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: "iam",
		Subsystem: "auth",
		Name:      "password_resets_total",
		Help:      "Password reset completions partitioned by outcome.",
	}, []string{"outcome"})
	if err != nil {
		return nil, err
	}

	links, err := registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: "iam",
		Subsystem: "external",
		Name:      "link_completions_total",
		Help:      "External link completions partitioned by provider and outcome.",
	}, []string{"provider", "outcome"})
	if err != nil {
		return nil, err
	}

	unlinks, err := registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: "iam",
		Subsystem: "external",
		Name:      "unlinks_total",
		Help:      "External account unlinks partitioned by provider.",
	}, []string{"provider"})
	if err != nil {
		return nil, err
	}

	registered := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "iam",
		Subsystem: "auth",
		Name:      "registrations_total",
		Help:      "Successfully registered users.",
	})
	if err := reg.Register(registered); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, fmt.Errorf("register registrations collector: %w", err)
		}
		existing, ok := already.ExistingCollector.(prometheus.Counter)
		if !ok {
			return nil, fmt.Errorf("existing registrations collector has unexpected type %T", already.ExistingCollector)
		}
		registered = existing
	}

	return &AuthMetrics{
		logins:     logins,
		refreshes:  refreshes,
		links:      links,
		unlinks:    unlinks,
		registered: registered,
		resets:     resets,
	}, nil
}

func registerCounterVec(reg prometheus.Registerer, opts prometheus.CounterOpts, labels []string) (*prometheus.CounterVec, error) {
	vec := prometheus.NewCounterVec(opts, labels)
	if err := reg.Register(vec); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, fmt.Errorf("register %s collector: %w", opts.Name, err)
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, fmt.Errorf("existing %s collector has unexpected type %T", opts.Name, already.ExistingCollector)
		}
		return existing, nil
	}
	return vec, nil
}

// Nil receivers are no-ops so services can run without metrics.

// LoginSucceeded increments the successful login counter.
func (m *AuthMetrics) LoginSucceeded() {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(OutcomeSuccess, "").Inc()
}

// LoginFailed increments the failed login counter for reason.
func (m *AuthMetrics) LoginFailed(reason string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(OutcomeFailure, reason).Inc()
}

// Refresh records a rotation outcome.
func (m *AuthMetrics) Refresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
}

// PasswordReset records a reset outcome.
func (m *AuthMetrics) PasswordReset(outcome string) {
	if m == nil {
		return
	}
	m.resets.WithLabelValues(outcome).Inc()
}

// Registered increments the registration counter.
func (m *AuthMetrics) Registered() {
	if m == nil {
		return
	}
	m.registered.Inc()
}

// LinkCompleted records an external link completion outcome.
func (m *AuthMetrics) LinkCompleted(provider, outcome string) {
	if m == nil {
		return
	}
	m.links.WithLabelValues(provider, outcome).Inc()
}

// Unlinked records an external account unlink.
func (m *AuthMetrics) Unlinked(provider string) {
	if m == nil {
		return
	}
	m.unlinks.WithLabelValues(provider).Inc()
}
