package telemetry

import (
	"github.com/plantkeep/cmms/libs/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the auth service counters. A nil *Metrics is valid and
// records nothing, which keeps unit tests free of registries.
type Metrics struct {
	Logins            *prometheus.CounterVec
	OTPIssued         *prometheus.CounterVec
	OTPVerifications  *prometheus.CounterVec
	ResetTokens       *prometheus.CounterVec
	Notifications     *prometheus.CounterVec
	CredentialUpdates *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		Logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Name:      "auth_logins_total",
				Help:      "Login attempts by method and result.",
			},
			[]string{"method", "result"},
		),
		OTPIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Name:      "auth_otp_issued_total",
				Help:      "One-time codes stored for known contacts.",
			},
			[]string{"purpose", "channel"},
		),
		OTPVerifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Name:      "auth_otp_verifications_total",
				Help:      "One-time code verifications by result.",
			},
			[]string{"purpose", "result"},
		),
		ResetTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Name:      "auth_reset_tokens_total",
				Help:      "Reset tokens issued and redeemed.",
			},
			[]string{"purpose", "result"},
		),
		Notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Name:      "auth_notifications_total",
				Help:      "Out-of-band deliveries by channel and result.",
			},
			[]string{"channel", "result"},
		),
		CredentialUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Name:      "auth_credential_updates_total",
				Help:      "PIN and password hash overwrites by source.",
			},
			[]string{"credential", "source"},
		),
	}

	registry.MustRegister(m.Logins, m.OTPIssued, m.OTPVerifications, m.ResetTokens, m.Notifications, m.CredentialUpdates)
	return m
}

func (m *Metrics) Login(method, result string) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(method, result).Inc()
}

func (m *Metrics) CodeIssued(purpose, channel string) {
	if m == nil {
		return
	}
	m.OTPIssued.WithLabelValues(purpose, channel).Inc()
}

func (m *Metrics) CodeVerified(purpose, result string) {
	if m == nil {
		return
	}
	m.OTPVerifications.WithLabelValues(purpose, result).Inc()
}

func (m *Metrics) ResetToken(purpose, result string) {
	if m == nil {
		return
	}
	m.ResetTokens.WithLabelValues(purpose, result).Inc()
}

func (m *Metrics) Notification(channel, result string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(channel, result).Inc()
}

func (m *Metrics) CredentialUpdated(credential, source string) {
	if m == nil {
		return
	}
	m.CredentialUpdates.WithLabelValues(credential, source).Inc()
}
