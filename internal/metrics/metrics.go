// Package metrics exposes Prometheus counters for auth events.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Event names used as the "event" label.
const (
	EventRegistrationStarted   = "registration_started"
	EventRegistrationConfirmed = "registration_confirmed"
	EventLogin                 = "login"
	EventTwoFactor             = "two_factor"
	EventRefresh               = "refresh"
	EventLogout                = "logout"
	EventPasswordReset         = "password_reset"
	EventEmailVerified         = "email_verified"
	EventSecurityUpdate        = "security_update"
	EventAccountDeleted        = "account_deleted"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Recorder counts auth outcomes. A nil *Recorder is a valid no-op.
type Recorder struct {
	events     *prometheus.CounterVec
	reuse      prometheus.Counter
	revoked    prometheus.Counter
	rateLimits *prometheus.CounterVec
}

// New registers the auth collectors on reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "farmhand",
			Subsystem: "auth",
			Name:      "events_total",
			Help:      "Auth flow outcomes by event.",
		}, []string{"event", "outcome"}),
		reuse: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "farmhand",
			Subsystem: "auth",
			Name:      "refresh_reuse_detected_total",
			Help:      "Refresh tokens presented after rotation.",
		}),
		revoked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "farmhand",
			Subsystem: "auth",
			Name:      "sessions_revoked_total",
			Help:      "Sessions removed by revoke-all operations.",
		}),
		rateLimits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "farmhand",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}, []string{"path"}),
	}
	reg.MustRegister(r.events, r.reuse, r.revoked, r.rateLimits)
	return r
}

func (r *Recorder) Event(event, outcome string) {
	if r == nil {
		return
	}
	r.events.WithLabelValues(event, outcome).Inc()
}

func (r *Recorder) ReuseDetected() {
	if r == nil {
		return
	}
	r.reuse.Inc()
}

func (r *Recorder) SessionsRevoked(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.revoked.Add(float64(n))
}

func (r *Recorder) RateLimited(path string) {
	if r == nil {
		return
	}
	r.rateLimits.WithLabelValues(path).Inc()
}
