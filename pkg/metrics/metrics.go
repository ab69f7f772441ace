package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "excursion"

// Auth counts authentication outcomes. A nil *Auth is valid and records nothing.
type Auth struct {
	logins        *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	revocations   prometheus.Counter
	reuseDetected prometheus.Counter
}

func NewAuth(reg prometheus.Registerer) *Auth {
	factory := promauto.With(reg)
	return &Auth{
		logins: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_logins_total",
				Help:      "Login attempts by result",
			},
			[]string{"result"},
		),
		refreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_refresh_total",
				Help:      "Refresh token exchanges by result",
			},
			[]string{"result"},
		),
		revocations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_revocations_total",
			Help:      "Refresh tokens revoked on client request",
		}),
		reuseDetected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_reuse_detected_total",
			Help:      "Presentations of an already revoked refresh token",
		}),
	}
}

func (m *Auth) Login(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

func (m *Auth) Refresh(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Auth) Revocation() {
	if m == nil {
		return
	}
	m.revocations.Inc()
}

func (m *Auth) ReuseDetected() {
	if m == nil {
		return
	}
	m.reuseDetected.Inc()
}
