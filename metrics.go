package authcore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rotation outcome labels.
const (
	rotationRotated = "rotated"
	rotationReuse   = "reuse"
	rotationInvalid = "invalid"
	rotationError   = "error"
)

// Metrics exposes the engine's operational counters.
type Metrics struct {
	issued    prometheus.Counter
	rotations *prometheus.CounterVec
	cascades  prometheus.Counter
}

// NewMetrics registers the engine counters with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		issued: factory.NewCounter(prometheus.CounterOpts{
			Name: "authcore_tokens_issued_total",
			Help: "Access/refresh pairs issued via register, login, delegate login, and rotation.",
		}),
		rotations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_refresh_rotations_total",
			Help: "Refresh rotation attempts by outcome.",
		}, []string{"result"}),
		cascades: factory.NewCounter(prometheus.CounterOpts{
			Name: "authcore_reuse_cascades_total",
			Help: "Cascading revocations triggered by refresh reuse detection.",
		}),
	}
}

func (m *Metrics) tokensIssued() {
	if m != nil {
		m.issued.Inc()
	}
}

func (m *Metrics) rotation(result string) {
	if m != nil {
		m.rotations.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) cascade() {
	if m != nil {
		m.cascades.Inc()
	}
}
