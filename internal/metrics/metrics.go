// Package metrics exposes Prometheus counters for the session core.
//
// A nil *Metrics is valid and records nothing, so components accept one
// unconditionally.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "backoffice"

type Metrics struct {
	validations   *prometheus.CounterVec
	forcedLogouts *prometheus.CounterVec
	pushConnects  *prometheus.CounterVec
	pushDropped   *prometheus.CounterVec
	pushMessages  *prometheus.CounterVec
	rollbacks     *prometheus.CounterVec
}

// New registers the counters on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := func(name, help string, labels ...string) *prometheus.CounterVec {
		c := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
		reg.MustRegister(c)
		return c
	}
	return &Metrics{
		validations:   f("session_validations_total", "Session validation attempts by outcome.", "outcome"),
		forcedLogouts: f("forced_logouts_total", "Forced logouts by reason.", "reason"),
		pushConnects:  f("push_connects_total", "Push channel connection attempts by result.", "result"),
		pushDropped:   f("push_frames_dropped_total", "Inbound push frames dropped by reason.", "reason"),
		pushMessages:  f("push_messages_total", "Inbound push messages by destination.", "destination"),
		rollbacks:     f("optimistic_rollbacks_total", "Optimistic notification mutations rolled back.", "op"),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) Validation(outcome string) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ForcedLogout(reason string) {
	if m == nil {
		return
	}
	m.forcedLogouts.WithLabelValues(reason).Inc()
}

func (m *Metrics) PushConnect(result string) {
	if m == nil {
		return
	}
	m.pushConnects.WithLabelValues(result).Inc()
}

func (m *Metrics) PushDropped(reason string) {
	if m == nil {
		return
	}
	m.pushDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) PushMessage(destination string) {
	if m == nil {
		return
	}
	m.pushMessages.WithLabelValues(destination).Inc()
}

func (m *Metrics) Rollback(op string) {
	if m == nil {
		return
	}
	m.rollbacks.WithLabelValues(op).Inc()
}
