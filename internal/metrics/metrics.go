// Package metrics exposes the portal's Prometheus collector.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the gate, the identity client and the handlers report to.
type Recorder interface {
	RecordGateDecision(outcome string)
	RecordIdentityCall(op, result string, duration time.Duration)
	RecordCredentialResult(op string, success bool)
}

type Collector struct {
	gateDecisions   *prometheus.CounterVec
	identityCalls   *prometheus.CounterVec
	identityLatency *prometheus.HistogramVec
	credentials     *prometheus.CounterVec
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_gate_decisions_total",
			Help: "Authorization gate decisions by outcome.",
		}, []string{"outcome"}),
		identityCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_identity_calls_total",
			Help: "Identity service calls by operation and result.",
		}, []string{"op", "result"}),
		identityLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "portal_identity_call_seconds",
			Help:    "Identity service call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		credentials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_credential_results_total",
			Help: "Login and signup results.",
		}, []string{"op", "result"}),
	}

	reg.MustRegister(c.gateDecisions, c.identityCalls, c.identityLatency, c.credentials)
	return c
}

func (c *Collector) RecordGateDecision(outcome string) {
	c.gateDecisions.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordIdentityCall(op, result string, duration time.Duration) {
	c.identityCalls.WithLabelValues(op, result).Inc()
	c.identityLatency.WithLabelValues(op).Observe(duration.Seconds())
}

func (c *Collector) RecordCredentialResult(op string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.credentials.WithLabelValues(op, result).Inc()
}

// Handler serves the registry in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordGateDecision(string)                        {}
func (Nop) RecordIdentityCall(string, string, time.Duration) {}
func (Nop) RecordCredentialResult(string, bool)              {}
