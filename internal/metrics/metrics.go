// Package metrics exposes Prometheus counters for the auth flows.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder counts flow outcomes and guard decisions on its own registry.
type Recorder struct {
	registry       *prometheus.Registry
	flows          *prometheus.CounterVec
	guardDecisions *prometheus.CounterVec
}

func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Recorder{
		registry: registry,
		flows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_flow_total",
				Help: "Total number of auth flow executions by flow and outcome",
			},
			[]string{"flow", "outcome"},
		),
		guardDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_guard_decisions_total",
				Help: "Total number of route guard decisions by action",
			},
			[]string{"action"},
		),
	}

	registry.MustRegister(r.flows)
	registry.MustRegister(r.guardDecisions)

	return r
}

// RecordFlow increments the counter for flow with outcome, which is
// "success" or a lower-cased error code.
func (r *Recorder) RecordFlow(flow, outcome string) {
	r.flows.WithLabelValues(flow, outcome).Inc()
}

// RecordGuardDecision increments the counter for a route guard action.
func (r *Recorder) RecordGuardDecision(action string) {
	r.guardDecisions.WithLabelValues(action).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
