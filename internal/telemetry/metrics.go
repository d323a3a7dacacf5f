// Package telemetry exposes the control plane's Prometheus collectors.
//
// The core never serves an HTTP endpoint; callers that want scraping mount
// promhttp against the registry they pass in here.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics aggregates every collector emitted by the engine, reconciler and
// signal router. A nil *Metrics is valid and records nothing.
type Metrics struct {
	StepDuration     *prometheus.HistogramVec
	StepFailures     *prometheus.CounterVec
	Executions       *prometheus.CounterVec
	ReconcileCycles  prometheus.Counter
	RunningAgents    prometheus.Gauge
	AgentRestarts    *prometheus.CounterVec
	SignalsPublished *prometheus.CounterVec
	SignalsDropped   *prometheus.CounterVec
}

// Option customizes metric construction.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
}

// WithRegisterer registers the collectors against a custom registry
// (primarily for tests and embedders that keep their own registry).
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		if reg != nil {
			o.registerer = reg
		}
	}
}

// New builds and registers the collector set.
func New(opts ...Option) *Metrics {
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	m := &Metrics{
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "convoy",
			Subsystem: "engine",
			Name:      "step_duration_seconds",
			Help:      "Wall time of one workflow step attempt, including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"workflow", "step"}),
		StepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "convoy",
			Subsystem: "engine",
			Name:      "step_failures_total",
			Help:      "Steps that exhausted their retry budget.",
		}, []string{"workflow", "step", "policy"}),
		Executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "convoy",
			Subsystem: "engine",
			Name:      "executions_total",
			Help:      "Workflow executions by terminal status.",
		}, []string{"workflow", "status"}),
		ReconcileCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "convoy",
			Subsystem: "orchestrator",
			Name:      "reconcile_cycles_total",
			Help:      "Completed reconcile passes.",
		}),
		RunningAgents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "convoy",
			Subsystem: "orchestrator",
			Name:      "running_agents",
			Help:      "Agents currently managed by the reconciler.",
		}),
		AgentRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "convoy",
			Subsystem: "orchestrator",
			Name:      "agent_restarts_total",
			Help:      "Agent respawns after a liveness watch fired.",
		}, []string{"agent"}),
		SignalsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "convoy",
			Subsystem: "signal",
			Name:      "published_total",
			Help:      "Signals accepted by the router.",
		}, []string{"topic"}),
		SignalsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "convoy",
			Subsystem: "signal",
			Name:      "dropped_total",
			Help:      "Signals dropped on subscriber queue overflow.",
		}, []string{"topic"}),
	}
	o.registerer.MustRegister(
		m.StepDuration,
		m.StepFailures,
		m.Executions,
		m.ReconcileCycles,
		m.RunningAgents,
		m.AgentRestarts,
		m.SignalsPublished,
		m.SignalsDropped,
	)
	return m
}

// ObserveStep records one settled step.
func (m *Metrics) ObserveStep(workflow, step string, seconds float64) {
	if m == nil {
		return
	}
	m.StepDuration.WithLabelValues(workflow, step).Observe(seconds)
}

// StepFailed records a step that exhausted its retries under the given policy.
func (m *Metrics) StepFailed(workflow, step, policy string) {
	if m == nil {
		return
	}
	m.StepFailures.WithLabelValues(workflow, step, policy).Inc()
}

// ExecutionFinished records a terminal execution status.
func (m *Metrics) ExecutionFinished(workflow, status string) {
	if m == nil {
		return
	}
	m.Executions.WithLabelValues(workflow, status).Inc()
}

// ReconcileTick records one completed reconcile pass.
func (m *Metrics) ReconcileTick() {
	if m == nil {
		return
	}
	m.ReconcileCycles.Inc()
}

// SetRunningAgents updates the running agent gauge.
func (m *Metrics) SetRunningAgents(n int) {
	if m == nil {
		return
	}
	m.RunningAgents.Set(float64(n))
}

// AgentRestarted records one crash-driven respawn.
func (m *Metrics) AgentRestarted(agentID string) {
	if m == nil {
		return
	}
	m.AgentRestarts.WithLabelValues(agentID).Inc()
}

// SignalPublished records one accepted publish.
func (m *Metrics) SignalPublished(topic string) {
	if m == nil {
		return
	}
	m.SignalsPublished.WithLabelValues(topic).Inc()
}

// SignalDropped records one overflow drop.
func (m *Metrics) SignalDropped(topic string) {
	if m == nil {
		return
	}
	m.SignalsDropped.WithLabelValues(topic).Inc()
}
