package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects counters for the command, steering and proactive flows.
type Metrics struct {
	// CommandsProcessed counts handled commands.
	// Labels: room, result (ok|error|rate_limited|help)
	CommandsProcessed *prometheus.CounterVec

	// ActorRuns counts agent invocations.
	// Labels: room, mode
	ActorRuns *prometheus.CounterVec

	// SteeringItems counts queued item outcomes.
	// Labels: room, outcome (steered|dropped|ran)
	SteeringItems *prometheus.CounterVec

	// ProactiveChecks counts debounced proactive evaluations.
	// Labels: room, outcome (interject|test_mode|rejected|rate_limited)
	ProactiveChecks *prometheus.CounterVec

	// LLMCost accumulates reported agent run cost in dollars.
	// Labels: room, mode
	LLMCost *prometheus.CounterVec
}

// NewMetrics creates and registers metrics on the given registerer. Pass
// prometheus.DefaultRegisterer in production; a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CommandsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_commands_processed_total",
			Help: "Commands handled, by result.",
		}, []string{"room", "result"}),
		ActorRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_actor_runs_total",
			Help: "Agent actor invocations.",
		}, []string{"room", "mode"}),
		SteeringItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_steering_items_total",
			Help: "Steering queue item outcomes.",
		}, []string{"room", "outcome"}),
		ProactiveChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_proactive_checks_total",
			Help: "Debounced proactive interjection checks, by outcome.",
		}, []string{"room", "outcome"}),
		LLMCost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_llm_cost_dollars_total",
			Help: "Reported LLM cost of actor runs.",
		}, []string{"room", "mode"}),
	}
	reg.MustRegister(
		m.CommandsProcessed,
		m.ActorRuns,
		m.SteeringItems,
		m.ProactiveChecks,
		m.LLMCost,
	)
	return m
}
