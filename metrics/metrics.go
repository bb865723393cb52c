package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics counts what the orchestrator does against the job backend.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Launches          *prometheus.CounterVec
	LaunchFailures    *prometheus.CounterVec
	Polls             prometheus.Counter
	PollErrors        prometheus.Counter
	TaskTransitions   *prometheus.CounterVec
	WorkflowsFinished *prometheus.CounterVec
	ActiveWorkflows   prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		Launches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ensemble_task_launches_total",
				Help: "Remote jobs submitted, by task type.",
			},
			[]string{"task_type"},
		),
		LaunchFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ensemble_task_launch_failures_total",
				Help: "Remote job submissions rejected by the backend, by task type.",
			},
			[]string{"task_type"},
		),
		Polls: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ensemble_run_polls_total",
				Help: "Run status requests sent to the backend.",
			},
		),
		PollErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ensemble_run_poll_errors_total",
				Help: "Run status requests that ended with the backend unavailable.",
			},
		),
		TaskTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ensemble_task_transitions_total",
				Help: "Task status transitions, by target status.",
			},
			[]string{"status"},
		),
		WorkflowsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ensemble_workflows_finished_total",
				Help: "Workflows that reached a terminal state, by state.",
			},
			[]string{"status"},
		),
		ActiveWorkflows: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ensemble_active_workflows",
				Help: "Workflows still running.",
			},
		),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveLaunch(taskType string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.LaunchFailures.WithLabelValues(taskType).Inc()
		return
	}
	m.Launches.WithLabelValues(taskType).Inc()
}

func (m *Metrics) ObservePoll(err error) {
	if m == nil {
		return
	}
	m.Polls.Inc()
	if err != nil {
		m.PollErrors.Inc()
	}
}

func (m *Metrics) ObserveTransition(status string) {
	if m == nil {
		return
	}
	m.TaskTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) WorkflowStarted() {
	if m == nil {
		return
	}
	m.ActiveWorkflows.Inc()
}

func (m *Metrics) WorkflowFinished(status string) {
	if m == nil {
		return
	}
	m.ActiveWorkflows.Dec()
	m.WorkflowsFinished.WithLabelValues(status).Inc()
}
