// Package metrics turns orchestrator events into Prometheus metrics.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kelvinyan1/aime-reproduction/internal/orchestrator"
)

const namespace = "aime"

// Collector owns a registry and updates its instruments from events.
// It satisfies publish.Sink.
type Collector struct {
	reg *prometheus.Registry

	runs          *prometheus.CounterVec
	runRounds     prometheus.Histogram
	runDuration   prometheus.Histogram
	plans         prometheus.Counter
	planned       prometheus.Counter
	tasks         *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	steps         *prometheus.CounterVec
	tasksInFlight prometheus.Gauge
}

// New creates a collector with its own registry, including the Go runtime
// and process collectors.
func New() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Orchestrator runs by final status.",
		}, []string{"status"}),
		runRounds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_rounds",
			Help:      "Planning rounds per run.",
			Buckets:   []float64{1, 2, 3, 4, 6, 8, 12, 16},
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		plans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plans_total",
			Help:      "Plans that produced subtasks.",
		}),
		planned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "planned_subtasks_total",
			Help:      "Subtasks materialized from plans.",
		}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Subtasks finished, by status and agent kind.",
		}, []string{"status", "agent_kind"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Duration of agent runs.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"agent_kind"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_steps_total",
			Help:      "Agent steps by action kind and tool.",
		}, []string{"action", "tool"}),
		tasksInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_in_flight",
			Help:      "Subtasks currently assigned to a running agent.",
		}),
	}

	c.reg.MustRegister(
		c.runs, c.runRounds, c.runDuration, c.plans, c.planned,
		c.tasks, c.taskDuration, c.steps, c.tasksInFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Observe updates the instruments for one event.
func (c *Collector) Observe(ev orchestrator.Event) {
	switch ev.Type {
	case orchestrator.EventPlanCreated:
		c.plans.Inc()
		c.planned.Add(float64(ev.Count))
	case orchestrator.EventTaskStarted:
		c.tasksInFlight.Inc()
	case orchestrator.EventTaskCompleted, orchestrator.EventTaskFailed:
		status := "completed"
		if ev.Type == orchestrator.EventTaskFailed {
			status = "failed"
		}
		kind := ev.AgentKind
		if kind == "" {
			kind = "none"
		} else {
			// Only tasks that got an agent were counted as in flight.
			c.tasksInFlight.Dec()
			c.taskDuration.WithLabelValues(kind).Observe(ev.Duration.Seconds())
		}
		c.tasks.WithLabelValues(status, kind).Inc()
	case orchestrator.EventAgentStep:
		if ev.Step != nil {
			c.steps.WithLabelValues(string(ev.Step.Action.Kind), ev.Step.Action.Tool).Inc()
		}
	case orchestrator.EventRunDone:
		status := string(ev.Status)
		if status == "" {
			status = "halted"
		}
		c.runs.WithLabelValues(status).Inc()
		c.runRounds.Observe(float64(ev.Round))
		c.runDuration.Observe(ev.Duration.Seconds())
	}
}

// Publish observes ev.
func (c *Collector) Publish(_ context.Context, ev orchestrator.Event) error {
	c.Observe(ev)
	return nil
}

// Close is a no-op; the registry outlives the run so it can still be scraped.
func (c *Collector) Close() error { return nil }
