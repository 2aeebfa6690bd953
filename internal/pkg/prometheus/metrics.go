package prometheus

import "github.com/prometheus/client_golang/prometheus"

const namespace = "taskpilot"

var (
	SchedulerCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "cycles_total",
		Help:      "Scheduler cycles by result (ok, skipped, error).",
	}, []string{"result"})

	RemindersDispatched = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "reminders_dispatched_total",
		Help:      "Reminders claimed and handed to the dispatcher.",
	})

	AssistantFires = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "assistant_fires_total",
		Help:      "Assistant firings by kind.",
	}, []string{"kind"})

	ScriptRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "runner",
		Name:      "runs_total",
		Help:      "Script runs by target and outcome.",
	}, []string{"target", "outcome"})

	ScriptDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "runner",
		Name:      "run_duration_seconds",
		Help:      "Wall time of script runs.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	}, []string{"target"})

	Deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "deliveries_total",
		Help:      "Notification deliveries by channel and status.",
	}, []string{"channel", "status"})
)

func init() {
	registry.MustRegister(
		SchedulerCycles,
		RemindersDispatched,
		AssistantFires,
		ScriptRuns,
		ScriptDuration,
		Deliveries,
	)
}
