package report

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stats are process-local counters, exposed on the status server.
// Boring counters only. Every value can be explained from the run report.
type Stats struct {
	Registry *prometheus.Registry

	Runs           *prometheus.CounterVec // by cause
	RunsByExit     *prometheus.CounterVec // exit=zero|non_zero
	Attempts       *prometheus.CounterVec // by cause
	Actions        *prometheus.CounterVec // by stage and result
	MetricFailures prometheus.Counter
}

// NewStats registers the counters on a fresh registry.
func NewStats() *Stats {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Stats{
		Registry: reg,
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "twrap_runs_total",
			Help: "Finished runs by termination cause",
		}, []string{"cause"}),
		RunsByExit: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "twrap_runs_by_exit_total",
			Help: "Finished runs by exit code class",
		}, []string{"exit"}),
		Attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "twrap_attempts_total",
			Help: "Spawn attempts by outcome",
		}, []string{"cause"}),
		Actions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "twrap_actions_total",
			Help: "Lifecycle actions by stage and result",
		}, []string{"stage", "result"}),
		MetricFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "twrap_metric_send_failures_total",
			Help: "Metrics that could not be delivered to the sink",
		}),
	}
}

// RecordResult updates the run counters from a frozen Result.
func (s *Stats) RecordResult(r *Result) {
	cause := string(r.Cause)
	if cause == "" {
		cause = "none"
	}
	s.Runs.WithLabelValues(cause).Inc()
	if r.ExitCode == 0 {
		s.RunsByExit.WithLabelValues("zero").Inc()
	} else {
		s.RunsByExit.WithLabelValues("non_zero").Inc()
	}
	if r.MetricsFailed > 0 {
		s.MetricFailures.Add(float64(r.MetricsFailed))
	}
}

// RecordAttempt counts one finished attempt.
func (s *Stats) RecordAttempt(a Attempt) {
	s.Attempts.WithLabelValues(string(a.Cause)).Inc()
}

// RecordAction counts one executed lifecycle action.
func (s *Stats) RecordAction(stage string, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	s.Actions.WithLabelValues(stage, result).Inc()
}
