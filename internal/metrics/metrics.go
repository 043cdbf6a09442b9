// Package metrics provides Prometheus metrics for monitoring the task
// queue and instance pool.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TasksTotal counts completed tasks by type and status.
	TasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudflyer_tasks_total",
			Help: "Total number of tasks processed",
		},
		[]string{"type", "status"},
	)

	// TaskDuration tracks task duration by type.
	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cloudflyer_task_duration_seconds",
			Help:    "Task duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~256s
		},
		[]string{"type"},
	)

	// InstancePoolSize shows the configured pool size.
	InstancePoolSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cloudflyer_instance_pool_size",
			Help: "Configured instance pool size",
		},
	)

	// InstancesBusy shows instances currently running a task.
	InstancesBusy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cloudflyer_instances_busy",
			Help: "Instances currently running a task",
		},
	)

	// TasksQueued shows tasks waiting for a free instance.
	TasksQueued = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cloudflyer_tasks_queued",
			Help: "Tasks waiting for a free instance",
		},
	)

	// ChallengesFailed counts failed tasks by reason.
	ChallengesFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudflyer_challenges_failed_total",
			Help: "Total challenges failed by reason",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		TasksTotal,
		TaskDuration,
		InstancePoolSize,
		InstancesBusy,
		TasksQueued,
		ChallengesFailed,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordTask records metrics for a completed task.
func RecordTask(taskType, status string, duration time.Duration) {
	TasksTotal.WithLabelValues(taskType, status).Inc()
	TaskDuration.WithLabelValues(taskType).Observe(duration.Seconds())
}

// RecordFailure records a failed challenge attempt.
func RecordFailure(reason string) {
	ChallengesFailed.WithLabelValues(reason).Inc()
}
