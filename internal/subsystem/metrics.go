// ABOUTME: Prometheus instrumentation shared by every subsystem worker
// ABOUTME: Exposed on the gateway's /metrics endpoint via the default registry

package subsystem

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// tasksTotal counts tasks the worker finished, by outcome
	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worldgpt_subsystem_tasks_total",
		Help: "Tasks applied by subsystem workers, by result (ok, failed, ignored)",
	}, []string{"subsystem", "result"})

	// taskDuration tracks how long a single task held the worker
	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "worldgpt_subsystem_task_duration_seconds",
		Help:    "Time spent applying a single task",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
	}, []string{"subsystem"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "worldgpt_subsystem_queue_depth",
		Help: "Tasks waiting in the subsystem queue",
	}, []string{"subsystem"})

	activeGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "worldgpt_subsystem_active",
		Help: "1 while the subsystem worker is accepting tasks",
	}, []string{"subsystem"})

	deadLettersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worldgpt_subsystem_dead_letters_total",
		Help: "Tasks moved to the dead-letter list after their handler failed",
	}, []string{"subsystem"})
)

const (
	resultOK      = "ok"
	resultFailed  = "failed"
	resultIgnored = "ignored"
)
