// Package metrics exposes the control plane's task/agent/webhook
// counters to Prometheus and keeps a short in-memory snapshot history
// for the /health endpoint.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/fleetctl/orchestrator/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// QueueSource reports how many tasks are waiting for assignment.
// Satisfied structurally by *scheduler.Scheduler without this package
// importing it, the same narrow-interface seam worker.Scheduler uses
// to keep the import graph one-way.
type QueueSource interface {
	ReadyLen() int
}

// AgentSource reports the agent roster by lifecycle status. Satisfied
// structurally by *agentmanager.Manager.
type AgentSource interface {
	AgentCountsByStatus() map[domain.AgentStatus]int
}

// Snapshot is one point-in-time read of the control plane's vitals.
type Snapshot struct {
	Taken          time.Time                  `json:"taken"`
	QueueDepth     int                        `json:"queue_depth"`
	AgentsByStatus map[domain.AgentStatus]int `json:"agents_by_status"`
}

// Collector registers the control plane's Prometheus metrics and
// keeps a bounded history of Snapshots for cheap internal reads (the
// /health handler has no business scraping its own /metrics).
type Collector struct {
	registry *prometheus.Registry

	tasksTotal      *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	queueDepth      prometheus.Gauge
	agentsByStatus  *prometheus.GaugeVec
	webhookDuration *prometheus.HistogramVec
	webhookAttempts *prometheus.CounterVec

	mu         sync.Mutex
	history    []Snapshot
	maxHistory int
}

// NewCollector builds and registers every metric on a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry:   reg,
		maxHistory: 1000,
		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_tasks_total",
			Help: "Tasks that reached a terminal status, by status.",
		}, []string{"status"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orchestrator_task_duration_seconds",
			Help:    "Time from assignment to completion or failure.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orchestrator_ready_queue_depth",
			Help: "Tasks currently in the ready set awaiting assignment.",
		}),
		agentsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orchestrator_agents",
			Help: "Registered agents by lifecycle status.",
		}, []string{"status"}),
		webhookDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orchestrator_webhook_delivery_duration_seconds",
			Help:    "Outbound webhook delivery latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		webhookAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_webhook_attempts_total",
			Help: "Outbound webhook delivery attempts, by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(c.tasksTotal, c.taskDuration, c.queueDepth, c.agentsByStatus, c.webhookDuration, c.webhookAttempts)
	return c
}

// Handler returns the /metrics HTTP handler for this collector's
// registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveTaskTerminal records a task reaching a terminal status and,
// if started is non-zero, the task's duration since assignment.
func (c *Collector) ObserveTaskTerminal(status domain.TaskStatus, started time.Time) {
	c.tasksTotal.WithLabelValues(string(status)).Inc()
	if !started.IsZero() {
		c.taskDuration.WithLabelValues(string(status)).Observe(time.Since(started).Seconds())
	}
}

// ObserveWebhookDelivery records one outbound delivery attempt.
func (c *Collector) ObserveWebhookDelivery(outcome string, d time.Duration) {
	c.webhookAttempts.WithLabelValues(outcome).Inc()
	c.webhookDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// Refresh pulls fresh gauge values from queue and agents, updates the
// Prometheus gauges, and appends a Snapshot to history. Intended to
// run on a periodic tick (see cmd/orchestratord).
func (c *Collector) Refresh(queue QueueSource, agents AgentSource) Snapshot {
	depth := queue.ReadyLen()
	byStatus := agents.AgentCountsByStatus()

	c.queueDepth.Set(float64(depth))
	for status, n := range byStatus {
		c.agentsByStatus.WithLabelValues(string(status)).Set(float64(n))
	}

	snap := Snapshot{Taken: time.Now(), QueueDepth: depth, AgentsByStatus: byStatus}
	c.mu.Lock()
	c.history = append(c.history, snap)
	if len(c.history) > c.maxHistory {
		c.history = c.history[len(c.history)-c.maxHistory:]
	}
	c.mu.Unlock()
	return snap
}

// Latest returns the most recent snapshot, or the zero value if none
// has been taken yet.
func (c *Collector) Latest() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.history) == 0 {
		return Snapshot{}
	}
	return c.history[len(c.history)-1]
}

// History returns a copy of every retained snapshot, oldest first.
func (c *Collector) History() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Snapshot, len(c.history))
	copy(out, c.history)
	return out
}

// ResetHistory clears the in-memory snapshot history without
// affecting the Prometheus registry.
func (c *Collector) ResetHistory() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = nil
}
