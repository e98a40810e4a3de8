// Package worker is the runtime that consumes task.assigned events and
// drives a task through a Runner to completion, reporting back to the
// scheduler. It is long-running and event-driven: a semaphore bounds
// concurrency, and every outcome is reported back onto the event bus
// rather than returned from a single synchronous call.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/fleetctl/orchestrator/internal/eventbus"
	"github.com/fleetctl/orchestrator/internal/persistence"
	"github.com/fleetctl/orchestrator/internal/runner"
)

// Scheduler is the subset of *scheduler.Scheduler the runtime drives a
// task through; declared here to avoid an import cycle (scheduler
// never needs to know about worker).
type Scheduler interface {
	StartTask(ctx context.Context, taskID string) error
	ReportProgress(ctx context.Context, taskID string, frac float64) error
	CompleteTask(ctx context.Context, taskID string, output map[string]interface{}) error
	FailTask(ctx context.Context, taskID, reason string, retry bool) error
}

// Config tunes a Runtime.
type Config struct {
	MaxConcurrentTasks int
	TaskTimeout        time.Duration
}

// Runtime subscribes to task.assigned, runs each task through its
// agent type's Runner bounded by a semaphore, and reports the outcome
// back to the scheduler.
type Runtime struct {
	sched   Scheduler
	store   *persistence.Store
	runners *runner.Registry
	bus     eventbus.Bus
	sem     chan struct{}
	timeout time.Duration
	logger  *log.Logger
	sub     eventbus.Subscription
}

// New builds a Runtime. cfg.MaxConcurrentTasks defaults to 5,
// cfg.TaskTimeout to 300s, matching the control plane's default
// per-task execution budget.
func New(sched Scheduler, store *persistence.Store, runners *runner.Registry, bus eventbus.Bus, cfg Config, logger *log.Logger) *Runtime {
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = 5
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 300 * time.Second
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[WORKER] ", log.LstdFlags)
	}
	return &Runtime{
		sched:   sched,
		store:   store,
		runners: runners,
		bus:     bus,
		sem:     make(chan struct{}, cfg.MaxConcurrentTasks),
		timeout: cfg.TaskTimeout,
		logger:  logger,
	}
}

// Start subscribes to task.assigned under the "worker-runtime"
// consumer group.
func (r *Runtime) Start() error {
	sub, err := r.bus.Subscribe(eventbus.TopicAgentTasks, "worker-runtime", []string{eventbus.EventTaskAssigned}, r.handleAssignment)
	if err != nil {
		return fmt.Errorf("subscribe to task assignments: %w", err)
	}
	r.sub = sub
	return nil
}

// Stop unsubscribes from task.assigned.
func (r *Runtime) Stop() error {
	if r.sub == nil {
		return nil
	}
	return r.sub.Unsubscribe()
}

func (r *Runtime) handleAssignment(ctx context.Context, env eventbus.Envelope) error {
	taskID, _ := env.Payload["task_id"].(string)
	if taskID == "" {
		return fmt.Errorf("task.assigned envelope missing task_id")
	}

	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	// Execution runs in its own goroutine so the bus poller is not
	// blocked for the duration of the task; the semaphore slot is
	// released when it finishes.
	go func() {
		defer func() { <-r.sem }()
		r.run(taskID)
	}()
	return nil
}

func (r *Runtime) run(taskID string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	task, err := r.store.GetTask(taskID)
	if err != nil || task == nil {
		r.logger.Printf("load task %s failed: %v", taskID, err)
		return
	}
	if task.AgentID == "" {
		r.logger.Printf("task %s has no assigned agent", taskID)
		return
	}
	agent, err := r.store.GetAgent(task.AgentID)
	if err != nil || agent == nil {
		r.logger.Printf("load agent %s for task %s failed: %v", task.AgentID, taskID, err)
		// The agent may simply not have been persisted yet under
		// replication lag; worth a retry on reassignment.
		_ = r.sched.FailTask(ctx, taskID, "assigned agent not found", true)
		return
	}

	run, err := r.runners.Build(agent.Type, agent)
	if err != nil {
		r.logger.Printf("build runner for task %s: %v", taskID, err)
		// No runner is registered for this agent type at all; retrying
		// the same task can never succeed.
		_ = r.sched.FailTask(ctx, taskID, err.Error(), false)
		return
	}

	if err := r.sched.StartTask(ctx, taskID); err != nil {
		r.logger.Printf("start task %s failed: %v", taskID, err)
		return
	}

	out, err := run.Execute(ctx, runner.Input{
		TaskID:      taskID,
		AgentID:     agent.ID,
		Description: task.Description,
		Data:        task.InputData,
	})
	if err != nil {
		reason, retry := classify(ctx, err)
		r.logger.Printf("task %s failed: %s", taskID, reason)
		if ferr := r.sched.FailTask(ctx, taskID, reason, retry); ferr != nil {
			r.logger.Printf("report failure for task %s: %v", taskID, ferr)
		}
		return
	}

	if err := r.sched.CompleteTask(ctx, taskID, out.Data); err != nil {
		r.logger.Printf("complete task %s failed: %v", taskID, err)
	}
}

// classify turns an execution error into the reason string recorded
// against the task plus whether the failure is worth retrying. I/O
// errors, timeouts, and rate limits are transient and get a retry;
// validation and unsupported-input errors will fail identically on
// every attempt and go straight to terminal failure instead of burning
// the task's retry budget.
func classify(ctx context.Context, err error) (reason string, retry bool) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "timeout: " + err.Error(), true
	}
	if isNonRecoverable(err) {
		return err.Error(), false
	}
	return err.Error(), true
}

func isNonRecoverable(err error) bool {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "validation"),
		strings.Contains(msg, "invalid"),
		strings.Contains(msg, "unsupported"),
		strings.Contains(msg, "malformed"):
		return true
	default:
		return false
	}
}
