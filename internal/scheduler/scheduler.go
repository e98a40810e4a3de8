// Package scheduler turns submitted tasks into agent assignments: it
// holds the dependency graph, the ready-set priority queue, and the
// tick loop that matches ready tasks to available agents.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fleetctl/orchestrator/internal/agentmanager"
	"github.com/fleetctl/orchestrator/internal/domain"
	"github.com/fleetctl/orchestrator/internal/eventbus"
	"github.com/fleetctl/orchestrator/internal/metrics"
	"github.com/fleetctl/orchestrator/internal/persistence"
	"github.com/fleetctl/orchestrator/internal/statestore"
	"github.com/robfig/cron/v3"
)

const maxTaskRetries = 3

// Config tunes a Scheduler.
type Config struct {
	Strategy    Strategy
	AgingFactor float64
	// MaxAssignmentsPerTick bounds how many tasks one tick will hand
	// out, so a burst of submissions can't starve the agent manager's
	// lock contention in a single tick.
	MaxAssignmentsPerTick int
}

// Scheduler owns the ready set and dependency graph and drives task
// lifecycle operations: submit, assign, start, progress, complete,
// fail, cancel. It is backed by the persistent store and gated by an
// explicit dependency graph, and ticks on robfig/cron's "@every 1s"
// spec instead of a raw time.Ticker, the same library choice the
// agent manager's health sweep makes.
type Scheduler struct {
	mu      sync.Mutex
	running bool

	ready *ReadySet
	dag   *DAG

	store   *persistence.Store
	agents  *agentmanager.Manager
	bus     eventbus.Bus
	state   *statestore.Store
	logger  *log.Logger
	cron    *cron.Cron
	cfg     Config
	metrics *metrics.Collector
}

// SetCollector attaches a metrics collector so task terminal states
// are observed as they happen. Optional: a nil collector (the
// default) means CompleteTask/FailTask/CancelTask skip recording.
func (s *Scheduler) SetCollector(c *metrics.Collector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = c
}

// New builds a Scheduler over the given persistence, agent manager,
// bus, and state store.
func New(store *persistence.Store, agents *agentmanager.Manager, bus eventbus.Bus, state *statestore.Store, cfg Config, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.New(log.Writer(), "[SCHEDULER] ", log.LstdFlags)
	}
	if cfg.MaxAssignmentsPerTick <= 0 {
		cfg.MaxAssignmentsPerTick = 50
	}
	return &Scheduler{
		ready:  NewReadySet(cfg.Strategy, cfg.AgingFactor),
		dag:    NewDAG(),
		store:  store,
		agents: agents,
		bus:    bus,
		state:  state,
		logger: logger,
		cron:   cron.New(),
		cfg:    cfg,
	}
}

// Start schedules the 1s assignment tick and the 30s ready-set aging
// resort, then begins running them. Start performs no leader check of
// its own, and cmd/orchestratord calls it on every instance without
// consulting statestore.IsLeader.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc("@every 1s", func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("schedule tick: %w", err)
	}
	if _, err := s.cron.AddFunc("@every 30s", func() { s.ready.Resort() }); err != nil {
		return fmt.Errorf("schedule aging resort: %w", err)
	}
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	s.cron.Start()
	return nil
}

// Stop halts the tick loop and waits for any in-flight tick to finish.
func (s *Scheduler) Stop() {
	c := s.cron.Stop()
	<-c.Done()
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning reports whether Start has been called without a matching
// Stop.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SubmitTask validates and persists task, wires its dependency edges,
// and — if every dependency is already satisfied — enqueues it onto
// the ready set. dependsOn lists task ids that must complete first;
// a cyclic edge is rejected and no partial state is left behind.
func (s *Scheduler) SubmitTask(ctx context.Context, task *domain.Task, dependsOn []string) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	if err := s.store.SaveTask(task); err != nil {
		return fmt.Errorf("save task %s: %w", task.ID, err)
	}

	for _, dep := range dependsOn {
		if err := s.store.AddDependency(task.ID, dep); err != nil {
			return fmt.Errorf("add dependency %s -> %s: %w", task.ID, dep, err)
		}
	}
	// The persistence layer is authoritative on cycle rejection; once
	// every edge is accepted there, mirror them into the in-memory
	// graph used for fast ready-set gating.
	for _, dep := range dependsOn {
		if err := s.dag.AddEdge(task.ID, dep); err != nil {
			return fmt.Errorf("mirror dependency %s -> %s: %w", task.ID, dep, err)
		}
	}

	if err := s.store.RecordAudit("task", task.ID, "task.submitted", "scheduler", task.Description); err != nil {
		s.logger.Printf("failed to record submit audit for %s: %v", task.ID, err)
	}

	if s.dag.Satisfied(task.ID, s.isTaskComplete) {
		if err := s.enqueueReady(ctx, task); err != nil {
			return err
		}
	}
	return nil
}

// AddDependency records that taskID depends on dependsOnID after
// submission, mirroring the edge into the in-memory graph the same
// way SubmitTask does. If taskID is currently sitting in the ready
// set, it is pulled back out whenever the new edge leaves it
// unsatisfied, so a task cannot be assigned or completed ahead of a
// dependency added after the fact.
func (s *Scheduler) AddDependency(ctx context.Context, taskID, dependsOnID string) error {
	if err := s.store.AddDependency(taskID, dependsOnID); err != nil {
		return fmt.Errorf("add dependency %s -> %s: %w", taskID, dependsOnID, err)
	}
	if err := s.dag.AddEdge(taskID, dependsOnID); err != nil {
		return fmt.Errorf("mirror dependency %s -> %s: %w", taskID, dependsOnID, err)
	}

	if !s.dag.Satisfied(taskID, s.isTaskComplete) {
		s.ready.Remove(taskID)
	}
	return nil
}

func (s *Scheduler) enqueueReady(ctx context.Context, task *domain.Task) error {
	if task.Status == domain.TaskPending || task.Status == domain.TaskRetrying {
		if err := task.TransitionTo(domain.TaskQueued); err != nil {
			return err
		}
		if err := s.store.SaveTask(task); err != nil {
			return fmt.Errorf("save task %s: %w", task.ID, err)
		}
	}
	s.ready.Enqueue(task)
	return nil
}

func (s *Scheduler) isTaskComplete(taskID string) bool {
	t, err := s.store.GetTask(taskID)
	if err != nil || t == nil {
		return false
	}
	return t.Status == domain.TaskCompleted
}

// tick is the periodic assignment cycle: it hands ready tasks to
// available agents, up to MaxAssignmentsPerTick per run.
func (s *Scheduler) tick(ctx context.Context) {
	s.ready.Resort()
	for i := 0; i < s.cfg.MaxAssignmentsPerTick; i++ {
		if !s.assignOne(ctx) {
			return
		}
	}
}

// assignOne attempts one ready-task-to-agent match, returning false
// when there is nothing left to assign this tick.
func (s *Scheduler) assignOne(ctx context.Context) bool {
	// Take the head of the queue; on a pick failure (no idle agent of
	// the right type) the task is enqueued again.
	task := s.ready.Dequeue("", nil)
	if task == nil {
		return false
	}

	var skills []string
	if task.Metadata != nil {
		if raw, ok := task.Metadata["required_skills"].([]interface{}); ok {
			for _, v := range raw {
				if sv, ok := v.(string); ok {
					skills = append(skills, sv)
				}
			}
		}
	}

	agent, err := s.agents.PickAvailable(task.AgentType, skills)
	if err != nil {
		s.logger.Printf("pick available agent for task %s failed: %v", task.ID, err)
		s.ready.Enqueue(task)
		return true
	}
	if agent == nil {
		// Nothing available right now; put it back and stop this tick
		// rather than busy-looping over the same empty pool.
		s.ready.Enqueue(task)
		return false
	}

	if err := s.assign(ctx, task, agent.ID); err != nil {
		s.logger.Printf("assign task %s to agent %s failed: %v", task.ID, agent.ID, err)
		s.ready.Enqueue(task)
	}
	return true
}

func (s *Scheduler) assign(ctx context.Context, task *domain.Task, agentID string) error {
	lock, err := s.state.Acquire(ctx, lockTaskKey(task.ID), 5*time.Second, 2*time.Second)
	if err != nil {
		return fmt.Errorf("acquire task lock %s: %w", task.ID, err)
	}
	defer s.state.Release(lock)

	if err := s.agents.UpdateStatus(ctx, agentID, domain.AgentBusy); err != nil {
		return fmt.Errorf("mark agent %s busy: %w", agentID, err)
	}

	task.AgentID = agentID
	if err := s.store.SaveTask(task); err != nil {
		return fmt.Errorf("save assigned task %s: %w", task.ID, err)
	}

	env := eventbus.NewEnvelope(eventbus.EventTaskAssigned, task.ID, task.TraceID(), map[string]interface{}{
		"task_id":  task.ID,
		"agent_id": agentID,
	})
	if err := s.bus.Publish(ctx, eventbus.TopicAgentTasks, env); err != nil {
		s.logger.Printf("failed to publish task.assigned for %s: %v", task.ID, err)
	}
	return nil
}

// StartTask marks an assigned task in_progress; called by the worker
// runtime once it has picked up the assignment event.
func (s *Scheduler) StartTask(ctx context.Context, taskID string) error {
	task, err := s.store.GetTask(taskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}
	if task == nil {
		return fmt.Errorf("task %s not found", taskID)
	}
	if err := task.TransitionTo(domain.TaskInProgress); err != nil {
		return err
	}
	if err := s.store.SaveTask(task); err != nil {
		return fmt.Errorf("save task %s: %w", taskID, err)
	}

	env := eventbus.NewEnvelope(eventbus.EventTaskStarted, taskID, task.TraceID(), map[string]interface{}{"task_id": taskID})
	return s.bus.Publish(ctx, eventbus.TopicAgentTasks, env)
}

// ReportProgress records fractional progress and publishes task.progress.
func (s *Scheduler) ReportProgress(ctx context.Context, taskID string, frac float64) error {
	task, err := s.store.GetTask(taskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}
	if task == nil {
		return fmt.Errorf("task %s not found", taskID)
	}
	task.SetProgress(frac)
	if err := s.store.SaveTask(task); err != nil {
		return fmt.Errorf("save task %s: %w", taskID, err)
	}

	env := eventbus.NewEnvelope(eventbus.EventTaskProgress, taskID, task.TraceID(), map[string]interface{}{
		"task_id":  taskID,
		"progress": frac,
	})
	return s.bus.Publish(ctx, eventbus.TopicAgentTasks, env)
}

// CompleteTask marks taskID completed with output, frees its agent
// back to idle, and enqueues any dependent whose dependencies are now
// all satisfied.
func (s *Scheduler) CompleteTask(ctx context.Context, taskID string, output map[string]interface{}) error {
	task, err := s.store.GetTask(taskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}
	if task == nil {
		return fmt.Errorf("task %s not found", taskID)
	}

	if err := task.TransitionTo(domain.TaskCompleted); err != nil {
		return err
	}
	task.OutputData = output
	task.SetProgress(1)
	if err := s.store.SaveTask(task); err != nil {
		return fmt.Errorf("save task %s: %w", taskID, err)
	}
	if err := s.releaseAgent(ctx, task.AgentID); err != nil {
		s.logger.Printf("failed to release agent for completed task %s: %v", taskID, err)
	}

	env := eventbus.NewEnvelope(eventbus.EventTaskCompleted, taskID, task.TraceID(), map[string]interface{}{"task_id": taskID})
	if err := s.bus.Publish(ctx, eventbus.TopicAgentTasks, env); err != nil {
		s.logger.Printf("failed to publish task.completed for %s: %v", taskID, err)
	}

	s.admitDependents(ctx, taskID)
	s.dag.RemoveTask(taskID)
	s.observeTerminal(task)
	return nil
}

func (s *Scheduler) observeTerminal(task *domain.Task) {
	s.mu.Lock()
	c := s.metrics
	s.mu.Unlock()
	if c == nil {
		return
	}
	started := time.Time{}
	if task.StartedAt != nil {
		started = *task.StartedAt
	}
	c.ObserveTaskTerminal(task.Status, started)
}

// admitDependents enqueues every task depending on taskID whose full
// dependency set is now satisfied.
func (s *Scheduler) admitDependents(ctx context.Context, taskID string) {
	for _, depID := range s.dag.Dependents(taskID) {
		if !s.dag.Satisfied(depID, s.isTaskComplete) {
			continue
		}
		dep, err := s.store.GetTask(depID)
		if err != nil || dep == nil || !dep.Ready() {
			continue
		}
		if err := s.enqueueReady(ctx, dep); err != nil {
			s.logger.Printf("failed to admit dependent task %s: %v", depID, err)
		}
	}
}

// FailTask records a failure. When retry is true and the task's retry
// budget is not exhausted, it transitions to retrying and is
// re-enqueued; otherwise (retry is false, or the budget is spent) it
// is marked terminally failed. Callers pass retry=false for
// non-recoverable failures (validation, unsupported input) so those
// skip the retry budget entirely instead of burning attempts on an
// error that will never succeed.
func (s *Scheduler) FailTask(ctx context.Context, taskID, reason string, retry bool) error {
	task, err := s.store.GetTask(taskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}
	if task == nil {
		return fmt.Errorf("task %s not found", taskID)
	}

	if err := s.releaseAgent(ctx, task.AgentID); err != nil {
		s.logger.Printf("failed to release agent for failed task %s: %v", taskID, err)
	}

	if retry && task.RetryCount() < maxTaskRetries {
		if err := task.TransitionTo(domain.TaskRetrying); err != nil {
			return err
		}
		task.SetRetryCount(task.RetryCount() + 1)
		if err := s.store.SaveTask(task); err != nil {
			return fmt.Errorf("save task %s: %w", taskID, err)
		}
		if err := s.enqueueReady(ctx, task); err != nil {
			return err
		}
		s.logger.Printf("task %s failed (%s), retrying (%d/%d)", taskID, reason, task.RetryCount(), maxTaskRetries)
		return nil
	}

	if err := task.TransitionTo(domain.TaskFailed); err != nil {
		return err
	}
	if err := s.store.SaveTask(task); err != nil {
		return fmt.Errorf("save task %s: %w", taskID, err)
	}
	s.dag.RemoveTask(taskID)
	s.observeTerminal(task)

	env := eventbus.NewEnvelope(eventbus.EventTaskFailed, taskID, task.TraceID(), map[string]interface{}{
		"task_id": taskID,
		"reason":  reason,
	})
	return s.bus.Publish(ctx, eventbus.TopicAgentTasks, env)
}

// CancelTask removes taskID from the ready set (if present) and marks
// it cancelled.
func (s *Scheduler) CancelTask(ctx context.Context, taskID string) error {
	task, err := s.store.GetTask(taskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}
	if task == nil {
		return fmt.Errorf("task %s not found", taskID)
	}

	s.ready.Remove(taskID)
	if err := task.TransitionTo(domain.TaskCancelled); err != nil {
		return err
	}
	if err := s.store.SaveTask(task); err != nil {
		return fmt.Errorf("save task %s: %w", taskID, err)
	}
	if err := s.releaseAgent(ctx, task.AgentID); err != nil {
		s.logger.Printf("failed to release agent for cancelled task %s: %v", taskID, err)
	}
	s.dag.RemoveTask(taskID)
	s.observeTerminal(task)

	env := eventbus.NewEnvelope(eventbus.EventTaskCancelled, taskID, task.TraceID(), map[string]interface{}{"task_id": taskID})
	return s.bus.Publish(ctx, eventbus.TopicAgentTasks, env)
}

func (s *Scheduler) releaseAgent(ctx context.Context, agentID string) error {
	if agentID == "" {
		return nil
	}
	return s.agents.UpdateStatus(ctx, agentID, domain.AgentIdle)
}

// ReleaseAgentTasks fails every non-terminal task held by agentID with
// retry=true, so each is requeued while its retry budget lasts and
// marked failed once it is spent. It is used as the agent manager
// health monitor's onReleased callback so a stale agent's work is not
// stuck forever.
func (s *Scheduler) ReleaseAgentTasks(ctx context.Context, agentID string) {
	tasks, err := s.store.ListTasksByAgent(agentID)
	if err != nil {
		s.logger.Printf("list tasks for released agent %s failed: %v", agentID, err)
		return
	}
	for _, t := range tasks {
		if t.Status.IsTerminal() {
			continue
		}
		if err := s.FailTask(ctx, t.ID, "agent "+agentID+" went stale", true); err != nil {
			s.logger.Printf("failed to requeue task %s after agent %s went stale: %v", t.ID, agentID, err)
		}
	}
}

// ReadyLen reports how many tasks are currently waiting for an agent.
func (s *Scheduler) ReadyLen() int {
	return s.ready.Len()
}

// ReadyContains reports whether taskID is currently sitting in the ready set.
func (s *Scheduler) ReadyContains(taskID string) bool {
	return s.ready.Contains(taskID)
}

func lockTaskKey(taskID string) string {
	return "lock:task:" + taskID
}
