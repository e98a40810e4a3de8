package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/fleetctl/orchestrator/internal/domain"
)

// Strategy selects how priorityScore weighs the ready set.
type Strategy string

const (
	StrategyFIFO        Strategy = "FIFO"
	StrategyPriority    Strategy = "PRIORITY"
	StrategyDeadline    Strategy = "DEADLINE"
	StrategyFairShare   Strategy = "FAIR_SHARE"
	StrategyRoundRobin  Strategy = "ROUND_ROBIN"
	StrategyMLOptimized Strategy = "ML_OPTIMIZED"
)

// entry is one task sitting in the ready set, plus the bookkeeping
// needed to compute its current priority score.
type entry struct {
	task       *domain.Task
	enqueuedAt time.Time
}

// ReadySet is the mutex-guarded priority queue of schedulable tasks
// (dependencies satisfied, status pending or retrying). Mutations
// (enqueue, dequeue, update, cancel) hold the lock only for the
// structure manipulation, never for I/O. Priority is a dynamic score
// recomputed on every mutation, not a static number: aging and
// deadline urgency change over time even for a task that never moves.
type ReadySet struct {
	mu          sync.Mutex
	entries     []*entry
	index       map[string]*entry
	strategy    Strategy
	agingFactor float64

	// round-robin bookkeeping: last agent type served.
	lastServedType domain.AgentType
	// fair-share bookkeeping: tasks dispatched per agent type.
	dispatchedByType map[domain.AgentType]int
}

// NewReadySet builds an empty set using strategy, with agingFactor
// controlling how much a task's score improves per minute of waiting.
func NewReadySet(strategy Strategy, agingFactor float64) *ReadySet {
	if strategy == "" {
		strategy = StrategyPriority
	}
	return &ReadySet{
		entries:          make([]*entry, 0),
		index:            make(map[string]*entry),
		strategy:         strategy,
		agingFactor:      agingFactor,
		dispatchedByType: make(map[domain.AgentType]int),
	}
}

// Enqueue adds task to the ready set, replacing any existing entry
// with the same ID so a retried task keeps its original enqueue time
// only if re-added explicitly.
func (r *ReadySet) Enqueue(task *domain.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.index[task.ID]; ok {
		existing.task = task
		r.resort()
		return
	}
	e := &entry{task: task, enqueuedAt: time.Now()}
	r.entries = append(r.entries, e)
	r.index[task.ID] = e
	r.resort()
}

// Dequeue removes and returns the best task for an agent of agentType
// (a task with no agent type, or an empty agentType, matches any), or
// nil if none is eligible. requiredSkills is not consulted; skills are
// matched only when the scheduler picks an agent.
func (r *ReadySet) Dequeue(agentType domain.AgentType, requiredSkills []string) *domain.Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if agentType != "" && e.task.AgentType != "" && e.task.AgentType != agentType {
			continue
		}
		r.entries = append(r.entries[:i], r.entries[i+1:]...)
		delete(r.index, e.task.ID)
		r.dispatchedByType[e.task.AgentType]++
		r.lastServedType = e.task.AgentType
		return e.task
	}
	return nil
}

// Remove drops taskID from the set without returning it (used on
// cancel).
func (r *ReadySet) Remove(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[taskID]; !ok {
		return false
	}
	delete(r.index, taskID)
	for i, e := range r.entries {
		if e.task.ID == taskID {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			break
		}
	}
	return true
}

// Len reports how many tasks are currently waiting.
func (r *ReadySet) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Contains reports whether taskID is currently in the ready set.
func (r *ReadySet) Contains(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.index[taskID]
	return ok
}

// Resort recomputes every entry's priority score and re-sorts; call
// periodically from the scheduler tick so aging/deadline urgency stays
// current even for tasks that never move.
func (r *ReadySet) Resort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resort()
}

func (r *ReadySet) resort() {
	now := time.Now()
	sort.Slice(r.entries, func(i, j int) bool {
		return r.score(r.entries[i], now) > r.score(r.entries[j], now)
	})
}

// score computes an entry's ordering key, higher is scheduled first.
// PRIORITY (the default) uses priority + urgency(deadline) +
// aging_boost, and ML_OPTIMIZED the same with the aging boost weighted
// by 1.5. DEADLINE uses urgency alone; FIFO, ROUND_ROBIN and
// FAIR_SHARE use their own keys and ignore priority and deadline.
func (r *ReadySet) score(e *entry, now time.Time) float64 {
	switch r.strategy {
	case StrategyFIFO:
		return -float64(e.enqueuedAt.UnixNano())
	case StrategyRoundRobin:
		if e.task.AgentType != r.lastServedType {
			return 1
		}
		return 0
	case StrategyFairShare:
		served := r.dispatchedByType[e.task.AgentType]
		return -float64(served)
	case StrategyDeadline:
		return urgency(e.task.Deadline, now)
	case StrategyMLOptimized:
		return float64(e.task.Priority) + urgency(e.task.Deadline, now) + r.agingBoost(e, now)*1.5
	default: // StrategyPriority
		return float64(e.task.Priority) + urgency(e.task.Deadline, now) + r.agingBoost(e, now)
	}
}

// overdueBonus is the urgency score of every overdue task. Under the
// strategies that use urgency (PRIORITY, DEADLINE, ML_OPTIMIZED) it
// outweighs the full priority range ([-10,10]) and an aging boost of
// up to several hundred points, so an overdue task is scheduled ahead
// of one that merely waited longer or carries a higher static
// priority. FIFO, ROUND_ROBIN and FAIR_SHARE do not look at deadlines.
const overdueBonus = 1000

// urgency grows as a deadline approaches or passes; zero when there is
// no deadline. Once a deadline has passed, overdueBonus dominates the
// score so the task is picked ahead of anything not yet overdue.
func urgency(deadline *time.Time, now time.Time) float64 {
	if deadline == nil {
		return 0
	}
	remaining := deadline.Sub(now)
	if remaining <= 0 {
		return overdueBonus
	}
	// inverse relationship: closer deadlines score higher, capped.
	hours := remaining.Hours()
	if hours < 0.01 {
		hours = 0.01
	}
	score := 5.0 / hours
	if score > 9 {
		score = 9
	}
	return score
}

// agingBoost grows with wait time, weighted by agingFactor (score
// points per minute waited).
func (r *ReadySet) agingBoost(e *entry, now time.Time) float64 {
	waited := now.Sub(e.enqueuedAt).Minutes()
	return waited * r.agingFactor
}
