package persistence

import (
	"sync"
	"time"

	"github.com/fleetctl/orchestrator/internal/domain"
)

// Store layers a debounced heartbeat writer over DB. Heartbeats arrive
// far more often than any other write in the system and do not need
// to be durable on every tick, so they are coalesced and flushed on a
// timer instead of hitting sqlite synchronously; every other write
// (status transitions, task terminal states, audit entries) goes
// straight through DB and is synchronous.
type Store struct {
	*DB

	heartbeatMu      sync.Mutex
	pendingHeartbeat map[string]time.Time
	flushTimer       *time.Timer
	flushInterval    time.Duration
}

// NewStore wraps db with debounced heartbeat flushing.
func NewStore(db *DB, flushInterval time.Duration) *Store {
	if flushInterval <= 0 {
		flushInterval = 500 * time.Millisecond
	}
	return &Store{
		DB:               db,
		pendingHeartbeat: make(map[string]time.Time),
		flushInterval:    flushInterval,
	}
}

// RecordHeartbeat enqueues agentID's heartbeat timestamp for the next
// debounced flush rather than writing synchronously.
func (s *Store) RecordHeartbeat(agentID string, at time.Time) {
	s.heartbeatMu.Lock()
	defer s.heartbeatMu.Unlock()

	s.pendingHeartbeat[agentID] = at
	if s.flushTimer != nil {
		return
	}
	s.flushTimer = time.AfterFunc(s.flushInterval, s.flushHeartbeats)
}

func (s *Store) flushHeartbeats() {
	s.heartbeatMu.Lock()
	pending := s.pendingHeartbeat
	s.pendingHeartbeat = make(map[string]time.Time)
	s.flushTimer = nil
	s.heartbeatMu.Unlock()

	for agentID, at := range pending {
		_ = s.DB.TouchHeartbeat(agentID, at)
	}
}

// FlushHeartbeatsNow forces any pending heartbeats to be written
// immediately, used on graceful shutdown so no heartbeat is lost to an
// unfired timer.
func (s *Store) FlushHeartbeatsNow() {
	s.heartbeatMu.Lock()
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	s.heartbeatMu.Unlock()
	s.flushHeartbeats()
}

// SpawnAgent is a convenience that saves a new agent and records its
// spawn in the audit log in one call.
func (s *Store) SpawnAgent(a *domain.Agent, actor string) error {
	if err := s.DB.SaveAgent(a); err != nil {
		return err
	}
	return s.DB.RecordAudit("agent", a.ID, "agent.spawned", actor, a.Name)
}
