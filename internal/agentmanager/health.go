package agentmanager

import (
	"context"
	"log"
	"time"

	"github.com/fleetctl/orchestrator/internal/domain"
	"github.com/fleetctl/orchestrator/internal/eventbus"
	"github.com/robfig/cron/v3"
)

// HealthMonitor periodically sweeps for agents whose heartbeat has
// gone stale, forces them offline, and releases any task they were
// holding so the scheduler can reassign it.
//
// The sweep itself is a timer-driven pass that force-marks dead
// roster entries, generalized from PID liveness checking to
// heartbeat-timeout checking and wired onto robfig/cron instead of a
// raw time.Ticker.
type HealthMonitor struct {
	mgr        *Manager
	timeout    time.Duration
	cron       *cron.Cron
	logger     *log.Logger
	onReleased func(ctx context.Context, agentID string)
}

// NewHealthMonitor builds a monitor that marks agents stale after
// timeout has elapsed since their last heartbeat. onReleased, if
// non-nil, is invoked for every agent forced offline so the scheduler
// can requeue its in-flight task.
func NewHealthMonitor(mgr *Manager, timeout time.Duration, onReleased func(ctx context.Context, agentID string), logger *log.Logger) *HealthMonitor {
	if logger == nil {
		logger = log.New(log.Writer(), "[HEALTHMONITOR] ", log.LstdFlags)
	}
	return &HealthMonitor{
		mgr:        mgr,
		timeout:    timeout,
		cron:       cron.New(),
		logger:     logger,
		onReleased: onReleased,
	}
}

// Start schedules the sweep every 30 seconds and begins running it.
// Start performs no leader check of its own, and cmd/orchestratord
// calls it on every instance without consulting statestore.IsLeader.
func (h *HealthMonitor) Start(ctx context.Context) error {
	_, err := h.cron.AddFunc("@every 30s", func() { h.sweep(ctx) })
	if err != nil {
		return err
	}
	h.cron.Start()
	return nil
}

// Stop halts the sweep and waits for any in-flight run to finish.
func (h *HealthMonitor) Stop() {
	c := h.cron.Stop()
	<-c.Done()
}

func (h *HealthMonitor) sweep(ctx context.Context) {
	stale, err := h.mgr.store.ListStaleAgents(time.Now().Add(-h.timeout))
	if err != nil {
		h.logger.Printf("list stale agents failed: %v", err)
		return
	}
	for _, a := range stale {
		if err := h.mgr.UpdateStatus(ctx, a.ID, domain.AgentOffline, "heartbeat_timeout"); err != nil {
			h.logger.Printf("failed to force agent %s offline: %v", a.ID, err)
			continue
		}
		h.logger.Printf("agent %s marked offline after %s without a heartbeat", a.ID, h.timeout)

		env := eventbus.NewEnvelope(eventbus.EventSystemAlert, a.ID, "", map[string]interface{}{
			"agent_id": a.ID,
			"alert":    "agent_stale",
		})
		if err := h.mgr.bus.Publish(ctx, eventbus.TopicSystemEvents, env); err != nil {
			h.logger.Printf("failed to publish stale alert for %s: %v", a.ID, err)
		}

		if h.onReleased != nil {
			h.onReleased(ctx, a.ID)
		}
	}
}
