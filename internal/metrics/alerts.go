package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fleetctl/orchestrator/internal/eventbus"
	"github.com/google/uuid"
)

// Thresholds configures when AlertChecker raises a system.alert,
// covering the control plane's queue depth, stale-agent count, and
// webhook failure rate.
type Thresholds struct {
	QueueDepthMax         int
	StaleAgentCountMax    int
	WebhookFailureRateMax float64 // fraction of attempts failed, over the checker's own window
}

// AlertChecker watches Snapshots and deliveries against Thresholds
// and publishes system.alert, deduplicating repeats of the same alert
// within a cooldown window.
type AlertChecker struct {
	mu         sync.Mutex
	thresholds Thresholds
	recent     map[string]time.Time
	cooldown   time.Duration
	bus        eventbus.Bus
}

// NewAlertChecker builds a checker publishing onto bus.
func NewAlertChecker(bus eventbus.Bus, thresholds Thresholds) *AlertChecker {
	return &AlertChecker{
		thresholds: thresholds,
		recent:     make(map[string]time.Time),
		cooldown:   5 * time.Minute,
		bus:        bus,
	}
}

// SetThresholds replaces the active thresholds.
func (a *AlertChecker) SetThresholds(t Thresholds) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.thresholds = t
}

func (a *AlertChecker) shouldAlert(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	for k, t := range a.recent {
		if now.Sub(t) > a.cooldown {
			delete(a.recent, k)
		}
	}
	if _, fired := a.recent[key]; fired {
		return false
	}
	a.recent[key] = now
	return true
}

func (a *AlertChecker) publish(ctx context.Context, alertType, message, severity string) error {
	env := eventbus.NewEnvelope(eventbus.EventSystemAlert, uuid.NewString(), "", map[string]interface{}{
		"alert_id": uuid.NewString(),
		"type":     alertType,
		"message":  message,
		"severity": severity,
	})
	return a.bus.Publish(ctx, eventbus.TopicSystemEvents, env)
}

// CheckQueueDepth raises a warning alert when the ready set has grown
// past the configured threshold.
func (a *AlertChecker) CheckQueueDepth(ctx context.Context, depth int) error {
	a.mu.Lock()
	max := a.thresholds.QueueDepthMax
	a.mu.Unlock()
	if max <= 0 || depth <= max {
		return nil
	}
	if !a.shouldAlert("queue_depth") {
		return nil
	}
	return a.publish(ctx, "queue_depth", fmt.Sprintf("ready queue depth %d exceeds threshold %d", depth, max), "warning")
}

// CheckStaleAgents raises a warning alert when more than the
// threshold number of agents have missed their heartbeat deadline.
func (a *AlertChecker) CheckStaleAgents(ctx context.Context, staleCount int) error {
	a.mu.Lock()
	max := a.thresholds.StaleAgentCountMax
	a.mu.Unlock()
	if max <= 0 || staleCount <= max {
		return nil
	}
	if !a.shouldAlert("stale_agents") {
		return nil
	}
	return a.publish(ctx, "stale_agents", fmt.Sprintf("%d agents are stale (threshold %d)", staleCount, max), "warning")
}

// CheckWebhookFailureRate raises a critical alert when the fraction of
// failed delivery attempts, out of total, exceeds the threshold.
func (a *AlertChecker) CheckWebhookFailureRate(ctx context.Context, failed, total int) error {
	a.mu.Lock()
	max := a.thresholds.WebhookFailureRateMax
	a.mu.Unlock()
	if max <= 0 || total == 0 {
		return nil
	}
	rate := float64(failed) / float64(total)
	if rate <= max {
		return nil
	}
	if !a.shouldAlert("webhook_failure_rate") {
		return nil
	}
	return a.publish(ctx, "webhook_failure_rate", fmt.Sprintf("webhook failure rate %.2f exceeds threshold %.2f", rate, max), "critical")
}
