package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/fleetctl/orchestrator/internal/eventbus"
)

func TestCheckQueueDepthPublishesAboveThreshold(t *testing.T) {
	bus := eventbus.NewMemoryBus(nil)
	defer bus.Close()

	received := make(chan eventbus.Envelope, 1)
	_, err := bus.Subscribe(eventbus.TopicSystemEvents, "test", nil, func(ctx context.Context, env eventbus.Envelope) error {
		received <- env
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	checker := NewAlertChecker(bus, Thresholds{QueueDepthMax: 10})
	if err := checker.CheckQueueDepth(context.Background(), 5); err != nil {
		t.Fatalf("check below threshold: %v", err)
	}
	if err := checker.CheckQueueDepth(context.Background(), 11); err != nil {
		t.Fatalf("check above threshold: %v", err)
	}

	select {
	case env := <-received:
		if env.EventType != eventbus.EventSystemAlert {
			t.Fatalf("expected %s, got %s", eventbus.EventSystemAlert, env.EventType)
		}
	case <-time.After(time.Second):
		t.Fatal("expected an alert to be published")
	}
}

func TestCheckQueueDepthDeduplicatesWithinCooldown(t *testing.T) {
	bus := eventbus.NewMemoryBus(nil)
	defer bus.Close()

	var count int
	received := make(chan struct{}, 4)
	_, err := bus.Subscribe(eventbus.TopicSystemEvents, "test", nil, func(ctx context.Context, env eventbus.Envelope) error {
		count++
		received <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	checker := NewAlertChecker(bus, Thresholds{QueueDepthMax: 1})
	for i := 0; i < 3; i++ {
		if err := checker.CheckQueueDepth(context.Background(), 5); err != nil {
			t.Fatalf("check: %v", err)
		}
	}

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("expected at least one alert")
	}
	time.Sleep(50 * time.Millisecond)
	if count != 1 {
		t.Fatalf("expected exactly one alert within the cooldown window, got %d", count)
	}
}

func TestCheckWebhookFailureRateIgnoresZeroTotal(t *testing.T) {
	bus := eventbus.NewMemoryBus(nil)
	defer bus.Close()
	checker := NewAlertChecker(bus, Thresholds{WebhookFailureRateMax: 0.5})
	if err := checker.CheckWebhookFailureRate(context.Background(), 0, 0); err != nil {
		t.Fatalf("expected no error with zero total, got %v", err)
	}
}
