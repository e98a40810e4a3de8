package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestMemoryBusPublishSubscribe(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	var mu sync.Mutex
	var received []Envelope

	sub, err := bus.Subscribe(TopicAgentLifecycle, "workers", nil, func(ctx context.Context, env Envelope) error {
		mu.Lock()
		received = append(received, env)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	env := NewEnvelope(EventAgentSpawned, "agent-1", "", map[string]interface{}{"name": "a"})
	if err := bus.Publish(context.Background(), TopicAgentLifecycle, env); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	})
}

func TestMemoryBusIndependentConsumerGroups(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	var mu sync.Mutex
	countA, countB := 0, 0

	subA, _ := bus.Subscribe(TopicSystemEvents, "group-a", nil, func(ctx context.Context, env Envelope) error {
		mu.Lock()
		countA++
		mu.Unlock()
		return nil
	})
	defer subA.Unsubscribe()

	subB, _ := bus.Subscribe(TopicSystemEvents, "group-b", nil, func(ctx context.Context, env Envelope) error {
		mu.Lock()
		countB++
		mu.Unlock()
		return nil
	})
	defer subB.Unsubscribe()

	env := NewEnvelope(EventSystemAlert, "sys", "", nil)
	_ = bus.Publish(context.Background(), TopicSystemEvents, env)

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return countA == 1 && countB == 1
	})
}

func TestMemoryBusDeadLetterAfterMaxRetries(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	var attempts int32Counter
	failing, _ := bus.Subscribe(TopicAgentTasks, "workers", nil, func(ctx context.Context, env Envelope) error {
		attempts.inc()
		return errors.New("boom")
	})
	defer failing.Unsubscribe()

	var mu sync.Mutex
	var dead []Envelope
	deadSub, _ := bus.Subscribe(TopicDeadLetter, "dlq-watcher", nil, func(ctx context.Context, env Envelope) error {
		mu.Lock()
		dead = append(dead, env)
		mu.Unlock()
		return nil
	})
	defer deadSub.Unsubscribe()

	env := NewEnvelope(EventTaskAssigned, "task-1", "", nil)
	_ = bus.Publish(context.Background(), TopicAgentTasks, env)

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(dead) == 1
	})

	if attempts.get() != maxHandlerRetries {
		t.Errorf("expected exactly %d attempts before dead-lettering, got %d", maxHandlerRetries, attempts.get())
	}
}

func TestMemoryBusPreservesPerKeyOrder(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	var mu sync.Mutex
	var order []string

	sub, _ := bus.Subscribe(TopicAgentState, "ordered", nil, func(ctx context.Context, env Envelope) error {
		mu.Lock()
		order = append(order, env.EventID)
		mu.Unlock()
		return nil
	})
	defer sub.Unsubscribe()

	ids := []string{"first", "second", "third"}
	for _, id := range ids {
		env := NewEnvelope(EventStateUpdated, "same-key", "", nil)
		env.EventID = id
		_ = bus.Publish(context.Background(), TopicAgentState, env)
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	for i, id := range ids {
		if order[i] != id {
			t.Errorf("expected order %v, got %v", ids, order)
			break
		}
	}
}

// int32Counter is a tiny race-free counter for test assertions.
type int32Counter struct {
	mu sync.Mutex
	n  int
}

func (c *int32Counter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *int32Counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
