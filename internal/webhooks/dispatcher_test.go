package webhooks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fleetctl/orchestrator/internal/domain"
	"github.com/fleetctl/orchestrator/internal/eventbus"
	"github.com/fleetctl/orchestrator/internal/persistence"
	"github.com/fleetctl/orchestrator/internal/statestore"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *persistence.Store, eventbus.Bus) {
	t.Helper()
	db, err := persistence.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store := persistence.NewStore(db, 20*time.Millisecond)
	bus := eventbus.NewMemoryBus(nil)
	t.Cleanup(func() { bus.Close() })
	state := statestore.New(time.Minute, time.Minute)

	d := New(store, bus, state, Config{Workers: 2}, nil)
	if err := d.Start(); err != nil {
		t.Fatalf("start dispatcher: %v", err)
	}
	t.Cleanup(d.Stop)
	return d, store, bus
}

func TestDispatcherDeliversOnMatchingEvent(t *testing.T) {
	var received int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&received, 1)
		if r.Header.Get("X-Webhook-Signature") == "" {
			t.Error("expected a signature header")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	_, store, bus := newTestDispatcher(t)

	hook := &domain.Webhook{
		ID:         "hook1",
		URL:        server.URL,
		Secret:     "s3cr3t",
		Events:     []string{"agent.spawned"},
		Status:     domain.WebhookActive,
		RetryDelay: time.Millisecond,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := store.SaveWebhook(hook); err != nil {
		t.Fatalf("save webhook: %v", err)
	}

	env := eventbus.NewEnvelope(eventbus.EventAgentSpawned, "agent1", "", map[string]interface{}{"agent_id": "agent1"})
	if err := bus.Publish(context.Background(), eventbus.TopicAgentLifecycle, env); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && atomic.LoadInt32(&received) == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if atomic.LoadInt32(&received) == 0 {
		t.Fatal("expected the webhook endpoint to receive a delivery")
	}
}

func TestDispatcherDisablesWebhookAfterConsecutiveFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, store, bus := newTestDispatcher(t)

	hook := &domain.Webhook{
		ID:          "hook2",
		URL:         server.URL,
		Secret:      "s3cr3t",
		Events:      []string{"*"},
		Status:      domain.WebhookActive,
		RetryCount:  1,
		RetryDelay:  time.Millisecond,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := store.SaveWebhook(hook); err != nil {
		t.Fatalf("save webhook: %v", err)
	}

	for i := 0; i < consecutiveFailureLimit; i++ {
		env := eventbus.NewEnvelope(eventbus.EventSystemAlert, "x", "", map[string]interface{}{"n": i})
		if err := bus.Publish(context.Background(), eventbus.TopicSystemEvents, env); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got, err := store.GetWebhook(hook.ID)
		if err == nil && got.Status == domain.WebhookDisabled {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expected webhook to be disabled after repeated failures")
}
