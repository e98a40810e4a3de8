package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fleetctl/orchestrator/internal/eventbus"
	"github.com/gorilla/websocket"
)

func TestHubRelaysEventBusTrafficToClients(t *testing.T) {
	s := newTestServer(t)

	ctx, cancel := context.WithCancel(t.Context())
	t.Cleanup(cancel)
	if err := s.hub.Subscribe(s.bus); err != nil {
		t.Fatalf("subscribe hub: %v", err)
	}
	go s.hub.Run(ctx)
	t.Cleanup(s.hub.Stop)

	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// give the register loop a moment to catch up before publishing.
	time.Sleep(20 * time.Millisecond)

	env := eventbus.NewEnvelope(eventbus.EventAgentSpawned, "agent-1", "", map[string]interface{}{"agent_id": "agent-1"})
	if err := s.bus.Publish(ctx, eventbus.TopicAgentLifecycle, env); err != nil {
		t.Fatalf("publish: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read ws message: %v", err)
	}

	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode ws message: %v", err)
	}
	if msg.Channel != "agent.events" {
		t.Fatalf("expected agent.events channel, got %q", msg.Channel)
	}
	if msg.Event.EventType != eventbus.EventAgentSpawned {
		t.Fatalf("expected agent.spawned event, got %q", msg.Event.EventType)
	}
}
