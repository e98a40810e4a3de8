package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/fleetctl/orchestrator/internal/eventbus"
	"github.com/gorilla/websocket"
)

// webSocketBufferSize is the per-client send-channel depth.
const webSocketBufferSize = 256

// wsMessage is the envelope every event reaches a WebSocket client in,
// tagged with the channel name for /events/stream.
type wsMessage struct {
	Channel string            `json:"channel"`
	Event   eventbus.Envelope `json:"event"`
}

// Client is one connected WebSocket subscriber.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans event-bus traffic out to every connected WebSocket client,
// using the standard register/unregister/broadcast channel pattern.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	subs       []eventbus.Subscription
	logger     *log.Logger
}

// NewHub builds an unstarted Hub.
func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, webSocketBufferSize),
		logger:     logger,
	}
}

// Subscribe attaches the hub to every topic WS /events/stream exposes
// (agent.events covers lifecycle/communication/state, task.events
// covers the task topic).
func (h *Hub) Subscribe(bus eventbus.Bus) error {
	topics := map[string]string{
		eventbus.TopicAgentLifecycle:     "agent.events",
		eventbus.TopicAgentCommunication: "agent.events",
		eventbus.TopicAgentState:         "agent.events",
		eventbus.TopicAgentTasks:         "task.events",
	}
	for topic, channel := range topics {
		channel := channel
		sub, err := bus.Subscribe(topic, "ws-hub", nil, func(ctx context.Context, env eventbus.Envelope) error {
			h.broadcastEvent(channel, env)
			return nil
		})
		if err != nil {
			return fmt.Errorf("subscribe ws hub to %s: %w", topic, err)
		}
		h.subs = append(h.subs, sub)
	}
	return nil
}

func (h *Hub) broadcastEvent(channel string, env eventbus.Envelope) {
	data, err := json.Marshal(wsMessage{Channel: channel, Event: env})
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		if h.logger != nil {
			h.logger.Printf("ws broadcast channel full, dropping %s event", env.EventType)
		}
	}
}

// Run starts the hub's register/unregister/broadcast loop. Blocks
// until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Stop unsubscribes from every event-bus topic.
func (h *Hub) Stop() {
	for _, s := range h.subs {
		_ = s.Unsubscribe()
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEventsStream upgrades the connection and registers a client
// with the hub; the client only ever receives, so readPump exists
// solely to notice the connection closing.
func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := &Client{hub: s.hub, conn: conn, send: make(chan []byte, webSocketBufferSize)}
	s.hub.register <- client

	go client.writePump()
	client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
