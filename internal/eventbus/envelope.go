// Package eventbus implements the control plane's topic-partitioned,
// keyed, durable event log with consumer groups.
package eventbus

import (
	"time"

	"github.com/google/uuid"
)

// Topic names the control plane publishes and consumes.
const (
	TopicAgentLifecycle     = "agent.lifecycle"
	TopicAgentTasks         = "agent.tasks"
	TopicAgentCommunication = "agent.communication"
	TopicAgentState         = "agent.state"
	TopicSystemEvents       = "system.events"
	TopicDeadLetter         = "dead.letter"
)

// Event types, grouped by topic.
const (
	EventAgentSpawned   = "agent.spawned"
	EventAgentStarted   = "agent.started"
	EventAgentStopped   = "agent.stopped"
	EventAgentHeartbeat = "agent.heartbeat"
	EventAgentFailed    = "agent.failed"

	EventTaskAssigned  = "task.assigned"
	EventTaskStarted   = "task.started"
	EventTaskProgress  = "task.progress"
	EventTaskCompleted = "task.completed"
	EventTaskFailed    = "task.failed"
	EventTaskCancelled = "task.cancelled"

	EventAgentMessage   = "agent.message"
	EventAgentRequest   = "agent.request"
	EventAgentResponse  = "agent.response"
	EventAgentBroadcast = "agent.broadcast"

	EventStateUpdated = "state.updated"
	EventStateSynced  = "state.synced"

	EventSystemAlert  = "system.alert"
	EventSystemHealth = "system.health"
)

// Envelope is the self-describing record carried on every topic.
type Envelope struct {
	EventID   string                 `json:"event_id"`
	EventType string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	TraceID   string                 `json:"trace_id"`
	Key       string                 `json:"key"`
	Payload   map[string]interface{} `json:"payload"`
	Headers   map[string]string      `json:"headers,omitempty"`
}

// NewEnvelope mints a new envelope with a fresh event id and the
// current timestamp.
func NewEnvelope(eventType, key, traceID string, payload map[string]interface{}) Envelope {
	if traceID == "" {
		traceID = uuid.NewString()
	}
	return Envelope{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: time.Now(),
		TraceID:   traceID,
		Key:       key,
		Payload:   payload,
	}
}
