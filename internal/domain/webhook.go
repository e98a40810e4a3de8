package domain

import "time"

// WebhookStatus is the lifecycle state of a registered webhook.
type WebhookStatus string

const (
	WebhookActive   WebhookStatus = "active"
	WebhookPaused   WebhookStatus = "paused"
	WebhookDisabled WebhookStatus = "disabled"
	WebhookFailed   WebhookStatus = "failed"
)

// Webhook is a registered external HTTP endpoint subscribed to events.
type Webhook struct {
	ID           string        `json:"id"`
	URL          string        `json:"url"`
	Secret       string        `json:"secret"`
	Events       []string      `json:"events"` // may contain "*"
	Status       WebhookStatus `json:"status"`
	RetryCount   int           `json:"retry_count"`
	RetryDelay   time.Duration `json:"retry_delay"`
	Timeout      time.Duration `json:"timeout"`
	FailureCount int           `json:"failure_count"`
	SuccessCount int           `json:"success_count"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Matches reports whether the webhook subscribes to eventType.
func (w *Webhook) Matches(eventType string) bool {
	for _, e := range w.Events {
		if e == "*" || e == eventType {
			return true
		}
	}
	return false
}

// DeliveryStatus is the lifecycle state of one delivery attempt record.
type DeliveryStatus string

const (
	DeliveryPending  DeliveryStatus = "pending"
	DeliveryDone     DeliveryStatus = "delivered"
	DeliveryFailed   DeliveryStatus = "failed"
	DeliveryRetrying DeliveryStatus = "retrying"
)

// Delivery is one attempt (or attempt series) to deliver an event to a
// webhook.
type Delivery struct {
	ID             string                 `json:"id"`
	WebhookID      string                 `json:"webhook_id"`
	EventType      string                 `json:"event_type"`
	Payload        map[string]interface{} `json:"payload"`
	Status         DeliveryStatus         `json:"status"`
	AttemptCount   int                    `json:"attempt_count"`
	MaxAttempts    int                    `json:"max_attempts"`
	ScheduledFor   time.Time              `json:"scheduled_for"`
	DeliveredAt    *time.Time             `json:"delivered_at,omitempty"`
	ResponseStatus int                    `json:"response_status,omitempty"`
	Error          string                 `json:"error,omitempty"`
	Duration       time.Duration          `json:"duration,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}
