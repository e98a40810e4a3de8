package persistence

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fleetctl/orchestrator/internal/domain"
)

// SaveWebhook upserts w.
func (d *DB) SaveWebhook(w *domain.Webhook) error {
	events, err := json.Marshal(w.Events)
	if err != nil {
		return fmt.Errorf("marshal webhook events: %w", err)
	}
	_, err = d.conn.Exec(`
		INSERT INTO webhooks (id, url, secret, events, status, retry_count, retry_delay_ms, timeout_ms, failure_count, success_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			url = excluded.url,
			events = excluded.events,
			status = excluded.status,
			retry_count = excluded.retry_count,
			retry_delay_ms = excluded.retry_delay_ms,
			timeout_ms = excluded.timeout_ms,
			failure_count = excluded.failure_count,
			success_count = excluded.success_count,
			updated_at = excluded.updated_at`,
		w.ID, w.URL, w.Secret, string(events), string(w.Status), w.RetryCount,
		w.RetryDelay.Milliseconds(), w.Timeout.Milliseconds(), w.FailureCount, w.SuccessCount,
		w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save webhook %s: %w", w.ID, err)
	}
	return nil
}

// ListActiveWebhooksFor returns webhooks in active status subscribed
// to eventType (or "*").
func (d *DB) ListActiveWebhooksFor(eventType string) ([]*domain.Webhook, error) {
	rows, err := d.conn.Query(`SELECT id, url, secret, events, status, retry_count, retry_delay_ms, timeout_ms, failure_count, success_count, created_at, updated_at FROM webhooks WHERE status = 'active'`)
	if err != nil {
		return nil, fmt.Errorf("list active webhooks: %w", err)
	}
	defer rows.Close()

	var out []*domain.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		if w.Matches(eventType) {
			out = append(out, w)
		}
	}
	return out, rows.Err()
}

// GetWebhook loads one webhook by id, returning nil if not found.
func (d *DB) GetWebhook(id string) (*domain.Webhook, error) {
	row := d.conn.QueryRow(`SELECT id, url, secret, events, status, retry_count, retry_delay_ms, timeout_ms, failure_count, success_count, created_at, updated_at FROM webhooks WHERE id = ?`, id)
	w, err := scanWebhook(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return w, err
}

func scanWebhook(row rowScanner) (*domain.Webhook, error) {
	var w domain.Webhook
	var status, events string
	var retryDelayMs, timeoutMs int64

	err := row.Scan(&w.ID, &w.URL, &w.Secret, &events, &status, &w.RetryCount, &retryDelayMs, &timeoutMs, &w.FailureCount, &w.SuccessCount, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	w.Status = domain.WebhookStatus(status)
	w.RetryDelay = time.Duration(retryDelayMs) * time.Millisecond
	w.Timeout = time.Duration(timeoutMs) * time.Millisecond
	if err := json.Unmarshal([]byte(events), &w.Events); err != nil {
		return nil, fmt.Errorf("unmarshal webhook events for %s: %w", w.ID, err)
	}
	return &w, nil
}

// SaveDelivery upserts one delivery attempt record.
func (d *DB) SaveDelivery(del *domain.Delivery) error {
	payload, err := marshalMap(del.Payload)
	if err != nil {
		return err
	}
	_, err = d.conn.Exec(`
		INSERT INTO webhook_deliveries (id, webhook_id, event_type, payload, status, attempt_count, max_attempts, scheduled_for, delivered_at, response_status, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			attempt_count = excluded.attempt_count,
			scheduled_for = excluded.scheduled_for,
			delivered_at = excluded.delivered_at,
			response_status = excluded.response_status,
			error = excluded.error,
			duration_ms = excluded.duration_ms`,
		del.ID, del.WebhookID, del.EventType, payload, string(del.Status), del.AttemptCount, del.MaxAttempts,
		del.ScheduledFor, del.DeliveredAt, nullableInt(del.ResponseStatus), nullable(del.Error), del.Duration.Milliseconds(), del.CreatedAt)
	if err != nil {
		return fmt.Errorf("save delivery %s: %w", del.ID, err)
	}
	return nil
}

// ListPendingDeliveries returns deliveries scheduled at or before now
// that are still pending or retrying.
func (d *DB) ListPendingDeliveries(now time.Time) ([]*domain.Delivery, error) {
	rows, err := d.conn.Query(`
		SELECT id, webhook_id, event_type, payload, status, attempt_count, max_attempts, scheduled_for, delivered_at, response_status, error, duration_ms, created_at
		FROM webhook_deliveries
		WHERE status IN ('pending', 'retrying') AND scheduled_for <= ?`, now)
	if err != nil {
		return nil, fmt.Errorf("list pending deliveries: %w", err)
	}
	defer rows.Close()

	var out []*domain.Delivery
	for rows.Next() {
		del, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, del)
	}
	return out, rows.Err()
}

func scanDelivery(row rowScanner) (*domain.Delivery, error) {
	var del domain.Delivery
	var status, payload sql.NullString
	var responseStatus sql.NullInt64
	var errStr sql.NullString
	var durationMs sql.NullInt64

	err := row.Scan(&del.ID, &del.WebhookID, &del.EventType, &payload, &status, &del.AttemptCount, &del.MaxAttempts,
		&del.ScheduledFor, &del.DeliveredAt, &responseStatus, &errStr, &durationMs, &del.CreatedAt)
	if err != nil {
		return nil, err
	}
	del.Status = domain.DeliveryStatus(status.String)
	del.ResponseStatus = int(responseStatus.Int64)
	del.Error = errStr.String
	del.Duration = time.Duration(durationMs.Int64) * time.Millisecond
	if payload.Valid {
		if err := json.Unmarshal([]byte(payload.String), &del.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal delivery payload for %s: %w", del.ID, err)
		}
	}
	return &del, nil
}

func nullableInt(n int) interface{} {
	if n == 0 {
		return nil
	}
	return n
}
