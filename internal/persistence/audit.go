package persistence

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditEntry is one append-only record of something happening to an
// entity in the control plane.
type AuditEntry struct {
	ID         string
	EntityType string
	EntityID   string
	EventType  string
	Actor      string
	Detail     string
	CreatedAt  time.Time
}

// RecordAudit appends an entry. Audit entries are never updated or
// deleted by the application; only the append path is exposed.
func (d *DB) RecordAudit(entityType, entityID, eventType, actor, detail string) error {
	entry := AuditEntry{
		ID:         uuid.NewString(),
		EntityType: entityType,
		EntityID:   entityID,
		EventType:  eventType,
		Actor:      actor,
		Detail:     detail,
		CreatedAt:  time.Now(),
	}
	_, err := d.conn.Exec(`
		INSERT INTO audit_log (id, entity_type, entity_id, event_type, actor, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.EntityType, entry.EntityID, entry.EventType, nullable(entry.Actor), nullable(entry.Detail), entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("record audit entry for %s/%s: %w", entityType, entityID, err)
	}
	return nil
}

// AuditForEntity returns the audit trail for one entity, newest first.
func (d *DB) AuditForEntity(entityType, entityID string, limit int) ([]AuditEntry, error) {
	rows, err := d.conn.Query(`
		SELECT id, entity_type, entity_id, event_type, actor, detail, created_at
		FROM audit_log WHERE entity_type = ? AND entity_id = ?
		ORDER BY created_at DESC LIMIT ?`, entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit trail for %s/%s: %w", entityType, entityID, err)
	}
	defer rows.Close()
	return scanAuditEntries(rows)
}

// AuditByEventType returns the most recent entries of a given event
// type across all entities, newest first.
func (d *DB) AuditByEventType(eventType string, limit int) ([]AuditEntry, error) {
	rows, err := d.conn.Query(`
		SELECT id, entity_type, entity_id, event_type, actor, detail, created_at
		FROM audit_log WHERE event_type = ?
		ORDER BY created_at DESC LIMIT ?`, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("audit trail for event type %s: %w", eventType, err)
	}
	defer rows.Close()
	return scanAuditEntries(rows)
}

func scanAuditEntries(rows *sql.Rows) ([]AuditEntry, error) {
	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var actor, detail sql.NullString
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.EventType, &actor, &detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Actor = actor.String
		e.Detail = detail.String
		out = append(out, e)
	}
	return out, rows.Err()
}
