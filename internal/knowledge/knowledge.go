// Package knowledge defines the contract an external knowledge-retrieval
// collaborator must satisfy, the same role internal/runner.LLM plays for
// the model client: a domain-agnostic interface the rest of the control
// plane depends on, with no concrete vector-search backend implemented
// in this module. Wiring a real one (pgvector, a hosted vector DB)
// against the persistence layer's knowledge_entries table is left to the
// deployment.
package knowledge

import (
	"context"
	"time"
)

// Entry is one retrievable fact recorded against an agent.
type Entry struct {
	ID        string
	AgentID   string
	Kind      string
	Content   string
	Metadata  map[string]interface{}
	CreatedAt time.Time
	ExpiresAt *time.Time
}

// Store is the contract a knowledge backend must satisfy: record an
// entry, retrieve the ones relevant to an agent and kind, and forget one
// once it is no longer useful.
type Store interface {
	Put(ctx context.Context, entry Entry) error
	Search(ctx context.Context, agentID, kind string, limit int) ([]Entry, error)
	Forget(ctx context.Context, id string) error
}

// NullStore is a Store that records nothing and always returns an empty
// result set. It keeps a Runner's retrieval path wired end to end
// before a real backend is configured.
type NullStore struct{}

// Put discards entry.
func (NullStore) Put(ctx context.Context, entry Entry) error { return nil }

// Search always returns no results.
func (NullStore) Search(ctx context.Context, agentID, kind string, limit int) ([]Entry, error) {
	return nil, nil
}

// Forget is a no-op.
func (NullStore) Forget(ctx context.Context, id string) error { return nil }
