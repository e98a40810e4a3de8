package knowledge

import (
	"context"
	"testing"
)

func TestNullStoreIsInert(t *testing.T) {
	var s Store = NullStore{}
	ctx := context.Background()

	if err := s.Put(ctx, Entry{ID: "e1"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	entries, err := s.Search(ctx, "agent-1", "context", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries from a null store, got %d", len(entries))
	}
	if err := s.Forget(ctx, "e1"); err != nil {
		t.Fatalf("forget: %v", err)
	}
}
