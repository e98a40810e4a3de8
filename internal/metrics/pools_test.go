package metrics

import (
	"testing"
	"time"
)

func TestPoolTrackerAggregatesCompletionsAndFailures(t *testing.T) {
	tr := NewPoolTracker()
	tr.RecordCompletion("pool1", 2*time.Second)
	tr.RecordCompletion("pool1", 4*time.Second)
	tr.RecordFailure("pool1")

	snap := tr.Snapshot()["pool1"]
	if snap.TasksCompleted != 2 {
		t.Fatalf("expected 2 completions, got %d", snap.TasksCompleted)
	}
	if snap.TasksFailed != 1 {
		t.Fatalf("expected 1 failure, got %d", snap.TasksFailed)
	}
	if snap.AvgDuration() != 3*time.Second {
		t.Fatalf("expected avg duration 3s, got %s", snap.AvgDuration())
	}
}

func TestPoolHealthDegradesAfterConsecutiveFailures(t *testing.T) {
	tr := NewPoolTracker()
	tr.RecordCompletion("pool1", time.Second)
	for i := 0; i < 3; i++ {
		tr.RecordFailure("pool1")
	}
	snap := tr.Snapshot()["pool1"]
	if snap.Health() != PoolFailing {
		t.Fatalf("expected pool to be failing after 3 consecutive failures, got %s", snap.Health())
	}
}

func TestHealthyPoolCountExcludesFailingPools(t *testing.T) {
	tr := NewPoolTracker()
	tr.RecordCompletion("healthy-pool", time.Second)
	for i := 0; i < 3; i++ {
		tr.RecordFailure("failing-pool")
	}
	if got := tr.HealthyPoolCount(); got != 1 {
		t.Fatalf("expected 1 healthy pool, got %d", got)
	}
}
