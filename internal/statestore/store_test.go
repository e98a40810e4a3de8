package statestore

import (
	"context"
	"testing"
	"time"
)

func TestSetGetDelete(t *testing.T) {
	s := New(time.Minute, time.Minute)
	s.Set("k", "v", 0)
	v, ok := s.Get("k")
	if !ok || v != "v" {
		t.Fatalf("expected v, got %v ok=%v", v, ok)
	}
	s.Delete("k")
	if _, ok := s.Get("k"); ok {
		t.Error("expected key to be gone after delete")
	}
}

func TestIncrBy(t *testing.T) {
	s := New(time.Minute, time.Minute)
	if n := s.IncrBy("counter", 5); n != 5 {
		t.Errorf("expected 5, got %d", n)
	}
	if n := s.IncrBy("counter", 3); n != 8 {
		t.Errorf("expected 8, got %d", n)
	}
}

func TestAcquireRelease(t *testing.T) {
	s := New(time.Minute, time.Minute)
	ctx := context.Background()

	lock, err := s.Acquire(ctx, "res", time.Second, 0)
	if err != nil {
		t.Fatalf("expected to acquire free lock: %v", err)
	}

	if _, err := s.Acquire(ctx, "res", time.Second, 0); err != ErrLockHeld {
		t.Errorf("expected ErrLockHeld, got %v", err)
	}

	if err := s.Release(lock); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	if _, err := s.Acquire(ctx, "res", time.Second, 0); err != nil {
		t.Errorf("expected to reacquire after release: %v", err)
	}
}

func TestReleaseWrongTokenRejected(t *testing.T) {
	s := New(time.Minute, time.Minute)
	ctx := context.Background()

	lock, _ := s.Acquire(ctx, "res", time.Second, 0)
	forged := &Lock{Name: lock.Name, Token: "not-the-token"}
	if err := s.Release(forged); err != ErrNotOwner {
		t.Errorf("expected ErrNotOwner, got %v", err)
	}
}

func TestLeaderElection(t *testing.T) {
	s := New(time.Minute, time.Minute)

	token1, ok := s.TryBecomeLeader("scheduler", "node-a", 50*time.Millisecond)
	if !ok {
		t.Fatal("expected node-a to become leader")
	}
	if _, ok := s.TryBecomeLeader("scheduler", "node-b", time.Second); ok {
		t.Error("node-b should not win while node-a's lease is valid")
	}
	if !s.IsLeader("scheduler", token1) {
		t.Error("node-a should still be leader")
	}

	s.Resign("scheduler", token1)
	if _, ok := s.TryBecomeLeader("scheduler", "node-b", time.Second); !ok {
		t.Error("node-b should win after node-a resigns")
	}
}

func TestLeaseExpiresAndCanBeStolen(t *testing.T) {
	s := New(time.Minute, time.Minute)
	_, ok := s.TryBecomeLeader("scheduler", "node-a", 10*time.Millisecond)
	if !ok {
		t.Fatal("expected initial leadership")
	}
	time.Sleep(30 * time.Millisecond)
	if _, ok := s.TryBecomeLeader("scheduler", "node-b", time.Second); !ok {
		t.Error("node-b should win once node-a's lease expires")
	}
}

func TestPubSub(t *testing.T) {
	s := New(time.Minute, time.Minute)
	ch, unsub := s.Subscribe("topic")
	defer unsub()

	s.Publish("topic", []byte("hello"))

	select {
	case msg := <-ch:
		if string(msg) != "hello" {
			t.Errorf("expected hello, got %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("expected message on channel")
	}
}

func TestCheckRateLimit(t *testing.T) {
	s := New(time.Minute, time.Minute)
	allowed := 0
	for i := 0; i < 5; i++ {
		ok, _ := s.CheckRateLimit("client-1", 3, time.Second)
		if ok {
			allowed++
		}
	}
	if allowed > 3 {
		t.Errorf("expected at most 3 allowed requests in burst, got %d", allowed)
	}
}
