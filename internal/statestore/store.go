// Package statestore implements the control plane's hot key/value
// layer: TTL key/value, atomic counters, rate-limit windows, pub/sub
// channels, distributed locks, and leader election.
//
// The backing cache is an in-process patrickmn/go-cache instance. This
// stands in for a REDIS_URL-addressed store: there is no redis client
// anywhere in the dependency surface this module draws from, and a
// single-process in-memory cache satisfies every operation this
// package exposes for a single orchestrator instance. REDIS_URL is
// never dialed and does not affect this store; cmd/orchestratord only
// logs a warning when it is set.
package statestore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// Store is the hot-path key/value and coordination primitive layer.
type Store struct {
	kv *cache.Cache

	mu     sync.Mutex
	locks  map[string]*heldLock
	leases map[string]*leaderLease

	subMu sync.RWMutex
	subs  map[string][]chan []byte

	limiters *limiterRegistry
}

type heldLock struct {
	token     string
	expiresAt time.Time
}

type leaderLease struct {
	holder    string
	token     string
	expiresAt time.Time
}

// New builds a Store with the given default TTL and cleanup interval.
func New(defaultTTL, cleanupInterval time.Duration) *Store {
	return &Store{
		kv:       cache.New(defaultTTL, cleanupInterval),
		locks:    make(map[string]*heldLock),
		leases:   make(map[string]*leaderLease),
		subs:     make(map[string][]chan []byte),
		limiters: newLimiterRegistry(),
	}
}

// Set writes key with a TTL. A zero TTL means "use the store's default
// expiration", matching go-cache's DefaultExpiration sentinel.
func (s *Store) Set(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		s.kv.SetDefault(key, value)
		return
	}
	s.kv.Set(key, value, ttl)
}

// Get reads key, reporting whether it was present and unexpired.
func (s *Store) Get(key string) (interface{}, bool) {
	return s.kv.Get(key)
}

// Delete removes key.
func (s *Store) Delete(key string) {
	s.kv.Delete(key)
}

// IncrBy atomically adds delta to the integer counter at key, creating
// it at 0 first if absent, and returns the new value.
func (s *Store) IncrBy(key string, delta int64) int64 {
	if err := s.kv.Add(key, int64(0), cache.NoExpiration); err != nil {
		// already present; fall through
	}
	if err := s.kv.IncrementInt64(key, delta); err != nil {
		// type mismatch recovery: reset the counter to delta
		s.kv.Set(key, delta, cache.NoExpiration)
		return delta
	}
	v, _ := s.kv.Get(key)
	n, _ := v.(int64)
	return n
}

// CheckRateLimit reports whether this call may proceed under limit
// requests per window for identifier id, and the quota left. Backed by
// a token bucket refilled continuously at limit/window rather than a
// bursty fixed window.
func (s *Store) CheckRateLimit(id string, limit int, window time.Duration) (allowed bool, remaining int) {
	limiter := s.limiters.get(id, limit, window)
	allowed = limiter.Allow()
	remaining = int(limiter.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining
}

// Errors returned by lock and leader election operations.
var (
	ErrLockHeld       = fmt.Errorf("lock is already held")
	ErrNotOwner       = fmt.Errorf("release token does not match current owner")
	ErrAcquireTimeout = fmt.Errorf("timed out waiting to acquire lock")
)

// Lock is a held distributed lock, released only with its ownership
// token so a lease that outlived its TTL cannot be released by a new
// owner.
type Lock struct {
	Name  string
	Token string
}

// Acquire attempts to take the named lock, retrying at a fixed poll
// interval until blockTimeout elapses. A lock whose TTL has expired is
// treated as free and may be stolen by the next acquirer.
func (s *Store) Acquire(ctx context.Context, name string, ttl, blockTimeout time.Duration) (*Lock, error) {
	deadline := time.Now().Add(blockTimeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if lock, ok := s.tryAcquire(name, ttl); ok {
			return lock, nil
		}
		if blockTimeout <= 0 {
			return nil, ErrLockHeld
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return nil, ErrAcquireTimeout
			}
		}
	}
}

func (s *Store) tryAcquire(name string, ttl time.Duration) (*Lock, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.locks[name]; ok && time.Now().Before(existing.expiresAt) {
		return nil, false
	}
	token := newToken()
	s.locks[name] = &heldLock{token: token, expiresAt: time.Now().Add(ttl)}
	return &Lock{Name: name, Token: token}, true
}

// Release drops lock if its token still matches the current holder.
func (s *Store) Release(lock *Lock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	held, ok := s.locks[lock.Name]
	if !ok {
		return nil
	}
	if held.token != lock.Token {
		return ErrNotOwner
	}
	delete(s.locks, lock.Name)
	return nil
}

// TryBecomeLeader attempts a set-if-not-exists claim on serviceID's
// leadership lease. It returns a non-empty token on success; an empty
// token and false means another holder currently owns the lease.
func (s *Store) TryBecomeLeader(serviceID, holder string, ttl time.Duration) (token string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, found := s.leases[serviceID]
	if found && time.Now().Before(existing.expiresAt) && existing.holder != holder {
		return "", false
	}
	tok := newToken()
	s.leases[serviceID] = &leaderLease{holder: holder, token: tok, expiresAt: time.Now().Add(ttl)}
	return tok, true
}

// RenewLeadership extends the lease's TTL if token still matches.
func (s *Store) RenewLeadership(serviceID, token string, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	lease, ok := s.leases[serviceID]
	if !ok || lease.token != token {
		return false
	}
	lease.expiresAt = time.Now().Add(ttl)
	return true
}

// Resign releases the lease if token still matches the current holder.
func (s *Store) Resign(serviceID, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lease, ok := s.leases[serviceID]
	if !ok || lease.token != token {
		return
	}
	delete(s.leases, serviceID)
}

// IsLeader reports whether token is still the valid lease holder for
// serviceID.
func (s *Store) IsLeader(serviceID, token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	lease, ok := s.leases[serviceID]
	return ok && lease.token == token && time.Now().Before(lease.expiresAt)
}

// Publish fans out payload to every live subscriber of channel.
// Slow subscribers are dropped silently (non-blocking send), matching
// pub/sub's at-most-once, best-effort delivery model.
func (s *Store) Publish(channel string, payload []byte) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, ch := range s.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
}

// Subscribe returns a channel receiving every payload published to
// channel from this point forward, and an unsubscribe func.
func (s *Store) Subscribe(channel string) (<-chan []byte, func()) {
	ch := make(chan []byte, 64)
	s.subMu.Lock()
	s.subs[channel] = append(s.subs[channel], ch)
	s.subMu.Unlock()

	unsub := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		list := s.subs[channel]
		for i, c := range list {
			if c == ch {
				s.subs[channel] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(ch)
	}
	return ch, unsub
}

func newToken() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), tokenCounter.next())
}

var tokenCounter = &monotonicCounter{}

type monotonicCounter struct {
	mu sync.Mutex
	n  int64
}

func (c *monotonicCounter) next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.n
}
