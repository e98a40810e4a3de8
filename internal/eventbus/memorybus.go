package eventbus

import (
	"context"
	"log"
	"sync"
	"time"
)

// record is one envelope appended to a partition log, plus the number
// of times delivery to the current consumer has been attempted.
type record struct {
	env      Envelope
	attempts int
}

// partitionLog is the ordered, append-only log for one partition key.
type partitionLog struct {
	mu      sync.Mutex
	records []record
}

// topicLog holds all partitions (keyed streams) for one topic.
type topicLog struct {
	mu         sync.Mutex
	partitions map[string]*partitionLog
}

func (tl *topicLog) partition(key string) *partitionLog {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	p, ok := tl.partitions[key]
	if !ok {
		p = &partitionLog{}
		tl.partitions[key] = p
	}
	return p
}

func (tl *topicLog) keys() []string {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	keys := make([]string, 0, len(tl.partitions))
	for k := range tl.partitions {
		keys = append(keys, k)
	}
	return keys
}

// MemoryBus is an in-process Bus used in tests and single-node mode.
// It preserves strict per-key FIFO ordering and redirects records that
// exceed the handler retry budget to dead.letter, carrying the
// original topic in headers.
type MemoryBus struct {
	mu      sync.RWMutex
	topics  map[string]*topicLog
	cursors map[string]*cursor // topic+"|"+group -> cursor
	logger  *log.Logger
	closing chan struct{}
	wg      sync.WaitGroup
	closed  bool
}

type cursor struct {
	mu      sync.Mutex
	offsets map[string]int // partition key -> next index to consume
}

// NewMemoryBus creates a ready-to-use in-process bus.
func NewMemoryBus(logger *log.Logger) *MemoryBus {
	if logger == nil {
		logger = log.New(log.Writer(), "[EVENTBUS] ", log.LstdFlags)
	}
	return &MemoryBus{
		topics:  make(map[string]*topicLog),
		cursors: make(map[string]*cursor),
		logger:  logger,
		closing: make(chan struct{}),
	}
}

func (b *MemoryBus) topic(name string) *topicLog {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[name]
	if !ok {
		t = &topicLog{partitions: make(map[string]*partitionLog)}
		b.topics[name] = t
	}
	return t
}

// Publish appends env to the partition identified by env.Key. The
// append itself is the durable ack: MemoryBus never loses a published
// record while the process is alive.
func (b *MemoryBus) Publish(ctx context.Context, topicName string, env Envelope) error {
	p := b.topic(topicName).partition(env.Key)
	p.mu.Lock()
	p.records = append(p.records, record{env: env})
	p.mu.Unlock()
	return nil
}

// memSubscription stops a poller goroutine on Unsubscribe.
type memSubscription struct {
	stop chan struct{}
	once sync.Once
}

func (s *memSubscription) Unsubscribe() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

// Subscribe starts a poller goroutine for (topicName, group). Each
// group maintains its own per-partition offsets so independent groups
// observe the full stream independently.
func (b *MemoryBus) Subscribe(topicName, group string, eventTypes []string, handler Handler) (Subscription, error) {
	typeFilter := make(map[string]bool, len(eventTypes))
	for _, t := range eventTypes {
		typeFilter[t] = true
	}

	tl := b.topic(topicName)
	c := b.cursorFor(topicName, group)

	sub := &memSubscription{stop: make(chan struct{})}
	b.wg.Add(1)
	go b.poll(tl, topicName, c, typeFilter, handler, sub.stop)
	return sub, nil
}

func (b *MemoryBus) cursorFor(topicName, group string) *cursor {
	key := topicName + "|" + group
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.cursors[key]
	if !ok {
		c = &cursor{offsets: make(map[string]int)}
		b.cursors[key] = c
	}
	return c
}

func (b *MemoryBus) poll(tl *topicLog, topicName string, c *cursor, typeFilter map[string]bool, handler Handler, stop chan struct{}) {
	defer b.wg.Done()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-b.closing:
			return
		case <-stop:
			return
		case <-ticker.C:
			b.pollOnce(tl, topicName, c, typeFilter, handler)
		}
	}
}

func (b *MemoryBus) pollOnce(tl *topicLog, topicName string, c *cursor, typeFilter map[string]bool, handler Handler) {
	for _, key := range tl.keys() {
		p := tl.partition(key)

		c.mu.Lock()
		offset := c.offsets[key]
		c.mu.Unlock()

		p.mu.Lock()
		if offset >= len(p.records) {
			p.mu.Unlock()
			continue
		}
		end := offset + maxPollBatch
		if end > len(p.records) {
			end = len(p.records)
		}
		batch := make([]record, end-offset)
		copy(batch, p.records[offset:end])
		p.mu.Unlock()

		consumed := 0
		for i := range batch {
			rec := &batch[i]
			if len(typeFilter) > 0 && !typeFilter[rec.env.EventType] {
				consumed++
				continue
			}

			if err := handler(context.Background(), rec.env); err != nil {
				rec.attempts++
				if rec.attempts >= maxHandlerRetries {
					b.deadLetter(topicName, rec.env, err)
					consumed++
					continue
				}
				// Stop at this record: it will be retried on the
				// next poll without committing past it, preserving
				// FIFO order for this key.
				b.writeBackAttempt(p, offset+consumed, rec.attempts)
				break
			}
			consumed++
		}

		if consumed > 0 {
			c.mu.Lock()
			c.offsets[key] = offset + consumed
			c.mu.Unlock()
		}
	}
}

// writeBackAttempt persists the incremented attempt counter for a
// record that failed but has not exhausted its retry budget.
func (b *MemoryBus) writeBackAttempt(p *partitionLog, index, attempts int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < len(p.records) {
		p.records[index].attempts = attempts
	}
}

func (b *MemoryBus) deadLetter(originalTopic string, env Envelope, cause error) {
	b.logger.Printf("redirecting event %s (type=%s) from %s to %s after %d failed deliveries: %v",
		env.EventID, env.EventType, originalTopic, TopicDeadLetter, maxHandlerRetries, cause)

	wrapped := env
	wrapped.Headers = mergeHeaders(env.Headers, map[string]string{
		"original_topic": originalTopic,
		"error":          cause.Error(),
	})
	_ = b.Publish(context.Background(), TopicDeadLetter, wrapped)
}

func mergeHeaders(base map[string]string, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// Close stops all consumer pollers.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.closing)
	b.wg.Wait()
	return nil
}
