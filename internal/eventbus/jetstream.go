package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// streamConfigs maps each topic this package defines onto a JetStream
// stream. Subjects use the topic name as a literal subject (no
// wildcards): key-based partitioning is expressed through the message
// header rather than the subject hierarchy, so a single durable
// consumer per group sees every key in arrival order.
var streamConfigs = map[string]nats.StreamConfig{
	TopicAgentLifecycle: {
		Name:      "AGENT_LIFECYCLE",
		Subjects:  []string{TopicAgentLifecycle},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
	},
	TopicAgentTasks: {
		Name:      "AGENT_TASKS",
		Subjects:  []string{TopicAgentTasks},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
	},
	TopicAgentCommunication: {
		Name:      "AGENT_COMMUNICATION",
		Subjects:  []string{TopicAgentCommunication},
		Storage:   nats.MemoryStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
	},
	TopicAgentState: {
		Name:      "AGENT_STATE",
		Subjects:  []string{TopicAgentState},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
	},
	TopicSystemEvents: {
		Name:      "SYSTEM_EVENTS",
		Subjects:  []string{TopicSystemEvents},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
	},
	TopicDeadLetter: {
		Name:      "DEAD_LETTER",
		Subjects:  []string{TopicDeadLetter},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    30 * 24 * time.Hour,
	},
}

// headerEventType carries the envelope's event type as a message
// header on every published message.
const (
	headerEventType = "Event-Type"
)

// JetStreamBus is a durable Bus backed by NATS JetStream. Streams are
// created lazily and consumers are durable pull consumers bound to a
// named consumer group, giving Kafka-flavored "bootstrap servers +
// group id" semantics over a NATS deployment.
type JetStreamBus struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *log.Logger
	subs   []*nats.Subscription
}

// NewJetStreamBus connects to url, ensures every topic's backing
// stream exists, and returns a ready-to-use Bus.
func NewJetStreamBus(url string, logger *log.Logger) (*JetStreamBus, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[EVENTBUS-NATS] ", log.LstdFlags)
	}

	opts := []nats.Option{
		nats.Name("orchestratord"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Printf("disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Printf("reconnected to %s", c.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Printf("connection closed")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("acquire jetstream context: %w", err)
	}

	bus := &JetStreamBus{conn: conn, js: js, logger: logger}
	for _, cfg := range streamConfigs {
		if err := bus.createOrUpdateStream(cfg); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return bus, nil
}

func (b *JetStreamBus) createOrUpdateStream(cfg nats.StreamConfig) error {
	_, err := b.js.StreamInfo(cfg.Name)
	if err != nil {
		if err == nats.ErrStreamNotFound {
			b.logger.Printf("creating stream %s on subjects %v", cfg.Name, cfg.Subjects)
			if _, err := b.js.AddStream(&cfg); err != nil {
				return fmt.Errorf("create stream %s: %w", cfg.Name, err)
			}
			return nil
		}
		return fmt.Errorf("stream info for %s: %w", cfg.Name, err)
	}
	if _, err := b.js.UpdateStream(&cfg); err != nil {
		return fmt.Errorf("update stream %s: %w", cfg.Name, err)
	}
	return nil
}

// Publish marshals env to JSON and publishes it to topic, waiting for
// the broker's durable ack before returning.
func (b *JetStreamBus) Publish(ctx context.Context, topic string, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	msg := nats.NewMsg(topic)
	msg.Data = data
	msg.Header.Set(headerEventType, env.EventType)
	msg.Header.Set("Key", env.Key)

	_, err = b.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

type jetstreamSubscription struct {
	sub *nats.Subscription
}

func (s *jetstreamSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

// Subscribe binds a durable pull consumer named group to topic and
// polls it on a background goroutine, fetching at most maxPollBatch
// messages per round. A message that fails eventTypes filtering is
// acked immediately (JetStream has no server-side content filter on a
// plain subject). A message whose handler fails is nak'd with a
// backoff delay; once its JetStream delivery count reaches
// maxHandlerRetries it is copied to dead.letter and acked so it is not
// redelivered forever.
func (b *JetStreamBus) Subscribe(topic, group string, eventTypes []string, handler Handler) (Subscription, error) {
	typeFilter := make(map[string]bool, len(eventTypes))
	for _, t := range eventTypes {
		typeFilter[t] = true
	}

	sub, err := b.js.PullSubscribe(topic, group, nats.ManualAck(), nats.AckExplicit())
	if err != nil {
		return nil, fmt.Errorf("pull subscribe topic=%s group=%s: %w", topic, group, err)
	}

	go b.pollLoop(sub, topic, typeFilter, handler)
	return &jetstreamSubscription{sub: sub}, nil
}

func (b *JetStreamBus) pollLoop(sub *nats.Subscription, topic string, typeFilter map[string]bool, handler Handler) {
	for {
		msgs, err := sub.Fetch(maxPollBatch, nats.MaxWait(2*time.Second))
		if err != nil {
			if err == nats.ErrTimeout {
				continue
			}
			if err == nats.ErrConnectionClosed || err == nats.ErrBadSubscription {
				return
			}
			b.logger.Printf("fetch error on %s: %v", topic, err)
			time.Sleep(time.Second)
			continue
		}
		for _, m := range msgs {
			b.handleOne(m, topic, typeFilter, handler)
		}
	}
}

func (b *JetStreamBus) handleOne(m *nats.Msg, topic string, typeFilter map[string]bool, handler Handler) {
	var env Envelope
	if err := json.Unmarshal(m.Data, &env); err != nil {
		b.logger.Printf("dropping malformed message on %s: %v", topic, err)
		_ = m.Ack()
		return
	}

	if len(typeFilter) > 0 && !typeFilter[env.EventType] {
		_ = m.Ack()
		return
	}

	meta, _ := m.Metadata()
	var deliveries uint64 = 1
	if meta != nil {
		deliveries = meta.NumDelivered
	}

	if err := handler(context.Background(), env); err != nil {
		if deliveries >= maxHandlerRetries {
			b.redirectToDeadLetter(topic, env, err)
			_ = m.Ack()
			return
		}
		_ = m.NakWithDelay(time.Duration(deliveries) * time.Second)
		return
	}
	_ = m.Ack()
}

func (b *JetStreamBus) redirectToDeadLetter(originalTopic string, env Envelope, cause error) {
	b.logger.Printf("redirecting event %s (type=%s) from %s to %s: %v",
		env.EventID, env.EventType, originalTopic, TopicDeadLetter, cause)

	wrapped := env
	wrapped.Headers = mergeHeaders(env.Headers, map[string]string{
		"original_topic": originalTopic,
		"error":          cause.Error(),
	})
	if err := b.Publish(context.Background(), TopicDeadLetter, wrapped); err != nil {
		b.logger.Printf("failed to redirect event %s to dead letter: %v", env.EventID, err)
	}
}

// Close drains all subscriptions and closes the underlying connection.
func (b *JetStreamBus) Close() error {
	for _, s := range b.subs {
		_ = s.Unsubscribe()
	}
	b.conn.Close()
	return nil
}
