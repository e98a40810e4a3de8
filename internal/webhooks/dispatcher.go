// Package webhooks fans events out to registered external HTTP
// endpoints: every topic the event bus carries is watched, matching
// webhooks get a signed POST, and failed deliveries are retried with
// backoff until the webhook is auto-disabled. Slack/Discord-specific
// formatting is handled by reshaping the payload through a preset
// (see targets.go) ahead of the one generic signed-webhook send path.
package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/fleetctl/orchestrator/internal/domain"
	"github.com/fleetctl/orchestrator/internal/eventbus"
	"github.com/fleetctl/orchestrator/internal/metrics"
	"github.com/fleetctl/orchestrator/internal/persistence"
	"github.com/fleetctl/orchestrator/internal/statestore"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

const (
	defaultWorkers          = 3
	defaultMaxAttempts      = 5
	consecutiveFailureLimit = 10
	outboundRateLimitPerMin = 60
)

// Config tunes a Dispatcher.
type Config struct {
	Workers int
}

// Dispatcher watches every control-plane topic, enqueues a pending
// Delivery for each webhook subscribed to the event type seen, and
// runs a fixed pool of workers draining the pending-delivery queue on
// a retry-scheduler tick.
type Dispatcher struct {
	store   *persistence.Store
	bus     eventbus.Bus
	state   *statestore.Store
	client  *http.Client
	logger  *log.Logger
	cron    *cron.Cron
	work    chan *domain.Delivery
	subs    []eventbus.Subscription
	metrics *metrics.Collector
	secrets *SecretCipher
}

// SetCollector attaches a metrics collector so each delivery attempt
// is observed as it happens. Optional: a nil collector (the default)
// means deliveries are not recorded.
func (d *Dispatcher) SetCollector(c *metrics.Collector) {
	d.metrics = c
}

// SetSecretCipher attaches a cipher for at-rest webhook secrets.
// Optional: a nil cipher (the default) means hook.Secret is treated
// as already plaintext.
func (d *Dispatcher) SetSecretCipher(c *SecretCipher) {
	d.secrets = c
}

// New builds a Dispatcher. cfg.Workers defaults to 3.
func New(store *persistence.Store, bus eventbus.Bus, state *statestore.Store, cfg Config, logger *log.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[WEBHOOKS] ", log.LstdFlags)
	}
	d := &Dispatcher{
		store:  store,
		bus:    bus,
		state:  state,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
		cron:   cron.New(),
		work:   make(chan *domain.Delivery, 256),
	}
	for i := 0; i < cfg.Workers; i++ {
		go d.workLoop()
	}
	return d
}

// Start subscribes to every topic the control plane publishes and
// schedules the 30s retry-scan tick.
func (d *Dispatcher) Start() error {
	for _, topic := range []string{
		eventbus.TopicAgentLifecycle,
		eventbus.TopicAgentTasks,
		eventbus.TopicAgentCommunication,
		eventbus.TopicAgentState,
		eventbus.TopicSystemEvents,
	} {
		sub, err := d.bus.Subscribe(topic, "webhook-dispatcher", nil, d.handleEvent)
		if err != nil {
			return fmt.Errorf("subscribe webhooks to %s: %w", topic, err)
		}
		d.subs = append(d.subs, sub)
	}
	if _, err := d.cron.AddFunc("@every 30s", d.scanPending); err != nil {
		return fmt.Errorf("schedule retry scan: %w", err)
	}
	d.cron.Start()
	return nil
}

// Stop unsubscribes from every topic and halts the retry scan.
func (d *Dispatcher) Stop() {
	for _, s := range d.subs {
		_ = s.Unsubscribe()
	}
	c := d.cron.Stop()
	<-c.Done()
}

func (d *Dispatcher) handleEvent(ctx context.Context, env eventbus.Envelope) error {
	hooks, err := d.store.ListActiveWebhooksFor(env.EventType)
	if err != nil {
		return fmt.Errorf("list webhooks for %s: %w", env.EventType, err)
	}
	for _, hook := range hooks {
		del := &domain.Delivery{
			ID:           uuid.NewString(),
			WebhookID:    hook.ID,
			EventType:    env.EventType,
			Payload:      env.Payload,
			Status:       domain.DeliveryPending,
			MaxAttempts:  maxAttempts(hook),
			ScheduledFor: time.Now(),
			CreatedAt:    time.Now(),
		}
		if err := d.store.SaveDelivery(del); err != nil {
			d.logger.Printf("save delivery for webhook %s failed: %v", hook.ID, err)
			continue
		}
		select {
		case d.work <- del:
		default:
			// queue full; the next retry scan will pick it up from
			// persistence instead of blocking event delivery.
		}
	}
	return nil
}

func maxAttempts(hook *domain.Webhook) int {
	if hook.RetryCount > 0 {
		return hook.RetryCount
	}
	return defaultMaxAttempts
}

func (d *Dispatcher) scanPending() {
	pending, err := d.store.ListPendingDeliveries(time.Now())
	if err != nil {
		d.logger.Printf("list pending deliveries failed: %v", err)
		return
	}
	for _, del := range pending {
		select {
		case d.work <- del:
		default:
			return
		}
	}
}

func (d *Dispatcher) workLoop() {
	for del := range d.work {
		d.deliver(del)
	}
}

func (d *Dispatcher) deliver(del *domain.Delivery) {
	hook, err := d.store.GetWebhook(del.WebhookID)
	if err != nil || hook == nil {
		d.logger.Printf("load webhook %s for delivery %s failed: %v", del.WebhookID, del.ID, err)
		return
	}
	if hook.Status != domain.WebhookActive {
		return
	}

	if allowed, _ := d.state.CheckRateLimit("webhook:"+hook.ID, outboundRateLimitPerMin, time.Minute); !allowed {
		del.ScheduledFor = time.Now().Add(time.Second)
		_ = d.store.SaveDelivery(del)
		return
	}

	del.AttemptCount++
	start := time.Now()
	status, sendErr := d.send(hook, del)
	del.Duration = time.Since(start)
	del.ResponseStatus = status

	success := sendErr == nil && status >= 200 && status < 300
	if d.metrics != nil {
		outcome := "failure"
		if success {
			outcome = "success"
		}
		d.metrics.ObserveWebhookDelivery(outcome, del.Duration)
	}

	if success {
		now := time.Now()
		del.Status = domain.DeliveryDone
		del.DeliveredAt = &now
		del.Error = ""
		hook.SuccessCount++
		hook.FailureCount = 0
	} else {
		reason := ""
		if sendErr != nil {
			reason = sendErr.Error()
		} else {
			reason = fmt.Sprintf("unexpected status %d", status)
		}
		del.Error = reason
		hook.FailureCount++

		if del.AttemptCount >= del.MaxAttempts {
			del.Status = domain.DeliveryFailed
		} else {
			del.Status = domain.DeliveryRetrying
			del.ScheduledFor = time.Now().Add(backoff(hook, del.AttemptCount))
		}
	}

	hook.UpdatedAt = time.Now()
	if hook.FailureCount >= consecutiveFailureLimit {
		hook.Status = domain.WebhookDisabled
		d.logger.Printf("webhook %s disabled after %d consecutive failures", hook.ID, hook.FailureCount)
	}

	if err := d.store.SaveWebhook(hook); err != nil {
		d.logger.Printf("save webhook %s failed: %v", hook.ID, err)
	}
	if err := d.store.SaveDelivery(del); err != nil {
		d.logger.Printf("save delivery %s failed: %v", del.ID, err)
	}
}

// backoff computes the exponential retry delay: the webhook's
// configured base delay doubled per attempt, capped at 5 minutes.
func backoff(hook *domain.Webhook, attempt int) time.Duration {
	base := hook.RetryDelay
	if base <= 0 {
		base = time.Second
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > 5*time.Minute {
			return 5 * time.Minute
		}
	}
	return delay
}

func (d *Dispatcher) send(hook *domain.Webhook, del *domain.Delivery) (int, error) {
	body, err := json.Marshal(Shape(presetFor(hook), del.EventType, del.Payload))
	if err != nil {
		return 0, fmt.Errorf("marshal delivery payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	secret, err := d.revealSecret(hook)
	if err != nil {
		return 0, fmt.Errorf("reveal secret for webhook %s: %w", hook.ID, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-ID", hook.ID)
	req.Header.Set("X-Webhook-Signature", Sign(secret, body))
	req.Header.Set("X-Webhook-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))
	req.Header.Set("X-Delivery-ID", del.ID)
	req.Header.Set("X-Attempt", fmt.Sprintf("%d", del.AttemptCount))

	client := d.client
	if hook.Timeout > 0 {
		clientCopy := *d.client
		clientCopy.Timeout = hook.Timeout
		client = &clientCopy
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// revealSecret returns hook.Secret as stored when no cipher is
// configured, or its decrypted form when one is.
func (d *Dispatcher) revealSecret(hook *domain.Webhook) (string, error) {
	if d.secrets == nil {
		return hook.Secret, nil
	}
	return d.secrets.Decrypt(hook.ID, hook.Secret)
}

// presetFor infers a payload preset from the webhook's URL host; a
// dedicated field would require a schema change this pass doesn't
// need, since a host-based heuristic covers the common Slack/Discord
// incoming-webhook URL shapes.
func presetFor(hook *domain.Webhook) Preset {
	switch {
	case strings.Contains(hook.URL, "hooks.slack.com"):
		return PresetSlack
	case strings.Contains(hook.URL, "discord.com/api/webhooks"), strings.Contains(hook.URL, "discordapp.com/api/webhooks"):
		return PresetDiscord
	default:
		return PresetNone
	}
}
