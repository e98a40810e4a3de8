// Package config loads the control plane's runtime configuration. Env
// vars are read directly with os.Getenv and typed defaults rather than
// through a framework like viper; static pool/agent-type config is
// loaded from YAML.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every environment-driven setting the control plane
// reads at startup.
type Config struct {
	Host string
	Port int

	DatabaseURL string

	// RedisURL is read and logged only; no redis client exists in the
	// pack, so the State Store is single-process (see DESIGN.md).
	RedisURL string

	// KafkaBootstrapServers is repurposed onto NATS JetStream as the
	// NATS URL (see DESIGN.md). KafkaGroupID is read but not passed to
	// the event bus; each subscriber names its own durable consumer
	// group (for example "worker-runtime").
	KafkaBootstrapServers string
	KafkaGroupID          string

	AgentHeartbeatInterval time.Duration
	AgentHeartbeatTimeout  time.Duration
	MaxConcurrentAgents    int

	TaskDefaultTimeout time.Duration
	TaskMaxRetries     int
	TaskRetryDelay     time.Duration
	TaskQueueMaxSize   int

	RateLimitRequests int
	RateLimitWindow   time.Duration

	SchedulerStrategy    string
	SchedulerAgingFactor float64

	// WebhookSecretKey, when set, is the master key webhooks.SecretCipher
	// derives per-webhook at-rest encryption keys from. Empty disables
	// encryption (secrets are stored as given).
	WebhookSecretKey string
}

// Load reads every recognized ORCHESTRATOR_*/DATABASE_URL/REDIS_URL/
// KAFKA_* env var, falling back to sane defaults for anything unset or
// unparseable.
func Load() (*Config, error) {
	cfg := &Config{
		Host:                   getString("ORCHESTRATOR_HOST", "0.0.0.0"),
		Port:                   getInt("ORCHESTRATOR_PORT", 8080),
		DatabaseURL:            getString("DATABASE_URL", "orchestrator.db"),
		RedisURL:               getString("REDIS_URL", ""),
		KafkaBootstrapServers:  getString("KAFKA_BOOTSTRAP_SERVERS", "nats://127.0.0.1:4222"),
		KafkaGroupID:           getString("KAFKA_GROUP_ID", "orchestrator"),
		AgentHeartbeatInterval: getDuration("AGENT_HEARTBEAT_INTERVAL", 30*time.Second),
		AgentHeartbeatTimeout:  getDuration("AGENT_HEARTBEAT_TIMEOUT", 90*time.Second),
		MaxConcurrentAgents:    getInt("MAX_CONCURRENT_AGENTS", 100),
		TaskDefaultTimeout:     getDuration("TASK_DEFAULT_TIMEOUT", 300*time.Second),
		TaskMaxRetries:         getInt("TASK_MAX_RETRIES", 3),
		TaskRetryDelay:         getDuration("TASK_RETRY_DELAY", 5*time.Second),
		TaskQueueMaxSize:       getInt("TASK_QUEUE_MAX_SIZE", 10000),
		RateLimitRequests:      getInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:        getDuration("RATE_LIMIT_WINDOW", 60*time.Second),
		SchedulerStrategy:      getString("SCHEDULER_STRATEGY", "PRIORITY"),
		SchedulerAgingFactor:   getFloat("SCHEDULER_AGING_FACTOR", 0.1),
		WebhookSecretKey:       getString("WEBHOOK_SECRET_KEY", ""),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings that would make the control plane
// unschedulable or unreachable.
func (c *Config) Validate() error {
	if c.Port <= 0 {
		return fmt.Errorf("ORCHESTRATOR_PORT must be positive, got %d", c.Port)
	}
	if c.MaxConcurrentAgents <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_AGENTS must be positive, got %d", c.MaxConcurrentAgents)
	}
	if c.TaskMaxRetries < 0 {
		return fmt.Errorf("TASK_MAX_RETRIES must be >= 0, got %d", c.TaskMaxRetries)
	}
	return nil
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(secs) * time.Second
}
