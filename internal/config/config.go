package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Outbox    OutboxConfig    `yaml:"outbox"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Saga      SagaConfig      `yaml:"saga"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	LogLevel  string          `yaml:"log_level"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	FilingTopic   string   `yaml:"filing_topic"`
	ConsumerGroup string   `yaml:"consumer_group"`
}

// OutboxConfig drives the publisher's poll loop and retry policy.
type OutboxConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	BatchSize      int           `yaml:"batch_size"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
}

// DedupConfig bounds processed-event retention. The window must exceed
// the transport's maximum redelivery lag.
type DedupConfig struct {
	ConsumerName  string        `yaml:"consumer_name"`
	Retention     time.Duration `yaml:"retention"`
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// SagaConfig bounds the orchestrator's conflict retries.
type SagaConfig struct {
	MaxConflictRetries int `yaml:"max_conflict_retries"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

// Load reads yaml file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	// override DSN password from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		cfg.Postgres.DSN = cfg.Postgres.DSN + " password=" + pw
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Outbox.PollInterval <= 0 {
		c.Outbox.PollInterval = time.Second
	}
	if c.Outbox.BatchSize <= 0 {
		c.Outbox.BatchSize = 100
	}
	if c.Outbox.MaxAttempts <= 0 {
		c.Outbox.MaxAttempts = 3
	}
	if c.Outbox.InitialBackoff <= 0 {
		c.Outbox.InitialBackoff = 500 * time.Millisecond
	}
	if c.Dedup.ConsumerName == "" {
		c.Dedup.ConsumerName = "filing-saga"
	}
	if c.Dedup.Retention <= 0 {
		c.Dedup.Retention = 24 * time.Hour
	}
	if c.Dedup.PruneInterval <= 0 {
		c.Dedup.PruneInterval = time.Hour
	}
	if c.Saga.MaxConflictRetries <= 0 {
		c.Saga.MaxConflictRetries = 3
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}
