package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	RateLimit  RateLimitConfig  `yaml:"ratelimit"`
	Domain     DomainConfig     `yaml:"domain"`
	Publisher  PublisherConfig  `yaml:"publisher"`
	Subscriber SubscriberConfig `yaml:"subscriber"`
	RuleCache  RuleCacheConfig  `yaml:"rulecache"`
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
	Brokers []string `yaml:"brokers"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

// DomainConfig identifies the domain this process belongs to.
type DomainConfig struct {
	Name        string `yaml:"name"`
	SchemaName  string `yaml:"schema_name"`
	TopicPrefix string `yaml:"topic_prefix"`
}

type PublisherConfig struct {
	PollIntervalMS int `yaml:"poll_interval_ms"`
	BatchSize      int `yaml:"batch_size"`
	RetryInitialMS int `yaml:"retry_initial_ms"`
	RetryMaxMS     int `yaml:"retry_max_ms"`
}

func (c PublisherConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c PublisherConfig) RetryInitial() time.Duration {
	return time.Duration(c.RetryInitialMS) * time.Millisecond
}

func (c PublisherConfig) RetryMax() time.Duration {
	return time.Duration(c.RetryMaxMS) * time.Millisecond
}

type SubscriberConfig struct {
	GroupID              string `yaml:"group_id"`
	ReapIntervalS        int    `yaml:"reap_interval_s"`
	ResubscribeIntervalS int    `yaml:"resubscribe_interval_s"`
}

func (c SubscriberConfig) ReapInterval() time.Duration {
	return time.Duration(c.ReapIntervalS) * time.Second
}

func (c SubscriberConfig) ResubscribeInterval() time.Duration {
	return time.Duration(c.ResubscribeIntervalS) * time.Second
}

type RuleCacheConfig struct {
	RefreshIntervalS int `yaml:"refresh_interval_s"`
}

func (c RuleCacheConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalS) * time.Second
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
	if cfg.Publisher.PollIntervalMS <= 0 {
		cfg.Publisher.PollIntervalMS = 1000
	}
	if cfg.Publisher.BatchSize <= 0 {
		cfg.Publisher.BatchSize = 100
	}
	if cfg.Subscriber.ResubscribeIntervalS <= 0 {
		cfg.Subscriber.ResubscribeIntervalS = 30
	}
	if cfg.Subscriber.ReapIntervalS <= 0 {
		cfg.Subscriber.ReapIntervalS = 60
	}
	if cfg.RuleCache.RefreshIntervalS <= 0 {
		cfg.RuleCache.RefreshIntervalS = 300
	}
	return &cfg, nil
}
