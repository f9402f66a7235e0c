// Package config loads streambus settings for the CLI from a YAML file with
// STREAMBUS_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/klikkai/streambus"
)

type Config struct {
	Log      Log      `yaml:"log"`
	Metrics  Metrics  `yaml:"metrics"`
	Redis    Redis    `yaml:"redis"`
	Consumer Consumer `yaml:"consumer"`
	Streams  Streams  `yaml:"streams"`
	Retry    Retry    `yaml:"retry"`
}

type Log struct {
	Level   string `yaml:"level" env:"STREAMBUS_LOG_LEVEL" env-default:"info"`
	Console bool   `yaml:"console" env:"STREAMBUS_LOG_CONSOLE" env-default:"true"`
}

type Metrics struct {
	Addr      string `yaml:"addr" env:"STREAMBUS_METRICS_ADDR"`
	Namespace string `yaml:"namespace" env:"STREAMBUS_METRICS_NAMESPACE" env-default:"streambus"`
}

type Redis struct {
	Host          string `yaml:"host" env:"STREAMBUS_REDIS_HOST" env-default:"127.0.0.1"`
	Port          int    `yaml:"port" env:"STREAMBUS_REDIS_PORT" env-default:"6379"`
	Username      string `yaml:"username" env:"STREAMBUS_REDIS_USERNAME"`
	Password      string `yaml:"password" env:"STREAMBUS_REDIS_PASSWORD"`
	DB            int    `yaml:"db" env:"STREAMBUS_REDIS_DB" env-default:"0"`
	KeyPrefix     string `yaml:"key_prefix" env:"STREAMBUS_KEY_PREFIX" env-default:"streambus:"`
	TLS           bool   `yaml:"tls" env:"STREAMBUS_REDIS_TLS"`
	TLSServerName string `yaml:"tls_server_name" env:"STREAMBUS_REDIS_TLS_SERVER_NAME"`
}

type Consumer struct {
	Group           string        `yaml:"group" env:"STREAMBUS_GROUP" env-default:"streambus"`
	Name            string        `yaml:"name" env:"STREAMBUS_CONSUMER" env-default:"streambus"`
	BlockTimeout    time.Duration `yaml:"block_timeout" env:"STREAMBUS_BLOCK_TIMEOUT" env-default:"1s"`
	PollInterval    time.Duration `yaml:"poll_interval" env:"STREAMBUS_POLL_INTERVAL" env-default:"1s"`
	BatchSize       int64         `yaml:"batch_size" env:"STREAMBUS_BATCH_SIZE" env-default:"100"`
	ClaimStaleAfter time.Duration `yaml:"claim_stale_after" env:"STREAMBUS_CLAIM_STALE_AFTER"`
}

type Streams struct {
	MaxLen       int64         `yaml:"max_len" env:"STREAMBUS_MAX_LEN" env-default:"10000"`
	TrimStrategy string        `yaml:"trim_strategy" env:"STREAMBUS_TRIM_STRATEGY" env-default:"approx"`
	MaxAge       time.Duration `yaml:"max_age" env:"STREAMBUS_MAX_AGE" env-default:"24h"`
}

type Retry struct {
	MaxAttempts       int64         `yaml:"max_attempts" env:"STREAMBUS_RETRY_MAX_ATTEMPTS" env-default:"3"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" env:"STREAMBUS_RETRY_BACKOFF_MULTIPLIER" env-default:"2"`
	InitialDelay      time.Duration `yaml:"initial_delay" env:"STREAMBUS_RETRY_INITIAL_DELAY" env-default:"1s"`
	MaxDelay          time.Duration `yaml:"max_delay" env:"STREAMBUS_RETRY_MAX_DELAY" env-default:"60s"`
	CounterTTL        time.Duration `yaml:"counter_ttl" env:"STREAMBUS_RETRY_COUNTER_TTL" env-default:"24h"`
}

// Load reads path and applies environment overrides. A missing file falls
// back to environment and defaults only.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
		return cfg, nil
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	}
	return cfg, nil
}

// Bus converts the file layout into a streambus.Config.
func (c *Config) Bus() streambus.Config {
	return streambus.Config{
		Store: streambus.StoreConfig{
			Host:          c.Redis.Host,
			Port:          c.Redis.Port,
			Username:      c.Redis.Username,
			Password:      c.Redis.Password,
			DB:            c.Redis.DB,
			KeyPrefix:     c.Redis.KeyPrefix,
			TLS:           c.Redis.TLS,
			TLSServerName: c.Redis.TLSServerName,
		},
		Consumer: streambus.ConsumerConfig{
			Group:           c.Consumer.Group,
			Name:            c.Consumer.Name,
			BlockTimeout:    c.Consumer.BlockTimeout,
			PollInterval:    c.Consumer.PollInterval,
			BatchSize:       c.Consumer.BatchSize,
			ClaimStaleAfter: c.Consumer.ClaimStaleAfter,
		},
		Streams: streambus.StreamsConfig{
			MaxLen:       c.Streams.MaxLen,
			TrimStrategy: streambus.TrimStrategy(c.Streams.TrimStrategy),
			MaxAge:       c.Streams.MaxAge,
		},
		Retry: streambus.RetryConfig{
			MaxAttempts:       c.Retry.MaxAttempts,
			BackoffMultiplier: c.Retry.BackoffMultiplier,
			InitialDelay:      c.Retry.InitialDelay,
			MaxDelay:          c.Retry.MaxDelay,
			CounterTTL:        c.Retry.CounterTTL,
		},
	}
}
