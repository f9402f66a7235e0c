package streambus

import (
	"fmt"
	"math"
	"time"
)

// Config is the complete bus configuration.
type Config struct {
	Store    StoreConfig
	Consumer ConsumerConfig
	Streams  StreamsConfig
	Retry    RetryConfig
}

// StoreConfig addresses the log store.
type StoreConfig struct {
	Host          string
	Port          int
	Username      string
	Password      string
	DB            int
	KeyPrefix     string
	TLS           bool
	TLSServerName string
}

// ConsumerConfig controls consumer group membership and polling.
type ConsumerConfig struct {
	Group        string
	Name         string
	BlockTimeout time.Duration
	PollInterval time.Duration
	BatchSize    int64
	// ClaimStaleAfter, when > 0, lets a worker take over entries left pending
	// by other consumers for at least this long.
	ClaimStaleAfter time.Duration
}

// StreamsConfig bounds partitions on append.
type StreamsConfig struct {
	MaxLen       int64
	TrimStrategy TrimStrategy
	MaxAge       time.Duration // used by TrimMinID
}

// RetryConfig controls durable retry scheduling.
type RetryConfig struct {
	MaxAttempts       int64
	BackoffMultiplier float64
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	CounterTTL        time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Store: StoreConfig{
			Host:      "127.0.0.1",
			Port:      6379,
			KeyPrefix: "streambus:",
		},
		Consumer: ConsumerConfig{
			Group:        "streambus",
			Name:         "streambus",
			BlockTimeout: time.Second,
			PollInterval: time.Second,
			BatchSize:    100,
		},
		Streams: StreamsConfig{
			MaxLen:       10000,
			TrimStrategy: TrimApprox,
			MaxAge:       24 * time.Hour,
		},
		Retry: RetryConfig{
			MaxAttempts:       3,
			BackoffMultiplier: 2,
			InitialDelay:      time.Second,
			MaxDelay:          60 * time.Second,
			CounterTTL:        24 * time.Hour,
		},
	}
}

// Validate checks Config for production readiness.
func (c Config) Validate() error {
	if c.Consumer.Group == "" {
		return fmt.Errorf("config: consumer group required")
	}
	if c.Consumer.Name == "" {
		return fmt.Errorf("config: consumer name required")
	}
	if c.Consumer.PollInterval <= 0 {
		return fmt.Errorf("config: poll interval must be > 0, got %v", c.Consumer.PollInterval)
	}
	if c.Consumer.BlockTimeout < 0 {
		return fmt.Errorf("config: block timeout must be >= 0, got %v", c.Consumer.BlockTimeout)
	}
	if c.Consumer.BatchSize < 1 {
		return fmt.Errorf("config: batch size must be >= 1, got %d", c.Consumer.BatchSize)
	}
	switch c.Streams.TrimStrategy {
	case TrimApprox, TrimExact:
		if c.Streams.MaxLen < 1 {
			return fmt.Errorf("config: max len must be >= 1 for %s trimming", c.Streams.TrimStrategy)
		}
	case TrimMinID:
		if c.Streams.MaxAge <= 0 {
			return fmt.Errorf("config: max age must be > 0 for minid trimming")
		}
	case TrimNone, "":
	default:
		return fmt.Errorf("config: unknown trim strategy %q", c.Streams.TrimStrategy)
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("config: retry max attempts must be >= 0, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("config: backoff multiplier must be >= 1, got %v", c.Retry.BackoffMultiplier)
	}
	if c.Retry.InitialDelay <= 0 {
		return fmt.Errorf("config: initial delay must be > 0, got %v", c.Retry.InitialDelay)
	}
	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		return fmt.Errorf("config: max delay %v below initial delay %v", c.Retry.MaxDelay, c.Retry.InitialDelay)
	}
	if c.Retry.CounterTTL <= 0 {
		return fmt.Errorf("config: retry counter ttl must be > 0, got %v", c.Retry.CounterTTL)
	}
	return nil
}

// Addr returns "host:port".
func (s StoreConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// toMap converts StoreConfig to a generic map for store factories.
func (s StoreConfig) toMap() map[string]any {
	return map[string]any{
		"addr":            s.Addr(),
		"username":        s.Username,
		"password":        s.Password,
		"db":              s.DB,
		"tls":             s.TLS,
		"tls_server_name": s.TLSServerName,
	}
}

// Backoff returns the delay before retry attempt n (1-based):
// min(InitialDelay * BackoffMultiplier^(n-1), MaxDelay).
func (r RetryConfig) Backoff(attempt int64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(r.InitialDelay) * math.Pow(r.BackoffMultiplier, float64(attempt-1))
	if math.IsInf(d, 0) || math.IsNaN(d) || d > float64(r.MaxDelay) {
		return r.MaxDelay
	}
	return time.Duration(d)
}

// trim renders the configured trimming for an append at now.
func (s StreamsConfig) trim(now time.Time) Trim {
	switch s.TrimStrategy {
	case TrimApprox, TrimExact:
		return Trim{Strategy: s.TrimStrategy, MaxLen: s.MaxLen}
	case TrimMinID:
		return Trim{Strategy: TrimMinID, MinID: fmt.Sprintf("%d-0", now.Add(-s.MaxAge).UnixMilli())}
	default:
		return Trim{Strategy: TrimNone}
	}
}
