package redisstream

import (
	"fmt"
	"time"
)

// Config for the Redis Streams log store.
type Config struct {
	// Connection
	Addr          string
	Username      string
	Password      string
	DB            int
	TLS           bool
	TLSServerName string

	// Pool
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
}

// Defaults returns a Config with production-safe defaults.
func Defaults() Config {
	return Config{
		Addr:         "127.0.0.1:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
	}
}

// Validate checks Config for production readiness.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: addr required")
	}
	if c.DB < 0 {
		return fmt.Errorf("config: db must be >= 0, got %d", c.DB)
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("config: pool_size must be >= 1, got %d", c.PoolSize)
	}
	return nil
}

// toMap converts Config to generic map for the store factory.
func (c Config) toMap() map[string]any {
	return map[string]any{
		"addr":            c.Addr,
		"username":        c.Username,
		"password":        c.Password,
		"db":              c.DB,
		"tls":             c.TLS,
		"tls_server_name": c.TLSServerName,
		"pool_size":       c.PoolSize,
		"min_idle_conns":  c.MinIdleConns,
		"max_retries":     c.MaxRetries,
		"dial_timeout":    c.DialTimeout,
	}
}

// ConfigFromMap safely converts generic map to Config with defaults.
// "host" and "port" are accepted when "addr" is absent.
func ConfigFromMap(m map[string]any) Config {
	c := Defaults()

	if v, ok := m["addr"].(string); ok && v != "" {
		c.Addr = v
	} else if h, ok := m["host"].(string); ok && h != "" {
		port := 6379
		if p, ok := m["port"].(int); ok && p > 0 {
			port = p
		}
		c.Addr = fmt.Sprintf("%s:%d", h, port)
	}
	if v, ok := m["username"].(string); ok {
		c.Username = v
	}
	if v, ok := m["password"].(string); ok {
		c.Password = v
	}
	if v, ok := m["db"].(int); ok {
		c.DB = v
	}
	if v, ok := m["tls"].(bool); ok {
		c.TLS = v
	}
	if v, ok := m["tls_server_name"].(string); ok {
		c.TLSServerName = v
	}
	if v, ok := m["pool_size"].(int); ok && v > 0 {
		c.PoolSize = v
	}
	if v, ok := m["min_idle_conns"].(int); ok && v >= 0 {
		c.MinIdleConns = v
	}
	if v, ok := m["max_retries"].(int); ok {
		c.MaxRetries = v
	}
	switch v := m["dial_timeout"].(type) {
	case time.Duration:
		if v > 0 {
			c.DialTimeout = v
		}
	case string:
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.DialTimeout = d
		}
	}

	return c
}
