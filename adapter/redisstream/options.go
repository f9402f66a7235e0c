package redisstream

import (
	"github.com/klikkai/streambus"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// Option configures the streambus.Bus construction when calling Use.
type Option func(*streambus.BusBuilder)

// WithRedis replaces the store settings derived from the bus config.
func WithRedis(cfg Config) Option {
	return func(b *streambus.BusBuilder) { b.WithStore(StoreName, cfg.toMap()) }
}

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(b *streambus.BusBuilder) { b.WithLogger(l) }
}

// WithClock injects a custom xclock clock.
func WithClock(c xclock.Clock) Option {
	return func(b *streambus.BusBuilder) { b.WithClock(c) }
}

// WithCodec selects a codec by name (default: json).
func WithCodec(name string) Option {
	return func(b *streambus.BusBuilder) { b.WithCodec(name) }
}

// WithMiddleware adds processing middlewares.
func WithMiddleware(mw ...streambus.Middleware) Option {
	return func(b *streambus.BusBuilder) { b.WithMiddleware(mw...) }
}

// WithObserver attaches observers for lifecycle notifications.
func WithObserver(obs ...streambus.Observer) Option {
	return func(b *streambus.BusBuilder) { b.WithObserver(obs...) }
}
