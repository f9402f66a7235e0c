package memory

import (
	"fmt"

	"github.com/klikkai/streambus"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// Use builds a Bus over a fresh in-memory store and sets it as the default.
// Mirrors redisstream.Use: explicit construction with global install.
//
// Example:
//
//	bus := memory.Use(streambus.DefaultConfig(),
//	    memory.WithLogger(logger),
//	    memory.WithObserver(observer),
//	)
//	_ = bus.Connect(ctx)
//
// The returned bus is installed as the process-wide default.
func Use(cfg streambus.Config, opts ...Option) *streambus.Bus {
	bb := streambus.NewBusBuilder().
		WithConfig(cfg).
		WithStore(StoreName, Config{}.toMap())

	for _, o := range opts {
		if o != nil {
			o(bb)
		}
	}

	bus, err := bb.Build()
	if err != nil {
		panic(fmt.Errorf("memory.Use: %w", err))
	}

	streambus.SetDefault(bus)
	return bus
}

// Option configures the streambus.Bus when calling Use.
type Option func(*streambus.BusBuilder)

// WithStore shares an existing store, e.g. to run competing consumers in one process.
func WithStore(s *Store) Option {
	return func(b *streambus.BusBuilder) { b.WithStoreInstance(s) }
}

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(b *streambus.BusBuilder) { b.WithLogger(l) }
}

// WithClock injects a custom xclock clock.
func WithClock(c xclock.Clock) Option {
	return func(b *streambus.BusBuilder) { b.WithClock(c) }
}

// WithCodec selects a codec by name (default: "json").
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

// WithObserverPool configures async observer pool for non-blocking notifications.
func WithObserverPool(workers, bufferSize int) Option {
	return func(b *streambus.BusBuilder) { b.WithObserverPool(workers, bufferSize) }
}
