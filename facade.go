package streambus

import (
	"context"
	"sync"
)

var (
	defaultBus   *Bus
	defaultBusMu sync.Mutex
)

// Default returns the process-wide singleton Bus. If it isn't initialized yet,
// it is built with init; adapters' Use functions install one explicitly.
func Default(init func(b *BusBuilder)) (*Bus, error) {
	defaultBusMu.Lock()
	defer defaultBusMu.Unlock()

	if defaultBus != nil {
		return defaultBus, nil
	}
	bb := NewBusBuilder()
	if init != nil {
		init(bb)
	}
	bus, err := bb.Build()
	if err != nil {
		return nil, err
	}
	defaultBus = bus
	return defaultBus, nil
}

// SetDefault replaces the process-wide default Bus.
func SetDefault(b *Bus) {
	if b == nil {
		panic("streambus: SetDefault called with nil Bus")
	}
	defaultBusMu.Lock()
	defaultBus = b
	defaultBusMu.Unlock()
}

// Publish is the Facade using the default bus.
func Publish(ctx context.Context, eventType string, data any, opts ...PublishOption) (string, error) {
	b, err := Default(nil)
	if err != nil {
		return "", err
	}
	return b.Publish(ctx, eventType, data, opts...)
}

// Subscribe is the Facade using the default bus.
func Subscribe(ctx context.Context, pattern string, handler Handler, opts ...SubscribeOption) (string, error) {
	b, err := Default(nil)
	if err != nil {
		return "", err
	}
	return b.Subscribe(ctx, pattern, handler, opts...)
}
