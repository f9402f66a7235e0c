package streambus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// Bus is the central Facade turning a LogStore into a pub/sub event bus.
type Bus struct {
	store        LogStore
	codec        Codec
	clock        xclock.Clock
	logger       *xlog.Logger
	cfg          Config
	consumer     string
	middlewares  []Middleware
	observerPool *ObserverPool
	observersMu  sync.RWMutex
	observers    []Observer
	baseCtx      context.Context
	cancel       context.CancelFunc
	metrics      *busMetrics

	connected atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once

	mu      sync.RWMutex
	subSeq  uint64
	subs    map[string]*subscription
	workers map[string]*streamWorker
}

// busMetrics uses lock-free atomics.
type busMetrics struct {
	published    atomic.Uint64
	consumed     atomic.Uint64
	acked        atomic.Uint64
	failed       atomic.Uint64
	retried      atomic.Uint64
	deadLettered atomic.Uint64
	errors       atomic.Uint64
	processingNs atomic.Int64
}

// Codec returns the configured codec (Strategy).
func (b *Bus) Codec() Codec { return b.codec }

// ConsumerName returns this instance's consumer name within every group.
func (b *Bus) ConsumerName() string { return b.consumer }

// Config returns the configuration the bus was built with.
func (b *Bus) Config() Config { return b.cfg }

// Connect verifies the store is reachable. Publish and Subscribe require it.
func (b *Bus) Connect(ctx context.Context) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	if err := b.store.Ping(ctx); err != nil {
		b.metrics.errors.Add(1)
		return newError(ErrConnection, "connect", "", err)
	}
	if !b.connected.Swap(true) {
		b.logger.Info().Str("consumer", b.consumer).Str("group", b.cfg.Consumer.Group).Msg("streambus: connected")
		b.notify(Notification{Type: Connected, Group: b.cfg.Consumer.Group})
	}
	return nil
}

// Disconnect stops every stream worker, cancels retry timers and closes the
// store. In-flight handlers are not awaited beyond ctx. Idempotent.
func (b *Bus) Disconnect(ctx context.Context) error {
	var closeErr error

	b.closeOnce.Do(func() {
		b.connected.Store(false)

		b.mu.Lock()
		workers := make([]*streamWorker, 0, len(b.workers))
		for key, w := range b.workers {
			workers = append(workers, w)
			delete(b.workers, key)
		}
		b.subs = make(map[string]*subscription)
		b.mu.Unlock()

		for _, w := range workers {
			if err := w.stop(ctx); err != nil {
				b.logger.Warn().Err(err).Str("stream", w.key).Msg("streambus: worker stop")
				closeErr = errors.Join(closeErr, err)
			}
		}

		b.notify(Notification{Type: Disconnected, Group: b.cfg.Consumer.Group})
		b.closed.Store(true)
		b.cancel()

		if b.observerPool != nil {
			if err := b.observerPool.Close(5 * time.Second); err != nil {
				b.logger.Warn().Err(err).Msg("streambus: observer pool shutdown timeout")
				closeErr = errors.Join(closeErr, err)
			}
		}

		if err := b.store.Close(); err != nil {
			b.logger.Error().Err(err).Msg("streambus: store close failed")
			closeErr = errors.Join(closeErr, err)
		}
	})

	return closeErr
}

// GetMetrics returns current bus metrics.
func (b *Bus) GetMetrics() Metrics {
	return Metrics{
		Published:           b.metrics.published.Load(),
		Consumed:            b.metrics.consumed.Load(),
		Acked:               b.metrics.acked.Load(),
		Failed:              b.metrics.failed.Load(),
		Retried:             b.metrics.retried.Load(),
		DeadLettered:        b.metrics.deadLettered.Load(),
		Errors:              b.metrics.errors.Load(),
		NotificationsLost:   b.observerPool.Stats().Dropped,
		AvgProcessingTimeMs: float64(b.metrics.processingNs.Load()) / 1e6,
	}
}

// AddObserver registers an observer (thread-safe).
func (b *Bus) AddObserver(obs Observer) {
	if obs == nil {
		return
	}
	b.observersMu.Lock()
	b.observers = append(b.observers, obs)
	b.observersMu.Unlock()
}

// RemoveObserver removes an observer. Observers are matched with ==, so
// only comparable observers (pointers, plain structs) can be removed.
func (b *Bus) RemoveObserver(obs Observer) {
	if obs == nil {
		return
	}
	b.observersMu.Lock()
	defer b.observersMu.Unlock()

	for i, o := range b.observers {
		if o == obs {
			b.observers = append(b.observers[:i], b.observers[i+1:]...)
			break
		}
	}
}

// notify dispatches notifications asynchronously (non-blocking).
func (b *Bus) notify(n Notification) {
	if b.observerPool == nil || b.closed.Load() {
		return
	}

	b.observersMu.RLock()
	if len(b.observers) == 0 {
		b.observersMu.RUnlock()
		return
	}
	observers := make([]Observer, len(b.observers))
	copy(observers, b.observers)
	b.observersMu.RUnlock()

	b.observerPool.Notify(n, observers)
}

// recordProcessingTime records processing time using exponential moving average.
func (b *Bus) recordProcessingTime(ns int64) {
	const alpha = 0.2
	current := b.metrics.processingNs.Load()
	if current == 0 {
		b.metrics.processingNs.Store(ns)
		return
	}
	newAvg := int64(float64(ns)*alpha + float64(current)*(1-alpha))
	b.metrics.processingNs.Store(newAvg)
}

// fail records an operational error that has no caller to return to.
func (b *Bus) fail(err error, stream, msg string) {
	b.metrics.errors.Add(1)
	b.logger.Warn().Err(err).Str("stream", stream).Msg(msg)
	b.notify(Notification{Type: Error, Stream: stream, Group: b.cfg.Consumer.Group, Err: err})
}
