package streambus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ObserverPool dispatches notifications to observers off the delivery path.
// When the buffer is full notifications are dropped and counted.
type ObserverPool struct {
	ch        chan *Notification
	workers   int
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closed    atomic.Bool
	dropped   atomic.Uint64
	processed atomic.Uint64
}

// NewObserverPool creates a pool with the given worker count and buffer size.
func NewObserverPool(ctx context.Context, workers, bufferSize int) *ObserverPool {
	if workers < 1 {
		workers = 4
	}
	if bufferSize < 1 {
		bufferSize = 1000
	}

	poolCtx, cancel := context.WithCancel(ctx)
	op := &ObserverPool{
		ch:      make(chan *Notification, bufferSize),
		workers: workers,
		ctx:     poolCtx,
		cancel:  cancel,
	}

	for i := 0; i < workers; i++ {
		op.wg.Add(1)
		go op.worker()
	}

	return op
}

// Notify queues n for the given observers without blocking.
func (op *ObserverPool) Notify(n Notification, observers []Observer) {
	if len(observers) == 0 || op.closed.Load() {
		return
	}
	n.observers = observers

	select {
	case op.ch <- &n:
	default:
		op.dropped.Add(1)
	}
}

func (op *ObserverPool) worker() {
	defer op.wg.Done()
	for {
		select {
		case <-op.ctx.Done():
			for {
				select {
				case n := <-op.ch:
					op.dispatch(n)
				default:
					return
				}
			}
		case n := <-op.ch:
			op.dispatch(n)
		}
	}
}

// dispatch calls all observers for a single notification, tolerating panics.
func (op *ObserverPool) dispatch(n *Notification) {
	if n == nil {
		return
	}
	for _, obs := range n.observers {
		if obs == nil {
			continue
		}
		func() {
			defer func() { _ = recover() }()
			obs.OnNotification(*n)
		}()
	}
	op.processed.Add(1)
}

// Close stops the workers after draining queued notifications, waiting up to timeout.
func (op *ObserverPool) Close(timeout time.Duration) error {
	if op.closed.Swap(true) {
		return nil
	}

	op.cancel()

	done := make(chan struct{})
	go func() {
		op.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrObserverPoolShutdown
	}
}

// Stats returns current pool statistics.
func (op *ObserverPool) Stats() PoolStats {
	return PoolStats{
		Dropped:      op.dropped.Load(),
		Processed:    op.processed.Load(),
		ActiveEvents: len(op.ch),
		Workers:      op.workers,
		BufferSize:   cap(op.ch),
	}
}
