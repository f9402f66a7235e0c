package streambus

import (
	"context"
	"errors"
	"sync"
	"time"
)

// streamWorker polls one stream key for every subscription mapped to it.
// It owns the key's in-flight records and retry timers.
type streamWorker struct {
	bus    *Bus
	key    string
	group  string
	reader LogStore

	inflight *taskSet
	retries  *taskSet

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	stopErr  error
}

func newStreamWorker(b *Bus, key string) (*streamWorker, error) {
	reader, err := b.store.Dedicated()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(b.baseCtx)
	return &streamWorker{
		bus:      b,
		key:      key,
		group:    b.cfg.Consumer.Group,
		reader:   reader,
		inflight: newTaskSet(true),
		retries:  newTaskSet(false),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}, nil
}

func (w *streamWorker) start() {
	go w.run()
}

func (w *streamWorker) run() {
	defer close(w.done)

	ticker := time.NewTicker(w.bus.cfg.Consumer.PollInterval)
	defer ticker.Stop()

	for {
		w.poll()
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// poll runs one iteration: replay this consumer's pending entries, then
// wait for new ones.
func (w *streamWorker) poll() {
	if w.ctx.Err() != nil {
		return
	}
	if w.bus.cfg.Consumer.ClaimStaleAfter > 0 {
		w.claimStale()
	}

	pending, err := w.readPending()
	if err != nil {
		w.iterationFailed(err)
		return
	}
	w.process(pending)

	if w.ctx.Err() != nil {
		return
	}
	fresh, err := w.reader.ReadGroup(w.ctx, ReadArgs{
		Stream:   w.key,
		Group:    w.group,
		Consumer: w.bus.consumer,
		Start:    ">",
		Count:    w.bus.cfg.Consumer.BatchSize,
		Block:    w.bus.cfg.Consumer.BlockTimeout,
	})
	if err != nil {
		w.iterationFailed(err)
		return
	}
	w.process(fresh)
}

// readPending pages through the consumer's pending entries list, skipping
// entries that are backing off or still being handled.
func (w *streamWorker) readPending() ([]Entry, error) {
	batch := w.bus.cfg.Consumer.BatchSize
	start := "0"
	var out []Entry
	for {
		entries, err := w.reader.ReadGroup(w.ctx, ReadArgs{
			Stream:   w.key,
			Group:    w.group,
			Consumer: w.bus.consumer,
			Start:    start,
			Count:    batch,
		})
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if w.retries.has(e.ID) || w.inflight.has(e.ID) {
				continue
			}
			out = append(out, e)
		}
		if int64(len(entries)) < batch || int64(len(out)) >= batch {
			return out, nil
		}
		start = entries[len(entries)-1].ID
	}
}

// claimStale takes over entries other consumers left pending too long.
func (w *streamWorker) claimStale() {
	idle := w.bus.cfg.Consumer.ClaimStaleAfter
	stale, err := w.bus.store.PendingEntries(w.ctx, PendingArgs{
		Stream: w.key,
		Group:  w.group,
		Idle:   idle,
		Count:  w.bus.cfg.Consumer.BatchSize,
	})
	if err != nil {
		w.iterationFailed(err)
		return
	}
	ids := make([]string, 0, len(stale))
	for _, p := range stale {
		if p.Consumer != w.bus.consumer {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return
	}
	if _, err := w.bus.store.Claim(w.ctx, ClaimArgs{
		Stream:   w.key,
		Group:    w.group,
		Consumer: w.bus.consumer,
		MinIdle:  idle,
		IDs:      ids,
	}); err != nil {
		w.bus.fail(newError(ErrClaim, "claim stale", w.key, err), w.key, "streambus: stale claim failed")
	}
}

func (w *streamWorker) iterationFailed(err error) {
	if w.ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return
	}
	w.bus.fail(err, w.key, "streambus: poll iteration failed")
}

// opCtx is used for acks and dead-lettering so that work finishing during
// shutdown is still recorded.
func (w *streamWorker) opCtx() context.Context {
	return context.WithoutCancel(w.ctx)
}

// stop cancels the loop and its timers, waits for it up to ctx and releases
// the dedicated connection.
func (w *streamWorker) stop(ctx context.Context) error {
	w.stopOnce.Do(func() {
		w.cancel()
		w.retries.stopAll()

		select {
		case <-w.done:
		case <-ctx.Done():
			w.stopErr = ctx.Err()
		}
		w.inflight.stopAll()
		if err := w.reader.Close(); err != nil {
			w.stopErr = errors.Join(w.stopErr, err)
		}
	})
	return w.stopErr
}
