package streambus

import (
	"time"

	"golang.org/x/sync/errgroup"
)

// deliveryPolicy is the failure routing for one entry, merged over every
// subscription that matched it.
type deliveryPolicy struct {
	retry       bool
	maxRetries  int64
	ackTimeout  time.Duration
	parallelism int
}

func (w *streamWorker) policy(subs []*subscription) deliveryPolicy {
	p := deliveryPolicy{parallelism: 1}
	for _, s := range subs {
		if s.opts.retryOnError {
			if !p.retry || s.maxRetries(w.bus.cfg.Retry.MaxAttempts) > p.maxRetries {
				p.maxRetries = s.maxRetries(w.bus.cfg.Retry.MaxAttempts)
			}
			p.retry = true
		}
		if s.opts.ackTimeout > p.ackTimeout {
			p.ackTimeout = s.opts.ackTimeout
		}
		if s.opts.parallelism > p.parallelism {
			p.parallelism = s.opts.parallelism
		}
	}
	return p
}

// process handles a batch with bounded fan-out and waits for all of it.
func (w *streamWorker) process(entries []Entry) {
	if len(entries) == 0 {
		return
	}
	subs := w.bus.subscriptionsFor(w.key)
	if len(subs) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(w.policy(subs).parallelism)
	for _, e := range entries {
		if w.ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			w.handle(e, subs)
			return nil
		})
	}
	_ = g.Wait()
}

func (w *streamWorker) handle(e Entry, subs []*subscription) {
	b := w.bus
	b.metrics.consumed.Add(1)

	if e.Fields == nil {
		// Trimmed from the partition while still pending.
		b.logger.Warn().Str("stream", w.key).Str("message_id", e.ID).Msg("streambus: pending entry no longer in stream, acking")
		w.ack(e.ID)
		return
	}

	evt, err := decodeEvent(e)
	if err != nil {
		serr := newError(ErrSerialization, "decode", w.key, err)
		b.metrics.failed.Add(1)
		b.notify(Notification{Type: Failed, Stream: w.key, Group: w.group, MessageID: e.ID, Err: serr})
		w.retryOrDeadLetter(e, nil, w.policy(subs), serr)
		return
	}

	matched := make([]*subscription, 0, len(subs))
	for _, s := range subs {
		if Match(s.pattern, evt.Type) {
			matched = append(matched, s)
		}
	}
	if len(matched) == 0 {
		w.ack(e.ID)
		return
	}

	p := w.policy(matched)
	start := b.clock.Now()
	w.inflight.add(e.ID, p.ackTimeout, func() {
		b.notify(Notification{
			Type:      Timeout,
			Stream:    w.key,
			Group:     w.group,
			MessageID: e.ID,
			EventID:   evt.ID,
			EventType: evt.Type,
			Duration:  b.clock.Since(start),
		})
	})
	defer w.inflight.done(e.ID)

	hctx := injectDelivery(w.ctx, w.key, e.ID)
	var herr error
	for _, s := range matched {
		if err := s.handler(hctx, evt); err != nil && herr == nil {
			herr = err
		}
	}

	duration := b.clock.Since(start)
	b.recordProcessingTime(duration.Nanoseconds())

	if herr == nil {
		if w.ack(e.ID) {
			b.notify(Notification{
				Type:      Processed,
				Stream:    w.key,
				Group:     w.group,
				MessageID: e.ID,
				EventID:   evt.ID,
				EventType: evt.Type,
				Duration:  duration,
			})
		}
		return
	}

	herr = newError(ErrHandler, "handle", w.key, herr)
	b.metrics.failed.Add(1)
	b.notify(Notification{
		Type:      Failed,
		Stream:    w.key,
		Group:     w.group,
		MessageID: e.ID,
		EventID:   evt.ID,
		EventType: evt.Type,
		Duration:  duration,
		Err:       herr,
	})
	w.retryOrDeadLetter(e, evt, p, herr)
}

// ack acknowledges id; a failure leaves it pending for the next iteration.
func (w *streamWorker) ack(id string) bool {
	if err := w.bus.store.Ack(w.opCtx(), w.key, w.group, id); err != nil {
		w.bus.fail(err, w.key, "streambus: ack failed")
		return false
	}
	w.bus.metrics.acked.Add(1)
	return true
}
