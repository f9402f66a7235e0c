package streambus

// retryOrDeadLetter counts the failed attempt and either schedules a deferred
// claim of the entry or moves it to the dead-letter partition.
func (w *streamWorker) retryOrDeadLetter(e Entry, evt *Event, p deliveryPolicy, cause error) {
	if !p.retry {
		w.deadLetter(e, evt, cause)
		return
	}

	b := w.bus
	attempt, err := b.store.IncrCounter(w.opCtx(), retryCounterKey(b.cfg.Store.KeyPrefix, w.key, e.ID), b.cfg.Retry.CounterTTL)
	if err != nil {
		// The entry stays pending and is replayed on the next iteration.
		b.fail(err, w.key, "streambus: retry counter failed")
		return
	}
	if attempt > p.maxRetries {
		w.deadLetter(e, evt, cause)
		return
	}

	delay := b.cfg.Retry.Backoff(attempt)
	if !w.retries.add(e.ID, delay, func() { w.claim(e.ID) }) {
		return
	}
	b.metrics.retried.Add(1)

	n := Notification{
		Type:      RetryScheduled,
		Stream:    w.key,
		Group:     w.group,
		MessageID: e.ID,
		Attempt:   attempt,
		Duration:  delay,
		Err:       cause,
	}
	if evt != nil {
		n.EventID, n.EventType = evt.ID, evt.Type
	}
	b.notify(n)
}

// claim reassigns the entry to this consumer so the next pending read
// redelivers it. Failures are reported only.
func (w *streamWorker) claim(id string) {
	_, err := w.bus.store.Claim(w.ctx, ClaimArgs{
		Stream:   w.key,
		Group:    w.group,
		Consumer: w.bus.consumer,
		IDs:      []string{id},
	})
	if err != nil && w.ctx.Err() == nil {
		w.bus.fail(newError(ErrClaim, "claim", w.key, err), w.key, "streambus: retry claim failed")
	}
}
