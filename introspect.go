package streambus

import (
	"context"
	"fmt"
)

// StreamInfo describes the partition pattern maps to.
func (b *Bus) StreamInfo(ctx context.Context, pattern string) (StreamInfo, error) {
	key := b.StreamKey(pattern)
	info, err := b.store.StreamInfo(ctx, key)
	if err != nil {
		return StreamInfo{}, fmt.Errorf("streambus: stream info %s: %w", key, err)
	}
	return info, nil
}

// ConsumerGroups lists the consumer groups of the partition pattern maps to.
func (b *Bus) ConsumerGroups(ctx context.Context, pattern string) ([]GroupInfo, error) {
	key := b.StreamKey(pattern)
	groups, err := b.store.Groups(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("streambus: consumer groups %s: %w", key, err)
	}
	return groups, nil
}

// PendingMessages summarizes the bus group's pending entries for pattern,
// including up to one batch of individual entries.
func (b *Bus) PendingMessages(ctx context.Context, pattern string) (PendingSummary, error) {
	key := b.StreamKey(pattern)
	group := b.cfg.Consumer.Group
	sum, err := b.store.Pending(ctx, key, group)
	if err != nil {
		return PendingSummary{}, fmt.Errorf("streambus: pending %s: %w", key, err)
	}
	if sum.Count == 0 {
		return sum, nil
	}
	entries, err := b.store.PendingEntries(ctx, PendingArgs{
		Stream: key,
		Group:  group,
		Count:  b.cfg.Consumer.BatchSize,
	})
	if err != nil {
		return PendingSummary{}, fmt.Errorf("streambus: pending entries %s: %w", key, err)
	}
	sum.Entries = entries
	return sum, nil
}

// HealthCheck reports connectivity, subscription counts and metrics.
// Degraded when more than 5% of handled or published events errored.
func (b *Bus) HealthCheck(ctx context.Context) HealthStatus {
	b.mu.RLock()
	subs, consumers, processing := len(b.subs), len(b.workers), 0
	for _, w := range b.workers {
		processing += w.inflight.len()
	}
	b.mu.RUnlock()

	hs := HealthStatus{
		Status:           "healthy",
		Connected:        b.connected.Load(),
		Subscriptions:    subs,
		Consumers:        consumers,
		ProcessingEvents: processing,
		Metrics:          b.GetMetrics(),
		Timestamp:        b.clock.Now(),
	}

	switch {
	case b.closed.Load():
		hs.Status, hs.Message = "unhealthy", "bus is closed"
		return hs
	case !hs.Connected:
		hs.Status, hs.Message = "unhealthy", "bus is not connected"
		return hs
	}
	if err := b.store.Ping(ctx); err != nil {
		hs.Connected = false
		hs.Status, hs.Message = "unhealthy", err.Error()
		return hs
	}

	total := hs.Metrics.Published + hs.Metrics.Consumed
	if hs.Metrics.Errors > 0 && total > 0 {
		if float64(hs.Metrics.Errors)/float64(total) > 0.05 {
			hs.Status = "degraded"
			hs.Message = fmt.Sprintf("error rate %.1f%%", 100*float64(hs.Metrics.Errors)/float64(total))
		}
	}
	return hs
}
