package streambus

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
)

type subscribeOptions struct {
	retryOnError  bool
	maxRetries    int64
	hasMaxRetries bool
	ackTimeout    time.Duration
	parallelism   int
	stream        string
}

// SubscribeOption customizes a subscription.
type SubscribeOption func(*subscribeOptions)

// WithMaxRetries overrides Retry.MaxAttempts for this subscription.
func WithMaxRetries(n int64) SubscribeOption {
	return func(o *subscribeOptions) {
		if n >= 0 {
			o.maxRetries = n
			o.hasMaxRetries = true
		}
	}
}

// WithoutRetry sends failed entries straight to the dead-letter partition.
func WithoutRetry() SubscribeOption {
	return func(o *subscribeOptions) { o.retryOnError = false }
}

// WithAckTimeout emits a Timeout notification when handling takes longer than d.
func WithAckTimeout(d time.Duration) SubscribeOption {
	return func(o *subscribeOptions) { o.ackTimeout = d }
}

// WithParallelism lets up to n entries of one batch be handled concurrently.
func WithParallelism(n int) SubscribeOption {
	return func(o *subscribeOptions) {
		if n > 0 {
			o.parallelism = n
		}
	}
}

// WithSubscriptionStream reads from an explicit stream key instead of the
// derived one. Its dead letters go to <streamKey>:dlq; inspect them with
// DeadLettersOfStream and ReprocessDeadLetterOfStream.
func WithSubscriptionStream(streamKey string) SubscribeOption {
	return func(o *subscribeOptions) { o.stream = streamKey }
}

type subscription struct {
	seq     uint64
	id      string
	pattern string
	key     string
	handler Handler
	opts    subscribeOptions
}

func (s *subscription) maxRetries(def int64) int64 {
	if s.opts.hasMaxRetries {
		return s.opts.maxRetries
	}
	return def
}

// Subscribe registers handler for events matching pattern and starts (or
// reuses) the worker polling the pattern's stream key.
func (b *Bus) Subscribe(ctx context.Context, pattern string, handler Handler, opts ...SubscribeOption) (string, error) {
	if !b.connected.Load() {
		return "", newError(ErrConnection, "subscribe", "", ErrNotConnected)
	}
	if handler == nil {
		return "", ErrInvalidSubscription
	}
	if err := ValidatePattern(pattern); err != nil {
		return "", err
	}

	so := subscribeOptions{retryOnError: true, parallelism: 1}
	for _, o := range opts {
		if o != nil {
			o(&so)
		}
	}
	key := so.stream
	if key == "" {
		key = b.StreamKey(pattern)
	}

	if err := b.ensureGroup(ctx, key); err != nil {
		b.metrics.errors.Add(1)
		return "", err
	}

	// Recovery is always outermost.
	wh := RecoveryMiddleware()(Chain(handler, b.middlewares...))
	sub := &subscription{
		id:      uuid.NewString(),
		pattern: pattern,
		key:     key,
		handler: wh,
		opts:    so,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected.Load() {
		return "", newError(ErrConnection, "subscribe", key, ErrNotConnected)
	}
	if _, ok := b.workers[key]; !ok {
		w, err := newStreamWorker(b, key)
		if err != nil {
			b.metrics.errors.Add(1)
			return "", newError(ErrSubscriptionSetup, "dedicated connection", key, err)
		}
		b.workers[key] = w
		w.start()
	}
	b.subSeq++
	sub.seq = b.subSeq
	b.subs[sub.id] = sub

	b.logger.Info().Str("subscription", sub.id).Str("pattern", pattern).Str("stream", key).Msg("streambus: subscribed")
	return sub.id, nil
}

// Unsubscribe removes a subscription. The key's worker stops once no
// subscription maps to it.
func (b *Bus) Unsubscribe(ctx context.Context, subscriptionID string) error {
	b.mu.Lock()
	sub, ok := b.subs[subscriptionID]
	if !ok {
		b.mu.Unlock()
		return ErrSubscriptionNotFound
	}
	delete(b.subs, subscriptionID)

	var w *streamWorker
	if !b.keyInUseLocked(sub.key) {
		w = b.workers[sub.key]
		delete(b.workers, sub.key)
	}
	b.mu.Unlock()

	b.logger.Info().Str("subscription", sub.id).Str("stream", sub.key).Msg("streambus: unsubscribed")
	if w == nil {
		return nil
	}
	return w.stop(ctx)
}

func (b *Bus) keyInUseLocked(key string) bool {
	for _, s := range b.subs {
		if s.key == key {
			return true
		}
	}
	return false
}

// subscriptionsFor snapshots the subscriptions mapped to key.
func (b *Bus) subscriptionsFor(key string) []*subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.key == key {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(x, y *subscription) int { return cmp.Compare(x.seq, y.seq) })
	return out
}
