package streambus

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// TimeoutMiddleware enforces a maximum processing time for a handler.
// When exceeded, it returns context.DeadlineExceeded and the entry goes
// through retry or dead-lettering like any other failure.
func TimeoutMiddleware(d time.Duration) Middleware {
	if d <= 0 {
		return func(next Handler) Handler { return next }
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, evt *Event) error {
			tctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			errCh := make(chan error, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						errCh <- &PanicError{Value: r, Stack: debug.Stack()}
					}
				}()
				errCh <- next(tctx, evt)
			}()

			select {
			case <-tctx.Done():
				return tctx.Err()
			case err := <-errCh:
				return err
			}
		}
	}
}

// RecoveryMiddleware converts handler panics into *PanicError.
func RecoveryMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, evt *Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &PanicError{Value: r, Stack: debug.Stack()}
				}
			}()
			return next(ctx, evt)
		}
	}
}

// LoggingMiddleware logs each handler run at debug level with its stream,
// message id and duration, timed with the clock from ctx. A nil l uses the
// bus logger from ctx.
func LoggingMiddleware(l *xlog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, evt *Event) error {
			lg := l
			if lg == nil {
				lg, _ = LoggerFromContext(ctx)
			}
			if lg == nil {
				return next(ctx, evt)
			}
			stream, _ := StreamFromContext(ctx)
			id, _ := MessageIDFromContext(ctx)
			clock, ok := ClockFromContext(ctx)
			if !ok {
				clock = xclock.Default()
			}

			start := clock.Now()
			err := next(ctx, evt)
			lg.Debug().
				Str("stream", stream).
				Str("message_id", id).
				Str("event_type", evt.Type).
				Dur("dur", clock.Since(start)).
				Err(err).
				Msg("streambus: handler done")
			return err
		}
	}
}

// Chain composes middlewares around a handler in order.
func Chain(h Handler, mws ...Middleware) Handler {
	if len(mws) == 0 {
		return h
	}
	wrapped := h
	// Apply in reverse so that first middleware wraps last.
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		wrapped = mws[i](wrapped)
	}
	return wrapped
}
