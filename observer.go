package streambus

import (
	"github.com/trickstertwo/xlog"
)

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(n Notification)

func (f ObserverFunc) OnNotification(n Notification) { f(n) }

// LoggingObserver is an Adapter that emits notifications via xlog.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnNotification(n Notification) {
	if o.Logger == nil {
		return
	}
	ev := o.Logger.With(
		xlog.Str("type", string(n.Type)),
		xlog.Str("stream", n.Stream),
		xlog.Str("group", n.Group),
		xlog.Str("message_id", n.MessageID),
		xlog.Str("event_type", n.EventType),
	)
	if n.Duration > 0 {
		ev = ev.With(xlog.Dur("duration", n.Duration))
	}
	switch n.Type {
	case Failed, Timeout, DeadLettered, Error:
		ev.Warn().Err(n.Err).Msg("streambus notification")
	default:
		ev.Debug().Msg("streambus notification")
	}
}
