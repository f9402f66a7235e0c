package streambus

import (
	"context"
)

// Handler processes a single event. Return an error to trigger retry or dead-lettering.
type Handler func(ctx context.Context, evt *Event) error

// Middleware composes processing concerns around a Handler.
type Middleware func(next Handler) Handler

// Codec is the Strategy for encoding event data. JSON output is embedded in
// the envelope as is; output of any other codec is carried base64 encoded.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// Observer receives bus notifications. Implementations should be non-blocking.
type Observer interface {
	OnNotification(n Notification)
}

// HealthChecker provides health status for production monitoring.
type HealthChecker interface {
	HealthCheck(ctx context.Context) HealthStatus
}

// API represents the complete bus surface.
type API interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Publish(ctx context.Context, eventType string, data any, opts ...PublishOption) (string, error)
	PublishBatch(ctx context.Context, events ...PublishEvent) ([]string, error)
	Subscribe(ctx context.Context, pattern string, handler Handler, opts ...SubscribeOption) (string, error)
	Unsubscribe(ctx context.Context, subscriptionID string) error
	StreamInfo(ctx context.Context, pattern string) (StreamInfo, error)
	ConsumerGroups(ctx context.Context, pattern string) ([]GroupInfo, error)
	PendingMessages(ctx context.Context, pattern string) (PendingSummary, error)
	DeadLetters(ctx context.Context, pattern string) ([]DeadLetterRecord, error)
	ReprocessDeadLetter(ctx context.Context, pattern, messageID string) (string, error)
	DeadLettersOfStream(ctx context.Context, streamKey string) ([]DeadLetterRecord, error)
	ReprocessDeadLetterOfStream(ctx context.Context, streamKey, messageID string) (string, error)
	HealthCheck(ctx context.Context) HealthStatus
	GetMetrics() Metrics
	AddObserver(obs Observer)
	RemoveObserver(obs Observer)
}

var (
	_ API           = (*Bus)(nil)
	_ HealthChecker = (*Bus)(nil)
)
