package streambus

import (
	"time"
)

// NotificationType enumerates bus lifecycle notifications for observers.
type NotificationType string

const (
	Connected      NotificationType = "connected"
	Disconnected   NotificationType = "disconnected"
	Published      NotificationType = "published"
	Processed      NotificationType = "processed"
	Failed         NotificationType = "failed"
	Timeout        NotificationType = "timeout"
	RetryScheduled NotificationType = "retry_scheduled"
	DeadLettered   NotificationType = "dead_lettered"
	Reprocessed    NotificationType = "reprocessed"
	Error          NotificationType = "error"
)

// Notification carries best-effort telemetry for observers.
type Notification struct {
	Type      NotificationType
	Stream    string
	Group     string
	MessageID string
	EventID   string
	EventType string
	Attempt   int64
	Duration  time.Duration
	Err       error

	// Internal: attached for async dispatch
	observers []Observer
}

// PoolStats returns telemetry about the observer pool.
type PoolStats struct {
	Dropped      uint64 // Notifications dropped due to full buffer
	Processed    uint64 // Notifications successfully dispatched
	ActiveEvents int    // Current queue depth
	Workers      int    // Number of dispatch goroutines
	BufferSize   int    // Channel capacity
}

// Metrics defines in-process counters for the bus.
type Metrics struct {
	Published           uint64
	Consumed            uint64
	Acked               uint64
	Failed              uint64
	Retried             uint64
	DeadLettered        uint64
	Errors              uint64
	NotificationsLost   uint64
	AvgProcessingTimeMs float64
}

// HealthStatus reports bus health for probes and tooling.
type HealthStatus struct {
	Status           string // "healthy", "degraded", "unhealthy"
	Connected        bool
	Subscriptions    int
	Consumers        int
	ProcessingEvents int
	Metrics          Metrics
	Timestamp        time.Time
	Message          string
}
