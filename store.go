package streambus

import (
	"context"
	"time"
)

// Entry is a single record read from a log partition.
type Entry struct {
	ID     string
	Fields map[string]string // nil when the entry was trimmed but is still pending
}

// TrimStrategy selects how a partition is bounded on append.
type TrimStrategy string

const (
	TrimApprox TrimStrategy = "approx" // MAXLEN ~ n
	TrimExact  TrimStrategy = "exact"  // MAXLEN = n
	TrimMinID  TrimStrategy = "minid"  // MINID ~ now-maxAge
	TrimNone   TrimStrategy = "none"
)

// Trim bounds a partition during append.
type Trim struct {
	Strategy TrimStrategy
	MaxLen   int64
	MinID    string
}

// AppendArgs describes one append.
type AppendArgs struct {
	Stream string
	Fields map[string]string
	Trim   Trim
}

// ReadArgs describes a consumer-group read.
// Start is ">" for never-delivered entries or an id (usually "0") to replay
// the consumer's pending entries. Block <= 0 returns immediately.
type ReadArgs struct {
	Stream   string
	Group    string
	Consumer string
	Start    string
	Count    int64
	Block    time.Duration
}

// ClaimArgs reassigns pending entries to Consumer.
type ClaimArgs struct {
	Stream   string
	Group    string
	Consumer string
	MinIdle  time.Duration
	IDs      []string
}

// PendingArgs filters the pending entries list.
type PendingArgs struct {
	Stream   string
	Group    string
	Consumer string // optional
	Idle     time.Duration
	Count    int64
}

// StreamInfo summarizes a partition.
type StreamInfo struct {
	Length          int64
	Groups          int64
	LastGeneratedID string
	FirstEntryID    string
	LastEntryID     string
}

// GroupInfo summarizes a consumer group.
type GroupInfo struct {
	Name            string
	Consumers       int64
	Pending         int64
	LastDeliveredID string
	Lag             int64
}

// PendingEntry is a delivered but unacknowledged entry.
type PendingEntry struct {
	ID            string
	Consumer      string
	Idle          time.Duration
	DeliveryCount int64
}

// PendingSummary describes a group's pending entries list.
type PendingSummary struct {
	Count     int64
	Lower     string
	Higher    string
	Consumers map[string]int64
	Entries   []PendingEntry
}

// LogStore is the Strategy interface for append-only logs with consumer groups.
// Implementations map errors for an existing group to ErrGroupExists and for a
// missing partition to ErrNotFound.
type LogStore interface {
	Ping(ctx context.Context) error
	// Append adds entries (pipelined when possible) and returns their ids in order.
	Append(ctx context.Context, entries ...AppendArgs) ([]string, error)
	// CreateGroup creates the group (and the partition) positioned at start.
	CreateGroup(ctx context.Context, stream, group, start string) error
	ReadGroup(ctx context.Context, args ReadArgs) ([]Entry, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
	Claim(ctx context.Context, args ClaimArgs) ([]string, error)
	// Range scans entries between start and end inclusive ("-" and "+" are open bounds).
	Range(ctx context.Context, stream, start, end string) ([]Entry, error)
	Delete(ctx context.Context, stream string, ids ...string) (int64, error)
	// IncrCounter atomically increments key and (re)sets its expiry to ttl.
	IncrCounter(ctx context.Context, key string, ttl time.Duration) (int64, error)
	StreamInfo(ctx context.Context, stream string) (StreamInfo, error)
	Groups(ctx context.Context, stream string) ([]GroupInfo, error)
	Pending(ctx context.Context, stream, group string) (PendingSummary, error)
	PendingEntries(ctx context.Context, args PendingArgs) ([]PendingEntry, error)
	// Dedicated returns a store backed by its own connection for blocking reads.
	// Closing it must not close the parent.
	Dedicated() (LogStore, error)
	Close() error
}
