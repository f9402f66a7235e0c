package streambus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
)

var instanceSeq atomic.Uint64

// ConsumerName derives a name unique to this bus instance: base-hostname-pid,
// suffixed with a sequence number for every additional bus in the process.
func ConsumerName(base string) string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "localhost"
	}
	name := fmt.Sprintf("%s-%s-%d", base, hostname, os.Getpid())
	if n := instanceSeq.Add(1); n > 1 {
		name = fmt.Sprintf("%s-%d", name, n)
	}
	return name
}

// ensureGroup creates the consumer group at the partition tail. A group that
// already exists is success.
func (b *Bus) ensureGroup(ctx context.Context, key string) error {
	err := b.store.CreateGroup(ctx, key, b.cfg.Consumer.Group, "$")
	if err == nil || errors.Is(err, ErrGroupExists) {
		return nil
	}
	return newError(ErrSubscriptionSetup, "create group", key, err)
}
