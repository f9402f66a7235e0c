package prom

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klikkai/streambus"
)

func TestObserver_CountsByTypeAndStream(t *testing.T) {
	reg := prometheus.NewRegistry()
	o := New(reg, "streambus")

	o.OnNotification(streambus.Notification{Type: streambus.Published, Stream: "s:order", Duration: time.Millisecond})
	o.OnNotification(streambus.Notification{Type: streambus.Processed, Stream: "s:order", Duration: 2 * time.Millisecond})
	o.OnNotification(streambus.Notification{Type: streambus.Processed, Stream: "s:order", Duration: 3 * time.Millisecond})
	o.OnNotification(streambus.Notification{Type: streambus.Failed, Stream: "s:pay", Err: errors.New("x")})
	o.OnNotification(streambus.Notification{Type: streambus.RetryScheduled, Stream: "s:pay", Attempt: 2})

	assert.Equal(t, 2.0, testutil.ToFloat64(o.notifications.WithLabelValues("processed", "s:order")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.notifications.WithLabelValues("failed", "s:pay")))
	assert.Equal(t, 1, testutil.CollectAndCount(o.publish))
	assert.Equal(t, 2, testutil.CollectAndCount(o.processing))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(mfs))
	for _, mf := range mfs {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "streambus_notifications_total")
	assert.Contains(t, names, "streambus_retry_attempt")
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg, "dup")
	assert.Panics(t, func() { New(reg, "dup") })
}
