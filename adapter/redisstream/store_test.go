package redisstream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klikkai/streambus"
)

// newTestStore starts a miniredis server and a store pointed at it.
func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := Defaults()
	cfg.Addr = mr.Addr()
	st, err := NewStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st, mr
}

func TestPing(t *testing.T) {
	st, mr := newTestStore(t)
	require.NoError(t, st.Ping(context.Background()))

	mr.Close()
	assert.Error(t, st.Ping(context.Background()))
}

func TestAppend_PipelinedWithTrim(t *testing.T) {
	ctx := context.Background()
	st, mr := newTestStore(t)

	ids, err := st.Append(ctx,
		streambus.AppendArgs{Stream: "a", Fields: map[string]string{"event": "1"}, Trim: streambus.Trim{Strategy: streambus.TrimExact, MaxLen: 1}},
		streambus.AppendArgs{Stream: "a", Fields: map[string]string{"event": "2"}, Trim: streambus.Trim{Strategy: streambus.TrimExact, MaxLen: 1}},
		streambus.AppendArgs{Stream: "b", Fields: map[string]string{"event": "3"}},
	)
	require.NoError(t, err)
	require.Len(t, ids, 3)
	for _, id := range ids {
		assert.NotEmpty(t, id)
	}

	entries, err := mr.Stream("a")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ids[1], entries[0].ID)
}

func TestCreateGroup_BusyGroupMapsToExists(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)

	require.NoError(t, st.CreateGroup(ctx, "s", "g", "$"))
	err := st.CreateGroup(ctx, "s", "g", "$")
	assert.ErrorIs(t, err, streambus.ErrGroupExists)
}

func TestReadGroup_NewPendingAckClaim(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)
	require.NoError(t, st.CreateGroup(ctx, "s", "g", "$"))

	ids, err := st.Append(ctx, streambus.AppendArgs{Stream: "s", Fields: map[string]string{"event": "x"}})
	require.NoError(t, err)

	got, err := st.ReadGroup(ctx, streambus.ReadArgs{Stream: "s", Group: "g", Consumer: "a", Start: ">", Count: 10})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ids[0], got[0].ID)
	assert.Equal(t, "x", got[0].Fields["event"])

	// Nothing new: non-blocking read returns immediately.
	got, err = st.ReadGroup(ctx, streambus.ReadArgs{Stream: "s", Group: "g", Consumer: "a", Start: ">", Count: 10})
	require.NoError(t, err)
	assert.Empty(t, got)

	pending, err := st.ReadGroup(ctx, streambus.ReadArgs{Stream: "s", Group: "g", Consumer: "a", Start: "0", Count: 10})
	require.NoError(t, err)
	require.Len(t, pending, 1)

	claimed, err := st.Claim(ctx, streambus.ClaimArgs{Stream: "s", Group: "g", Consumer: "b", IDs: ids})
	require.NoError(t, err)
	assert.Equal(t, ids, claimed)

	entries, err := st.PendingEntries(ctx, streambus.PendingArgs{Stream: "s", Group: "g"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b", entries[0].Consumer)

	require.NoError(t, st.Ack(ctx, "s", "g", ids...))
	sum, err := st.Pending(ctx, "s", "g")
	require.NoError(t, err)
	assert.Equal(t, int64(0), sum.Count)
}

func TestReadGroup_MissingGroupIsNotFound(t *testing.T) {
	st, _ := newTestStore(t)
	_, err := st.ReadGroup(context.Background(), streambus.ReadArgs{Stream: "s", Group: "g", Consumer: "a", Start: ">"})
	assert.ErrorIs(t, err, streambus.ErrNotFound)
}

func TestRangeDelete(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)

	ids, err := st.Append(ctx,
		streambus.AppendArgs{Stream: "s", Fields: map[string]string{"event": "1"}},
		streambus.AppendArgs{Stream: "s", Fields: map[string]string{"event": "2"}},
	)
	require.NoError(t, err)

	one, err := st.Range(ctx, "s", ids[1], ids[1])
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "2", one[0].Fields["event"])

	n, err := st.Delete(ctx, "s", ids[0])
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	all, err := st.Range(ctx, "s", "-", "+")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	none, err := st.Range(ctx, "missing", "-", "+")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestIncrCounter_SetsTTL(t *testing.T) {
	ctx := context.Background()
	st, mr := newTestStore(t)

	n, err := st.IncrCounter(ctx, "retry:k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = st.IncrCounter(ctx, "retry:k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, time.Minute, mr.TTL("retry:k"))

	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists("retry:k"))
	n, err = st.IncrCounter(ctx, "retry:k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestInfo(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)
	require.NoError(t, st.CreateGroup(ctx, "s", "g", "$"))
	_, err := st.Append(ctx, streambus.AppendArgs{Stream: "s", Fields: map[string]string{"event": "1"}})
	require.NoError(t, err)

	info, err := st.StreamInfo(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Length)

	groups, err := st.Groups(ctx, "s")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "g", groups[0].Name)

	_, err = st.StreamInfo(ctx, "missing")
	assert.ErrorIs(t, err, streambus.ErrNotFound)
}

func TestDedicated_IndependentClose(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)

	d, err := st.Dedicated()
	require.NoError(t, err)
	require.NoError(t, d.Ping(ctx))
	require.NoError(t, d.Close())

	assert.NoError(t, st.Ping(ctx))
}

func TestConfigFromMap_HostPort(t *testing.T) {
	c := ConfigFromMap(map[string]any{"host": "redis.local", "port": 6380, "db": 2, "dial_timeout": "1s"})
	assert.Equal(t, "redis.local:6380", c.Addr)
	assert.Equal(t, 2, c.DB)
	assert.Equal(t, time.Second, c.DialTimeout)

	c = ConfigFromMap(map[string]any{"addr": "x:1"})
	assert.Equal(t, "x:1", c.Addr)
}

// End to end: the bus over Redis Streams delivers, retries and dead-letters.
func TestBus_EndToEnd(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := streambus.DefaultConfig()
	cfg.Consumer.PollInterval = 20 * time.Millisecond
	cfg.Consumer.BlockTimeout = 20 * time.Millisecond
	cfg.Retry.InitialDelay = 10 * time.Millisecond
	cfg.Retry.MaxDelay = 20 * time.Millisecond
	cfg.Retry.MaxAttempts = 1

	rc := Defaults()
	rc.Addr = mr.Addr()
	bus, closeFn, err := streambus.New(func(b *streambus.BusBuilder) {
		b.WithConfig(cfg).WithStore(StoreName, rc.toMap())
	})
	require.NoError(t, err)
	defer func() { _ = closeFn() }()

	ctx := context.Background()
	require.NoError(t, bus.Connect(ctx))

	type order struct {
		ID int `json:"id"`
	}
	var (
		mu       sync.Mutex
		received []order
		attempts int
	)
	_, err = bus.Subscribe(ctx, "order.*", func(ctx context.Context, evt *streambus.Event) error {
		o, err := streambus.Decode[order](ctx, evt)
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		received = append(received, o)
		return nil
	})
	require.NoError(t, err)
	_, err = bus.Subscribe(ctx, "payment.failed", func(context.Context, *streambus.Event) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("card declined")
	})
	require.NoError(t, err)

	_, err = bus.Publish(ctx, "order.created", order{ID: 42})
	require.NoError(t, err)
	_, err = bus.Publish(ctx, "payment.failed", map[string]string{"order": "42"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 3*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, 42, received[0].ID)
	mu.Unlock()

	require.Eventually(t, func() bool {
		dl, err := bus.DeadLetters(ctx, "payment.failed")
		return err == nil && len(dl) == 1
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, 2, attempts)
	mu.Unlock()

	dl, err := bus.DeadLetters(ctx, "payment.failed")
	require.NoError(t, err)
	assert.Equal(t, "streambus:stream:payment", dl[0].OriginalStream)
	assert.Contains(t, dl[0].Error.Message, "card declined")

	require.Eventually(t, func() bool {
		p, err := bus.PendingMessages(ctx, "payment.failed")
		return err == nil && p.Count == 0
	}, 3*time.Second, 10*time.Millisecond)
}
