package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klikkai/streambus"
)

func appendOne(t *testing.T, s *Store, stream, v string) string {
	t.Helper()
	ids, err := s.Append(context.Background(), streambus.AppendArgs{Stream: stream, Fields: map[string]string{"v": v}})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	return ids[0]
}

func TestCreateGroup_AtTailAndExisting(t *testing.T) {
	ctx := context.Background()
	s := NewStore(Config{})
	appendOne(t, s, "s", "before")

	require.NoError(t, s.CreateGroup(ctx, "s", "g", "$"))
	assert.ErrorIs(t, s.CreateGroup(ctx, "s", "g", "$"), streambus.ErrGroupExists)

	got, err := s.ReadGroup(ctx, streambus.ReadArgs{Stream: "s", Group: "g", Consumer: "c", Start: ">", Count: 10})
	require.NoError(t, err)
	assert.Empty(t, got, "group created at tail must not see older entries")

	id := appendOne(t, s, "s", "after")
	got, err = s.ReadGroup(ctx, streambus.ReadArgs{Stream: "s", Group: "g", Consumer: "c", Start: ">", Count: 10})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	assert.Equal(t, "after", got[0].Fields["v"])
}

func TestCreateGroup_MakesStream(t *testing.T) {
	ctx := context.Background()
	s := NewStore(Config{})
	require.NoError(t, s.CreateGroup(ctx, "fresh", "g", "$"))

	info, err := s.StreamInfo(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Length)
	assert.Equal(t, int64(1), info.Groups)
}

func TestReadGroup_PendingReplayAndAck(t *testing.T) {
	ctx := context.Background()
	s := NewStore(Config{})
	require.NoError(t, s.CreateGroup(ctx, "s", "g", "$"))
	id1 := appendOne(t, s, "s", "1")
	id2 := appendOne(t, s, "s", "2")

	got, err := s.ReadGroup(ctx, streambus.ReadArgs{Stream: "s", Group: "g", Consumer: "a", Start: ">", Count: 10})
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Another consumer sees neither the new nor a's pending entries.
	other, err := s.ReadGroup(ctx, streambus.ReadArgs{Stream: "s", Group: "g", Consumer: "b", Start: "0", Count: 10})
	require.NoError(t, err)
	assert.Empty(t, other)

	pending, err := s.ReadGroup(ctx, streambus.ReadArgs{Stream: "s", Group: "g", Consumer: "a", Start: "0", Count: 10})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, id1, pending[0].ID)

	after, err := s.ReadGroup(ctx, streambus.ReadArgs{Stream: "s", Group: "g", Consumer: "a", Start: id1, Count: 10})
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, id2, after[0].ID)

	require.NoError(t, s.Ack(ctx, "s", "g", id1))
	sum, err := s.Pending(ctx, "s", "g")
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Count)
	assert.Equal(t, id2, sum.Lower)
	assert.Equal(t, int64(1), sum.Consumers["a"])
}

func TestReadGroup_BlocksUntilAppend(t *testing.T) {
	ctx := context.Background()
	s := NewStore(Config{})
	require.NoError(t, s.CreateGroup(ctx, "s", "g", "$"))

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = s.Append(context.Background(), streambus.AppendArgs{Stream: "s", Fields: map[string]string{"v": "late"}})
	}()

	got, err := s.ReadGroup(ctx, streambus.ReadArgs{Stream: "s", Group: "g", Consumer: "a", Start: ">", Count: 10, Block: 2 * time.Second})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "late", got[0].Fields["v"])
}

func TestReadGroup_BlockTimeoutReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	s := NewStore(Config{})
	require.NoError(t, s.CreateGroup(ctx, "s", "g", "$"))

	start := time.Now()
	got, err := s.ReadGroup(ctx, streambus.ReadArgs{Stream: "s", Group: "g", Consumer: "a", Start: ">", Count: 10, Block: 30 * time.Millisecond})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestReadGroup_UnknownGroup(t *testing.T) {
	s := NewStore(Config{})
	_, err := s.ReadGroup(context.Background(), streambus.ReadArgs{Stream: "nope", Group: "g", Consumer: "a", Start: ">"})
	assert.ErrorIs(t, err, streambus.ErrNotFound)
}

func TestClaim_MovesOwnership(t *testing.T) {
	ctx := context.Background()
	s := NewStore(Config{})
	require.NoError(t, s.CreateGroup(ctx, "s", "g", "$"))
	id := appendOne(t, s, "s", "x")
	_, err := s.ReadGroup(ctx, streambus.ReadArgs{Stream: "s", Group: "g", Consumer: "a", Start: ">", Count: 1})
	require.NoError(t, err)

	claimed, err := s.Claim(ctx, streambus.ClaimArgs{Stream: "s", Group: "g", Consumer: "b", MinIdle: time.Hour, IDs: []string{id}})
	require.NoError(t, err)
	assert.Empty(t, claimed, "entry is not idle long enough")

	claimed, err = s.Claim(ctx, streambus.ClaimArgs{Stream: "s", Group: "g", Consumer: "b", IDs: []string{id}})
	require.NoError(t, err)
	assert.Equal(t, []string{id}, claimed)

	entries, err := s.PendingEntries(ctx, streambus.PendingArgs{Stream: "s", Group: "g"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b", entries[0].Consumer)
	assert.Equal(t, int64(2), entries[0].DeliveryCount)
}

func TestAppend_Trim(t *testing.T) {
	ctx := context.Background()
	s := NewStore(Config{})
	for i := 0; i < 5; i++ {
		_, err := s.Append(ctx, streambus.AppendArgs{
			Stream: "s",
			Fields: map[string]string{"v": "x"},
			Trim:   streambus.Trim{Strategy: streambus.TrimApprox, MaxLen: 3},
		})
		require.NoError(t, err)
	}
	info, err := s.StreamInfo(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.Length)
}

func TestPendingEntry_TrimmedHasNilFields(t *testing.T) {
	ctx := context.Background()
	s := NewStore(Config{})
	require.NoError(t, s.CreateGroup(ctx, "s", "g", "$"))
	id := appendOne(t, s, "s", "x")
	_, err := s.ReadGroup(ctx, streambus.ReadArgs{Stream: "s", Group: "g", Consumer: "a", Start: ">", Count: 1})
	require.NoError(t, err)
	n, err := s.Delete(ctx, "s", id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.ReadGroup(ctx, streambus.ReadArgs{Stream: "s", Group: "g", Consumer: "a", Start: "0", Count: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Fields)
}

func TestRange_Bounds(t *testing.T) {
	ctx := context.Background()
	s := NewStore(Config{})
	appendOne(t, s, "s", "1")
	id2 := appendOne(t, s, "s", "2")

	all, err := s.Range(ctx, "s", "-", "+")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	one, err := s.Range(ctx, "s", id2, id2)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "2", one[0].Fields["v"])

	none, err := s.Range(ctx, "missing", "-", "+")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = s.Range(ctx, "s", "bogus", "+")
	assert.Error(t, err)
}

func TestIncrCounter_ExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	s := NewStore(Config{})

	n, err := s.IncrCounter(ctx, "k", 30*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = s.IncrCounter(ctx, "k", 30*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	time.Sleep(50 * time.Millisecond)
	n, err = s.IncrCounter(ctx, "k", 30*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "counter resets once expired")
}

func TestGroups_Lag(t *testing.T) {
	ctx := context.Background()
	s := NewStore(Config{})
	require.NoError(t, s.CreateGroup(ctx, "s", "g", "$"))
	appendOne(t, s, "s", "1")
	appendOne(t, s, "s", "2")

	groups, err := s.Groups(ctx, "s")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "g", groups[0].Name)
	assert.Equal(t, int64(2), groups[0].Lag)

	_, err = s.Groups(ctx, "missing")
	assert.ErrorIs(t, err, streambus.ErrNotFound)
}

func TestDedicated_SharesStateClosesIndependently(t *testing.T) {
	ctx := context.Background()
	s := NewStore(Config{})
	d, err := s.Dedicated()
	require.NoError(t, err)

	require.NoError(t, s.CreateGroup(ctx, "s", "g", "$"))
	appendOne(t, s, "s", "x")

	got, err := d.ReadGroup(ctx, streambus.ReadArgs{Stream: "s", Group: "g", Consumer: "a", Start: ">", Count: 1})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	require.NoError(t, d.Close())
	assert.NoError(t, s.Ping(ctx))
	assert.ErrorIs(t, d.Ping(ctx), ErrClosed)
}

func TestInjectFault_OneShot(t *testing.T) {
	ctx := context.Background()
	s := NewStore(Config{})
	boom := errors.New("boom")
	s.InjectFault(OpAppend, boom)

	_, err := s.Append(ctx, streambus.AppendArgs{Stream: "s", Fields: map[string]string{"v": "x"}})
	assert.ErrorIs(t, err, boom)
	_, err = s.Append(ctx, streambus.AppendArgs{Stream: "s", Fields: map[string]string{"v": "x"}})
	assert.NoError(t, err)
}

func TestRegistry_MemoryStore(t *testing.T) {
	st, err := streambus.NewStore(StoreName, map[string]any{"max_block": "10ms"})
	require.NoError(t, err)
	require.NoError(t, st.Ping(context.Background()))
	require.NoError(t, st.Close())
}
