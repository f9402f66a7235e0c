package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klikkai/streambus"
	"github.com/klikkai/streambus/adapter/memory"
)

// memoryBus builds buses over views of one shared in-memory store so that
// separate commands see the same streams.
func memoryBus(st *memory.Store) func(*app, streambus.Config, ...streambus.Observer) (*streambus.Bus, error) {
	return func(a *app, cfg streambus.Config, obs ...streambus.Observer) (*streambus.Bus, error) {
		view, err := st.Dedicated()
		if err != nil {
			return nil, err
		}
		return streambus.NewBusBuilder().
			WithConfig(cfg).
			WithStoreInstance(view).
			WithLogger(a.logger).
			WithObserver(obs...).
			Build()
	}
}

func runCLI(t *testing.T, st *memory.Store, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCommand(&app{newBus: memoryBus(st)})
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func fastEnv(t *testing.T) {
	t.Setenv("STREAMBUS_POLL_INTERVAL", "10ms")
	t.Setenv("STREAMBUS_BLOCK_TIMEOUT", "10ms")
	t.Setenv("STREAMBUS_RETRY_INITIAL_DELAY", "5ms")
	t.Setenv("STREAMBUS_RETRY_MAX_DELAY", "20ms")
	t.Setenv("STREAMBUS_LOG_LEVEL", "error")
}

func TestPublishAndInfo(t *testing.T) {
	fastEnv(t)
	st := memory.NewStore(memory.Config{})

	out, err := runCLI(t, st, "publish", "order.created", `{"id":42}`, "--meta", "source=cli")
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(out))

	out, err = runCLI(t, st, "info", "order.created")
	require.NoError(t, err)
	assert.Contains(t, out, "Stream: streambus:stream:order")
	assert.Contains(t, out, "Length: 1")

	out, err = runCLI(t, st, "info", "payment.failed")
	require.NoError(t, err)
	assert.Contains(t, out, "Stream does not exist yet")
}

func TestPublish_RejectsBadInput(t *testing.T) {
	fastEnv(t)
	st := memory.NewStore(memory.Config{})

	_, err := runCLI(t, st, "publish", "order.created", `{not json`)
	assert.Error(t, err)

	_, err = runCLI(t, st, "publish", "order.created", `{}`, "--meta", "novalue")
	assert.Error(t, err)
}

func TestTail_PrintsEvents(t *testing.T) {
	fastEnv(t)
	st := memory.NewStore(memory.Config{})

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		var out bytes.Buffer
		cmd := newRootCommand(&app{newBus: memoryBus(st)})
		cmd.SetOut(&out)
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"tail", "order.*", "--max", "1"})
		err := cmd.ExecuteContext(context.Background())
		done <- result{out.String(), err}
	}()

	require.Eventually(t, func() bool {
		groups, err := st.Groups(context.Background(), "streambus:stream:order")
		return err == nil && len(groups) == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, err := runCLI(t, st, "publish", "order.created", `{"id":7}`)
	require.NoError(t, err)

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Contains(t, r.out, `"type":"order.created"`)
		assert.Contains(t, r.out, `"data":{"id":7}`)
	case <-time.After(3 * time.Second):
		t.Fatal("tail did not exit after --max events")
	}
}

func TestDLQ_ListAndReprocess(t *testing.T) {
	fastEnv(t)
	st := memory.NewStore(memory.Config{})

	out, err := runCLI(t, st, "dlq", "list", "payment.failed")
	require.NoError(t, err)
	assert.Contains(t, out, "No dead letters")

	// Produce a dead letter with a bus that always fails.
	cfg := streambus.DefaultConfig()
	cfg.Consumer.PollInterval = 10 * time.Millisecond
	cfg.Consumer.BlockTimeout = 10 * time.Millisecond
	view, err := st.Dedicated()
	require.NoError(t, err)
	bus, err := streambus.NewBusBuilder().WithConfig(cfg).WithStoreInstance(view).Build()
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, bus.Connect(ctx))
	_, err = bus.Subscribe(ctx, "payment.failed", func(context.Context, *streambus.Event) error {
		return errors.New("card declined")
	}, streambus.WithoutRetry())
	require.NoError(t, err)
	_, err = bus.Publish(ctx, "payment.failed", map[string]int{"order": 1})
	require.NoError(t, err)

	var records []streambus.DeadLetterRecord
	require.Eventually(t, func() bool {
		records, err = bus.DeadLetters(ctx, "payment.failed")
		return err == nil && len(records) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, bus.Disconnect(ctx))

	out, err = runCLI(t, st, "dlq", "list", "payment.failed")
	require.NoError(t, err)
	assert.Contains(t, out, records[0].ID)
	assert.Contains(t, out, "card declined")

	out, err = runCLI(t, st, "dlq", "reprocess", "payment.failed", records[0].ID)
	require.NoError(t, err)
	assert.Contains(t, out, "Reprocessed "+records[0].ID)

	_, err = runCLI(t, st, "dlq", "reprocess", "payment.failed", records[0].ID)
	assert.ErrorIs(t, err, streambus.ErrNotFound)
}

func TestHealth(t *testing.T) {
	fastEnv(t)
	st := memory.NewStore(memory.Config{})

	out, err := runCLI(t, st, "health")
	require.NoError(t, err)
	assert.Contains(t, out, "Status: healthy")
	assert.Contains(t, out, "Connected: true")
}

func TestParseMeta(t *testing.T) {
	m, err := parseMeta([]string{"a=1", "b=x=y"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "x=y"}, m)

	m, err = parseMeta(nil)
	require.NoError(t, err)
	assert.Nil(t, m)
}
