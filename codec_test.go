package streambus

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

func TestDecode_UsesInjectedCodec(t *testing.T) {
	type item struct {
		Name string `json:"name"`
	}
	evt := &Event{Data: []byte(`{"name":"widget"}`)}

	ctx := InjectAll(context.Background(), JSONCodec{}, xlog.Default(), xclock.Default())
	got, err := Decode[item](ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, "widget", got.Name)

	c, ok := CodecFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "json", c.Name())
	_, ok = LoggerFromContext(ctx)
	assert.True(t, ok)
	_, ok = ClockFromContext(ctx)
	assert.True(t, ok)

	got, err = Decode[item](context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, "widget", got.Name)

	_, err = Decode[item](ctx, &Event{Data: []byte(`[1,2]`)})
	assert.ErrorIs(t, err, ErrSerialization)
}

func TestDeliveryContext(t *testing.T) {
	_, ok := StreamFromContext(context.Background())
	assert.False(t, ok)

	ctx := injectDelivery(context.Background(), "p:stream:order", "1-0")
	s, ok := StreamFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "p:stream:order", s)
	id, ok := MessageIDFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "1-0", id)
}

func TestRegistry(t *testing.T) {
	_, err := NewStore("no-such-store", nil)
	var unknown UnknownStoreError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "no-such-store", unknown.Name)

	assert.Error(t, RegisterStore("", func(map[string]any) (LogStore, error) { return nil, nil }))
	assert.Error(t, RegisterCodec("x", nil))

	require.NoError(t, RegisterCodec("json-test", func() Codec { return JSONCodec{} }))
	c, err := NewCodec("json-test")
	require.NoError(t, err)
	assert.Equal(t, "json", c.Name())

	_, err = NewCodec("msgpack")
	assert.Error(t, err)
}

func TestEventEnvelopeRoundTrip(t *testing.T) {
	fields, err := encodeEvent(&Event{ID: "e1", Type: "order.created", Metadata: map[string]string{}, Data: []byte(`{"id":1}`)}, false)
	require.NoError(t, err)

	evt, err := decodeEvent(Entry{ID: "1-0", Fields: fields})
	require.NoError(t, err)
	assert.Equal(t, "e1", evt.ID)
	assert.JSONEq(t, `{"id":1}`, string(evt.Data))

	_, err = decodeEvent(Entry{ID: "1-1", Fields: map[string]string{"other": "x"}})
	assert.Error(t, err)
	_, err = decodeEvent(Entry{ID: "1-2", Fields: map[string]string{"event": `{"id":"x"}`}})
	assert.Error(t, err, "type is required")
}

func TestEventEnvelope_NonJSONData(t *testing.T) {
	fields, err := encodeEvent(&Event{ID: "e2", Type: "note.added", Data: []byte("plain text")}, false)
	require.NoError(t, err)
	assert.Contains(t, fields[fieldEvent], `"dataBinary"`)

	evt, err := decodeEvent(Entry{ID: "1-0", Fields: fields})
	require.NoError(t, err)
	assert.Equal(t, "plain text", string(evt.Data))

	// Forced binary keeps the codec bytes exact even when they parse as JSON.
	fields, err = encodeEvent(&Event{ID: "e3", Type: "note.added", Data: []byte(`{"a":  1}`)}, true)
	require.NoError(t, err)
	evt, err = decodeEvent(Entry{ID: "1-1", Fields: fields})
	require.NoError(t, err)
	assert.Equal(t, `{"a":  1}`, string(evt.Data))

	raw, err := json.Marshal(Event{ID: "e4", Type: "note.added", Data: []byte{0xff, 0x00}})
	require.NoError(t, err)
	var back Event
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, []byte{0xff, 0x00}, []byte(back.Data))
	assert.Equal(t, "e4", back.ID)
}
