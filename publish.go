package streambus

import (
	"context"

	"github.com/google/uuid"
)

// Publish encodes data into an Event and appends it to the partition derived
// from eventType (and to the firehose partition). Returns the event id.
func (b *Bus) Publish(ctx context.Context, eventType string, data any, opts ...PublishOption) (string, error) {
	ids, err := b.PublishBatch(ctx, PublishEvent{Type: eventType, Data: data, Options: opts})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// PublishBatch publishes several events in one pipelined round trip.
// Every event is validated and encoded before anything is appended.
func (b *Bus) PublishBatch(ctx context.Context, events ...PublishEvent) ([]string, error) {
	if !b.connected.Load() {
		return nil, newError(ErrConnection, "publish", "", ErrNotConnected)
	}
	if len(events) == 0 {
		return nil, nil
	}

	now := b.clock.Now()
	trim := b.cfg.Streams.trim(now)
	ids := make([]string, 0, len(events))
	types := make([]string, 0, len(events))
	keys := make([]string, 0, len(events))
	appends := make([]AppendArgs, 0, 2*len(events))

	for i := range events {
		pe := &events[i]
		if pe.Type == "" {
			return nil, ErrInvalidEventType
		}
		var po publishOptions
		for _, o := range pe.Options {
			if o != nil {
				o(&po)
			}
		}

		payload, err := b.codec.Marshal(pe.Data)
		if err != nil {
			b.metrics.errors.Add(1)
			return nil, newError(ErrSerialization, "publish", pe.Type, err)
		}
		evt := &Event{
			ID:            uuid.NewString(),
			Type:          pe.Type,
			Timestamp:     now,
			Source:        b.consumer,
			CorrelationID: po.correlationID,
			Metadata:      po.metadata,
			Data:          payload,
		}
		if evt.CorrelationID == "" {
			evt.CorrelationID = uuid.NewString()
		}
		if evt.Metadata == nil {
			evt.Metadata = map[string]string{}
		}
		fields, err := encodeEvent(evt, b.binaryData())
		if err != nil {
			b.metrics.errors.Add(1)
			return nil, newError(ErrSerialization, "publish", pe.Type, err)
		}

		key := po.stream
		if key == "" {
			key = b.StreamKey(pe.Type)
			if fh := b.firehoseKey(); fh != key {
				appends = append(appends, AppendArgs{Stream: fh, Fields: fields, Trim: trim})
			}
		}
		appends = append(appends, AppendArgs{Stream: key, Fields: fields, Trim: trim})
		ids = append(ids, evt.ID)
		types = append(types, evt.Type)
		keys = append(keys, key)
	}

	start := b.clock.Now()
	entryIDs, err := b.store.Append(ctx, appends...)
	duration := b.clock.Since(start)
	if err != nil {
		b.metrics.errors.Add(1)
		b.notify(Notification{Type: Error, Stream: keys[0], EventType: types[0], Err: err})
		return nil, newError(ErrPublish, "publish", keys[0], err)
	}

	b.metrics.published.Add(uint64(len(ids)))
	// Entries are appended firehose first, so the partition entry is the
	// last one recorded for each event.
	j := 0
	for i := range ids {
		for j < len(appends) && appends[j].Stream != keys[i] {
			j++
		}
		var msgID string
		if j < len(entryIDs) {
			msgID = entryIDs[j]
		}
		j++
		b.notify(Notification{
			Type:      Published,
			Stream:    keys[i],
			MessageID: msgID,
			EventID:   ids[i],
			EventType: types[i],
			Duration:  duration,
		})
	}
	return ids, nil
}

// binaryData reports whether event data leaves the envelope as base64.
func (b *Bus) binaryData() bool {
	return b.codec.Name() != (JSONCodec{}).Name()
}
