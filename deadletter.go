package streambus

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrorInfo is the failure recorded with a dead letter.
type ErrorInfo struct {
	Message   string    `json:"message"`
	Stack     string    `json:"stack"`
	Timestamp time.Time `json:"timestamp"`
}

// DeadLetterRecord is an entry of a stream's dead-letter partition.
type DeadLetterRecord struct {
	ID                string
	OriginalStream    string
	OriginalMessageID string
	Event             json.RawMessage
	Error             ErrorInfo
	Timestamp         time.Time
}

// deadLetter appends the entry to key:dlq and acks the original. If the
// append fails the original stays pending.
func (w *streamWorker) deadLetter(e Entry, evt *Event, cause error) {
	b := w.bus
	now := b.clock.Now()
	info, err := json.Marshal(ErrorInfo{Message: cause.Error(), Stack: stackOf(cause), Timestamp: now})
	if err != nil {
		b.fail(err, w.key, "streambus: dead letter encode failed")
		return
	}

	dlq := deadLetterKey(w.key)
	_, err = b.store.Append(w.opCtx(), AppendArgs{
		Stream: dlq,
		Fields: map[string]string{
			fieldEvent:             e.Fields[fieldEvent],
			fieldOriginalStream:    w.key,
			fieldOriginalMessageID: e.ID,
			fieldError:             string(info),
			fieldTimestamp:         strconv.FormatInt(now.UnixMilli(), 10),
		},
	})
	if err != nil {
		b.fail(err, dlq, "streambus: dead letter append failed")
		return
	}
	if !w.ack(e.ID) {
		return
	}
	b.metrics.deadLettered.Add(1)

	n := Notification{
		Type:      DeadLettered,
		Stream:    w.key,
		Group:     w.group,
		MessageID: e.ID,
		Err:       cause,
	}
	if evt != nil {
		n.EventID, n.EventType = evt.ID, evt.Type
	}
	b.notify(n)
}

func parseDeadLetter(e Entry) DeadLetterRecord {
	rec := DeadLetterRecord{
		ID:                e.ID,
		OriginalStream:    e.Fields[fieldOriginalStream],
		OriginalMessageID: e.Fields[fieldOriginalMessageID],
	}
	if raw := e.Fields[fieldEvent]; raw != "" {
		rec.Event = json.RawMessage(raw)
	}
	if raw := e.Fields[fieldError]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &rec.Error); err != nil {
			rec.Error.Message = raw
		}
	}
	if ms, err := strconv.ParseInt(e.Fields[fieldTimestamp], 10, 64); err == nil {
		rec.Timestamp = time.UnixMilli(ms)
	}
	return rec
}

// DeadLetters lists the dead-letter partition of pattern's stream, oldest first.
func (b *Bus) DeadLetters(ctx context.Context, pattern string) ([]DeadLetterRecord, error) {
	return b.DeadLettersOfStream(ctx, b.StreamKey(pattern))
}

// DeadLettersOfStream lists the dead letters of an explicit stream key, as
// used with WithSubscriptionStream.
func (b *Bus) DeadLettersOfStream(ctx context.Context, streamKey string) ([]DeadLetterRecord, error) {
	if b.closed.Load() {
		return nil, ErrBusClosed
	}
	dlq := deadLetterKey(streamKey)
	entries, err := b.store.Range(ctx, dlq, "-", "+")
	if err != nil {
		return nil, fmt.Errorf("streambus: dead letters %s: %w", dlq, err)
	}
	out := make([]DeadLetterRecord, 0, len(entries))
	for _, e := range entries {
		out = append(out, parseDeadLetter(e))
	}
	return out, nil
}

// ReprocessDeadLetter republishes a dead-lettered event to its original
// stream tagged with reprocessed=true and originalMessageId, then removes
// the record. Returns the new entry id.
func (b *Bus) ReprocessDeadLetter(ctx context.Context, pattern, messageID string) (string, error) {
	return b.ReprocessDeadLetterOfStream(ctx, b.StreamKey(pattern), messageID)
}

// ReprocessDeadLetterOfStream is ReprocessDeadLetter for an explicit stream key.
func (b *Bus) ReprocessDeadLetterOfStream(ctx context.Context, streamKey, messageID string) (string, error) {
	if !b.connected.Load() {
		return "", newError(ErrConnection, "reprocess", "", ErrNotConnected)
	}
	key := streamKey
	dlq := deadLetterKey(key)
	if !validEntryID(messageID) {
		return "", newError(ErrNotFound, "reprocess", dlq, fmt.Errorf("dead letter %q: malformed id", messageID))
	}

	entries, err := b.store.Range(ctx, dlq, messageID, messageID)
	if err != nil {
		return "", fmt.Errorf("streambus: reprocess %s: %w", dlq, err)
	}
	if len(entries) == 0 {
		return "", newError(ErrNotFound, "reprocess", dlq, fmt.Errorf("dead letter %s", messageID))
	}
	rec := parseDeadLetter(entries[0])

	var evt Event
	if err := json.Unmarshal(rec.Event, &evt); err != nil {
		return "", newError(ErrSerialization, "reprocess", dlq, err)
	}
	if evt.Metadata == nil {
		evt.Metadata = map[string]string{}
	}
	evt.Metadata[MetaReprocessed] = "true"
	evt.Metadata[MetaOriginalMessageID] = rec.OriginalMessageID

	fields, err := encodeEvent(&evt, b.binaryData())
	if err != nil {
		return "", newError(ErrSerialization, "reprocess", dlq, err)
	}
	target := rec.OriginalStream
	if target == "" {
		target = key
	}
	ids, err := b.store.Append(ctx, AppendArgs{
		Stream: target,
		Fields: fields,
		Trim:   b.cfg.Streams.trim(b.clock.Now()),
	})
	if err != nil {
		b.metrics.errors.Add(1)
		return "", newError(ErrPublish, "reprocess", target, err)
	}
	newID := ids[0]

	if _, err := b.store.Delete(ctx, dlq, messageID); err != nil {
		b.metrics.errors.Add(1)
		return newID, fmt.Errorf("streambus: reprocessed %s as %s but dead letter was kept: %w", messageID, newID, err)
	}

	b.notify(Notification{
		Type:      Reprocessed,
		Stream:    target,
		MessageID: newID,
		EventID:   evt.ID,
		EventType: evt.Type,
	})
	return newID, nil
}

// validEntryID accepts the ms or ms-seq form of a stream entry id.
func validEntryID(id string) bool {
	ms, seq, hasSeq := strings.Cut(id, "-")
	if _, err := strconv.ParseUint(ms, 10, 64); err != nil {
		return false
	}
	if hasSeq {
		if _, err := strconv.ParseUint(seq, 10, 64); err != nil {
			return false
		}
	}
	return true
}
