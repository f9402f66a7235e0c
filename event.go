package streambus

import (
	"encoding/json"
	"fmt"
	"time"
)

// Wire field names.
const (
	fieldEvent             = "event"
	fieldOriginalStream    = "originalStream"
	fieldOriginalMessageID = "originalMessageId"
	fieldError             = "error"
	fieldTimestamp         = "timestamp"
)

// Metadata keys set by the bus.
const (
	MetaReprocessed       = "reprocessed"
	MetaOriginalMessageID = "originalMessageId"
)

// Event is the envelope traveling the bus. Data holds the bytes of the
// configured Codec and is opaque to the bus. It is only JSON when the codec is.
type Event struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	Timestamp     time.Time         `json:"timestamp"`
	Source        string            `json:"source"`
	CorrelationID string            `json:"correlationId"`
	Metadata      map[string]string `json:"metadata"`
	Data          json.RawMessage   `json:"data"`
}

// PublishEvent describes a single event in a batch publish call.
type PublishEvent struct {
	Type    string
	Data    any
	Options []PublishOption
}

type publishOptions struct {
	correlationID string
	metadata      map[string]string
	stream        string
}

// PublishOption customizes a published event.
type PublishOption func(*publishOptions)

// WithCorrelationID links the event to a correlation id instead of a fresh one.
func WithCorrelationID(id string) PublishOption {
	return func(o *publishOptions) { o.correlationID = id }
}

// WithMetadata attaches metadata; later calls merge into earlier ones.
func WithMetadata(meta map[string]string) PublishOption {
	return func(o *publishOptions) {
		if len(meta) == 0 {
			return
		}
		if o.metadata == nil {
			o.metadata = make(map[string]string, len(meta))
		}
		for k, v := range meta {
			o.metadata[k] = v
		}
	}
}

// WithStream appends to an explicit stream key instead of the derived one.
// The firehose partition is skipped in that case.
func WithStream(streamKey string) PublishOption {
	return func(o *publishOptions) { o.stream = streamKey }
}

type eventFields Event

// wireEvent is the envelope as stored. Payloads that are not JSON travel
// base64 encoded in dataBinary.
type wireEvent struct {
	*eventFields
	Data       json.RawMessage `json:"data,omitempty"`
	DataBinary []byte          `json:"dataBinary,omitempty"`
}

func (e *Event) wire(binary bool) wireEvent {
	w := wireEvent{eventFields: (*eventFields)(e)}
	if binary || (len(e.Data) > 0 && !json.Valid(e.Data)) {
		w.DataBinary = e.Data
	} else {
		w.Data = e.Data
	}
	return w
}

// MarshalJSON inlines JSON data and base64 encodes anything else.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.wire(false))
}

func (e *Event) UnmarshalJSON(b []byte) error {
	w := wireEvent{eventFields: (*eventFields)(e)}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	e.Data = w.Data
	if w.DataBinary != nil {
		e.Data = w.DataBinary
	}
	return nil
}

// encodeEvent renders the entry fields. binary keeps the codec bytes exact,
// even when they happen to parse as JSON.
func encodeEvent(evt *Event, binary bool) (map[string]string, error) {
	raw, err := json.Marshal(evt.wire(binary))
	if err != nil {
		return nil, err
	}
	return map[string]string{fieldEvent: string(raw)}, nil
}

func decodeEvent(e Entry) (*Event, error) {
	raw, ok := e.Fields[fieldEvent]
	if !ok {
		return nil, fmt.Errorf("entry %s has no %q field", e.ID, fieldEvent)
	}
	var evt Event
	if err := json.Unmarshal([]byte(raw), &evt); err != nil {
		return nil, fmt.Errorf("entry %s: %w", e.ID, err)
	}
	if evt.Type == "" {
		return nil, fmt.Errorf("entry %s: event has no type", e.ID)
	}
	return &evt, nil
}
