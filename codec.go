package streambus

import (
	"context"
	"encoding/json"
)

// JSONCodec is the default JSON implementation.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)   { return json.Marshal(v) }
func (JSONCodec) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }
func (JSONCodec) Name() string                    { return "json" }

// DecodeCodec unmarshals evt.Data into T using the provided codec.
func DecodeCodec[T any](c Codec, evt *Event) (T, error) {
	var v T
	if err := c.Unmarshal(evt.Data, &v); err != nil {
		return v, newError(ErrSerialization, "decode", "", err)
	}
	return v, nil
}

// Decode unmarshals evt.Data into T using the Codec found in ctx.
// Falls back to JSON if none was injected.
func Decode[T any](ctx context.Context, evt *Event) (T, error) {
	if c, ok := CodecFromContext(ctx); ok {
		return DecodeCodec[T](c, evt)
	}
	return DecodeCodec[T](JSONCodec{}, evt)
}
