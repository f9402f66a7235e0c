package streambus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePattern(t *testing.T) {
	valid := []string{"*", "order.created", "order.*", "a.*", "order.item.*", "plain"}
	for _, p := range valid {
		assert.NoError(t, ValidatePattern(p), p)
	}
	invalid := []string{"", " order", "order ", ".*", "*.created", "order*", "ord*er.x", "order.*.x", "order.**"}
	for _, p := range invalid {
		assert.ErrorIs(t, ValidatePattern(p), ErrInvalidPattern, p)
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern, eventType string
		want               bool
	}{
		{"*", "anything.at.all", true},
		{"*", "x", true},
		{"order.*", "order.created", true},
		{"order.*", "order.item.added", true},
		{"order.*", "order.", false},
		{"order.*", "order", false},
		{"order.*", "orders.created", false},
		{"order.created", "order.created", true},
		{"order.created", "order.updated", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Match(tt.pattern, tt.eventType), "%s ~ %s", tt.pattern, tt.eventType)
	}
}

func TestStreamKeys(t *testing.T) {
	assert.Equal(t, "p:stream:order", streamKey("p:", "order.created"))
	assert.Equal(t, "p:stream:order", streamKey("p:", "order.*"))
	assert.Equal(t, "p:stream:plain", streamKey("p:", "plain"))
	assert.Equal(t, "p:stream:all", streamKey("p:", "*"))
	assert.Equal(t, "p:stream:order:dlq", deadLetterKey(streamKey("p:", "order.x")))
	assert.Equal(t, "p:retry:p:stream:order:1-0", retryCounterKey("p:", "p:stream:order", "1-0"))
}
