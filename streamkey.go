package streambus

import (
	"strings"
)

const (
	wildcard      = "*"
	wildcardToken = "all"
	dlqSuffix     = ":dlq"
)

// ValidatePattern accepts an exact type, "*" or "prefix.*".
func ValidatePattern(pattern string) error {
	if pattern == "" || strings.TrimSpace(pattern) != pattern {
		return ErrInvalidPattern
	}
	if pattern == wildcard {
		return nil
	}
	i := strings.Index(pattern, wildcard)
	if i < 0 {
		return nil
	}
	if i != len(pattern)-1 || i < 2 || pattern[i-1] != '.' {
		return ErrInvalidPattern
	}
	return nil
}

// Match reports whether eventType satisfies pattern.
func Match(pattern, eventType string) bool {
	if pattern == wildcard {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		rest, found := strings.CutPrefix(eventType, prefix+".")
		return found && rest != ""
	}
	return pattern == eventType
}

// namespace is the text before the first '.', with '*' replaced by a literal token.
func namespace(pattern string) string {
	ns, _, _ := strings.Cut(pattern, ".")
	if ns == wildcard || ns == "" {
		return wildcardToken
	}
	return strings.ReplaceAll(ns, wildcard, wildcardToken)
}

func streamKey(prefix, pattern string) string {
	return prefix + "stream:" + namespace(pattern)
}

func deadLetterKey(key string) string {
	return key + dlqSuffix
}

func retryCounterKey(prefix, key, messageID string) string {
	return prefix + "retry:" + key + ":" + messageID
}

// StreamKey returns the partition that pattern (or an event type) maps to.
func (b *Bus) StreamKey(pattern string) string {
	return streamKey(b.cfg.Store.KeyPrefix, pattern)
}

// firehoseKey is the partition every published event is mirrored to.
func (b *Bus) firehoseKey() string {
	return streamKey(b.cfg.Store.KeyPrefix, wildcard)
}
