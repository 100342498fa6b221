package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMaskEmail(t *testing.T) {
	tests := map[string]string{
		"john.doe@example.com": "j***@example.com",
		"ab@example.com":       "a***@example.com",
		"émile@example.fr":     "é***@example.fr",
		"not-an-email":         "[REDACTED]",
		"@example.com":         "[REDACTED]",
		"bob@":                 "[REDACTED]",
	}
	for in, want := range tests {
		assert.Equal(t, want, maskEmail(in), in)
	}
}

func TestLogger_EmptyEmailStaysEmpty(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	FromZap(zap.New(core)).Info("skipping user", "email", "")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "", entries[0].ContextMap()["email"])
	}
}

func TestLogger_RedactsSensitiveFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := FromZap(zap.New(core))

	l.Info("sending", "email", "john.doe@example.com", "api_key", "sk-123", "user_id", "u-1")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "j***@example.com", fields["email"])
		assert.Equal(t, "[REDACTED]", fields["api_key"])
		assert.Equal(t, "u-1", fields["user_id"])
	}
}

func TestLogger_WithKeepsRedaction(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := FromZap(zap.New(core)).With("to_email", "someone@example.com")

	l.Warn("failed")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "s***@example.com", entries[0].ContextMap()["to_email"])
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New("dev", "loud", true)
	assert.Error(t, err)
}
