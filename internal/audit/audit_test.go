package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogger_Emit(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	l := New(zap.New(core))

	l.Emit(Event{
		Event:     EventWAFSignatureMatch,
		ClientID:  "acme",
		PeerAddr:  "10.0.0.1",
		Path:      "/api",
		Method:    "POST",
		Detail:    "sqli pattern matched",
		RequestID: "req-1",
	})

	entries := logs.All()
	assert.Len(t, entries, 1)
	assert.Equal(t, EventWAFSignatureMatch, entries[0].Message)

	fields := entries[0].ContextMap()
	assert.Equal(t, "acme", fields["client_id"])
	assert.Equal(t, "req-1", fields["request_id"])
}
