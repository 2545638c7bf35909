// Package audit provides the gateway's audit trail: a structured event
// written to its own logger, kept separate from operational logs so the
// two can be shipped, retained, and alerted on independently.
package audit

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is one audit record. Every blocked request, shadow-API
// discovery, signature/rule match, PII redaction occurrence, and admin
// mutation emits one of these.
type Event struct {
	Event     string
	ClientID  string
	PeerAddr  string
	Path      string
	Method    string
	Detail    string
	RequestID string
	Timestamp time.Time
}

// Logger writes Events to a dedicated zap.Logger.
type Logger struct {
	mu     sync.RWMutex
	logger *zap.Logger
}

// New wraps zl as the audit sink.
func New(zl *zap.Logger) *Logger {
	return &Logger{logger: zl.Named("audit")}
}

// Emit writes one audit event at critical (error) level so it is never
// dropped by a level filter tuned for operational noise.
func (l *Logger) Emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	l.mu.RLock()
	zl := l.logger
	l.mu.RUnlock()

	zl.Error(e.Event,
		zap.String("client_id", e.ClientID),
		zap.String("peer_addr", e.PeerAddr),
		zap.String("path", e.Path),
		zap.String("method", e.Method),
		zap.String("detail", e.Detail),
		zap.String("request_id", e.RequestID),
		zap.Time("timestamp", e.Timestamp),
	)
}

// Event name constants for the occurrences every inspector and the admin API emit.
const (
	EventBlockedRequest      = "request_blocked"
	EventShadowAPIDiscovered = "shadow_api_discovered"
	EventWAFSignatureMatch   = "WAF_SIGNATURE_VIOLATION"
	EventWAFRuleMatch        = "WAF_RULE_VIOLATION"
	EventPIIRedacted         = "pii_redacted"
	EventAdminMutation       = "admin_mutation"
)
