// Package redact implements the response-body PII transformer: the last
// stop before a response reaches the caller, it finds and replaces
// sensitive spans named by the caller's matching PiiRedactionPolicy.
package redact

import (
	"sync"

	"github.com/veilgate/gateway/internal/audit"
	"github.com/veilgate/gateway/internal/config"
	"github.com/veilgate/gateway/internal/logging"
)

const redactedPlaceholder = "[REDACTED]"

// Span is one recognized entity occurrence within a text.
type Span struct {
	Start  int
	End    int
	Entity string
}

// Recognizer finds spans of the requested entity types within text. Its
// internals (rule-based, statistical, or an external service call) are
// out of this package's scope — Purifier only needs the spans back.
type Recognizer interface {
	Analyze(text string, entities []string) []Span
}

// Purifier redacts PII from response bodies per role, using the first
// PiiRedactionPolicy matching the caller's role ("*" or an exact match).
type Purifier struct {
	policies   []config.PiiRedactionPolicy
	recognizer Recognizer
	auditor    *audit.Logger

	warnOnce sync.Once
}

// New builds a Purifier. A nil recognizer makes every call to Purify a
// no-op that returns the body unchanged, matching the source behavior
// when its PII engine fails to initialize — one warning is logged the
// first time this is observed, not on every request.
func New(policies []config.PiiRedactionPolicy, recognizer Recognizer, auditor *audit.Logger) *Purifier {
	return &Purifier{policies: policies, recognizer: recognizer, auditor: auditor}
}

// Purify redacts body in place of the entities named by the first policy
// matching role, returning the (possibly unchanged) result.
func (p *Purifier) Purify(role string, body []byte, clientID, requestID string) []byte {
	if p.recognizer == nil {
		p.warnOnce.Do(func() {
			logging.Warn("redact: no PII recognizer configured, responses will not be scanned")
		})
		return body
	}

	entities := p.entitiesFor(role)
	if len(entities) == 0 {
		return body
	}

	text := string(body)
	spans := p.recognizer.Analyze(text, entities)
	if len(spans) == 0 {
		return body
	}

	redacted := applySpans(text, spans)
	if redacted == text {
		return body
	}

	if p.auditor != nil {
		p.auditor.Emit(audit.Event{
			Event:     audit.EventPIIRedacted,
			ClientID:  clientID,
			Detail:    "purifier redacted sensitive data for role " + role,
			RequestID: requestID,
		})
	}
	return []byte(redacted)
}

func (p *Purifier) entitiesFor(role string) []string {
	for _, policy := range p.policies {
		if policy.Role == "*" || policy.Role == role {
			return policy.RedactEntities
		}
	}
	return nil
}

// applySpans replaces every span in text with the redaction placeholder,
// working right-to-left so earlier offsets stay valid as the string
// shrinks or grows. Overlapping spans are not expected from a
// well-behaved Recognizer; a later (rightmost) span simply wins where
// ranges collide.
func applySpans(text string, spans []Span) string {
	ordered := append([]Span(nil), spans...)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j-1].Start < ordered[j].Start; j-- {
			ordered[j-1], ordered[j] = ordered[j], ordered[j-1]
		}
	}

	out := text
	for _, s := range ordered {
		if s.Start < 0 || s.End > len(out) || s.Start >= s.End {
			continue
		}
		out = out[:s.Start] + redactedPlaceholder + out[s.End:]
	}
	return out
}
