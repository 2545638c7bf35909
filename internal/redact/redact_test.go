package redact

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/veilgate/gateway/internal/config"
)

func policies() []config.PiiRedactionPolicy {
	return []config.PiiRedactionPolicy{
		{Role: "support", RedactEntities: []string{EntityEmail}},
		{Role: "*", RedactEntities: []string{EntityEmail, EntitySSN}},
	}
}

func TestPurify_NoRecognizer_ReturnsUnchanged(t *testing.T) {
	p := New(policies(), nil, nil)
	body := []byte("contact me at a@b.com")
	assert.Equal(t, body, p.Purify("support", body, "c1", "r1"))
}

func TestPurify_RedactsEmail(t *testing.T) {
	p := New(policies(), NewPatternRecognizer(), nil)
	body := []byte("contact me at a@b.com please")
	out := p.Purify("support", body, "c1", "r1")
	assert.Contains(t, string(out), "[REDACTED]")
	assert.NotContains(t, string(out), "a@b.com")
}

func TestPurify_NoMatchingPolicy_ReturnsUnchanged(t *testing.T) {
	p := New([]config.PiiRedactionPolicy{{Role: "support", RedactEntities: []string{EntityEmail}}}, NewPatternRecognizer(), nil)
	body := []byte("contact me at a@b.com")
	out := p.Purify("guest", body, "c1", "r1")
	assert.Equal(t, body, out)
}

func TestPurify_WildcardPolicyMatches(t *testing.T) {
	p := New(policies(), NewPatternRecognizer(), nil)
	body := []byte("ssn 123-45-6789 here")
	out := p.Purify("anyone", body, "c1", "r1")
	assert.Contains(t, string(out), "[REDACTED]")
}

func TestPurify_NoPII_ReturnsUnchanged(t *testing.T) {
	p := New(policies(), NewPatternRecognizer(), nil)
	body := []byte("nothing sensitive here")
	out := p.Purify("support", body, "c1", "r1")
	assert.Equal(t, body, out)
}

func TestApplySpans_MultipleNonOverlapping(t *testing.T) {
	text := "aaa bbb ccc"
	spans := []Span{
		{Start: 0, End: 3, Entity: "X"},
		{Start: 8, End: 11, Entity: "X"},
	}
	out := applySpans(text, spans)
	assert.Equal(t, "[REDACTED] bbb [REDACTED]", out)
}

func TestPatternRecognizer_Analyze(t *testing.T) {
	r := NewPatternRecognizer()
	spans := r.Analyze("email a@b.com and ssn 123-45-6789", []string{EntityEmail, EntitySSN})
	assert.Len(t, spans, 2)
}
