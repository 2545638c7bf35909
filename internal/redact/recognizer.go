package redact

import "regexp"

// Entity name constants, matching the naming convention of the entity
// types a PiiRedactionPolicy names in redact_entities.
const (
	EntityEmail      = "EMAIL_ADDRESS"
	EntityPhone      = "PHONE_NUMBER"
	EntityCreditCard = "CREDIT_CARD"
	EntitySSN        = "US_SSN"
	EntityIPAddress  = "IP_ADDRESS"
)

var patterns = map[string]*regexp.Regexp{
	EntityEmail:      regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
	EntityPhone:      regexp.MustCompile(`\+?\d{1,3}[-.\s]?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}`),
	EntityCreditCard: regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`),
	EntitySSN:        regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	EntityIPAddress:  regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
}

// PatternRecognizer is a regex-based Recognizer covering the entity
// types that can be reliably found with a pattern match: email
// addresses, phone numbers, credit card numbers, US social security
// numbers, and IP addresses. Entity types that need named-entity
// recognition (PERSON, LOCATION, ORGANIZATION) are not supported by this
// implementation; a Recognizer backed by an NLP or external DLP service
// can be substituted without changing Purifier.
type PatternRecognizer struct{}

// NewPatternRecognizer returns the built-in regex Recognizer.
func NewPatternRecognizer() *PatternRecognizer {
	return &PatternRecognizer{}
}

// Analyze finds every requested entity type's matches in text.
func (PatternRecognizer) Analyze(text string, entities []string) []Span {
	var spans []Span
	for _, entity := range entities {
		re, ok := patterns[entity]
		if !ok {
			continue
		}
		for _, loc := range re.FindAllStringIndex(text, -1) {
			spans = append(spans, Span{Start: loc[0], End: loc[1], Entity: entity})
		}
	}
	return spans
}
