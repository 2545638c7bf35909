// Package payload implements the inspection pipeline's signature sweep and
// declarative rule engine: the checks that look at a single request's query
// string and body in isolation, with no cross-request state.
package payload

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/veilgate/gateway/internal/audit"
	"github.com/veilgate/gateway/internal/config"
	"github.com/veilgate/gateway/internal/errors"
	"github.com/veilgate/gateway/internal/inspect/canonical"
	"github.com/veilgate/gateway/internal/signatures"
)

// graphqlCostToken counts `identifier {` occurrences (preceded by
// whitespace or a colon) in the canonical body, the same approximate cost
// heuristic the source WAF uses — it under-counts aliased selections, which
// this inspector deliberately preserves rather than fixing.
var graphqlCostToken = regexp.MustCompile(`[:\s](\w+)\s*\{`)

// Inspector evaluates the curated signature set plus a set of declarative
// InspectionRules against every request's query string and body.
type Inspector struct {
	rules   []config.InspectionRule
	schemas map[string]*jsonschema.Schema
	auditor *audit.Logger

	mu         sync.Mutex
	patternRes map[string]*regexp.Regexp
}

// New builds an Inspector from the configured rules and a named-schema
// registry (schema name -> raw JSON schema document).
func New(rules []config.InspectionRule, schemaDocs map[string]json.RawMessage, auditor *audit.Logger) (*Inspector, error) {
	insp := &Inspector{
		rules:      rules,
		schemas:    make(map[string]*jsonschema.Schema),
		auditor:    auditor,
		patternRes: make(map[string]*regexp.Regexp),
	}

	for name, doc := range schemaDocs {
		var schemaDoc interface{}
		if err := json.Unmarshal(doc, &schemaDoc); err != nil {
			return nil, fmt.Errorf("payload: schema %q is not valid JSON: %w", name, err)
		}
		c := jsonschema.NewCompiler()
		resourceID := "schema-" + name + ".json"
		if err := c.AddResource(resourceID, schemaDoc); err != nil {
			return nil, fmt.Errorf("payload: schema %q: %w", name, err)
		}
		compiled, err := c.Compile(resourceID)
		if err != nil {
			return nil, fmt.Errorf("payload: schema %q failed to compile: %w", name, err)
		}
		insp.schemas[name] = compiled
	}

	for _, r := range rules {
		if r.Type == config.RuleTypePattern && r.Pattern != "" {
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("payload: rule %q has invalid pattern: %w", r.Name, err)
			}
			insp.patternRes[r.Name] = re
		}
	}

	return insp, nil
}

// Inspect runs canonicalization, the signature sweep, and every matching
// declarative rule against the request. The query string is read raw
// (undecoded) from req.URL.RawQuery and rawBody is the request's raw,
// untouched body.
func (insp *Inspector) Inspect(req *http.Request, rawBody []byte, requestID string) *errors.GatewayError {
	canonicalQuery := canonical.Normalize(req.URL.RawQuery)
	canonicalBody := canonical.Normalize(string(rawBody))

	if gwErr := insp.sweepSignatures(canonicalQuery, "query parameters", req, requestID); gwErr != nil {
		return gwErr
	}
	if gwErr := insp.sweepSignatures(canonicalBody, "request body", req, requestID); gwErr != nil {
		return gwErr
	}

	for _, rule := range insp.rules {
		ok, err := doublestar.Match(rule.PathPattern, req.URL.Path)
		if err != nil || !ok {
			continue
		}
		if !methodMatches(rule.Methods, req.Method) {
			continue
		}

		if gwErr := insp.applyRule(rule, rawBody, canonicalQuery, canonicalBody, req, requestID); gwErr != nil {
			return gwErr
		}
	}

	return nil
}

func methodMatches(methods []string, method string) bool {
	for _, m := range methods {
		if m == "*" || m == method {
			return true
		}
	}
	return false
}

func (insp *Inspector) sweepSignatures(text, location string, req *http.Request, requestID string) *errors.GatewayError {
	if text == "" {
		return nil
	}
	sig, matched := signatures.Scan(text)
	if !matched {
		return nil
	}

	insp.emit(audit.EventWAFSignatureMatch, req, requestID, fmt.Sprintf("pattern %q matched on %s", sig.Pattern, location))
	return errors.ErrForbidden.WithDetails("malicious signature detected").WithRequestID(requestID)
}

func (insp *Inspector) applyRule(rule config.InspectionRule, rawBody []byte, canonicalQuery, canonicalBody string, req *http.Request, requestID string) *errors.GatewayError {
	switch rule.Type {
	case config.RuleTypeSchema:
		return insp.applySchemaRule(rule, rawBody, req, requestID)
	case config.RuleTypePattern:
		return insp.applyPatternRule(rule, canonicalQuery, canonicalBody, req, requestID)
	case config.RuleTypeGraphQLDepth:
		return insp.applyDepthRule(rule, rawBody, req, requestID)
	case config.RuleTypeGraphQLCost:
		return insp.applyCostRule(rule, canonicalBody, req, requestID)
	}
	return nil
}

func (insp *Inspector) applySchemaRule(rule config.InspectionRule, rawBody []byte, req *http.Request, requestID string) *errors.GatewayError {
	schema, ok := insp.schemas[rule.BodySchema]
	if !ok {
		return nil
	}

	var data interface{}
	if err := json.Unmarshal(rawBody, &data); err != nil {
		insp.emit(audit.EventWAFRuleMatch, req, requestID, fmt.Sprintf("rule %q: invalid JSON body: %v", rule.Name, err))
		return errors.ErrUnprocessableEntity.WithDetails("invalid request body format: " + err.Error()).WithRequestID(requestID)
	}
	if err := schema.Validate(data); err != nil {
		insp.emit(audit.EventWAFRuleMatch, req, requestID, fmt.Sprintf("rule %q: schema violation: %v", rule.Name, err))
		return errors.ErrUnprocessableEntity.WithDetails("invalid request body format: " + err.Error()).WithRequestID(requestID)
	}
	return nil
}

func (insp *Inspector) applyPatternRule(rule config.InspectionRule, canonicalQuery, canonicalBody string, req *http.Request, requestID string) *errors.GatewayError {
	re := insp.patternRes[rule.Name]
	if re == nil {
		return nil
	}

	for _, loc := range rule.InspectLocations {
		var text string
		switch loc {
		case config.LocationBody:
			text = canonicalBody
		case config.LocationQueryParams:
			text = canonicalQuery
		}
		if text != "" && re.MatchString(text) {
			return insp.triggerViolation(rule, string(loc), req, requestID)
		}
	}
	return nil
}

func (insp *Inspector) applyDepthRule(rule config.InspectionRule, rawBody []byte, req *http.Request, requestID string) *errors.GatewayError {
	if rule.MaxDepth == 0 {
		return nil
	}
	var doc interface{}
	if err := json.Unmarshal(rawBody, &doc); err != nil {
		return nil
	}
	if queryDepth(doc, 0) > rule.MaxDepth {
		return insp.triggerViolation(rule, "GraphQL query depth", req, requestID)
	}
	return nil
}

// queryDepth mirrors the source detector: depth counts nested maps and
// lists, scalars don't add a level.
func queryDepth(v interface{}, depth int) int {
	switch t := v.(type) {
	case map[string]interface{}:
		current := depth + 1
		max := current
		for _, child := range t {
			if d := queryDepth(child, current); d > max {
				max = d
			}
		}
		return max
	case []interface{}:
		current := depth + 1
		max := current
		for _, item := range t {
			if d := queryDepth(item, current); d > max {
				max = d
			}
		}
		return max
	default:
		return depth
	}
}

func (insp *Inspector) applyCostRule(rule config.InspectionRule, canonicalBody string, req *http.Request, requestID string) *errors.GatewayError {
	if rule.MaxCost == 0 {
		return nil
	}
	cost := len(graphqlCostToken.FindAllString(canonicalBody, -1))
	if cost > rule.MaxCost {
		return insp.triggerViolation(rule, fmt.Sprintf("GraphQL query cost (%d)", cost), req, requestID)
	}
	return nil
}

func (insp *Inspector) triggerViolation(rule config.InspectionRule, location string, req *http.Request, requestID string) *errors.GatewayError {
	insp.emit(audit.EventWAFRuleMatch, req, requestID, fmt.Sprintf("rule %q triggered on %s", rule.Name, location))
	if rule.Action != config.ActionBlock {
		return nil
	}
	return errors.ErrForbidden.WithDetails("malicious content detected").WithRequestID(requestID)
}

func (insp *Inspector) emit(event string, req *http.Request, requestID, detail string) {
	if insp.auditor == nil {
		return
	}
	insp.auditor.Emit(audit.Event{
		Event:     event,
		Path:      req.URL.Path,
		Method:    req.Method,
		Detail:    detail,
		RequestID: requestID,
	})
}
