// Package config loads and validates the gateway's declarative policy:
// environment-sourced secrets combined with a YAML document describing
// every inspection, redaction, and aggregation rule.
package config

import "encoding/json"

// ApiClient is an entry in the API_CLIENTS_JSON secret.
type ApiClient struct {
	ClientID              string   `json:"client_id"`
	APIKey                string   `json:"api_key"`
	Role                  string   `json:"role"`
	AllowedSourceAddresses []string `json:"allowed_ips"`
}

// AccessRule is one IDOR enforcement rule within an AuthPolicy.
type AccessRule struct {
	PathPattern      string   `yaml:"path_pattern"`
	Methods          []string `yaml:"methods"`
	EnforceOwnerClaim string  `yaml:"enforce_owner_claim,omitempty"`
	OwnerPathParam    string  `yaml:"owner_path_param,omitempty"`
}

// AuthPolicy groups AccessRules under a role match.
type AuthPolicy struct {
	Name  string `yaml:"name"`
	Match struct {
		Role string `yaml:"role"`
	} `yaml:"match"`
	Rules []AccessRule `yaml:"rules"`
}

// InspectionRuleType enumerates the payload inspector's declarative rule kinds.
type InspectionRuleType string

const (
	RuleTypePattern      InspectionRuleType = "pattern"
	RuleTypeGraphQLDepth InspectionRuleType = "graphql_depth"
	RuleTypeGraphQLCost  InspectionRuleType = "graphql_cost"
	RuleTypeSchema       InspectionRuleType = "schema"
)

// InspectLocation enumerates where a declarative rule looks for its target.
type InspectLocation string

const (
	LocationBody        InspectLocation = "body"
	LocationQueryParams  InspectLocation = "query_params"
)

// RuleAction is what happens when a declarative rule fires.
type RuleAction string

const (
	ActionBlock RuleAction = "block"
	ActionLog   RuleAction = "log"
)

// InspectionRule is one declarative payload inspection rule.
type InspectionRule struct {
	Name             string             `yaml:"name"`
	Type             InspectionRuleType `yaml:"type"`
	Pattern          string             `yaml:"pattern,omitempty"`
	MaxDepth         int                `yaml:"max_depth,omitempty"`
	MaxCost          int                `yaml:"max_cost,omitempty"`
	BodySchema       string             `yaml:"body_schema,omitempty"`
	InspectLocations []InspectLocation  `yaml:"inspect_locations"`
	PathPattern      string             `yaml:"path_pattern"`
	Methods          []string           `yaml:"methods"`
	Action           RuleAction         `yaml:"action"`
}

// Schemas maps a body_schema name to its raw JSON Schema document, the
// registry InspectionRules of type "schema" look their validator up in.
type Schemas map[string]json.RawMessage

// PiiRedactionPolicy maps a role to the PII entity types redacted from
// responses it can see. Role "*" matches any caller.
type PiiRedactionPolicy struct {
	Role           string   `yaml:"role"`
	RedactEntities []string `yaml:"redact_entities"`
}

// Adapter is a per-query post-processing step applied after a successful
// upstream response in an Aggregation.
type Adapter struct {
	Select []string          `yaml:"select,omitempty"`
	Rename map[string]string `yaml:"rename,omitempty"`
}

// Query is one upstream call made as part of an Aggregation.
type Query struct {
	Name       string                 `yaml:"name"`
	HTTPMethod string                 `yaml:"http_method"`
	BackendURL string                 `yaml:"backend_url"`
	Params     map[string]interface{} `yaml:"params,omitempty"`
	Body       interface{}            `yaml:"body,omitempty"`
	Adapter    *Adapter               `yaml:"adapter,omitempty"`
}

// MobileGuestRole is the sentinel required_role meaning "anonymous accepted".
const MobileGuestRole = "mobile_guest"

// Aggregation is one BFF endpoint definition.
type Aggregation struct {
	PublicPath   string  `yaml:"public_path"`
	RequiredRole string  `yaml:"required_role"`
	Queries      []Query `yaml:"queries"`
	CacheTTLSeconds int  `yaml:"cache_ttl_seconds,omitempty"`
}

// ShadowAPIPolicy is what happens the first time an undocumented endpoint is hit.
type ShadowAPIPolicy string

const (
	ShadowPolicyBlock ShadowAPIPolicy = "block"
	ShadowPolicyLog   ShadowAPIPolicy = "log"
)

// CartographerConfig drives the known/shadow endpoint map.
type CartographerConfig struct {
	OpenAPIURL          string          `yaml:"openapi_url,omitempty"`
	OpenAPIFile         string          `yaml:"openapi_file,omitempty"`
	OnShadowAPIDiscovered ShadowAPIPolicy `yaml:"on_shadow_api_discovered"`
}

// ThreatIntelConfig configures the external IP reputation lookup.
type ThreatIntelConfig struct {
	APIKey        string  `yaml:"api_key,omitempty"`
	BaseURL        string  `yaml:"base_url,omitempty"`
	MinConfidence  float64 `yaml:"min_confidence"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// ProfilerConfig configures the behavioral profiler.
type ProfilerConfig struct {
	EnforceHeaderConsistency bool    `yaml:"enforce_header_consistency"`
	MaxPathEntropy           float64 `yaml:"max_path_entropy"`
}

// AnomalyConfig configures the sliding-window anomaly counters.
type AnomalyConfig struct {
	ErrorThreshold             int `yaml:"error_threshold"`
	PathEnumerationThreshold   int `yaml:"path_enumeration_threshold"`
}

// DefaultErrorThreshold and DefaultPathEnumerationThreshold are the
// literal values used when a policy document omits them.
const (
	DefaultErrorThreshold           = 10
	DefaultPathEnumerationThreshold = 20
)

// ProxyConfig configures the catch-all reverse proxy leg.
type ProxyConfig struct {
	UpstreamURL string `yaml:"upstream_url"`
}

// AuthConfig configures login/refresh token issuance.
type AuthConfig struct {
	LoginBackendURL string `yaml:"login_backend_url"`
	TokenTTLMinutes int    `yaml:"token_ttl_minutes"`
}

// Policy is the full YAML policy document.
type Policy struct {
	AuthPolicies     []AuthPolicy         `yaml:"auth_policies"`
	InspectionRules  []InspectionRule     `yaml:"inspection_rules"`
	Schemas          Schemas              `yaml:"schemas,omitempty"`
	PiiPolicies      []PiiRedactionPolicy `yaml:"pii_redaction_policies"`
	Aggregations     []Aggregation        `yaml:"aggregations"`
	Cartographer     CartographerConfig   `yaml:"cartographer"`
	ThreatIntel      ThreatIntelConfig    `yaml:"threat_intel"`
	Profiler         ProfilerConfig       `yaml:"profiler"`
	Anomaly          AnomalyConfig        `yaml:"anomaly"`
	Proxy            ProxyConfig          `yaml:"proxy"`
	Auth             AuthConfig           `yaml:"auth"`
}

// Settings is the frozen result of a configuration load: secrets sourced
// from the environment, merged with the parsed policy document. Nothing
// in the gateway mutates a Settings value after Load returns.
type Settings struct {
	JWTSecretKey string
	RedisURL     string
	APIClients   []ApiClient

	Policy Policy
}

// ClientByAPIKey returns the ApiClient matching key, or false. Callers in
// the identity resolver MUST use a constant-time comparison; this helper
// compares keys with == and is not used for request-time lookups.
// validate detects duplicate keys with its own map, not through this
// helper.
func (s *Settings) ClientByAPIKey(key string) (ApiClient, bool) {
	for _, c := range s.APIClients {
		if c.APIKey == key {
			return c, true
		}
	}
	return ApiClient{}, false
}
