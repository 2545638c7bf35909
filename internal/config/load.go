package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Load reads the environment secrets and the YAML policy document at
// yamlPath and returns a frozen Settings. A missing required secret or an
// unparsable or invalid policy document produces a single descriptive
// error; there is no partial result.
func Load(yamlPath string) (*Settings, error) {
	secretKey := os.Getenv("JWT_SECRET_KEY")
	if secretKey == "" {
		return nil, fmt.Errorf("config: JWT_SECRET_KEY is required")
	}

	clientsJSON := os.Getenv("API_CLIENTS_JSON")
	if clientsJSON == "" {
		return nil, fmt.Errorf("config: API_CLIENTS_JSON is required")
	}
	var clients []ApiClient
	if err := json.Unmarshal([]byte(clientsJSON), &clients); err != nil {
		return nil, fmt.Errorf("config: API_CLIENTS_JSON is invalid: %w", err)
	}

	raw, err := os.ReadFile(yamlPath)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", yamlPath, err)
	}

	var policy Policy
	if err := yaml.Unmarshal(raw, &policy); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", yamlPath, err)
	}
	applyDefaults(&policy)

	s := &Settings{
		JWTSecretKey: secretKey,
		RedisURL:     os.Getenv("REDIS_URL"),
		APIClients:   clients,
		Policy:       policy,
	}

	if err := validate(s); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return s, nil
}

func applyDefaults(p *Policy) {
	if p.Anomaly.ErrorThreshold == 0 {
		p.Anomaly.ErrorThreshold = DefaultErrorThreshold
	}
	if p.Anomaly.PathEnumerationThreshold == 0 {
		p.Anomaly.PathEnumerationThreshold = DefaultPathEnumerationThreshold
	}
	if p.Cartographer.OnShadowAPIDiscovered == "" {
		p.Cartographer.OnShadowAPIDiscovered = ShadowPolicyLog
	}
	if p.Auth.TokenTTLMinutes == 0 {
		p.Auth.TokenTTLMinutes = 30
	}
	for i := range p.Aggregations {
		if p.Aggregations[i].CacheTTLSeconds == 0 {
			p.Aggregations[i].CacheTTLSeconds = 60
		}
	}
}

func validate(s *Settings) error {
	seenClients := make(map[string]struct{}, len(s.APIClients))
	for _, c := range s.APIClients {
		if c.ClientID == "" || c.APIKey == "" {
			return fmt.Errorf("API_CLIENTS_JSON: client_id and api_key are required for every entry")
		}
		if _, dup := seenClients[c.APIKey]; dup {
			return fmt.Errorf("API_CLIENTS_JSON: duplicate api_key for client %q", c.ClientID)
		}
		seenClients[c.APIKey] = struct{}{}
	}

	if s.Policy.Cartographer.OpenAPIURL == "" && s.Policy.Cartographer.OpenAPIFile == "" {
		return fmt.Errorf("cartographer: one of openapi_url or openapi_file is required")
	}
	switch s.Policy.Cartographer.OnShadowAPIDiscovered {
	case ShadowPolicyBlock, ShadowPolicyLog:
	default:
		return fmt.Errorf("cartographer.on_shadow_api_discovered: must be %q or %q", ShadowPolicyBlock, ShadowPolicyLog)
	}

	for _, r := range s.Policy.InspectionRules {
		switch r.Type {
		case RuleTypePattern, RuleTypeGraphQLDepth, RuleTypeGraphQLCost, RuleTypeSchema:
		default:
			return fmt.Errorf("inspection_rules[%s]: unknown type %q", r.Name, r.Type)
		}
		switch r.Action {
		case ActionBlock, ActionLog:
		default:
			return fmt.Errorf("inspection_rules[%s]: action must be %q or %q", r.Name, ActionBlock, ActionLog)
		}
		if r.Type == RuleTypeSchema {
			if _, ok := s.Policy.Schemas[r.BodySchema]; !ok {
				return fmt.Errorf("inspection_rules[%s]: body_schema %q is not defined under schemas", r.Name, r.BodySchema)
			}
		}
	}

	seenPaths := make(map[string]struct{}, len(s.Policy.Aggregations))
	for _, a := range s.Policy.Aggregations {
		if a.PublicPath == "" {
			return fmt.Errorf("aggregations: public_path is required")
		}
		if _, dup := seenPaths[a.PublicPath]; dup {
			return fmt.Errorf("aggregations: duplicate public_path %q", a.PublicPath)
		}
		seenPaths[a.PublicPath] = struct{}{}
		if len(a.Queries) == 0 {
			return fmt.Errorf("aggregations[%s]: at least one query is required", a.PublicPath)
		}
		for _, q := range a.Queries {
			if q.Name == "" || q.BackendURL == "" {
				return fmt.Errorf("aggregations[%s]: query name and backend_url are required", a.PublicPath)
			}
		}
	}

	return nil
}
