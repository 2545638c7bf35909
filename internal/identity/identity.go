// Package identity resolves the two facts every inspected request
// carries: which ApiClient is calling (from the API key) and which user
// claims, if any, the caller's bearer token decodes to.
package identity

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/veilgate/gateway/internal/config"
	"github.com/veilgate/gateway/internal/errors"
)

const (
	apiKeyHeader = "x-api-key"
	bearerPrefix = "Bearer "
)

// Resolver holds the immutable ApiClient table and the JWT signing
// secret loaded at startup.
type Resolver struct {
	clients  []config.ApiClient
	secret   []byte
	tokenTTL time.Duration
}

// NewResolver builds a Resolver from a loaded Settings.
func NewResolver(s *config.Settings) *Resolver {
	ttl := time.Duration(s.Policy.Auth.TokenTTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Resolver{
		clients:  s.APIClients,
		secret:   []byte(s.JWTSecretKey),
		tokenTTL: ttl,
	}
}

// ResolveClient requires the x-api-key header, matches it against the
// ApiClient table with a constant-time comparison per client, and — if
// the matched client declares allowed_source_addresses — requires
// peerAddr to be among them.
func (r *Resolver) ResolveClient(req *http.Request, peerAddr string) (*config.ApiClient, *errors.GatewayError) {
	key := req.Header.Get(apiKeyHeader)
	if key == "" {
		return nil, errors.ErrUnauthorized.WithDetails("invalid or missing API key")
	}

	client, ok := r.match(key)
	if !ok {
		return nil, errors.ErrUnauthorized.WithDetails("invalid or missing API key")
	}

	if len(client.AllowedSourceAddresses) > 0 && !contains(client.AllowedSourceAddresses, peerAddr) {
		return nil, errors.ErrForbidden.WithDetails("address not allowed")
	}

	return &client, nil
}

func (r *Resolver) match(key string) (config.ApiClient, bool) {
	keyBytes := []byte(key)
	for _, c := range r.clients {
		if subtle.ConstantTimeCompare([]byte(c.APIKey), keyBytes) == 1 {
			return c, true
		}
	}
	return config.ApiClient{}, false
}

func contains(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}

// ResolveUser returns the empty claim set when no bearer token is
// presented (anonymous-allowed aggregations rely on this), otherwise
// validates an HS256 signature and expiry.
func (r *Resolver) ResolveUser(req *http.Request) (map[string]interface{}, *errors.GatewayError) {
	header := req.Header.Get("Authorization")
	if header == "" {
		return map[string]interface{}{}, nil
	}
	if !strings.HasPrefix(header, bearerPrefix) {
		return nil, errors.ErrUnauthorized.WithDetails("invalid credentials")
	}
	tokenStr := strings.TrimPrefix(header, bearerPrefix)

	claims, err := r.parse(tokenStr)
	if err != nil {
		return nil, errors.ErrUnauthorized.WithDetails("invalid credentials")
	}
	return claims, nil
}

func (r *Resolver) parse(tokenStr string) (map[string]interface{}, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return r.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}(claims), nil
}

// IssueToken signs a fresh HS256 token embedding claims plus exp, used by
// the login and refresh operations.
func (r *Resolver) IssueToken(claims map[string]interface{}) (string, error) {
	mc := jwt.MapClaims{}
	for k, v := range claims {
		mc[k] = v
	}
	mc["exp"] = time.Now().Add(r.tokenTTL).Unix()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, mc)
	return token.SignedString(r.secret)
}

// TokenTTL returns the configured access-token lifetime.
func (r *Resolver) TokenTTL() time.Duration { return r.tokenTTL }
