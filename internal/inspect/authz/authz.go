// Package authz enforces per-role IDOR rules: a request for a path whose
// named segment identifies an owning resource is rejected when the
// caller's JWT claim differs from that segment. A request whose claim is
// absent or empty is not rejected.
package authz

import (
	"net/http"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/veilgate/gateway/internal/config"
	"github.com/veilgate/gateway/internal/errors"
)

// Enforcer checks every AuthPolicy matching the caller's role against
// the request path.
type Enforcer struct {
	policies []config.AuthPolicy
}

// New builds an Enforcer from the configured policies.
func New(policies []config.AuthPolicy) *Enforcer {
	return &Enforcer{policies: policies}
}

// Check enforces the first matching rule of the first policy matching
// role. If no policy or rule matches, the request passes — the upstream
// is expected to perform the real authorization.
func (e *Enforcer) Check(req *http.Request, role string, claims map[string]interface{}, requestID string) *errors.GatewayError {
	for _, policy := range e.policies {
		if policy.Match.Role != role {
			continue
		}
		for _, rule := range policy.Rules {
			if !methodMatches(rule.Methods, req.Method) {
				continue
			}
			if ok, _ := doublestar.Match(globPattern(rule.PathPattern), req.URL.Path); !ok {
				continue
			}

			if rule.EnforceOwnerClaim == "" {
				return nil
			}

			pathOwnerID, found := extractNamedSegment(rule.PathPattern, rule.OwnerPathParam, req.URL.Path)
			if !found {
				return nil
			}

			claimValue := claimString(claims, rule.EnforceOwnerClaim)
			if claimValue != "" && pathOwnerID != "" && claimValue != pathOwnerID {
				return errors.ErrForbidden.WithDetails("you do not have permission to access this resource").WithRequestID(requestID)
			}
			return nil
		}
	}
	return nil
}

func methodMatches(methods []string, method string) bool {
	if len(methods) == 0 {
		return true
	}
	for _, m := range methods {
		if m == "*" || m == method {
			return true
		}
	}
	return false
}

// globPattern turns a path template using ":name" or "{name}" segments
// into a doublestar glob by replacing each named segment with "*".
func globPattern(pattern string) string {
	segments := strings.Split(pattern, "/")
	for i, seg := range segments {
		if isNamedSegment(seg) {
			segments[i] = "*"
		}
	}
	return strings.Join(segments, "/")
}

func isNamedSegment(seg string) bool {
	return strings.HasPrefix(seg, ":") || (strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}"))
}

func segmentName(seg string) string {
	switch {
	case strings.HasPrefix(seg, ":"):
		return seg[1:]
	case strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}"):
		return seg[1 : len(seg)-1]
	}
	return ""
}

// extractNamedSegment walks pattern and path segment-by-segment looking
// for the segment named paramName, returning its value from path.
func extractNamedSegment(pattern, paramName, path string) (string, bool) {
	if paramName == "" {
		return "", false
	}
	patternSegs := strings.Split(pattern, "/")
	pathSegs := strings.Split(path, "/")

	for i, seg := range patternSegs {
		if !isNamedSegment(seg) || segmentName(seg) != paramName {
			continue
		}
		if i >= len(pathSegs) {
			return "", false
		}
		return pathSegs[i], true
	}
	return "", false
}

// claimString reads a string-valued claim, returning "" if absent or not
// a string (a present-but-wrong-type claim is treated like no claim).
func claimString(claims map[string]interface{}, name string) string {
	if claims == nil {
		return ""
	}
	v, ok := claims[name]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
