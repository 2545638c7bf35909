// Package reqctx carries the per-request state the pipeline accumulates
// as a request moves through identity resolution and inspection: the
// request ID, the resolved ApiClient, and the caller's decoded claims.
package reqctx

import (
	"context"
	"net/http"

	"github.com/veilgate/gateway/internal/config"
)

type contextKey struct{}

// State is the mutable per-request bag threaded through context.Context.
// Each inspector reads what previous stages populated and may add its
// own fields; nothing outlives the request.
type State struct {
	RequestID string
	Client    *config.ApiClient
	Claims    map[string]interface{}
	PeerAddr  string
}

// UserID returns the "user_id" claim, or "" if absent.
func (s *State) UserID() string {
	if s == nil || s.Claims == nil {
		return ""
	}
	v, _ := s.Claims["user_id"].(string)
	return v
}

// ClientID returns the resolved client's client_id, or "" if identity
// resolution has not yet run.
func (s *State) ClientID() string {
	if s == nil || s.Client == nil {
		return ""
	}
	return s.Client.ClientID
}

// Role returns the resolved ApiClient's role, or "" if unresolved.
func (s *State) Role() string {
	if s == nil || s.Client == nil {
		return ""
	}
	return s.Client.Role
}

// UserRole returns the "role" claim from the caller's JWT, or "" if no
// token was presented. This is distinct from Role, which reflects the
// calling ApiClient rather than the authenticated end user.
func (s *State) UserRole() string {
	if s == nil || s.Claims == nil {
		return ""
	}
	v, _ := s.Claims["role"].(string)
	return v
}

// New attaches a fresh State to ctx and returns the derived context
// alongside the State so the caller can populate it in place.
func New(ctx context.Context) (context.Context, *State) {
	s := &State{}
	return context.WithValue(ctx, contextKey{}, s), s
}

// From returns the State carried by r's context, or a zero State if none
// was attached (should not happen past the request-id middleware, but
// callers must not panic on a misconfigured chain).
func From(r *http.Request) *State {
	if s, ok := r.Context().Value(contextKey{}).(*State); ok {
		return s
	}
	return &State{}
}
