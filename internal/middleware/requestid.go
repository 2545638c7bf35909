package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/veilgate/gateway/internal/reqctx"
)

func init() {
	// Batch crypto/rand reads into a pool to avoid a syscall per UUID.
	uuid.EnableRandPool()
}

// RequestIDConfig configures the request ID middleware
type RequestIDConfig struct {
	// Header is the header name to use for the request ID
	Header string
	// Generator generates a new request ID
	Generator func() string
	// TrustHeader trusts incoming request ID headers
	TrustHeader bool
}

// DefaultRequestIDConfig provides default request ID settings
var DefaultRequestIDConfig = RequestIDConfig{
	Header:      "X-Request-ID",
	Generator:   defaultIDGenerator,
	TrustHeader: true,
}

func defaultIDGenerator() string {
	return uuid.New().String()
}

// RequestID creates a request ID middleware with default config. It also
// attaches the reqctx.State every downstream inspector reads from and
// populates.
func RequestID() Middleware {
	return RequestIDWithConfig(DefaultRequestIDConfig)
}

// RequestIDWithConfig creates a request ID middleware with custom config
func RequestIDWithConfig(cfg RequestIDConfig) Middleware {
	if cfg.Header == "" {
		cfg.Header = "X-Request-ID"
	}
	if cfg.Generator == nil {
		cfg.Generator = defaultIDGenerator
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var requestID string

			// Check for existing request ID if trusted
			if cfg.TrustHeader {
				requestID = r.Header.Get(cfg.Header)
			}

			// Generate new ID if not present
			if requestID == "" {
				requestID = cfg.Generator()
			}

			r.Header.Set(cfg.Header, requestID)
			w.Header().Set(cfg.Header, requestID)

			ctx, state := reqctx.New(r.Context())
			state.RequestID = requestID
			state.PeerAddr = peerAddr(r)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// peerAddr strips the port from r.RemoteAddr, matching the form
// allowed_source_addresses entries are compared against.
func peerAddr(r *http.Request) string {
	host := r.RemoteAddr
	for i := len(host) - 1; i >= 0; i-- {
		if host[i] == ':' {
			return host[:i]
		}
	}
	return host
}

// GetRequestID extracts the request ID from the request context
func GetRequestID(r *http.Request) string {
	return reqctx.From(r).RequestID
}

// requestIDKey is a standalone context key for call sites that carry a
// bare request ID without the rest of reqctx.State.
type requestIDKey struct{}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext extracts the request ID from context
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
