package identity

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/veilgate/gateway/internal/errors"
)

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// backendLoginResponse is what the configured authentication upstream
// returns on success. The upstream itself is an external collaborator;
// this gateway only interprets its {user_id, role} shape.
type backendLoginResponse struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// LoginHandler proxies credentials to the configured auth backend and,
// on success, mints an access token from the {user_id, role} it returns.
func LoginHandler(resolver *Resolver, client *http.Client, backendURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			errors.ErrBadRequest.WithDetails("unreadable request body").WriteJSON(w)
			return
		}

		upstreamReq, err := http.NewRequestWithContext(req.Context(), http.MethodPost, backendURL, bytes.NewReader(body))
		if err != nil {
			errors.ErrInternalServer.WriteJSON(w)
			return
		}
		upstreamReq.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(upstreamReq)
		if err != nil {
			errors.ErrServiceUnavailable.WithDetails("backend unavailable").WriteJSON(w)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusBadRequest {
			errors.ErrUnauthorized.WithDetails("invalid credentials").WriteJSON(w)
			return
		}

		var backendResp backendLoginResponse
		if err := json.NewDecoder(resp.Body).Decode(&backendResp); err != nil {
			errors.ErrInternalServer.WithDetails("malformed auth backend response").WriteJSON(w)
			return
		}

		token, err := resolver.IssueToken(map[string]interface{}{
			"user_id": backendResp.UserID,
			"role":    backendResp.Role,
		})
		if err != nil {
			errors.ErrInternalServer.WriteJSON(w)
			return
		}

		writeToken(w, token)
	}
}

// RefreshHandler requires a valid bearer token and issues a fresh token
// carrying the same claims.
func RefreshHandler(resolver *Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		claims, gwErr := resolver.ResolveUser(req)
		if gwErr != nil {
			gwErr.WriteJSON(w)
			return
		}
		if len(claims) == 0 {
			errors.ErrUnauthorized.WithDetails("invalid credentials").WriteJSON(w)
			return
		}

		delete(claims, "exp")
		token, err := resolver.IssueToken(claims)
		if err != nil {
			errors.ErrInternalServer.WriteJSON(w)
			return
		}

		writeToken(w, token)
	}
}

func writeToken(w http.ResponseWriter, token string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(tokenResponse{AccessToken: token, TokenType: "bearer"})
}
