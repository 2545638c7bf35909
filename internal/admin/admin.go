// Package admin implements the gateway's single control-plane endpoint:
// an authenticated push of a new OpenAPI document that hot-swaps the
// cartographer's KNOWN endpoint set without a restart.
package admin

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/veilgate/gateway/internal/audit"
	"github.com/veilgate/gateway/internal/cartographer"
	"github.com/veilgate/gateway/internal/errors"
	"github.com/veilgate/gateway/internal/reqctx"
)

const maxSpecBytes = 10 << 20 // 10 MiB

// Handler serves POST /admin/spec.
type Handler struct {
	cartographer *cartographer.Cartographer
	auditor      *audit.Logger
}

// New builds an admin Handler.
func New(cg *cartographer.Cartographer, auditor *audit.Logger) *Handler {
	return &Handler{cartographer: cg, auditor: auditor}
}

// ServeHTTP requires the caller's resolved role to be "admin" — identity
// resolution is expected to have already run earlier in the chain — reads
// the request body as an OpenAPI document (YAML or JSON, either is
// accepted by the underlying parser), and replaces the cartographer's
// KNOWN set. A malformed document (unparseable, empty, oversized, or
// without paths) is a 400; any other failure is a 500.
// On success, a critical audit event reports the new KNOWN size.
func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	state := reqctx.From(req)

	if state.Role() != "admin" {
		errors.ErrForbidden.WithDetails("admin role required").WithRequestID(state.RequestID).WriteJSON(w)
		return
	}

	raw, err := io.ReadAll(io.LimitReader(req.Body, maxSpecBytes+1))
	if err != nil {
		errors.ErrInternalServer.WithDetails("could not read request body").WithRequestID(state.RequestID).WriteJSON(w)
		return
	}
	if len(raw) > maxSpecBytes {
		errors.ErrBadRequest.WithDetails("spec document too large").WithRequestID(state.RequestID).WriteJSON(w)
		return
	}
	if len(raw) == 0 {
		errors.ErrBadRequest.WithDetails("spec document is empty").WithRequestID(state.RequestID).WriteJSON(w)
		return
	}

	if err := h.cartographer.ReplaceKnown(req.Context(), raw); err != nil {
		errors.ErrBadRequest.WithDetails(err.Error()).WithRequestID(state.RequestID).WriteJSON(w)
		return
	}

	count := h.cartographer.KnownCount()
	if h.auditor != nil {
		h.auditor.Emit(audit.Event{
			Event:     audit.EventAdminMutation,
			ClientID:  state.ClientID(),
			Detail:    "cartographer KNOWN set replaced",
			RequestID: state.RequestID,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]int{"known_endpoints": count})
}
