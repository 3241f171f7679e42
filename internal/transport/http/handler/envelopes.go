package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/verification-api/internal/domain"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode int    `json:"error_code,omitempty"`
}

// TicketEnvelope wraps ticket-open responses.
type TicketEnvelope struct {
	ChannelRef string `json:"channel_ref"`
	Created    bool   `json:"created"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
}

// VerificationEnvelope wraps issued/inspected verification records. The code
// is only populated on issue responses; inspection never reveals it.
type VerificationEnvelope struct {
	RequesterID string `json:"requester_id"`
	Code        string `json:"code,omitempty"`
	State       string `json:"state"`
	ExpiresAt   int64  `json:"expires_at,omitempty"`
	Error       string `json:"error,omitempty"`
}

// RedeemEnvelope wraps redemption responses. RequesterID is set whenever the
// binding committed, including the degraded case where a downstream platform
// call failed afterwards.
type RedeemEnvelope struct {
	Success     bool   `json:"success"`
	RequesterID string `json:"requester_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg})
}

// httpStatus maps domain sentinels onto response codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrAlreadyUsed),
		errors.Is(err, domain.ErrExpired),
		errors.Is(err, domain.ErrExternalIDConflict),
		errors.Is(err, domain.ErrDuplicateCode):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
