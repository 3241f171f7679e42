package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/verification-api/internal/application/verification"
	"github.com/verification-api/internal/domain"
	"github.com/verification-api/internal/pkg/validate"
)

// VerificationHandler handles code issue, redemption and inspection endpoints.
type VerificationHandler struct {
	svc        verification.Service
	defaultTTL time.Duration
}

func NewVerificationHandler(svc verification.Service, defaultTTL time.Duration) *VerificationHandler {
	return &VerificationHandler{svc: svc, defaultTTL: defaultTTL}
}

type issueRequest struct {
	RequesterID string `json:"requester_id" validate:"required"`
	TTLSeconds  int64  `json:"ttl_seconds" validate:"omitempty,min=0,max=86400"`
	NoExpiry    bool   `json:"no_expiry"`
}

// Issue creates a fresh pending code for the requester. The code is returned
// to the caller, which is responsible for delivering it out of band when the
// requester has no open ticket channel.
func (h *VerificationHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	ttl := h.defaultTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	if req.NoExpiry {
		ttl = 0
	}

	rec, err := h.svc.Issue(r.Context(), req.RequesterID, ttl)
	if err != nil {
		writeError(w, httpStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, VerificationEnvelope{
		RequesterID: rec.RequesterID,
		Code:        rec.Code,
		State:       rec.State,
		ExpiresAt:   rec.ExpiresAt,
	})
}

// Redeem binds a code to an external id. When the binding committed but a
// downstream platform call failed, the response still carries the requester
// id so the caller can reconcile.
func (h *VerificationHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req verification.RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	requesterID, err := h.svc.Redeem(r.Context(), req)
	if err != nil {
		status := httpStatus(err)
		if errors.Is(err, domain.ErrUpstream) {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, RedeemEnvelope{
			Success:     false,
			RequesterID: requesterID,
			Error:       err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, RedeemEnvelope{Success: true, RequesterID: requesterID})
}

// Get reports the requester's active pending record without the code itself.
func (h *VerificationHandler) Get(w http.ResponseWriter, r *http.Request) {
	requesterID := chi.URLParam(r, "requesterId")
	if requesterID == "" {
		writeError(w, http.StatusBadRequest, "requester id required")
		return
	}
	rec, err := h.svc.ActivePending(r.Context(), requesterID)
	if err != nil {
		writeError(w, httpStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, VerificationEnvelope{
		RequesterID: rec.RequesterID,
		State:       rec.State,
		ExpiresAt:   rec.ExpiresAt,
	})
}
