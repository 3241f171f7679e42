package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/verification-api/internal/application/verification"
	"github.com/verification-api/internal/pkg/validate"
)

// TicketHandler handles ticket open/close endpoints.
type TicketHandler struct {
	svc verification.Service
}

func NewTicketHandler(svc verification.Service) *TicketHandler { return &TicketHandler{svc: svc} }

type openTicketRequest struct {
	RequesterID string `json:"requester_id" validate:"required"`
}

func (h *TicketHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req openTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	res, err := h.svc.OpenTicket(r.Context(), req.RequesterID)
	if err != nil {
		writeError(w, httpStatus(err), err.Error())
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, TicketEnvelope{
		ChannelRef: res.ChannelRef,
		Created:    res.Created,
		Message:    res.Message,
	})
}

func (h *TicketHandler) Close(w http.ResponseWriter, r *http.Request) {
	requesterID := chi.URLParam(r, "requesterId")
	if requesterID == "" {
		writeError(w, http.StatusBadRequest, "requester id required")
		return
	}
	if err := h.svc.CloseTicket(r.Context(), requesterID); err != nil {
		writeError(w, httpStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "ticket closed"})
}
