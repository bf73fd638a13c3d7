package handlers

import (
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"rumbify-server/services"
)

type GuestHandler struct {
	guests *services.GuestService
}

func NewGuestHandler(guests *services.GuestService) *GuestHandler {
	return &GuestHandler{guests: guests}
}

// List - GET /api/parties/{partyId}/guests
func (h *GuestHandler) List(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	guests, err := h.guests.ListGuests(e.Request.Context(), e.Request.PathValue("partyId"))
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"success": true,
		"guests":  guests,
		"total":   len(guests),
	})
}

// Summary - GET /api/parties/{partyId}/guests/summary
func (h *GuestHandler) Summary(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	summary, err := h.guests.Summary(e.Request.Context(), e.Request.PathValue("partyId"))
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"success": true,
		"summary": summary,
	})
}

// UpdateStatus - PATCH /api/parties/{partyId}/guests/{guestId}
// Accepts either {"validado": bool} or {"status": "<word>"} with the legacy
// status synonyms.
func (h *GuestHandler) UpdateStatus(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		Validado *bool  `json:"validado"`
		Status   string `json:"status"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	var decision bool
	switch {
	case req.Validado != nil:
		decision = *req.Validado
	case req.Status != "":
		var err error
		decision, err = services.ParseGuestDecision(req.Status)
		if err != nil {
			return apis.NewBadRequestError("Unrecognized status value", err)
		}
	default:
		return apis.NewBadRequestError("Missing validado or status", nil)
	}

	guest, err := h.guests.UpdateStatus(
		e.Request.Context(),
		e.Request.PathValue("partyId"),
		e.Request.PathValue("guestId"),
		decision,
	)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "Guest status updated",
		"guest":   guest,
	})
}
