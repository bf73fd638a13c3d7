package handlers

import (
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"rumbify-server/services"
)

type QRHandler struct {
	qr   *services.QRService
	scan *services.ScanService
}

func NewQRHandler(qr *services.QRService, scan *services.ScanService) *QRHandler {
	return &QRHandler{qr: qr, scan: scan}
}

// GetTicket - GET /api/parties/{partyId}/qr
// Returns the caller's ticket for the party, issuing one on demand when they
// hold a redeemed code without a ticket record.
func (h *QRHandler) GetTicket(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	qr, err := h.qr.GetTicket(e.Request.Context(), e.Auth.Id, e.Request.PathValue("partyId"))
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"success": true,
		"qr": map[string]any{
			"token":       qr.Token,
			"image":       qr.Image,
			"status":      qr.Status,
			"valid_until": qr.ValidUntil,
			"party_title": qr.PartyTitle,
			"owner_name":  qr.OwnerName,
		},
	})
}

// Scan - POST /api/qr/scan
func (h *QRHandler) Scan(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req services.ScanRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	res, err := h.scan.Scan(e.Request.Context(), req)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "Entry granted",
		"scan":    res,
	})
}
