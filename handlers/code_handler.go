package handlers

import (
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"rumbify-server/models"
	"rumbify-server/services"
)

type CodeHandler struct {
	codes      *services.CodeService
	redemption *services.RedemptionService
}

func NewCodeHandler(codes *services.CodeService, redemption *services.RedemptionService) *CodeHandler {
	return &CodeHandler{codes: codes, redemption: redemption}
}

// Generate - POST /api/codes/generate
func (h *CodeHandler) Generate(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req services.GenerateRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	res, err := h.codes.GenerateCodes(e.Request.Context(), req)
	if err != nil {
		return apiError(err)
	}

	message := "Codes generated successfully"
	if res.Warning != "" {
		message = res.Warning
	}
	saved := res.Records
	if saved == nil {
		saved = []*models.Code{}
	}
	return e.JSON(http.StatusOK, map[string]any{
		"success":     true,
		"message":     message,
		"preview":     res.Preview,
		"codes":       res.Codes,
		"saved_codes": saved,
	})
}

// Validate - POST /api/codes/validate
func (h *CodeHandler) Validate(e *core.RequestEvent) error {
	var req struct {
		Code string `json:"code"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	rec, err := h.codes.ValidateCode(e.Request.Context(), req.Code)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"success":  true,
		"message":  "Code is valid",
		"party_id": rec.PartyID,
		"price_id": rec.PriceID,
	})
}

// Use - POST /api/codes/use
func (h *CodeHandler) Use(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	rec, err := h.codes.UseCode(e.Request.Context(), req.Code, e.Auth.Id)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "Code marked as used",
		"code":    rec.Code,
	})
}

// Redeem - POST /api/codes/verify
// The full redemption: consumes the code, counts the admission and returns
// the party summary with a QR ticket.
func (h *CodeHandler) Redeem(e *core.RequestEvent) error {
	var req services.RedeemRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if e.Auth != nil {
		req.UserID = e.Auth.Id
	}

	summary, err := h.redemption.Redeem(e.Request.Context(), req)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "Code verified successfully",
		"party":   summary,
	})
}

// ListPartyCodes - GET /api/parties/{partyId}/codes
func (h *CodeHandler) ListPartyCodes(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	res, err := h.codes.ListPartyCodes(e.Request.Context(), e.Request.PathValue("partyId"))
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"success": true,
		"codes":   res.Codes,
		"total":   res.Total,
		"used":    res.Used,
	})
}
