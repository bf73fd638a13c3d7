package handlers

import (
	"errors"

	"github.com/pocketbase/pocketbase/apis"

	"rumbify-server/status"
)

// apiError maps service errors onto HTTP responses: not-found sentinels to
// 404, business rejections and validation to 400, the rest to 500.
func apiError(err error) error {
	switch {
	case status.IsNotFound(err):
		return apis.NewNotFoundError(err.Error(), err)
	case errors.Is(err, status.ErrMissingFields),
		errors.Is(err, status.ErrBadQuantity),
		errors.Is(err, status.ErrCodeRequired),
		errors.Is(err, status.ErrQRDataRequired),
		errors.Is(err, status.ErrPriceMismatch),
		errors.Is(err, status.ErrEventFull),
		errors.Is(err, status.ErrCodeUsed),
		errors.Is(err, status.ErrAlreadyScanned),
		errors.Is(err, status.ErrPartyMismatch),
		errors.Is(err, status.ErrExhausted):
		return apis.NewBadRequestError(err.Error(), err)
	default:
		return apis.NewInternalServerError("Something went wrong", err)
	}
}
