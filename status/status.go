package status

import (
	"errors"
	"fmt"
)

var (
	// Validation
	ErrMissingFields   = errors.New("missing required fields: party_id, price_id or price_name, quantity")
	ErrBadQuantity     = errors.New("quantity must be between 1 and 100")
	ErrCodeRequired    = errors.New("code is required")
	ErrQRDataRequired  = errors.New("qr code data is required")
	ErrPriceMismatch   = errors.New("ticket type does not belong to this party")
	ErrEventFull       = errors.New("event is full")
	ErrCodeUsed        = errors.New("code has already been used")
	ErrAlreadyScanned  = errors.New("qr code has already been scanned")
	ErrPartyMismatch   = errors.New("qr code belongs to a different party")

	// Not found
	ErrInvalidCode   = errors.New("invalid code")
	ErrInvalidQR     = errors.New("invalid qr code")
	ErrPartyNotFound = errors.New("party not found")
	ErrPriceNotFound = errors.New("price information not found")
	ErrUserNotFound  = errors.New("user not found")
	ErrQRNotFound    = errors.New("qr code not found")

	// Infrastructure
	ErrRecordNotFound   = errors.New("record not found")
	ErrStoreUnavailable = errors.New("store: table unavailable")
	ErrExhausted        = errors.New("unable to generate unique codes, please try with a smaller quantity")
)

// ConstraintField identifies which constraint class an insert violated, so
// callers can pick a fallback without matching on driver error strings.
type ConstraintField int

const (
	ConstraintCodeRef ConstraintField = iota // foreign key on the code reference
	ConstraintOwnerRequired                  // not-null/required owner
	ConstraintUnique                         // duplicate key
)

type ConstraintError struct {
	Field ConstraintField
	Err   error
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("constraint violation (%d): %v", e.Field, e.Err)
}

func (e *ConstraintError) Unwrap() error { return e.Err }

// AsConstraint returns the typed constraint violation wrapped in err, if any.
func AsConstraint(err error) (*ConstraintError, bool) {
	var ce *ConstraintError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsNotFound reports whether err is one of the not-found sentinels.
func IsNotFound(err error) bool {
	for _, target := range []error{ErrRecordNotFound, ErrInvalidCode, ErrInvalidQR, ErrPartyNotFound, ErrPriceNotFound, ErrUserNotFound, ErrQRNotFound} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
