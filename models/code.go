package models

import (
	"fmt"
	"regexp"
	"time"
)

// Code is one admission credential for a party at a given price tier.
// The code string is either the embedded form P<party>-T<price>-<random>
// (persisted batches and redeemed preview codes) or a bare short code.
type Code struct {
	ID          string    `json:"id"`
	PartyID     string    `json:"party_id"`
	PriceID     string    `json:"price_id"`
	Code        string    `json:"code"`
	AlreadyUsed bool      `json:"already_used"`
	UserID      string    `json:"user_id,omitempty"` // empty = unowned
	Created     time.Time `json:"created_at"`
}

var embeddedCodeRe = regexp.MustCompile(`^P([A-Za-z0-9_]+)-T([A-Za-z0-9_]+)-([A-Za-z0-9]+)$`)

// EmbedCode composes the persisted code form carrying its party and price ids.
func EmbedCode(partyID, priceID, raw string) string {
	return fmt.Sprintf("P%s-T%s-%s", partyID, priceID, raw)
}

// ParseEmbeddedCode extracts (partyID, priceID) from an embedded code string.
func ParseEmbeddedCode(code string) (partyID, priceID string, ok bool) {
	m := embeddedCodeRe.FindStringSubmatch(code)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// PreviewEntry is the ephemeral metadata cached for a preview code.
type PreviewEntry struct {
	PartyID   string    `json:"party_id"`
	PriceID   string    `json:"price_id"`
	CreatedAt time.Time `json:"created_at"`
}
