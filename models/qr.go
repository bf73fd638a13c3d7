package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	QRStatusNotUsed = "not used"
	QRStatusUsed    = "used"
)

// QRRecord is the durable ticket: one per (owner-or-guest, party, code).
type QRRecord struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id,omitempty"` // empty = guest
	PartyID    string     `json:"party_id"`
	CodeID     string     `json:"code,omitempty"` // reference to Code.ID, optional
	Token      string     `json:"qr_token"`
	Image      string     `json:"qr_image"` // public URL or data URI
	Status     string     `json:"status"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
	UsedAt     *time.Time `json:"used_at,omitempty"`
	Created    time.Time  `json:"created_at"`

	// Display fields joined in by the scan service.
	OwnerName  string `json:"owner_name,omitempty"`
	PartyTitle string `json:"party_title,omitempty"`
}

// QRTicket is the issuance result handed back to redeeming clients.
type QRTicket struct {
	Token    string `json:"token"`
	ImageURL string `json:"image_url"`
}

// NewQRToken synthesizes a ticket token. ownerTag is the user id, or a
// GUEST-<name> tag for anonymous redemptions.
func NewQRToken(ownerTag, partyID, codeID string, at time.Time, randomHex string) string {
	return fmt.Sprintf("QR-%s-%s-%s-%d-%s", ownerTag, partyID, codeID, at.UnixMilli(), randomHex)
}

// GuestOwnerTag derives the owner tag for a guest name ("" falls back to ANON).
func GuestOwnerTag(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "GUEST-ANON"
	}
	return "GUEST-" + strings.Join(strings.Fields(name), "-")
}

// ParseQRToken decomposes QR-<owner>-<party>-<code>-<millis>-<random>.
// Guest owner tags contain dashes themselves, so the fixed fields are
// anchored from the right rather than the left.
func ParseQRToken(token string) (ownerTag, partyID, codeID string, ok bool) {
	parts := strings.Split(token, "-")
	if len(parts) < 6 || parts[0] != "QR" {
		return "", "", "", false
	}
	n := len(parts)
	if _, err := strconv.ParseInt(parts[n-2], 10, 64); err != nil {
		return "", "", "", false
	}
	ownerTag = strings.Join(parts[1:n-4], "-")
	return ownerTag, parts[n-4], parts[n-3], true
}
