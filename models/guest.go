package models

import "time"

// GuestEntry is one row of the door-approval ledger. Validated is nil while
// the guest awaits an admin decision.
type GuestEntry struct {
	ID        string    `json:"id"`
	PartyID   string    `json:"party_id"`
	Name      string    `json:"name"`
	Validated *bool     `json:"validado"`
	Created   time.Time `json:"created_at"`
}

// StatusLabel maps the tri-state flag to the labels the door UI renders.
func (g *GuestEntry) StatusLabel() string {
	switch {
	case g.Validated == nil:
		return "Pending"
	case *g.Validated:
		return "Valid"
	default:
		return "Invalid"
	}
}
