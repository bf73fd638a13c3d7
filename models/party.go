package models

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCapacity is assumed when a party carries no parseable capacity.
const DefaultCapacity = 100

type Party struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	Location         string   `json:"location"`
	Date             string   `json:"date"` // "5/9/21 • 23:00-06:00" or ISO
	Administrator    string   `json:"administrator"`
	Image            string   `json:"image"`
	Tags             []string `json:"tags"`
	Category         string   `json:"category"`
	AttendeesCurrent int      `json:"-"`
	AttendeesMax     int      `json:"-"`
}

// Capacity returns the admission limit, falling back to DefaultCapacity for
// rows that predate the attendees_max column.
func (p *Party) Capacity() int {
	if p.AttendeesMax > 0 {
		return p.AttendeesMax
	}
	return DefaultCapacity
}

// Attendees renders the "current/max" form the clients consume.
func (p *Party) Attendees() string {
	return fmt.Sprintf("%d/%d", p.AttendeesCurrent, p.Capacity())
}

// ParseAttendees splits a "current/max" string, falling back to 0 and
// DefaultCapacity for anything unparseable.
func ParseAttendees(s string) (current, max int) {
	current, max = 0, DefaultCapacity
	parts := strings.SplitN(strings.TrimSpace(s), "/", 2)
	if v, err := strconv.Atoi(strings.TrimSpace(parts[0])); err == nil {
		current = v
	}
	if len(parts) == 2 {
		if v, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil && v > 0 {
			max = v
		}
	}
	return current, max
}

type PriceTier struct {
	ID      string          `json:"id"`
	PartyID string          `json:"party_id"`
	Name    string          `json:"price_name"`
	Amount  decimal.Decimal `json:"price"`
}

type User struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	ProfileImage string `json:"profile_image,omitempty"`
}

// PartySummary is the party payload returned by a successful redemption.
type PartySummary struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Location      string          `json:"location"`
	Date          string          `json:"date"`
	Administrator string          `json:"administrator"`
	Image         string          `json:"image"`
	Tags          []string        `json:"tags"`
	Category      string          `json:"category"`
	Attendees     string          `json:"attendees"` // "current/max"
	PriceName     string          `json:"price_name"`
	Price         decimal.Decimal `json:"price"`
	Ticket        *QRTicket       `json:"qr,omitempty"`
}
