package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"rumbify-server/models"
	"rumbify-server/status"
	"rumbify-server/store"
)

// GuestService manages the door-approval ledger of a party.
type GuestService struct {
	store  store.Store
	logger *slog.Logger
}

func NewGuestService(st store.Store, logger *slog.Logger) *GuestService {
	return &GuestService{store: st, logger: logger}
}

type GuestListEntry struct {
	*models.GuestEntry
	Status string `json:"status"`
}

func (s *GuestService) ListGuests(ctx context.Context, partyID string) ([]*GuestListEntry, error) {
	if partyID == "" {
		return nil, status.ErrMissingFields
	}
	if _, err := s.store.FindParty(ctx, partyID); err != nil {
		if status.IsNotFound(err) {
			return nil, status.ErrPartyNotFound
		}
		return nil, err
	}

	entries, err := s.store.ListGuestEntries(ctx, partyID)
	if err != nil {
		return nil, err
	}

	out := make([]*GuestListEntry, len(entries))
	for i, g := range entries {
		out[i] = &GuestListEntry{GuestEntry: g, Status: g.StatusLabel()}
	}
	return out, nil
}

type GuestSummary struct {
	PartyID   string            `json:"party_id"`
	Attendees string            `json:"attendees"`
	Total     int               `json:"total"`
	Pending   []*GuestListEntry `json:"pending"`
	Validated []*GuestListEntry `json:"validated"`
	Denied    []*GuestListEntry `json:"denied"`
}

// Summary buckets the ledger by decision. Redeemed codes whose holders never
// made it into the ledger are folded in as pending, deduplicated by name.
func (s *GuestService) Summary(ctx context.Context, partyID string) (*GuestSummary, error) {
	if partyID == "" {
		return nil, status.ErrMissingFields
	}
	party, err := s.store.FindParty(ctx, partyID)
	if err != nil {
		if status.IsNotFound(err) {
			return nil, status.ErrPartyNotFound
		}
		return nil, err
	}

	entries, err := s.store.ListGuestEntries(ctx, partyID)
	if err != nil {
		return nil, err
	}

	summary := &GuestSummary{
		PartyID:   partyID,
		Attendees: party.Attendees(),
		Pending:   []*GuestListEntry{},
		Validated: []*GuestListEntry{},
		Denied:    []*GuestListEntry{},
	}

	seen := make(map[string]struct{}, len(entries))
	for _, g := range entries {
		seen[strings.ToLower(strings.TrimSpace(g.Name))] = struct{}{}
		item := &GuestListEntry{GuestEntry: g, Status: g.StatusLabel()}
		switch {
		case g.Validated == nil:
			summary.Pending = append(summary.Pending, item)
		case *g.Validated:
			summary.Validated = append(summary.Validated, item)
		default:
			summary.Denied = append(summary.Denied, item)
		}
	}

	derived, err := s.derivePendingFromCodes(ctx, partyID, seen)
	if err != nil {
		s.logger.Warn("deriving pending guests from codes failed", "party", partyID, "error", err)
	} else {
		summary.Pending = append(summary.Pending, derived...)
	}

	summary.Total = len(summary.Pending) + len(summary.Validated) + len(summary.Denied)
	return summary, nil
}

// derivePendingFromCodes names the holders of consumed codes that have no
// ledger row yet.
func (s *GuestService) derivePendingFromCodes(ctx context.Context, partyID string, seen map[string]struct{}) ([]*GuestListEntry, error) {
	codes, err := s.store.ListPartyCodes(ctx, partyID)
	if err != nil {
		return nil, err
	}

	var derived []*GuestListEntry
	for _, c := range codes {
		if !c.AlreadyUsed || c.UserID == "" {
			continue
		}
		owner, uerr := s.store.FindUser(ctx, c.UserID)
		if uerr != nil || owner.Name == "" {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(owner.Name))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		derived = append(derived, &GuestListEntry{
			GuestEntry: &models.GuestEntry{PartyID: partyID, Name: owner.Name},
			Status:     "Pending",
		})
	}
	return derived, nil
}

// UpdateStatus records an admin decision on a guest.
func (s *GuestService) UpdateStatus(ctx context.Context, partyID, guestID string, validated bool) (*GuestListEntry, error) {
	if partyID == "" || guestID == "" {
		return nil, status.ErrMissingFields
	}

	g, err := s.store.UpdateGuestStatus(ctx, partyID, guestID, validated)
	if err != nil {
		if status.IsNotFound(err) {
			return nil, status.ErrRecordNotFound
		}
		return nil, err
	}

	s.logger.Info("guest status updated", "party", partyID, "guest", guestID, "validated", validated)
	return &GuestListEntry{GuestEntry: g, Status: g.StatusLabel()}, nil
}

// ParseGuestDecision maps the accepted request forms of a decision: a bare
// boolean, or the status word synonyms the legacy clients send.
func ParseGuestDecision(v any) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "validated", "valid", "approve", "approved", "true":
			return true, nil
		case "denied", "invalid", "reject", "rejected", "false":
			return false, nil
		}
	}
	return false, fmt.Errorf("unrecognized guest decision %v", v)
}
