package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"rumbify-server/models"
	"rumbify-server/monitoring"
	"rumbify-server/status"
	"rumbify-server/store"
)

// ScanService validates QR tickets at the door and flips them to used.
type ScanService struct {
	store    store.Store
	realtime Broadcaster
	logger   *slog.Logger

	now func() time.Time
}

func NewScanService(st store.Store, realtime Broadcaster, logger *slog.Logger) *ScanService {
	return &ScanService{store: st, realtime: realtime, logger: logger, now: time.Now}
}

type ScanRequest struct {
	QRData  string `json:"qr_data"`
	PartyID string `json:"party_id"` // the door's party, optional
}

type ScanResult struct {
	TicketID   string     `json:"ticket_id"`
	PartyID    string     `json:"party_id"`
	PartyTitle string     `json:"party_title,omitempty"`
	OwnerName  string     `json:"owner_name,omitempty"`
	ScannedAt  time.Time  `json:"scanned_at"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
}

// Scan resolves the scanned payload to a ticket and admits it exactly once.
func (s *ScanService) Scan(ctx context.Context, req ScanRequest) (*ScanResult, error) {
	res, err := s.scan(ctx, req)
	monitoring.TrackScan(scanOutcome(err))
	return res, err
}

func (s *ScanService) scan(ctx context.Context, req ScanRequest) (*ScanResult, error) {
	if req.QRData == "" {
		return nil, status.ErrQRDataRequired
	}

	qr, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	// Records from before party_id was stored get it backfilled from the
	// token on first scan.
	if qr.PartyID == "" {
		if _, tokenParty, _, ok := models.ParseQRToken(qr.Token); ok && tokenParty != "" {
			if uerr := s.store.UpdateQRPartyID(ctx, qr.ID, tokenParty); uerr != nil {
				s.logger.Warn("party backfill failed", "qr", qr.ID, "error", uerr)
			} else {
				qr.PartyID = tokenParty
			}
		}
	}

	if req.PartyID != "" && qr.PartyID != "" && qr.PartyID != req.PartyID {
		return nil, status.ErrPartyMismatch
	}
	if qr.Status == models.QRStatusUsed {
		return nil, status.ErrAlreadyScanned
	}

	now := s.now()
	if qr.ValidUntil != nil && qr.ValidUntil.Before(now) {
		return nil, status.ErrInvalidQR
	}

	changed, err := s.store.MarkQRUsed(ctx, qr.ID, now)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, status.ErrAlreadyScanned
	}

	result := &ScanResult{
		TicketID:   qr.ID,
		PartyID:    qr.PartyID,
		ScannedAt:  now,
		ValidUntil: qr.ValidUntil,
	}
	if party, perr := s.store.FindParty(ctx, qr.PartyID); perr == nil {
		result.PartyTitle = party.Title
	}
	if qr.UserID != "" {
		if owner, uerr := s.store.FindUser(ctx, qr.UserID); uerr == nil {
			result.OwnerName = owner.Name
		}
	}

	if s.realtime != nil && qr.PartyID != "" {
		s.realtime.PublishScan(ctx, qr.PartyID, map[string]any{
			"ticket_id":  qr.ID,
			"owner_name": result.OwnerName,
			"scanned_at": now,
		})
	}

	s.logger.Info("qr scanned", "qr", qr.ID, "party", qr.PartyID)
	return result, nil
}

// resolve walks the lookup chain: exact token, legacy payload column, then
// progressively weaker matches derived from the token's fields.
func (s *ScanService) resolve(ctx context.Context, req ScanRequest) (*models.QRRecord, error) {
	if qr, err := s.store.FindQRByToken(ctx, req.QRData); err == nil {
		return qr, nil
	} else if !status.IsNotFound(err) {
		return nil, err
	}

	if qr, err := s.store.FindQRByLegacyData(ctx, req.QRData); err == nil {
		return qr, nil
	} else if !status.IsNotFound(err) {
		return nil, err
	}

	ownerTag, tokenParty, codeID, ok := models.ParseQRToken(req.QRData)
	if !ok {
		return nil, status.ErrInvalidQR
	}

	if codeID != "" {
		if qr, err := s.store.FindQRByCodeID(ctx, codeID); err == nil {
			return qr, nil
		} else if !status.IsNotFound(err) {
			return nil, err
		}
	}

	// Guest tags are display names, not record ids; owner lookup only works
	// for registered users.
	if ownerTag != "" && !isGuestTag(ownerTag) {
		if qr, err := s.store.FindQRForOwner(ctx, ownerTag, tokenParty, codeID); err == nil {
			return qr, nil
		} else if !status.IsNotFound(err) {
			return nil, err
		}
	}

	partyID := tokenParty
	if partyID == "" {
		partyID = req.PartyID
	}
	if partyID != "" {
		ownerID := ownerTag
		if isGuestTag(ownerID) {
			ownerID = ""
		}
		if qr, err := s.store.FindQRByParty(ctx, partyID, ownerID); err == nil {
			return qr, nil
		} else if !status.IsNotFound(err) {
			return nil, err
		}
	}

	return nil, status.ErrInvalidQR
}

func isGuestTag(tag string) bool {
	return len(tag) >= 5 && tag[:5] == "GUEST"
}

func scanOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, status.ErrAlreadyScanned):
		return "already_scanned"
	case errors.Is(err, status.ErrPartyMismatch):
		return "party_mismatch"
	case errors.Is(err, status.ErrInvalidQR):
		return "invalid"
	default:
		return "error"
	}
}
