package services

import (
	"context"
	"errors"
	"log/slog"

	"rumbify-server/config"
	"rumbify-server/models"
	"rumbify-server/monitoring"
	"rumbify-server/status"
	"rumbify-server/store"
)

// Broadcaster pushes realtime updates to listening clients. Implementations
// must be best-effort: a failed publish never fails the request.
type Broadcaster interface {
	PublishAttendees(ctx context.Context, partyID string, current, max int)
	PublishScan(ctx context.Context, partyID string, payload map[string]any)
}

// RedemptionService turns an entry code into an admission: it resolves the
// code, consumes it, bumps the attendee counter and hands back a QR ticket.
type RedemptionService struct {
	store    store.Store
	cache    PreviewCache
	qr       *QRService
	realtime Broadcaster
	cfg      *config.Config
	logger   *slog.Logger
}

func NewRedemptionService(st store.Store, cache PreviewCache, qr *QRService, realtime Broadcaster, cfg *config.Config, logger *slog.Logger) *RedemptionService {
	return &RedemptionService{store: st, cache: cache, qr: qr, realtime: realtime, cfg: cfg, logger: logger}
}

type RedeemRequest struct {
	Code      string `json:"code"`
	UserID    string `json:"user_id"`
	GuestName string `json:"guest_name"`
	// PriceName, when set, must match the tier the code was minted for.
	PriceName string `json:"price_name"`
}

// Redeem runs the full redemption workflow. The code may be a cached preview
// code, an embedded persisted code, or a bare stored code string.
func (s *RedemptionService) Redeem(ctx context.Context, req RedeemRequest) (*models.PartySummary, error) {
	summary, err := s.redeem(ctx, req)
	monitoring.TrackRedemption(redemptionOutcome(err))
	return summary, err
}

func (s *RedemptionService) redeem(ctx context.Context, req RedeemRequest) (*models.PartySummary, error) {
	if req.Code == "" {
		return nil, status.ErrCodeRequired
	}

	var owner *models.User
	if req.UserID != "" {
		u, err := s.store.FindUser(ctx, req.UserID)
		if err != nil {
			if status.IsNotFound(err) {
				return nil, status.ErrUserNotFound
			}
			return nil, err
		}
		owner = u
	}

	rec, unsaved, err := s.resolveCode(ctx, req.Code)
	if err != nil {
		return nil, err
	}

	party, err := s.store.FindParty(ctx, rec.PartyID)
	if err != nil {
		if status.IsNotFound(err) {
			return nil, status.ErrPartyNotFound
		}
		return nil, err
	}
	price, err := s.store.FindPrice(ctx, rec.PriceID)
	if err != nil {
		if status.IsNotFound(err) {
			return nil, status.ErrPriceNotFound
		}
		return nil, err
	}
	if price.PartyID != party.ID {
		return nil, status.ErrPriceNotFound
	}
	if req.PriceName != "" && req.PriceName != price.Name {
		return nil, status.ErrPriceMismatch
	}

	reassociated := false
	switch {
	case unsaved:
		rec, err = s.consumeUnsaved(ctx, req, rec, party)
	case rec.AlreadyUsed:
		reassociated, err = s.tryReassociate(ctx, req, rec)
		if err == nil && reassociated {
			rec.UserID = req.UserID
		}
	default:
		err = s.consumePersisted(ctx, req, rec, party)
	}
	if err != nil {
		return nil, err
	}

	if !reassociated {
		party.AttendeesCurrent++
		if s.realtime != nil {
			s.realtime.PublishAttendees(ctx, party.ID, party.AttendeesCurrent, party.AttendeesMax)
		}
	}

	if owner == nil && req.GuestName != "" {
		if _, gerr := s.store.InsertGuestEntry(ctx, &models.GuestEntry{PartyID: party.ID, Name: req.GuestName}); gerr != nil {
			s.logger.Warn("guest ledger insert failed", "party", party.ID, "error", gerr)
		}
	}

	summary := &models.PartySummary{
		ID:            party.ID,
		Title:         party.Title,
		Location:      party.Location,
		Date:          party.Date,
		Administrator: party.Administrator,
		Image:         party.Image,
		Tags:          party.Tags,
		Category:      party.Category,
		Attendees:     party.Attendees(),
		PriceName:     price.Name,
		Price:         price.Amount,
	}

	// A failed issuance degrades to a ticketless admission rather than
	// rolling the redemption back.
	qr, qrErr := s.qr.IssueTicket(ctx, owner, req.GuestName, party, rec)
	if qrErr != nil {
		s.logger.Error("qr issuance failed after redemption", "party", party.ID, "code", rec.Code, "error", qrErr)
	} else {
		summary.Ticket = &models.QRTicket{Token: qr.Token, ImageURL: qr.Image}
	}

	return summary, nil
}

// resolveCode finds what the given code string refers to. Codes without a
// store row (cached previews and bare embedded codes) come back as synthetic
// records with unsaved=true and the embedded form in Code, ready to
// materialize on consumption.
func (s *RedemptionService) resolveCode(ctx context.Context, code string) (*models.Code, bool, error) {
	rec, err := s.store.FindCodeByString(ctx, code)
	if err == nil {
		return rec, false, nil
	}
	if !status.IsNotFound(err) {
		return nil, false, err
	}

	if entry, ok, cerr := s.cache.Get(ctx, code); cerr == nil && ok {
		return &models.Code{
			PartyID: entry.PartyID,
			PriceID: entry.PriceID,
			Code:    models.EmbedCode(entry.PartyID, entry.PriceID, code),
		}, true, nil
	} else if cerr != nil {
		s.logger.Warn("preview cache lookup failed", "error", cerr)
	}

	// An embedded code still names its party and price when the cache entry
	// expired or lives on another node; it materializes on first redemption.
	if partyID, priceID, ok := models.ParseEmbeddedCode(code); ok {
		s.logger.Info("recovering embedded code without cache entry", "party", partyID, "price", priceID)
		return &models.Code{PartyID: partyID, PriceID: priceID, Code: code}, true, nil
	}
	return nil, false, status.ErrInvalidCode
}

// consumeUnsaved materializes a preview or bare embedded code as an
// already-used record. The unique code column is the dedupe guard: a
// concurrent redemption of the same code loses on insert.
func (s *RedemptionService) consumeUnsaved(ctx context.Context, req RedeemRequest, rec *models.Code, party *models.Party) (*models.Code, error) {
	if party.AttendeesCurrent >= party.Capacity() {
		return nil, status.ErrEventFull
	}

	stored, err := s.store.InsertCode(ctx, &models.Code{
		PartyID:     rec.PartyID,
		PriceID:     rec.PriceID,
		Code:        rec.Code,
		AlreadyUsed: true,
		UserID:      req.UserID,
	})
	if err != nil {
		if ce, ok := status.AsConstraint(err); ok && ce.Field == status.ConstraintUnique {
			return nil, status.ErrCodeUsed
		}
		return nil, err
	}

	if err := s.bumpAttendees(ctx, party.ID); err != nil {
		return nil, err
	}

	if derr := s.cache.Delete(ctx, req.Code); derr != nil {
		s.logger.Warn("preview cache delete failed", "code", req.Code, "error", derr)
	}
	return stored, nil
}

func (s *RedemptionService) consumePersisted(ctx context.Context, req RedeemRequest, rec *models.Code, party *models.Party) error {
	if party.AttendeesCurrent >= party.Capacity() {
		return status.ErrEventFull
	}

	changed, err := s.store.MarkCodeUsed(ctx, rec.Code, req.UserID)
	if err != nil {
		return err
	}
	if !changed {
		return status.ErrCodeUsed
	}
	rec.AlreadyUsed = true
	rec.UserID = req.UserID

	return s.bumpAttendees(ctx, party.ID)
}

func (s *RedemptionService) bumpAttendees(ctx context.Context, partyID string) error {
	changed, err := s.store.IncrementAttendees(ctx, partyID)
	if err != nil {
		return err
	}
	if !changed {
		return status.ErrEventFull
	}
	return nil
}

// tryReassociate handles an already-used code held by nobody: with the flag
// on and an authenticated redeemer, ownership transfers without a second
// admission. Every other case is a plain rejection.
func (s *RedemptionService) tryReassociate(ctx context.Context, req RedeemRequest, rec *models.Code) (bool, error) {
	if !s.cfg.AllowReassociation || req.UserID == "" || rec.UserID != "" {
		return false, status.ErrCodeUsed
	}
	changed, err := s.store.ReassociateCode(ctx, rec.Code, req.UserID)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, status.ErrCodeUsed
	}
	s.logger.Info("reassociated used code", "code", rec.Code, "user", req.UserID)
	return true, nil
}

func redemptionOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, status.ErrCodeUsed):
		return "used"
	case errors.Is(err, status.ErrEventFull):
		return "full"
	case errors.Is(err, status.ErrInvalidCode):
		return "invalid"
	default:
		return "error"
	}
}
