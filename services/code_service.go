package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"rumbify-server/config"
	"rumbify-server/models"
	"rumbify-server/monitoring"
	"rumbify-server/status"
	"rumbify-server/store"
	"rumbify-server/utils"
)

const (
	previewCodeLen = 6

	// Attempt budget multipliers for the uniqueness loop.
	attemptsPerCode  = 100
	escalateAttempts = 10
)

// CodeService generates entry code batches and answers code validity checks.
type CodeService struct {
	store  store.Store
	cache  PreviewCache
	cfg    *config.Config
	logger *slog.Logger

	// Injectable generators, swapped out in tests.
	shortCode  func(length int) string
	randomCode func() string
	uniqueCode func() string
}

func NewCodeService(st store.Store, cache PreviewCache, cfg *config.Config, logger *slog.Logger) *CodeService {
	return &CodeService{
		store:      st,
		cache:      cache,
		cfg:        cfg,
		logger:     logger,
		shortCode:  utils.GenerateShortCode,
		randomCode: utils.GenerateRandomCode,
		uniqueCode: utils.GenerateUniqueCode,
	}
}

type GenerateRequest struct {
	PartyID string `json:"party_id"`
	PriceID string `json:"price_id"`
	// PriceName resolves the tier when PriceID is absent.
	PriceName string `json:"price_name"`
	Quantity  int    `json:"quantity"`
	// Persist defaults to true when omitted; false yields preview codes.
	Persist *bool `json:"persist"`
}

func (r GenerateRequest) preview() bool {
	return r.Persist != nil && !*r.Persist
}

type GenerateResult struct {
	Preview bool           `json:"preview"`
	Codes   []string       `json:"codes"`
	Records []*models.Code `json:"saved_codes,omitempty"`
	// Warning is set when the batch came back undurable.
	Warning string `json:"warning,omitempty"`
}

// GenerateCodes produces a batch of entry codes for one party and price tier.
// Preview batches live only in the cache until redeemed; persisted batches are
// stored in embedded form so the code itself carries its party and price.
func (s *CodeService) GenerateCodes(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if req.PartyID == "" || (req.PriceID == "" && req.PriceName == "") {
		return nil, status.ErrMissingFields
	}
	if req.Quantity < 1 || req.Quantity > s.cfg.MaxBatchQuantity {
		return nil, status.ErrBadQuantity
	}

	if _, err := s.store.FindParty(ctx, req.PartyID); err != nil {
		if status.IsNotFound(err) {
			return nil, status.ErrPartyNotFound
		}
		return nil, err
	}

	var price *models.PriceTier
	var err error
	if req.PriceID != "" {
		price, err = s.store.FindPrice(ctx, req.PriceID)
	} else {
		price, err = s.store.FindPriceByName(ctx, req.PartyID, req.PriceName)
	}
	if err != nil {
		if status.IsNotFound(err) {
			return nil, status.ErrPriceNotFound
		}
		return nil, err
	}
	if price.PartyID != req.PartyID {
		return nil, status.ErrPriceNotFound
	}
	req.PriceID = price.ID

	if req.preview() {
		return s.generatePreview(ctx, req)
	}
	return s.generatePersisted(ctx, req)
}

func (s *CodeService) generatePreview(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	codes := make([]string, 0, req.Quantity)
	seen := make(map[string]struct{}, req.Quantity)

	for len(codes) < req.Quantity {
		c := s.shortCode(previewCodeLen)
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		codes = append(codes, c)
	}

	entry := &models.PreviewEntry{PartyID: req.PartyID, PriceID: req.PriceID, CreatedAt: time.Now()}
	for _, c := range codes {
		if err := s.cache.Put(ctx, c, entry, s.cfg.PreviewCodeTTL); err != nil {
			return nil, fmt.Errorf("cache preview code: %w", err)
		}
	}

	monitoring.TrackCodesGenerated("preview", len(codes))
	s.logger.Info("generated preview codes", "party", req.PartyID, "quantity", len(codes))

	return &GenerateResult{Preview: true, Codes: codes}, nil
}

func (s *CodeService) generatePersisted(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	existing, err := s.store.ListCodeStrings(ctx)
	if err != nil {
		if !errors.Is(err, status.ErrStoreUnavailable) {
			return nil, err
		}
		// Fresh database without the codes table yet: proceed with local
		// uniqueness only.
		s.logger.Warn("codes table unavailable, skipping global uniqueness check")
		existing = map[string]struct{}{}
	}

	budget := req.Quantity * attemptsPerCode
	escalateAt := req.Quantity * escalateAttempts

	raws := make([]string, 0, req.Quantity)
	seen := make(map[string]struct{}, req.Quantity)
	attempts := 0
	for len(raws) < req.Quantity {
		attempts++
		if attempts > budget {
			return nil, status.ErrExhausted
		}

		var c string
		if attempts > escalateAt {
			c = s.uniqueCode()
		} else {
			c = s.randomCode()
		}

		if _, dup := seen[c]; dup {
			continue
		}
		if _, dup := existing[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		raws = append(raws, c)
	}

	// The global snapshot may be stale by now; re-verify the batch and swap
	// any late collision for a timestamp-suffixed code.
	collided, err := s.store.ExistingCodes(ctx, raws)
	if err != nil && !errors.Is(err, status.ErrStoreUnavailable) {
		return nil, err
	}
	for _, bad := range collided {
		for i, c := range raws {
			if c == bad {
				raws[i] = s.uniqueCode()
			}
		}
	}

	batch := make([]*models.Code, len(raws))
	for i, raw := range raws {
		batch[i] = &models.Code{
			PartyID: req.PartyID,
			PriceID: req.PriceID,
			Code:    models.EmbedCode(req.PartyID, req.PriceID, raw),
		}
	}

	records, err := s.store.InsertCodes(ctx, batch)
	if err != nil {
		if !errors.Is(err, status.ErrStoreUnavailable) {
			return nil, fmt.Errorf("insert code batch: %w", err)
		}
		// No codes table to write to: hand the batch back unsaved and say so.
		codes := make([]string, len(batch))
		for i, c := range batch {
			codes[i] = c.Code
		}
		monitoring.TrackCodesGenerated("unsaved", len(codes))
		s.logger.Warn("codes table unavailable, returning unsaved batch", "party", req.PartyID, "quantity", len(codes))
		return &GenerateResult{Codes: codes, Warning: "codes were generated but could not be saved"}, nil
	}

	codes := make([]string, len(records))
	for i, r := range records {
		codes[i] = r.Code
	}

	monitoring.TrackCodesGenerated("persisted", len(codes))
	s.logger.Info("generated codes", "party", req.PartyID, "quantity", len(codes))

	return &GenerateResult{Codes: codes, Records: records}, nil
}

// ValidateCode checks whether a code can still be redeemed, without consuming
// it. Preview codes resolve through the cache; persisted codes through the
// store.
func (s *CodeService) ValidateCode(ctx context.Context, code string) (*models.Code, error) {
	if code == "" {
		return nil, status.ErrCodeRequired
	}

	rec, err := s.store.FindCodeByString(ctx, code)
	if err == nil {
		if rec.AlreadyUsed {
			return nil, status.ErrCodeUsed
		}
		return rec, nil
	}
	if !status.IsNotFound(err) {
		return nil, err
	}

	if entry, ok, cerr := s.cache.Get(ctx, code); cerr == nil && ok {
		return &models.Code{PartyID: entry.PartyID, PriceID: entry.PriceID, Code: code}, nil
	}

	return nil, status.ErrInvalidCode
}

// UseCode marks a persisted code consumed on behalf of a user. The flip is a
// compare-and-set: the second concurrent caller gets ErrCodeUsed.
func (s *CodeService) UseCode(ctx context.Context, code, userID string) (*models.Code, error) {
	if code == "" {
		return nil, status.ErrCodeRequired
	}

	rec, err := s.store.FindCodeByString(ctx, code)
	if err != nil {
		if status.IsNotFound(err) {
			return nil, status.ErrInvalidCode
		}
		return nil, err
	}
	if rec.AlreadyUsed {
		return nil, status.ErrCodeUsed
	}

	changed, err := s.store.MarkCodeUsed(ctx, rec.Code, userID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, status.ErrCodeUsed
	}

	rec.AlreadyUsed = true
	rec.UserID = userID
	return rec, nil
}

type PartyCodesResult struct {
	Codes []*models.Code `json:"codes"`
	Total int            `json:"total"`
	Used  int            `json:"used"`
}

// ListPartyCodes returns all codes minted for a party with usage counts.
func (s *CodeService) ListPartyCodes(ctx context.Context, partyID string) (*PartyCodesResult, error) {
	if partyID == "" {
		return nil, status.ErrMissingFields
	}
	if _, err := s.store.FindParty(ctx, partyID); err != nil {
		if status.IsNotFound(err) {
			return nil, status.ErrPartyNotFound
		}
		return nil, err
	}

	codes, err := s.store.ListPartyCodes(ctx, partyID)
	if err != nil {
		return nil, err
	}

	used := 0
	for _, c := range codes {
		if c.AlreadyUsed {
			used++
		}
	}
	return &PartyCodesResult{Codes: codes, Total: len(codes), Used: used}, nil
}
