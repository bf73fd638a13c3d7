package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"rumbify-server/config"
	"rumbify-server/models"
	"rumbify-server/monitoring"
	"rumbify-server/status"
	"rumbify-server/storage"
	"rumbify-server/store"
	"rumbify-server/utils"
)

const maxInsertAttempts = 3

// QRService issues and looks up QR tickets. Issuance is idempotent per
// (owner, party, code): an existing record is returned instead of minting a
// second ticket for the same admission.
type QRService struct {
	store    store.Store
	blobs    storage.BlobStore
	cfg      *config.Config
	logger   *slog.Logger
	uploadCB *utils.CircuitBreaker

	now     func() time.Time
	randHex func(length int) string
	render  func(content string, size int) ([]byte, error)
}

func NewQRService(st store.Store, blobs storage.BlobStore, cfg *config.Config, logger *slog.Logger) *QRService {
	return &QRService{
		store:    st,
		blobs:    blobs,
		cfg:      cfg,
		logger:   logger,
		uploadCB: utils.NewCircuitBreaker("qr-upload"),
		now:      time.Now,
		randHex:  utils.GenerateCode,
		render: func(content string, size int) ([]byte, error) {
			return qrcode.Encode(content, qrcode.Medium, size)
		},
	}
}

// IssueTicket mints a QR ticket for a redeemed code. owner is nil for guest
// redemptions, in which case guestName feeds the token's owner tag.
func (s *QRService) IssueTicket(ctx context.Context, owner *models.User, guestName string, party *models.Party, code *models.Code) (*models.QRRecord, error) {
	start := s.now()

	// A guest name may belong to a registered account; the ticket then
	// attaches to that account instead of staying ownerless.
	if owner == nil && guestName != "" {
		switch u, err := s.store.FindUserByName(ctx, guestName); {
		case err == nil:
			owner = u
		case !status.IsNotFound(err):
			return nil, err
		}
	}

	userID := ""
	tag := models.GuestOwnerTag(guestName)
	if owner != nil {
		userID = owner.ID
		tag = owner.ID
	}

	if existing, err := s.store.FindQRForOwner(ctx, userID, party.ID, code.ID); err == nil {
		monitoring.TrackQRIssued(true)
		return existing, nil
	} else if !status.IsNotFound(err) {
		return nil, err
	}

	token := models.NewQRToken(tag, party.ID, code.ID, s.now(), s.randHex(16))
	validUntil := ParseValidUntil(party.Date, s.now())

	png, err := s.render(token, s.cfg.QRImageWidth)
	if err != nil {
		return nil, fmt.Errorf("render qr image: %w", err)
	}

	rec := &models.QRRecord{
		UserID:     userID,
		PartyID:    party.ID,
		CodeID:     code.ID,
		Token:      token,
		Image:      s.uploadImage(ctx, party.ID, code.Code, png),
		Status:     models.QRStatusNotUsed,
		ValidUntil: &validUntil,
	}

	inserted, err := s.insertWithFallback(ctx, rec, tag, guestName, party.ID, code.ID)
	if err != nil {
		return nil, err
	}

	monitoring.TrackQRIssued(false)
	monitoring.TrackQRIssuanceDuration(time.Since(start))
	s.logger.Info("issued qr ticket", "party", party.ID, "code", code.ID, "guest", owner == nil)
	return inserted, nil
}

// uploadImage pushes the rendered PNG to the blob store and returns its URL.
// A missing bucket is created once and the upload retried; any remaining
// failure degrades to an inline data URI so the caller still gets a usable
// ticket image.
func (s *QRService) uploadImage(ctx context.Context, partyID, codeStr string, png []byte) string {
	object := fmt.Sprintf("qr_%s_%s_%d.png", partyID, codeStr, s.now().UnixMilli())

	upload := func() (interface{}, error) {
		uctx, cancel := context.WithTimeout(ctx, s.cfg.UploadTimeout)
		defer cancel()
		return s.blobs.Upload(uctx, s.cfg.QRBucket, object, png, "image/png")
	}

	res, err := s.uploadCB.Execute(ctx, upload)
	if errors.Is(err, storage.ErrBucketNotFound) {
		if cerr := s.blobs.CreateBucket(ctx, s.cfg.QRBucket); cerr != nil {
			s.logger.Warn("create bucket failed", "bucket", s.cfg.QRBucket, "error", cerr)
		} else {
			res, err = s.uploadCB.Execute(ctx, upload)
		}
	}
	if err != nil {
		s.logger.Warn("qr upload failed, falling back to data uri", "object", object, "error", err)
		return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	}
	return res.(string)
}

// insertWithFallback walks the constraint fallback chain: a broken code
// reference retries without it, a required-owner violation provisions a guest
// user, and a token collision regenerates the token.
func (s *QRService) insertWithFallback(ctx context.Context, rec *models.QRRecord, tag, guestName, partyID, codeID string) (*models.QRRecord, error) {
	var err error
	for attempt := 0; attempt < maxInsertAttempts; attempt++ {
		var inserted *models.QRRecord
		inserted, err = s.store.InsertQR(ctx, rec)
		if err == nil {
			return inserted, nil
		}

		ce, ok := status.AsConstraint(err)
		if !ok {
			return nil, err
		}
		switch ce.Field {
		case status.ConstraintCodeRef:
			s.logger.Warn("qr insert: dangling code reference, retrying without it", "code", rec.CodeID)
			rec.CodeID = ""
		case status.ConstraintOwnerRequired:
			guest, gerr := s.ensureGuestUser(ctx, guestName, partyID)
			if gerr != nil {
				return nil, fmt.Errorf("provision guest user: %w", gerr)
			}
			rec.UserID = guest.ID
		case status.ConstraintUnique:
			rec.Token = models.NewQRToken(tag, partyID, codeID, s.now(), s.randHex(16))
		default:
			return nil, err
		}
	}
	return nil, fmt.Errorf("insert qr record: %w", err)
}

// ensureGuestUser finds or creates the synthetic account backing a guest
// ticket when the schema insists on an owner.
func (s *QRService) ensureGuestUser(ctx context.Context, guestName, partyID string) (*models.User, error) {
	email := GuestEmail(guestName, partyID)
	if u, err := s.store.FindUserByEmail(ctx, email); err == nil {
		return u, nil
	} else if !status.IsNotFound(err) {
		return nil, err
	}

	displayName := strings.TrimSpace(guestName)
	if displayName == "" {
		displayName = "Guest"
	}
	return s.store.CreateUser(ctx, displayName, email)
}

// GetTicket returns the user's QR ticket for a party, issuing one on demand
// when the user holds a redeemed code but no ticket record yet.
func (s *QRService) GetTicket(ctx context.Context, userID, partyID string) (*models.QRRecord, error) {
	party, err := s.store.FindParty(ctx, partyID)
	if err != nil {
		if status.IsNotFound(err) {
			return nil, status.ErrPartyNotFound
		}
		return nil, err
	}
	user, err := s.store.FindUser(ctx, userID)
	if err != nil {
		if status.IsNotFound(err) {
			return nil, status.ErrUserNotFound
		}
		return nil, err
	}

	qr, err := s.store.FindQRForOwner(ctx, userID, partyID, "")
	if err != nil {
		if !status.IsNotFound(err) {
			return nil, err
		}
		code, cerr := s.store.FindUsedCodeForUser(ctx, userID, partyID)
		if cerr != nil {
			if status.IsNotFound(cerr) {
				return nil, status.ErrQRNotFound
			}
			return nil, cerr
		}
		qr, err = s.IssueTicket(ctx, user, "", party, code)
		if err != nil {
			return nil, err
		}
	}

	qr.OwnerName = user.Name
	qr.PartyTitle = party.Title
	return qr, nil
}

var guestSlugRe = regexp.MustCompile(`[^a-z0-9]+`)

// GuestEmail derives the deterministic address of a guest's synthetic
// account, so repeat redemptions by the same guest reuse one account.
func GuestEmail(name, partyID string) string {
	slug := guestSlugRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "anon"
	}
	return fmt.Sprintf("guest-%s-%s@rumbify.guest", slug, partyID)
}

// ParseValidUntil derives a ticket expiry from the party's display date.
// "2/1/25 • 10 PM" style dates expire at the end of that day; an ISO date is
// taken as-is; anything unparseable defaults to thirty days out.
func ParseValidUntil(date string, now time.Time) time.Time {
	date = strings.TrimSpace(date)
	if date == "" {
		return now.AddDate(0, 0, 30)
	}

	head := date
	if i := strings.Index(date, "•"); i >= 0 {
		head = strings.TrimSpace(date[:i])
	}
	if parts := strings.Split(head, "/"); len(parts) == 3 {
		d, errD := strconv.Atoi(strings.TrimSpace(parts[0]))
		m, errM := strconv.Atoi(strings.TrimSpace(parts[1]))
		y, errY := strconv.Atoi(strings.TrimSpace(parts[2]))
		if errD == nil && errM == nil && errY == nil && d >= 1 && d <= 31 && m >= 1 && m <= 12 {
			if y < 100 {
				y += 2000
			}
			return time.Date(y, time.Month(m), d, 23, 59, 59, 0, time.UTC)
		}
	}

	if t, err := time.Parse(time.RFC3339, date); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02", date); err == nil {
		return t.Add(24*time.Hour - time.Second)
	}
	return now.AddDate(0, 0, 30)
}
