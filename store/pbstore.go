package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/security"
	"github.com/shopspring/decimal"

	"rumbify-server/models"
	"rumbify-server/status"
)

// Collection names.
const (
	colParties = "parties"
	colPrices  = "prices"
	colCodes   = "codes"
	colQRCodes = "qr_codes"
	colGuests  = "guest_entries"
	colUsers   = "users"
)

// PBStore implements Store on top of the embedded PocketBase database.
// Reads go through the record API; the three state transitions that guard
// concurrent requests (code used-flag, QR used-flag, attendee counter) are
// raw conditional UPDATEs so that "zero rows affected" is a trustworthy
// lost-the-race signal even with multiple server processes on one database.
type PBStore struct {
	app core.App
}

func NewPBStore(app core.App) *PBStore {
	return &PBStore{app: app}
}

func (s *PBStore) FindCodeByString(ctx context.Context, code string) (*models.Code, error) {
	rec, err := s.app.FindFirstRecordByFilter(colCodes, "code = {:code}", dbx.Params{"code": code})
	if err != nil {
		return nil, mapNotFound(err)
	}
	return recordToCode(rec), nil
}

func (s *PBStore) InsertCode(ctx context.Context, c *models.Code) (*models.Code, error) {
	col, err := s.app.FindCollectionByNameOrId(colCodes)
	if err != nil {
		// A missing collection reads as ErrNoRows here, not "no such table".
		if errors.Is(err, sql.ErrNoRows) {
			return nil, status.ErrStoreUnavailable
		}
		return nil, translateTableErr(err)
	}

	rec := core.NewRecord(col)
	rec.Set("party_id", c.PartyID)
	rec.Set("price_id", c.PriceID)
	rec.Set("code", c.Code)
	rec.Set("already_used", c.AlreadyUsed)
	rec.Set("user_id", c.UserID)

	if err := s.app.Save(rec); err != nil {
		if dup, _ := s.ExistingCodes(ctx, []string{c.Code}); len(dup) > 0 {
			return nil, &status.ConstraintError{Field: status.ConstraintUnique, Err: err}
		}
		return nil, err
	}
	return recordToCode(rec), nil
}

func (s *PBStore) InsertCodes(ctx context.Context, cs []*models.Code) ([]*models.Code, error) {
	inserted := make([]*models.Code, 0, len(cs))
	err := s.app.RunInTransaction(func(txApp core.App) error {
		tx := &PBStore{app: txApp}
		for _, c := range cs {
			rec, err := tx.InsertCode(ctx, c)
			if err != nil {
				return err
			}
			inserted = append(inserted, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

func (s *PBStore) ListCodeStrings(ctx context.Context) (map[string]struct{}, error) {
	var rows []struct {
		Code string `db:"code"`
	}
	err := s.app.DB().NewQuery("SELECT code FROM codes").WithContext(ctx).All(&rows)
	if err != nil {
		return nil, translateTableErr(err)
	}

	existing := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		existing[r.Code] = struct{}{}
	}
	return existing, nil
}

func (s *PBStore) ExistingCodes(ctx context.Context, codes []string) ([]string, error) {
	if len(codes) == 0 {
		return nil, nil
	}

	values := make([]any, len(codes))
	for i, c := range codes {
		values[i] = c
	}

	var rows []struct {
		Code string `db:"code"`
	}
	err := s.app.DB().Select("code").From(colCodes).
		Where(dbx.In("code", values...)).
		WithContext(ctx).
		All(&rows)
	if err != nil {
		return nil, translateTableErr(err)
	}

	found := make([]string, 0, len(rows))
	for _, r := range rows {
		found = append(found, r.Code)
	}
	return found, nil
}

func (s *PBStore) ListPartyCodes(ctx context.Context, partyID string) ([]*models.Code, error) {
	recs, err := s.app.FindRecordsByFilter(
		colCodes,
		"party_id = {:partyId}",
		"-created",
		0,
		0,
		dbx.Params{"partyId": partyID},
	)
	if err != nil {
		return nil, translateTableErr(err)
	}

	out := make([]*models.Code, len(recs))
	for i, rec := range recs {
		out[i] = recordToCode(rec)
	}
	return out, nil
}

func (s *PBStore) MarkCodeUsed(ctx context.Context, code, userID string) (bool, error) {
	res, err := s.app.DB().NewQuery(
		"UPDATE codes SET already_used = 1, user_id = {:user} WHERE code = {:code} AND already_used = 0",
	).Bind(dbx.Params{"user": userID, "code": code}).WithContext(ctx).Execute()
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PBStore) ReassociateCode(ctx context.Context, code, userID string) (bool, error) {
	res, err := s.app.DB().NewQuery(
		"UPDATE codes SET user_id = {:user} WHERE code = {:code} AND already_used = 1 AND (user_id = '' OR user_id IS NULL)",
	).Bind(dbx.Params{"user": userID, "code": code}).WithContext(ctx).Execute()
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PBStore) CountUsedCodes(ctx context.Context, partyID string) (int, error) {
	n, err := s.app.CountRecords(colCodes, dbx.HashExp{"party_id": partyID, "already_used": true})
	if err != nil {
		return 0, translateTableErr(err)
	}
	return int(n), nil
}

func (s *PBStore) FindUsedCodeForUser(ctx context.Context, userID, partyID string) (*models.Code, error) {
	rec, err := s.app.FindFirstRecordByFilter(
		colCodes,
		"user_id = {:user} && party_id = {:party} && already_used = true",
		dbx.Params{"user": userID, "party": partyID},
	)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return recordToCode(rec), nil
}

func (s *PBStore) FindParty(ctx context.Context, id string) (*models.Party, error) {
	rec, err := s.app.FindRecordById(colParties, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return recordToParty(rec), nil
}

func (s *PBStore) IncrementAttendees(ctx context.Context, partyID string) (bool, error) {
	res, err := s.app.DB().NewQuery(
		"UPDATE parties SET attendees_current = attendees_current + 1 "+
			"WHERE id = {:id} AND attendees_current < (CASE WHEN attendees_max > 0 THEN attendees_max ELSE {:fallback} END)",
	).Bind(dbx.Params{"id": partyID, "fallback": models.DefaultCapacity}).WithContext(ctx).Execute()
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PBStore) FindPrice(ctx context.Context, id string) (*models.PriceTier, error) {
	rec, err := s.app.FindRecordById(colPrices, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return recordToPrice(rec), nil
}

func (s *PBStore) FindPriceByName(ctx context.Context, partyID, name string) (*models.PriceTier, error) {
	rec, err := s.app.FindFirstRecordByFilter(
		colPrices,
		"party_id = {:party} && price_name = {:name}",
		dbx.Params{"party": partyID, "name": name},
	)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return recordToPrice(rec), nil
}

func (s *PBStore) FindUser(ctx context.Context, id string) (*models.User, error) {
	rec, err := s.app.FindRecordById(colUsers, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return recordToUser(rec), nil
}

func (s *PBStore) FindUserByName(ctx context.Context, name string) (*models.User, error) {
	rec, err := s.app.FindFirstRecordByFilter(colUsers, "name = {:name}", dbx.Params{"name": name})
	if err != nil {
		return nil, mapNotFound(err)
	}
	return recordToUser(rec), nil
}

func (s *PBStore) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	rec, err := s.app.FindAuthRecordByEmail(colUsers, email)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return recordToUser(rec), nil
}

func (s *PBStore) CreateUser(ctx context.Context, name, email string) (*models.User, error) {
	col, err := s.app.FindCollectionByNameOrId(colUsers)
	if err != nil {
		return nil, err
	}

	rec := core.NewRecord(col)
	rec.Set("name", name)
	rec.Set("email", email)
	rec.SetPassword(security.RandomString(30))

	if err := s.app.Save(rec); err != nil {
		return nil, err
	}
	return recordToUser(rec), nil
}

func (s *PBStore) FindQRForOwner(ctx context.Context, userID, partyID, codeID string) (*models.QRRecord, error) {
	filter := "party_id = {:party} && user_id = {:user}"
	if userID == "" {
		filter = "party_id = {:party} && user_id = ''"
	}

	recs, err := s.app.FindRecordsByFilter(
		colQRCodes,
		filter,
		"-created",
		0,
		0,
		dbx.Params{"party": partyID, "user": userID},
	)
	if err != nil {
		return nil, translateTableErr(err)
	}

	// Prefer a record tied to the exact code; accept one without a code
	// reference (legacy rows insert without it on FK fallback).
	for _, rec := range recs {
		if codeID == "" || rec.GetString("code") == codeID {
			return recordToQR(rec), nil
		}
	}
	for _, rec := range recs {
		if rec.GetString("code") == "" {
			return recordToQR(rec), nil
		}
	}
	return nil, status.ErrRecordNotFound
}

func (s *PBStore) FindQRByToken(ctx context.Context, token string) (*models.QRRecord, error) {
	rec, err := s.app.FindFirstRecordByFilter(colQRCodes, "qr_token = {:token}", dbx.Params{"token": token})
	if err != nil {
		return nil, mapNotFound(err)
	}
	return recordToQR(rec), nil
}

// FindQRByLegacyData matches records created before qr_token existed, which
// stored the raw payload in qr_code_data.
func (s *PBStore) FindQRByLegacyData(ctx context.Context, data string) (*models.QRRecord, error) {
	rec, err := s.app.FindFirstRecordByFilter(colQRCodes, "qr_code_data = {:data}", dbx.Params{"data": data})
	if err != nil {
		return nil, mapNotFound(err)
	}
	return recordToQR(rec), nil
}

func (s *PBStore) FindQRByCodeID(ctx context.Context, codeID string) (*models.QRRecord, error) {
	rec, err := s.app.FindFirstRecordByFilter(colQRCodes, "code = {:code}", dbx.Params{"code": codeID})
	if err != nil {
		return nil, mapNotFound(err)
	}
	return recordToQR(rec), nil
}

func (s *PBStore) FindQRByParty(ctx context.Context, partyID, ownerID string) (*models.QRRecord, error) {
	rec, err := s.app.FindFirstRecordByFilter(
		colQRCodes,
		"party_id = {:party} && (user_id = {:owner} || user_id = '')",
		dbx.Params{"party": partyID, "owner": ownerID},
	)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return recordToQR(rec), nil
}

func (s *PBStore) InsertQR(ctx context.Context, qr *models.QRRecord) (*models.QRRecord, error) {
	col, err := s.app.FindCollectionByNameOrId(colQRCodes)
	if err != nil {
		return nil, translateTableErr(err)
	}

	rec := core.NewRecord(col)
	rec.Set("user_id", qr.UserID)
	rec.Set("party_id", qr.PartyID)
	rec.Set("qr_token", qr.Token)
	rec.Set("qr_image", qr.Image)
	rec.Set("status", qr.Status)
	if qr.ValidUntil != nil {
		rec.Set("valid_until", qr.ValidUntil.UTC())
	}
	if qr.CodeID != "" {
		rec.Set("code", qr.CodeID)
	}

	if err := s.app.Save(rec); err != nil {
		return nil, s.classifyQRInsertErr(ctx, col, qr, err)
	}
	return recordToQR(rec), nil
}

// classifyQRInsertErr re-checks state to decide which constraint class a
// failed insert belongs to, instead of matching driver error strings.
func (s *PBStore) classifyQRInsertErr(ctx context.Context, col *core.Collection, qr *models.QRRecord, err error) error {
	if qr.CodeID != "" {
		if _, ferr := s.app.FindRecordById(colCodes, qr.CodeID); ferr != nil {
			return &status.ConstraintError{Field: status.ConstraintCodeRef, Err: err}
		}
	}
	if qr.UserID == "" {
		if f := col.Fields.GetByName("user_id"); f != nil {
			if rel, ok := f.(*core.RelationField); ok && rel.Required {
				return &status.ConstraintError{Field: status.ConstraintOwnerRequired, Err: err}
			}
		}
	}
	if _, ferr := s.FindQRByToken(ctx, qr.Token); ferr == nil {
		return &status.ConstraintError{Field: status.ConstraintUnique, Err: err}
	}
	return err
}

func (s *PBStore) UpdateQRPartyID(ctx context.Context, id, partyID string) error {
	_, err := s.app.DB().NewQuery(
		"UPDATE qr_codes SET party_id = {:party} WHERE id = {:id}",
	).Bind(dbx.Params{"party": partyID, "id": id}).WithContext(ctx).Execute()
	return err
}

func (s *PBStore) MarkQRUsed(ctx context.Context, id string, usedAt time.Time) (bool, error) {
	res, err := s.app.DB().NewQuery(
		"UPDATE qr_codes SET status = {:used}, used_at = {:at} WHERE id = {:id} AND status = {:notUsed}",
	).Bind(dbx.Params{
		"used":    models.QRStatusUsed,
		"notUsed": models.QRStatusNotUsed,
		"at":      usedAt.UTC().Format("2006-01-02 15:04:05.000Z"),
		"id":      id,
	}).WithContext(ctx).Execute()
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PBStore) InsertGuestEntry(ctx context.Context, g *models.GuestEntry) (*models.GuestEntry, error) {
	col, err := s.app.FindCollectionByNameOrId(colGuests)
	if err != nil {
		return nil, translateTableErr(err)
	}

	rec := core.NewRecord(col)
	rec.Set("name", g.Name)
	rec.Set("party_id", g.PartyID)
	rec.Set("validated", validatedToValue(g.Validated))

	if err := s.app.Save(rec); err != nil {
		return nil, err
	}
	return recordToGuest(rec), nil
}

func (s *PBStore) ListGuestEntries(ctx context.Context, partyID string) ([]*models.GuestEntry, error) {
	recs, err := s.app.FindRecordsByFilter(
		colGuests,
		"party_id = {:party}",
		"-created",
		0,
		0,
		dbx.Params{"party": partyID},
	)
	if err != nil {
		return nil, translateTableErr(err)
	}

	out := make([]*models.GuestEntry, len(recs))
	for i, rec := range recs {
		out[i] = recordToGuest(rec)
	}
	return out, nil
}

func (s *PBStore) UpdateGuestStatus(ctx context.Context, partyID, guestID string, validated bool) (*models.GuestEntry, error) {
	rec, err := s.app.FindFirstRecordByFilter(
		colGuests,
		"id = {:id} && party_id = {:party}",
		dbx.Params{"id": guestID, "party": partyID},
	)
	if err != nil {
		return nil, mapNotFound(err)
	}

	rec.Set("validated", validatedToValue(&validated))
	if err := s.app.Save(rec); err != nil {
		return nil, err
	}
	return recordToGuest(rec), nil
}

func (s *PBStore) HealthCheck(ctx context.Context) error {
	var one int
	return s.app.DB().NewQuery("SELECT 1").WithContext(ctx).Row(&one)
}

// --- converters ---

func recordToCode(rec *core.Record) *models.Code {
	return &models.Code{
		ID:          rec.Id,
		PartyID:     rec.GetString("party_id"),
		PriceID:     rec.GetString("price_id"),
		Code:        rec.GetString("code"),
		AlreadyUsed: rec.GetBool("already_used"),
		UserID:      rec.GetString("user_id"),
		Created:     rec.GetDateTime("created").Time(),
	}
}

func recordToParty(rec *core.Record) *models.Party {
	return &models.Party{
		ID:               rec.Id,
		Title:            rec.GetString("title"),
		Location:         rec.GetString("location"),
		Date:             rec.GetString("date"),
		Administrator:    rec.GetString("administrator"),
		Image:            rec.GetString("image"),
		Tags:             rec.GetStringSlice("tags"),
		Category:         rec.GetString("category"),
		AttendeesCurrent: rec.GetInt("attendees_current"),
		AttendeesMax:     rec.GetInt("attendees_max"),
	}
}

func recordToPrice(rec *core.Record) *models.PriceTier {
	return &models.PriceTier{
		ID:      rec.Id,
		PartyID: rec.GetString("party_id"),
		Name:    rec.GetString("price_name"),
		Amount:  decimal.NewFromFloat(rec.GetFloat("price")),
	}
}

func recordToUser(rec *core.Record) *models.User {
	return &models.User{
		ID:           rec.Id,
		Name:         rec.GetString("name"),
		Email:        rec.GetString("email"),
		ProfileImage: rec.GetString("profile_image"),
	}
}

func recordToQR(rec *core.Record) *models.QRRecord {
	qr := &models.QRRecord{
		ID:      rec.Id,
		UserID:  rec.GetString("user_id"),
		PartyID: rec.GetString("party_id"),
		CodeID:  rec.GetString("code"),
		Token:   rec.GetString("qr_token"),
		Image:   rec.GetString("qr_image"),
		Status:  rec.GetString("status"),
		Created: rec.GetDateTime("created").Time(),
	}
	if dt := rec.GetDateTime("valid_until"); !dt.IsZero() {
		t := dt.Time()
		qr.ValidUntil = &t
	}
	if dt := rec.GetDateTime("used_at"); !dt.IsZero() {
		t := dt.Time()
		qr.UsedAt = &t
	}
	return qr
}

func recordToGuest(rec *core.Record) *models.GuestEntry {
	return &models.GuestEntry{
		ID:        rec.Id,
		PartyID:   rec.GetString("party_id"),
		Name:      rec.GetString("name"),
		Validated: valueToValidated(rec.GetString("validated")),
		Created:   rec.GetDateTime("created").Time(),
	}
}

func validatedToValue(v *bool) string {
	switch {
	case v == nil:
		return ""
	case *v:
		return "valid"
	default:
		return "denied"
	}
}

func valueToValidated(s string) *bool {
	switch s {
	case "valid":
		v := true
		return &v
	case "denied":
		v := false
		return &v
	default:
		return nil
	}
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return status.ErrRecordNotFound
	}
	return translateTableErr(err)
}

// translateTableErr detects the sqlite missing-table error. The driver
// exposes no typed error for it, so this is the single place the message is
// inspected.
func translateTableErr(err error) error {
	if err != nil && strings.Contains(err.Error(), "no such table") {
		return status.ErrStoreUnavailable
	}
	return err
}
