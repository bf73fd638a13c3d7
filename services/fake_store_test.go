package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rumbify-server/models"
	"rumbify-server/status"
)

// fakeStore is an in-memory store.Store used by the service tests. It mirrors
// the conditional-update semantics of the real implementation: the mark-used
// flips and the attendee increment report changed=false when the precondition
// no longer holds.
type fakeStore struct {
	mu      sync.Mutex
	seq     int
	codes   map[string]*models.Code // keyed by code string
	parties map[string]*models.Party
	prices  map[string]*models.PriceTier
	users   map[string]*models.User
	qrs     []*models.QRRecord
	guests  []*models.GuestEntry

	codesTableMissing bool
	ownerRequired     bool
	insertQRErr       error // forced error for the next InsertQR
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		codes:   map[string]*models.Code{},
		parties: map[string]*models.Party{},
		prices:  map[string]*models.PriceTier{},
		users:   map[string]*models.User{},
	}
}

func (f *fakeStore) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s%04d", prefix, f.seq)
}

func (f *fakeStore) addParty(id string, current, max int) *models.Party {
	p := &models.Party{ID: id, Title: "Party " + id, AttendeesCurrent: current, AttendeesMax: max}
	f.parties[id] = p
	return p
}

func (f *fakeStore) addPrice(id, partyID, name string) *models.PriceTier {
	t := &models.PriceTier{ID: id, PartyID: partyID, Name: name}
	f.prices[id] = t
	return t
}

func (f *fakeStore) addUser(id, name, email string) *models.User {
	u := &models.User{ID: id, Name: name, Email: email}
	f.users[id] = u
	return u
}

func (f *fakeStore) addCode(code, partyID, priceID string, used bool, userID string) *models.Code {
	c := &models.Code{ID: f.nextID("c"), PartyID: partyID, PriceID: priceID, Code: code, AlreadyUsed: used, UserID: userID}
	f.codes[code] = c
	return c
}

func (f *fakeStore) FindCodeByString(_ context.Context, code string) (*models.Code, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.codes[code]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, status.ErrRecordNotFound
}

func (f *fakeStore) InsertCode(_ context.Context, c *models.Code) (*models.Code, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.codesTableMissing {
		return nil, status.ErrStoreUnavailable
	}
	if _, dup := f.codes[c.Code]; dup {
		return nil, &status.ConstraintError{Field: status.ConstraintUnique, Err: fmt.Errorf("duplicate code %s", c.Code)}
	}
	cp := *c
	cp.ID = f.nextID("c")
	cp.Created = time.Now()
	f.codes[cp.Code] = &cp
	out := cp
	return &out, nil
}

func (f *fakeStore) InsertCodes(ctx context.Context, cs []*models.Code) ([]*models.Code, error) {
	out := make([]*models.Code, 0, len(cs))
	for _, c := range cs {
		rec, err := f.InsertCode(ctx, c)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (f *fakeStore) ListCodeStrings(context.Context) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.codesTableMissing {
		return nil, status.ErrStoreUnavailable
	}
	out := make(map[string]struct{}, len(f.codes))
	for code := range f.codes {
		out[code] = struct{}{}
	}
	return out, nil
}

func (f *fakeStore) ExistingCodes(_ context.Context, codes []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.codesTableMissing {
		return nil, status.ErrStoreUnavailable
	}
	var found []string
	for _, c := range codes {
		if _, ok := f.codes[c]; ok {
			found = append(found, c)
		}
	}
	return found, nil
}

func (f *fakeStore) ListPartyCodes(_ context.Context, partyID string) ([]*models.Code, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Code
	for _, c := range f.codes {
		if c.PartyID == partyID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkCodeUsed(_ context.Context, code, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.codes[code]
	if !ok || c.AlreadyUsed {
		return false, nil
	}
	c.AlreadyUsed = true
	c.UserID = userID
	return true, nil
}

func (f *fakeStore) ReassociateCode(_ context.Context, code, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.codes[code]
	if !ok || !c.AlreadyUsed || c.UserID != "" {
		return false, nil
	}
	c.UserID = userID
	return true, nil
}

func (f *fakeStore) CountUsedCodes(_ context.Context, partyID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.codes {
		if c.PartyID == partyID && c.AlreadyUsed {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) FindUsedCodeForUser(_ context.Context, userID, partyID string) (*models.Code, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.codes {
		if c.PartyID == partyID && c.UserID == userID && c.AlreadyUsed {
			cp := *c
			return &cp, nil
		}
	}
	return nil, status.ErrRecordNotFound
}

func (f *fakeStore) FindParty(_ context.Context, id string) (*models.Party, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.parties[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, status.ErrRecordNotFound
}

func (f *fakeStore) IncrementAttendees(_ context.Context, partyID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.parties[partyID]
	if !ok || p.AttendeesCurrent >= p.Capacity() {
		return false, nil
	}
	p.AttendeesCurrent++
	return true, nil
}

func (f *fakeStore) FindPrice(_ context.Context, id string) (*models.PriceTier, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.prices[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, status.ErrRecordNotFound
}

func (f *fakeStore) FindPriceByName(_ context.Context, partyID, name string) (*models.PriceTier, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.prices {
		if t.PartyID == partyID && t.Name == name {
			cp := *t
			return &cp, nil
		}
	}
	return nil, status.ErrRecordNotFound
}

func (f *fakeStore) FindUser(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, status.ErrRecordNotFound
}

func (f *fakeStore) FindUserByName(_ context.Context, name string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Name == name {
			cp := *u
			return &cp, nil
		}
	}
	return nil, status.ErrRecordNotFound
}

func (f *fakeStore) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, status.ErrRecordNotFound
}

func (f *fakeStore) CreateUser(_ context.Context, name, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := &models.User{ID: f.nextID("u"), Name: name, Email: email}
	f.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (f *fakeStore) FindQRForOwner(_ context.Context, userID, partyID, codeID string) (*models.QRRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Latest first, exact code match preferred.
	for i := len(f.qrs) - 1; i >= 0; i-- {
		qr := f.qrs[i]
		if qr.PartyID != partyID || qr.UserID != userID {
			continue
		}
		if codeID == "" || qr.CodeID == codeID {
			cp := *qr
			return &cp, nil
		}
	}
	for i := len(f.qrs) - 1; i >= 0; i-- {
		qr := f.qrs[i]
		if qr.PartyID == partyID && qr.UserID == userID && qr.CodeID == "" {
			cp := *qr
			return &cp, nil
		}
	}
	return nil, status.ErrRecordNotFound
}

func (f *fakeStore) FindQRByToken(_ context.Context, token string) (*models.QRRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, qr := range f.qrs {
		if qr.Token == token {
			cp := *qr
			return &cp, nil
		}
	}
	return nil, status.ErrRecordNotFound
}

func (f *fakeStore) FindQRByLegacyData(_ context.Context, data string) (*models.QRRecord, error) {
	return nil, status.ErrRecordNotFound
}

func (f *fakeStore) FindQRByCodeID(_ context.Context, codeID string) (*models.QRRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, qr := range f.qrs {
		if qr.CodeID == codeID && codeID != "" {
			cp := *qr
			return &cp, nil
		}
	}
	return nil, status.ErrRecordNotFound
}

func (f *fakeStore) FindQRByParty(_ context.Context, partyID, ownerID string) (*models.QRRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, qr := range f.qrs {
		if qr.PartyID == partyID && (qr.UserID == ownerID || qr.UserID == "") {
			cp := *qr
			return &cp, nil
		}
	}
	return nil, status.ErrRecordNotFound
}

func (f *fakeStore) InsertQR(_ context.Context, qr *models.QRRecord) (*models.QRRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertQRErr != nil {
		err := f.insertQRErr
		f.insertQRErr = nil
		return nil, err
	}
	if qr.CodeID != "" {
		found := false
		for _, c := range f.codes {
			if c.ID == qr.CodeID {
				found = true
				break
			}
		}
		if !found {
			return nil, &status.ConstraintError{Field: status.ConstraintCodeRef, Err: fmt.Errorf("unknown code reference %s", qr.CodeID)}
		}
	}
	if qr.UserID == "" && f.ownerRequired {
		return nil, &status.ConstraintError{Field: status.ConstraintOwnerRequired, Err: fmt.Errorf("owner required")}
	}
	for _, existing := range f.qrs {
		if existing.Token == qr.Token {
			return nil, &status.ConstraintError{Field: status.ConstraintUnique, Err: fmt.Errorf("duplicate token")}
		}
	}
	cp := *qr
	cp.ID = f.nextID("qr")
	cp.Created = time.Now()
	f.qrs = append(f.qrs, &cp)
	out := cp
	return &out, nil
}

func (f *fakeStore) UpdateQRPartyID(_ context.Context, id, partyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, qr := range f.qrs {
		if qr.ID == id {
			qr.PartyID = partyID
			return nil
		}
	}
	return status.ErrRecordNotFound
}

func (f *fakeStore) MarkQRUsed(_ context.Context, id string, usedAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, qr := range f.qrs {
		if qr.ID == id {
			if qr.Status != models.QRStatusNotUsed {
				return false, nil
			}
			qr.Status = models.QRStatusUsed
			at := usedAt
			qr.UsedAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) InsertGuestEntry(_ context.Context, g *models.GuestEntry) (*models.GuestEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *g
	cp.ID = f.nextID("g")
	cp.Created = time.Now()
	f.guests = append(f.guests, &cp)
	out := cp
	return &out, nil
}

func (f *fakeStore) ListGuestEntries(_ context.Context, partyID string) ([]*models.GuestEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.GuestEntry
	for _, g := range f.guests {
		if g.PartyID == partyID {
			cp := *g
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateGuestStatus(_ context.Context, partyID, guestID string, validated bool) (*models.GuestEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.guests {
		if g.ID == guestID && g.PartyID == partyID {
			v := validated
			g.Validated = &v
			cp := *g
			return &cp, nil
		}
	}
	return nil, status.ErrRecordNotFound
}

func (f *fakeStore) HealthCheck(context.Context) error { return nil }
