package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rumbify-server/config"
	"rumbify-server/models"
	"rumbify-server/status"
)

type fakeBroadcaster struct {
	mu        sync.Mutex
	attendees []string
	scans     []string
}

func (b *fakeBroadcaster) PublishAttendees(_ context.Context, partyID string, current, max int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attendees = append(b.attendees, fmt.Sprintf("%s:%d/%d", partyID, current, max))
}

func (b *fakeBroadcaster) PublishScan(_ context.Context, partyID string, _ map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scans = append(b.scans, partyID)
}

func newRedemptionService(st *fakeStore, cfg *config.Config) (*RedemptionService, *MemoryPreviewCache, *fakeBroadcaster) {
	cache := NewMemoryPreviewCache()
	qr := newQRService(st, newFakeBlob("qr-codes"))
	rt := &fakeBroadcaster{}
	return NewRedemptionService(st, cache, qr, rt, cfg, testLogger()), cache, rt
}

func seedRedemption(st *fakeStore) {
	st.addParty("p1", 0, 3)
	st.addPrice("t1", "p1", "General")
	st.addUser("u1", "Dana", "dana@example.com")
}

func TestRedeemPersistedCode(t *testing.T) {
	st := newFakeStore()
	seedRedemption(st)
	st.addCode("Pp1-Tt1-AAAA1111", "p1", "t1", false, "")
	svc, _, rt := newRedemptionService(st, testConfig())

	summary, err := svc.Redeem(context.Background(), RedeemRequest{Code: "Pp1-Tt1-AAAA1111", UserID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, "p1", summary.ID)
	assert.Equal(t, "1/3", summary.Attendees)
	assert.Equal(t, "General", summary.PriceName)
	require.NotNil(t, summary.Ticket)
	assert.NotEmpty(t, summary.Ticket.Token)

	code, err := st.FindCodeByString(context.Background(), "Pp1-Tt1-AAAA1111")
	require.NoError(t, err)
	assert.True(t, code.AlreadyUsed)
	assert.Equal(t, "u1", code.UserID)

	assert.Equal(t, []string{"p1:1/3"}, rt.attendees)
}

func TestRedeemSameCodeTwiceFails(t *testing.T) {
	st := newFakeStore()
	seedRedemption(st)
	st.addCode("Pp1-Tt1-AAAA1111", "p1", "t1", false, "")
	svc, _, _ := newRedemptionService(st, testConfig())
	ctx := context.Background()

	_, err := svc.Redeem(ctx, RedeemRequest{Code: "Pp1-Tt1-AAAA1111", UserID: "u1"})
	require.NoError(t, err)

	_, err = svc.Redeem(ctx, RedeemRequest{Code: "Pp1-Tt1-AAAA1111", UserID: "u1"})
	assert.ErrorIs(t, err, status.ErrCodeUsed)

	party, _ := st.FindParty(ctx, "p1")
	assert.Equal(t, 1, party.AttendeesCurrent)
}

func TestRedeemFullPartyRejected(t *testing.T) {
	st := newFakeStore()
	st.addParty("p1", 3, 3)
	st.addPrice("t1", "p1", "General")
	st.addCode("Pp1-Tt1-AAAA1111", "p1", "t1", false, "")
	svc, _, _ := newRedemptionService(st, testConfig())

	_, err := svc.Redeem(context.Background(), RedeemRequest{Code: "Pp1-Tt1-AAAA1111"})
	assert.ErrorIs(t, err, status.ErrEventFull)

	// The code survives the rejection.
	code, _ := st.FindCodeByString(context.Background(), "Pp1-Tt1-AAAA1111")
	assert.False(t, code.AlreadyUsed)
}

func TestRedeemPreviewCodeMaterializes(t *testing.T) {
	st := newFakeStore()
	seedRedemption(st)
	svc, cache, _ := newRedemptionService(st, testConfig())
	ctx := context.Background()

	entry := &models.PreviewEntry{PartyID: "p1", PriceID: "t1", CreatedAt: time.Now()}
	require.NoError(t, cache.Put(ctx, "ABC123", entry, time.Minute))

	summary, err := svc.Redeem(ctx, RedeemRequest{Code: "ABC123", GuestName: "Sam"})
	require.NoError(t, err)
	assert.Equal(t, "1/3", summary.Attendees)

	// The preview code now exists as a consumed embedded record.
	code, err := st.FindCodeByString(ctx, "Pp1-Tt1-ABC123")
	require.NoError(t, err)
	assert.True(t, code.AlreadyUsed)

	// And the cache entry is gone.
	_, ok, err := cache.Get(ctx, "ABC123")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedeemPreviewCodeTwiceFails(t *testing.T) {
	st := newFakeStore()
	seedRedemption(st)
	svc, cache, _ := newRedemptionService(st, testConfig())
	ctx := context.Background()

	entry := &models.PreviewEntry{PartyID: "p1", PriceID: "t1", CreatedAt: time.Now()}
	require.NoError(t, cache.Put(ctx, "ABC123", entry, time.Minute))

	_, err := svc.Redeem(ctx, RedeemRequest{Code: "ABC123"})
	require.NoError(t, err)

	// Cache may still hold the code on a racing node; materialization must
	// dedupe on the stored record either way.
	require.NoError(t, cache.Put(ctx, "ABC123", entry, time.Minute))
	_, err = svc.Redeem(ctx, RedeemRequest{Code: "ABC123"})
	assert.ErrorIs(t, err, status.ErrCodeUsed)
}

func TestRedeemEmbeddedCodeMaterializesWithoutCacheEntry(t *testing.T) {
	st := newFakeStore()
	st.addParty("p7", 0, 10)
	st.addPrice("t3", "p7", "VIP")
	st.addUser("u1", "Dana", "dana@example.com")
	svc, _, _ := newRedemptionService(st, testConfig())
	ctx := context.Background()

	// No cache entry and no store row: the code text alone names party and
	// price.
	summary, err := svc.Redeem(ctx, RedeemRequest{Code: "Pp7-Tt3-AB12CD", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "1/10", summary.Attendees)
	assert.Equal(t, "VIP", summary.PriceName)

	code, err := st.FindCodeByString(ctx, "Pp7-Tt3-AB12CD")
	require.NoError(t, err)
	assert.True(t, code.AlreadyUsed)
	assert.Equal(t, "u1", code.UserID)

	// The materialized row blocks a second admission.
	_, err = svc.Redeem(ctx, RedeemRequest{Code: "Pp7-Tt3-AB12CD", GuestName: "Sam"})
	assert.ErrorIs(t, err, status.ErrCodeUsed)
}

func TestRedeemEmbeddedCodePriceOfAnotherParty(t *testing.T) {
	st := newFakeStore()
	st.addParty("p7", 0, 10)
	st.addParty("p8", 0, 10)
	st.addPrice("t3", "p8", "VIP")
	svc, _, _ := newRedemptionService(st, testConfig())
	ctx := context.Background()

	_, err := svc.Redeem(ctx, RedeemRequest{Code: "Pp7-Tt3-AB12CD"})
	assert.ErrorIs(t, err, status.ErrPriceNotFound)

	// Nothing materialized on the rejected attempt.
	_, err = st.FindCodeByString(ctx, "Pp7-Tt3-AB12CD")
	assert.ErrorIs(t, err, status.ErrRecordNotFound)
}

func TestRedeemConcurrentSameCodeAdmitsOnce(t *testing.T) {
	st := newFakeStore()
	seedRedemption(st)
	st.addUser("u2", "Iris", "iris@example.com")
	st.addCode("Pp1-Tt1-AAAA1111", "p1", "t1", false, "")
	svc, _, _ := newRedemptionService(st, testConfig())
	ctx := context.Background()

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, uid := range []string{"u1", "u2"} {
		wg.Add(1)
		go func(uid string) {
			defer wg.Done()
			_, err := svc.Redeem(ctx, RedeemRequest{Code: "Pp1-Tt1-AAAA1111", UserID: uid})
			errs <- err
		}(uid)
	}
	wg.Wait()
	close(errs)

	won, lost := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, status.ErrCodeUsed):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)

	party, _ := st.FindParty(ctx, "p1")
	assert.Equal(t, 1, party.AttendeesCurrent)
}

func TestRedeemGuestWritesLedger(t *testing.T) {
	st := newFakeStore()
	seedRedemption(st)
	st.addCode("Pp1-Tt1-AAAA1111", "p1", "t1", false, "")
	svc, _, _ := newRedemptionService(st, testConfig())
	ctx := context.Background()

	summary, err := svc.Redeem(ctx, RedeemRequest{Code: "Pp1-Tt1-AAAA1111", GuestName: "Sam Diaz"})
	require.NoError(t, err)
	require.NotNil(t, summary.Ticket)

	guests, err := st.ListGuestEntries(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, guests, 1)
	assert.Equal(t, "Sam Diaz", guests[0].Name)
	assert.Nil(t, guests[0].Validated)
}

func TestRedeemReassociatesOwnerlessUsedCode(t *testing.T) {
	st := newFakeStore()
	seedRedemption(st)
	st.addCode("Pp1-Tt1-AAAA1111", "p1", "t1", true, "")
	st.parties["p1"].AttendeesCurrent = 1
	svc, _, rt := newRedemptionService(st, testConfig())
	ctx := context.Background()

	summary, err := svc.Redeem(ctx, RedeemRequest{Code: "Pp1-Tt1-AAAA1111", UserID: "u1"})
	require.NoError(t, err)
	require.NotNil(t, summary.Ticket)

	code, _ := st.FindCodeByString(ctx, "Pp1-Tt1-AAAA1111")
	assert.Equal(t, "u1", code.UserID)

	// Re-association never counts a second admission.
	party, _ := st.FindParty(ctx, "p1")
	assert.Equal(t, 1, party.AttendeesCurrent)
	assert.Empty(t, rt.attendees)
}

func TestRedeemReassociationGatedByConfig(t *testing.T) {
	st := newFakeStore()
	seedRedemption(st)
	st.addCode("Pp1-Tt1-AAAA1111", "p1", "t1", true, "")
	cfg := testConfig()
	cfg.AllowReassociation = false
	svc, _, _ := newRedemptionService(st, cfg)

	_, err := svc.Redeem(context.Background(), RedeemRequest{Code: "Pp1-Tt1-AAAA1111", UserID: "u1"})
	assert.ErrorIs(t, err, status.ErrCodeUsed)
}

func TestRedeemReassociationRequiresUser(t *testing.T) {
	st := newFakeStore()
	seedRedemption(st)
	st.addCode("Pp1-Tt1-AAAA1111", "p1", "t1", true, "")
	svc, _, _ := newRedemptionService(st, testConfig())

	_, err := svc.Redeem(context.Background(), RedeemRequest{Code: "Pp1-Tt1-AAAA1111", GuestName: "Sam"})
	assert.ErrorIs(t, err, status.ErrCodeUsed)
}

func TestRedeemPriceMismatch(t *testing.T) {
	st := newFakeStore()
	seedRedemption(st)
	st.addCode("Pp1-Tt1-AAAA1111", "p1", "t1", false, "")
	svc, _, _ := newRedemptionService(st, testConfig())

	_, err := svc.Redeem(context.Background(), RedeemRequest{Code: "Pp1-Tt1-AAAA1111", UserID: "u1", PriceName: "VIP"})
	assert.ErrorIs(t, err, status.ErrPriceMismatch)
}

func TestRedeemValidationErrors(t *testing.T) {
	st := newFakeStore()
	seedRedemption(st)
	svc, _, _ := newRedemptionService(st, testConfig())
	ctx := context.Background()

	_, err := svc.Redeem(ctx, RedeemRequest{})
	assert.ErrorIs(t, err, status.ErrCodeRequired)

	_, err = svc.Redeem(ctx, RedeemRequest{Code: "NOPE42"})
	assert.ErrorIs(t, err, status.ErrInvalidCode)

	_, err = svc.Redeem(ctx, RedeemRequest{Code: "NOPE42", UserID: "ghost"})
	assert.ErrorIs(t, err, status.ErrUserNotFound)
}

func TestRedeemSurvivesQRIssuanceFailure(t *testing.T) {
	st := newFakeStore()
	seedRedemption(st)
	st.addCode("Pp1-Tt1-AAAA1111", "p1", "t1", false, "")
	st.insertQRErr = errors.New("disk full")
	svc, _, _ := newRedemptionService(st, testConfig())
	ctx := context.Background()

	summary, err := svc.Redeem(ctx, RedeemRequest{Code: "Pp1-Tt1-AAAA1111", UserID: "u1"})
	require.NoError(t, err)
	assert.Nil(t, summary.Ticket)

	// The admission still counted.
	party, _ := st.FindParty(ctx, "p1")
	assert.Equal(t, 1, party.AttendeesCurrent)
}
