// Package store defines the persistence boundary of the ticketing workflow.
// The used-flag transitions and the attendee counter are conditional updates
// at the store level: that is the only concurrency guard, so any
// implementation must keep them atomic (see PBStore).
package store

import (
	"context"
	"time"

	"rumbify-server/models"
)

type Store interface {
	// Codes
	FindCodeByString(ctx context.Context, code string) (*models.Code, error)
	InsertCode(ctx context.Context, c *models.Code) (*models.Code, error)
	InsertCodes(ctx context.Context, cs []*models.Code) ([]*models.Code, error)
	// ListCodeStrings returns every persisted code string. A missing codes
	// table surfaces as status.ErrStoreUnavailable so batch generation can
	// degrade to unsaved codes.
	ListCodeStrings(ctx context.Context) (map[string]struct{}, error)
	// ExistingCodes returns which of the given code strings already exist.
	ExistingCodes(ctx context.Context, codes []string) ([]string, error)
	ListPartyCodes(ctx context.Context, partyID string) ([]*models.Code, error)
	// MarkCodeUsed flips already_used false→true and sets the owner in one
	// conditional update. changed=false means another caller won the race
	// (or the code does not exist).
	MarkCodeUsed(ctx context.Context, code, userID string) (changed bool, err error)
	// ReassociateCode sets the owner of an already-used, owner-less code.
	ReassociateCode(ctx context.Context, code, userID string) (changed bool, err error)
	CountUsedCodes(ctx context.Context, partyID string) (int, error)
	FindUsedCodeForUser(ctx context.Context, userID, partyID string) (*models.Code, error)

	// Parties and price tiers
	FindParty(ctx context.Context, id string) (*models.Party, error)
	// IncrementAttendees bumps the attendee counter only while below
	// capacity, in a single conditional update.
	IncrementAttendees(ctx context.Context, partyID string) (changed bool, err error)
	FindPrice(ctx context.Context, id string) (*models.PriceTier, error)
	FindPriceByName(ctx context.Context, partyID, name string) (*models.PriceTier, error)

	// Users
	FindUser(ctx context.Context, id string) (*models.User, error)
	FindUserByName(ctx context.Context, name string) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, name, email string) (*models.User, error)

	// QR records
	// FindQRForOwner implements the reuse-before-create lookup: userID == ""
	// matches guest records (null owner), codeID narrows when non-empty.
	FindQRForOwner(ctx context.Context, userID, partyID, codeID string) (*models.QRRecord, error)
	FindQRByToken(ctx context.Context, token string) (*models.QRRecord, error)
	FindQRByLegacyData(ctx context.Context, data string) (*models.QRRecord, error)
	FindQRByCodeID(ctx context.Context, codeID string) (*models.QRRecord, error)
	FindQRByParty(ctx context.Context, partyID, ownerID string) (*models.QRRecord, error)
	// InsertQR persists a ticket. Constraint violations come back as
	// *status.ConstraintError so issuance can walk its fallback chain.
	InsertQR(ctx context.Context, qr *models.QRRecord) (*models.QRRecord, error)
	UpdateQRPartyID(ctx context.Context, id, partyID string) error
	// MarkQRUsed flips status 'not used'→'used' conditionally.
	MarkQRUsed(ctx context.Context, id string, usedAt time.Time) (changed bool, err error)

	// Guest ledger
	InsertGuestEntry(ctx context.Context, g *models.GuestEntry) (*models.GuestEntry, error)
	ListGuestEntries(ctx context.Context, partyID string) ([]*models.GuestEntry, error)
	UpdateGuestStatus(ctx context.Context, partyID, guestID string, validated bool) (*models.GuestEntry, error)

	HealthCheck(ctx context.Context) error
}
