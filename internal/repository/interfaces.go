package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"couple-sync-backend/internal/models"
)

// Shared collection names
const (
	CollectionTodos     = "todos"
	CollectionFavorites = "favorites"
	CollectionStickers  = "stickers"
)

// ErrCodeCollision is returned when a generated pairing code already exists
var ErrCodeCollision = errors.New("pair code already exists")

// Document is the raw form of a shared entity at the store boundary.
// The scoping fields are columns; the domain fields are an opaque JSON object.
type Document struct {
	ID        string
	PairID    string
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
	Data      json.RawMessage
}

// Query selects documents of one pair, newest first
type Query struct {
	PairID string
	Limit  int
}

// Unsubscribe cancels a change-feed subscription. It is safe to call more than once.
type Unsubscribe func()

// DocumentStore is the backing store for shared collections
type DocumentStore interface {
	// Create persists a new document
	Create(ctx context.Context, collection string, doc *Document) error

	// Get returns the document or nil if it does not exist
	Get(ctx context.Context, collection, id string) (*Document, error)

	// Update replaces the domain fields of a document. Scoping fields are never written.
	Update(ctx context.Context, collection, id string, data json.RawMessage, updatedAt time.Time) error

	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error

	// Query lists the pair's documents ordered by created_at descending
	Query(ctx context.Context, collection string, q Query) ([]*Document, error)

	// Subscribe delivers the full result set of q to onChange initially and
	// after every change. Errors go to onError and do not end the subscription.
	Subscribe(ctx context.Context, collection string, q Query, onChange func([]*Document), onError func(error)) (Unsubscribe, error)
}

// ProfileRepository persists user profiles keyed by uid
type ProfileRepository interface {
	// FindByUID returns the profile or nil if absent
	FindByUID(ctx context.Context, uid string) (*models.UserProfile, error)

	// CreateIfAbsent inserts the profile unless one exists and returns the stored profile
	CreateIfAbsent(ctx context.Context, profile *models.UserProfile) (*models.UserProfile, error)

	// Update applies non-nil fields of upd
	Update(ctx context.Context, uid string, upd models.ProfileUpdate, updatedAt time.Time) error

	// UpdatePushToken sets or clears the device push token
	UpdatePushToken(ctx context.Context, uid string, token *string) error
}

// PairCodeRepository persists pairing codes keyed by code
type PairCodeRepository interface {
	// Create persists a new code. Returns ErrCodeCollision if the code exists.
	Create(ctx context.Context, code *models.PairCode) error

	// FindByCode returns the code or nil if absent
	FindByCode(ctx context.Context, code string) (*models.PairCode, error)

	// DeleteStale removes codes that expired or were used before the cutoff
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// RedeemParams describes one redemption attempt
type RedeemParams struct {
	Code        string
	RedeemerUID string
	PairID      string
	Now         time.Time
}

// PairRepository persists pairs and owns the pairing transitions that also
// touch pair codes and profiles.
type PairRepository interface {
	// Redeem atomically validates and consumes the code, creates the active
	// pair and sets both profiles' pair id. Concurrent calls for one code
	// have exactly one winner; the others observe ErrPairCodeUsed.
	Redeem(ctx context.Context, p RedeemParams) (*models.Pair, error)

	// FindByID returns the pair or nil if absent
	FindByID(ctx context.Context, id string) (*models.Pair, error)

	// FindActiveByUser returns the active pair containing uid or nil
	FindActiveByUser(ctx context.Context, uid string) (*models.Pair, error)

	// Deactivate marks an active pair inactive and clears both profiles' pair id.
	// Returns ErrNotFound if no active pair has that id.
	Deactivate(ctx context.Context, id string) (*models.Pair, error)
}

// NotificationRepository persists app notifications
type NotificationRepository interface {
	Create(ctx context.Context, n *models.AppNotification) error
	// FindByID returns the notification or nil if absent
	FindByID(ctx context.Context, id string) (*models.AppNotification, error)
	ListByRecipient(ctx context.Context, uid string, limit int) ([]*models.AppNotification, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context, uid string) (int64, error)
	Delete(ctx context.Context, id string) error
	DeleteByRecipient(ctx context.Context, uid string) (int64, error)
}
