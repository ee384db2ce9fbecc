package models

import (
	"encoding/json"
	"time"
)

// PairStatus is the lifecycle state of a pair
type PairStatus string

const (
	PairStatusActive   PairStatus = "active"
	PairStatusInactive PairStatus = "inactive"
)

// UserProfile represents the profile owned by one identity
type UserProfile struct {
	ID          string    `json:"id"`
	UID         string    `json:"uid"`
	DisplayName string    `json:"display_name"`
	Bio         string    `json:"bio"`
	AvatarURL   string    `json:"avatar_url"`
	PairID      *string   `json:"pair_id,omitempty"`
	PushToken   *string   `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CurrentPairID returns the mirrored pair id or an empty string
func (p *UserProfile) CurrentPairID() string {
	if p == nil || p.PairID == nil {
		return ""
	}
	return *p.PairID
}

// NewDefaultProfile returns the profile created on first fetch
func NewDefaultProfile(uid string, now time.Time) *UserProfile {
	return &UserProfile{
		ID:          uid,
		UID:         uid,
		DisplayName: "User",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ProfileUpdate holds the user-editable profile fields. Nil fields are left unchanged.
type ProfileUpdate struct {
	DisplayName *string `json:"display_name,omitempty"`
	Bio         *string `json:"bio,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
}

// PairCode represents a short-lived code that binds two identities into a pair
type PairCode struct {
	Code      string    `json:"code"`
	OwnerUID  string    `json:"owner_uid"`
	PairID    *string   `json:"pair_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	Used      bool      `json:"used"`
}

// CheckRedeemable reports why redeemerUID cannot redeem the code at now.
// A used code is always AlreadyUsed, even when it has also expired.
func (c *PairCode) CheckRedeemable(redeemerUID string, now time.Time) error {
	if c.Used {
		return ErrPairCodeUsed
	}
	if !now.Before(c.ExpiresAt) {
		return ErrPairCodeExpired
	}
	if c.OwnerUID == redeemerUID {
		return ErrSelfRedemption
	}
	return nil
}

// Pair represents two identities sharing one data scope
type Pair struct {
	ID           string     `json:"id"`
	Participants [2]string  `json:"participants"`
	Status       PairStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
}

// HasParticipant reports whether uid is one of the pair's participants
func (p *Pair) HasParticipant(uid string) bool {
	return p.Participants[0] == uid || p.Participants[1] == uid
}

// PartnerOf returns the other participant, or an empty string if uid is not in the pair
func (p *Pair) PartnerOf(uid string) string {
	switch uid {
	case p.Participants[0]:
		return p.Participants[1]
	case p.Participants[1]:
		return p.Participants[0]
	}
	return ""
}

// SessionContext is the caller identity and pairing passed explicitly to every
// pairing and gateway operation.
type SessionContext struct {
	UID     string
	Profile *UserProfile
	PairID  string
}

// NotificationType classifies an app notification
type NotificationType string

const (
	NotificationTodoAdded     NotificationType = "todo_added"
	NotificationFavoriteAdded NotificationType = "favorite_added"
	NotificationStickerAdded  NotificationType = "sticker_added"
)

// AppNotification is a point-to-point message from one participant to the other
type AppNotification struct {
	ID           string           `json:"id"`
	Type         NotificationType `json:"type"`
	Title        string           `json:"title"`
	Body         string           `json:"body"`
	SenderUID    string           `json:"sender_uid"`
	RecipientUID string           `json:"recipient_uid"`
	Read         bool             `json:"read"`
	CreatedAt    time.Time        `json:"created_at"`
	Data         map[string]any   `json:"data"`
}

// Scope holds the fields every shared entity carries. They are stamped at
// creation and never change afterwards.
type Scope struct {
	ID        string    `json:"id"`
	PairID    string    `json:"pair_id"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Shared is a pair-scoped entity: the scoping fields plus the kind's domain fields
type Shared[F any] struct {
	Scope
	Fields F
}

// MarshalJSON flattens scope and domain fields into one object
func (s Shared[F]) MarshalJSON() ([]byte, error) {
	out := map[string]json.RawMessage{}

	fields, err := json.Marshal(s.Fields)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fields, &out); err != nil {
		return nil, err
	}

	scope, err := json.Marshal(s.Scope)
	if err != nil {
		return nil, err
	}
	var scopeMap map[string]json.RawMessage
	if err := json.Unmarshal(scope, &scopeMap); err != nil {
		return nil, err
	}
	for k, v := range scopeMap {
		out[k] = v
	}

	return json.Marshal(out)
}

// TodoPriority is the urgency of a to-do
type TodoPriority string

const (
	PriorityLow    TodoPriority = "low"
	PriorityMedium TodoPriority = "medium"
	PriorityHigh   TodoPriority = "high"
)

// TodoFields are the domain fields of a shared to-do
type TodoFields struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	DueDate     *time.Time   `json:"due_date,omitempty"`
	IsCompleted bool         `json:"is_completed"`
	Priority    TodoPriority `json:"priority"`
}

// TodoPatch lists the mutable to-do fields. A null due_date means unchanged;
// clear_due_date removes it.
type TodoPatch struct {
	Title        *string       `json:"title,omitempty"`
	Description  *string       `json:"description,omitempty"`
	DueDate      *time.Time    `json:"due_date,omitempty"`
	ClearDueDate bool          `json:"clear_due_date,omitempty"`
	IsCompleted  *bool         `json:"is_completed,omitempty"`
	Priority     *TodoPriority `json:"priority,omitempty"`
}

// Todo is a to-do shared by a pair
type Todo = Shared[TodoFields]

// FavoriteCategory groups favorites
type FavoriteCategory string

const (
	CategoryMovie FavoriteCategory = "movie"
	CategoryFood  FavoriteCategory = "food"
	CategoryPlace FavoriteCategory = "place"
	CategoryQuote FavoriteCategory = "quote"
	CategoryLink  FavoriteCategory = "link"
	CategoryOther FavoriteCategory = "other"
)

// FavoriteFields are the domain fields of a shared favorite
type FavoriteFields struct {
	Title       string           `json:"title"`
	Category    FavoriteCategory `json:"category"`
	Description string           `json:"description"`
	ImageURL    string           `json:"image_url,omitempty"`
	URL         string           `json:"url,omitempty"`
}

// FavoritePatch lists the mutable favorite fields
type FavoritePatch struct {
	Title       *string           `json:"title,omitempty"`
	Category    *FavoriteCategory `json:"category,omitempty"`
	Description *string           `json:"description,omitempty"`
	ImageURL    *string           `json:"image_url,omitempty"`
	URL         *string           `json:"url,omitempty"`
}

// Favorite is a favorite shared by a pair
type Favorite = Shared[FavoriteFields]

// StickerFields are the domain fields of a shared sticker
type StickerFields struct {
	Name     string `json:"name"`
	ImageURL string `json:"image_url"`
}

// StickerPatch lists the mutable sticker fields
type StickerPatch struct {
	Name *string `json:"name,omitempty"`
}

// Sticker is a sticker shared by a pair
type Sticker = Shared[StickerFields]
