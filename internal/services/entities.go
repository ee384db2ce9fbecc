package services

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/repository"
)

const (
	maxTitleLength       = 200
	maxDescriptionLength = 2000
)

// Notice is the partner notification emitted after a create
type Notice struct {
	Type  models.NotificationType
	Title string
	Body  string
	Data  map[string]any
}

// Kind describes one shared collection: its stored fields F and patch P
type Kind[F, P any] interface {
	// Collection is the store collection name
	Collection() string

	// Normalize fills defaults and trims input before validation
	Normalize(f *F)

	// Validate rejects field values the collection never stores
	Validate(f F) error

	// Apply copies the allow-listed fields of p onto f
	Apply(f *F, p P)

	// Notice describes a newly created entity to the partner
	Notice(f F) Notice
}

// TodoKind is the shared to-do collection
type TodoKind struct{}

// Collection returns the to-do collection name
func (TodoKind) Collection() string { return repository.CollectionTodos }

// Normalize trims the title and defaults priority to medium
func (TodoKind) Normalize(f *models.TodoFields) {
	f.Title = strings.TrimSpace(f.Title)
	if f.Priority == "" {
		f.Priority = models.PriorityMedium
	}
}

// Validate checks title, description length and priority
func (TodoKind) Validate(f models.TodoFields) error {
	if err := requireText("title", f.Title, maxTitleLength); err != nil {
		return err
	}
	if utf8.RuneCountInString(f.Description) > maxDescriptionLength {
		return models.NewInvalidInputError("description", fmt.Sprintf("must be at most %d characters", maxDescriptionLength))
	}
	switch f.Priority {
	case models.PriorityLow, models.PriorityMedium, models.PriorityHigh:
	default:
		return models.NewInvalidInputError("priority", fmt.Sprintf("unknown value %q", f.Priority))
	}
	return nil
}

// Apply copies the set patch fields. ClearDueDate wins over DueDate.
func (TodoKind) Apply(f *models.TodoFields, p models.TodoPatch) {
	if p.Title != nil {
		f.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		f.Description = *p.Description
	}
	switch {
	case p.ClearDueDate:
		f.DueDate = nil
	case p.DueDate != nil:
		due := *p.DueDate
		f.DueDate = &due
	}
	if p.IsCompleted != nil {
		f.IsCompleted = *p.IsCompleted
	}
	if p.Priority != nil {
		f.Priority = *p.Priority
	}
}

// Notice announces a new to-do
func (TodoKind) Notice(f models.TodoFields) Notice {
	return Notice{Type: models.NotificationTodoAdded, Title: "New To-Do", Body: f.Title}
}

// FavoriteKind is the shared favorites collection
type FavoriteKind struct{}

// Collection returns the favorites collection name
func (FavoriteKind) Collection() string { return repository.CollectionFavorites }

// Normalize trims title and URL and defaults category to other
func (FavoriteKind) Normalize(f *models.FavoriteFields) {
	f.Title = strings.TrimSpace(f.Title)
	f.URL = strings.TrimSpace(f.URL)
	if f.Category == "" {
		f.Category = models.CategoryOther
	}
}

// Validate checks title, description length, category and URLs
func (FavoriteKind) Validate(f models.FavoriteFields) error {
	if err := requireText("title", f.Title, maxTitleLength); err != nil {
		return err
	}
	if utf8.RuneCountInString(f.Description) > maxDescriptionLength {
		return models.NewInvalidInputError("description", fmt.Sprintf("must be at most %d characters", maxDescriptionLength))
	}
	switch f.Category {
	case models.CategoryMovie, models.CategoryFood, models.CategoryPlace,
		models.CategoryQuote, models.CategoryLink, models.CategoryOther:
	default:
		return models.NewInvalidInputError("category", fmt.Sprintf("unknown value %q", f.Category))
	}
	if err := optionalURL("url", f.URL); err != nil {
		return err
	}
	return optionalURL("image_url", f.ImageURL)
}

// Apply copies the set patch fields
func (FavoriteKind) Apply(f *models.FavoriteFields, p models.FavoritePatch) {
	if p.Title != nil {
		f.Title = strings.TrimSpace(*p.Title)
	}
	if p.Category != nil {
		f.Category = *p.Category
	}
	if p.Description != nil {
		f.Description = *p.Description
	}
	if p.ImageURL != nil {
		f.ImageURL = *p.ImageURL
	}
	if p.URL != nil {
		f.URL = strings.TrimSpace(*p.URL)
	}
}

// Notice announces a new favorite
func (FavoriteKind) Notice(f models.FavoriteFields) Notice {
	return Notice{Type: models.NotificationFavoriteAdded, Title: "New Favorite", Body: f.Title}
}

// StickerKind is the shared sticker collection
type StickerKind struct{}

// Collection returns the sticker collection name
func (StickerKind) Collection() string { return repository.CollectionStickers }

// Normalize trims name and image URL
func (StickerKind) Normalize(f *models.StickerFields) {
	f.Name = strings.TrimSpace(f.Name)
	f.ImageURL = strings.TrimSpace(f.ImageURL)
}

// Validate requires a name and an http(s) image URL
func (StickerKind) Validate(f models.StickerFields) error {
	if err := requireText("name", f.Name, maxTitleLength); err != nil {
		return err
	}
	if f.ImageURL == "" {
		return models.NewInvalidInputError("image_url", "is required")
	}
	return optionalURL("image_url", f.ImageURL)
}

// Apply renames the sticker. The image is fixed once uploaded.
func (StickerKind) Apply(f *models.StickerFields, p models.StickerPatch) {
	if p.Name != nil {
		f.Name = strings.TrimSpace(*p.Name)
	}
}

// Notice announces a new sticker
func (StickerKind) Notice(f models.StickerFields) Notice {
	return Notice{Type: models.NotificationStickerAdded, Title: "New Sticker", Body: f.Name}
}

func requireText(field, value string, max int) error {
	if value == "" {
		return models.NewInvalidInputError(field, "is required")
	}
	if utf8.RuneCountInString(value) > max {
		return models.NewInvalidInputError(field, fmt.Sprintf("must be at most %d characters", max))
	}
	return nil
}

func optionalURL(field, value string) error {
	if value == "" {
		return nil
	}
	u, err := url.Parse(value)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return models.NewInvalidInputError(field, "must be an http or https URL")
	}
	return nil
}
