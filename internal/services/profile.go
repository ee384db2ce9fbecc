package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/repository"
)

const (
	maxDisplayNameLength = 50
	maxBioLength         = 500
)

// ProfileService resolves and edits user profiles
type ProfileService struct {
	profiles repository.ProfileRepository
	pairs    repository.PairRepository
	now      func() time.Time
}

// NewProfileService creates a new profile service
func NewProfileService(profiles repository.ProfileRepository, pairs repository.PairRepository) *ProfileService {
	return &ProfileService{
		profiles: profiles,
		pairs:    pairs,
		now:      time.Now,
	}
}

// GetProfile returns the caller's profile, creating the default one on first fetch
func (s *ProfileService) GetProfile(ctx context.Context, uid string) (*models.UserProfile, error) {
	if uid == "" {
		return nil, models.ErrNotAuthenticated
	}

	profile, err := s.profiles.FindByUID(ctx, uid)
	if err != nil {
		return nil, models.Transient(err)
	}
	if profile != nil {
		return profile, nil
	}

	profile, err = s.profiles.CreateIfAbsent(ctx, models.NewDefaultProfile(uid, s.now()))
	if err != nil {
		return nil, models.Transient(fmt.Errorf("failed to create default profile: %w", err))
	}
	return profile, nil
}

// GetPartnerProfile returns the other participant's profile, or nil when
// uid is unpaired or the partner has no profile.
func (s *ProfileService) GetPartnerProfile(ctx context.Context, uid string) (*models.UserProfile, error) {
	if uid == "" {
		return nil, models.ErrNotAuthenticated
	}

	pair, err := s.pairs.FindActiveByUser(ctx, uid)
	if err != nil {
		return nil, models.Transient(err)
	}
	if pair == nil {
		return nil, nil
	}

	partnerUID := pair.PartnerOf(uid)
	if partnerUID == "" {
		return nil, nil
	}

	partner, err := s.profiles.FindByUID(ctx, partnerUID)
	if err != nil {
		return nil, models.Transient(err)
	}
	return partner, nil
}

// UpdateProfile applies the editable fields and returns the stored profile
func (s *ProfileService) UpdateProfile(ctx context.Context, uid string, upd models.ProfileUpdate) (*models.UserProfile, error) {
	if upd.DisplayName != nil {
		name := strings.TrimSpace(*upd.DisplayName)
		if name == "" {
			return nil, models.NewInvalidInputError("display_name", "must not be empty")
		}
		if utf8.RuneCountInString(name) > maxDisplayNameLength {
			return nil, models.NewInvalidInputError("display_name", fmt.Sprintf("must be at most %d characters", maxDisplayNameLength))
		}
		upd.DisplayName = &name
	}
	if upd.Bio != nil && utf8.RuneCountInString(*upd.Bio) > maxBioLength {
		return nil, models.NewInvalidInputError("bio", fmt.Sprintf("must be at most %d characters", maxBioLength))
	}

	if _, err := s.GetProfile(ctx, uid); err != nil {
		return nil, err
	}
	if err := s.profiles.Update(ctx, uid, upd, s.now()); err != nil {
		return nil, models.Transient(err)
	}
	return s.GetProfile(ctx, uid)
}

// UpdatePushToken registers or clears the caller's device push token
func (s *ProfileService) UpdatePushToken(ctx context.Context, uid string, token *string) error {
	if token != nil && strings.TrimSpace(*token) == "" {
		token = nil
	}
	if _, err := s.GetProfile(ctx, uid); err != nil {
		return err
	}
	if err := s.profiles.UpdatePushToken(ctx, uid, token); err != nil {
		return models.Transient(err)
	}
	return nil
}

// SessionResolver builds the SessionContext passed to pairing and gateway operations
type SessionResolver struct {
	profiles *ProfileService
}

// NewSessionResolver creates a new session resolver
func NewSessionResolver(profiles *ProfileService) *SessionResolver {
	return &SessionResolver{profiles: profiles}
}

// Resolve reads the caller's current profile. PairID is the profile's mirrored pair id.
func (r *SessionResolver) Resolve(ctx context.Context, uid string) (models.SessionContext, error) {
	profile, err := r.profiles.GetProfile(ctx, uid)
	if err != nil {
		return models.SessionContext{}, err
	}
	return models.SessionContext{
		UID:     uid,
		Profile: profile,
		PairID:  profile.CurrentPairID(),
	}, nil
}
