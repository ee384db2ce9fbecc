package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"couple-sync-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const profileColumns = `uid, display_name, bio, avatar_url, pair_id, push_token, created_at, updated_at`

// PostgresProfileRepository handles database operations for user profiles
type PostgresProfileRepository struct {
	db *pgxpool.Pool
}

// NewPostgresProfileRepository creates a new profile repository
func NewPostgresProfileRepository(db *pgxpool.Pool) *PostgresProfileRepository {
	return &PostgresProfileRepository{db: db}
}

// FindByUID retrieves a profile by uid
func (r *PostgresProfileRepository) FindByUID(ctx context.Context, uid string) (*models.UserProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM user_profiles WHERE uid = $1`
	profile, err := scanProfile(r.db.QueryRow(ctx, query, uid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return profile, nil
}

// CreateIfAbsent inserts the profile unless the uid already has one
func (r *PostgresProfileRepository) CreateIfAbsent(ctx context.Context, profile *models.UserProfile) (*models.UserProfile, error) {
	query := `
		INSERT INTO user_profiles (uid, display_name, bio, avatar_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (uid) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query,
		profile.UID, profile.DisplayName, profile.Bio, profile.AvatarURL, profile.CreatedAt, profile.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}

	stored, err := r.FindByUID(ctx, profile.UID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("profile %s vanished after create", profile.UID)
	}
	return stored, nil
}

// Update applies the non-nil fields of upd
func (r *PostgresProfileRepository) Update(ctx context.Context, uid string, upd models.ProfileUpdate, updatedAt time.Time) error {
	query := `
		UPDATE user_profiles SET
			display_name = COALESCE($2, display_name),
			bio = COALESCE($3, bio),
			avatar_url = COALESCE($4, avatar_url),
			updated_at = $5
		WHERE uid = $1
	`
	result, err := r.db.Exec(ctx, query, uid, upd.DisplayName, upd.Bio, upd.AvatarURL, updatedAt)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.NewNotFoundError("profile", uid)
	}
	return nil
}

// UpdatePushToken updates the push token for a user
func (r *PostgresProfileRepository) UpdatePushToken(ctx context.Context, uid string, token *string) error {
	query := `UPDATE user_profiles SET push_token = $1 WHERE uid = $2`
	result, err := r.db.Exec(ctx, query, token, uid)
	if err != nil {
		return fmt.Errorf("failed to update push token: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.NewNotFoundError("profile", uid)
	}
	return nil
}

func scanProfile(row pgx.Row) (*models.UserProfile, error) {
	var p models.UserProfile
	err := row.Scan(
		&p.UID, &p.DisplayName, &p.Bio, &p.AvatarURL, &p.PairID, &p.PushToken, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.ID = p.UID
	return &p, nil
}
