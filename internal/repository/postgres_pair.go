package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"couple-sync-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pairColumns = `id, user_a_uid, user_b_uid, status, created_at`

// PostgresPairRepository handles database operations for pairs
type PostgresPairRepository struct {
	db *pgxpool.Pool
}

// NewPostgresPairRepository creates a new pair repository
func NewPostgresPairRepository(db *pgxpool.Pool) *PostgresPairRepository {
	return &PostgresPairRepository{db: db}
}

// Redeem consumes a pairing code and creates the pair in one transaction.
// The code row is locked first, then both profile rows in uid order, so a
// concurrent redeemer of the same code blocks and then sees used = true.
func (r *PostgresPairRepository) Redeem(ctx context.Context, p RedeemParams) (*models.Pair, error) {
	var pair *models.Pair

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		code, err := lockPairCode(ctx, tx, p.Code)
		if err != nil {
			return err
		}
		if err := code.CheckRedeemable(p.RedeemerUID, p.Now); err != nil {
			return err
		}

		uids := []string{code.OwnerUID, p.RedeemerUID}
		sort.Strings(uids)
		if err := lockUnpairedProfiles(ctx, tx, uids, p); err != nil {
			return err
		}

		pair = &models.Pair{
			ID:           p.PairID,
			Participants: [2]string{code.OwnerUID, p.RedeemerUID},
			Status:       models.PairStatusActive,
			CreatedAt:    p.Now,
		}
		insertPair := `
			INSERT INTO pairs (id, user_a_uid, user_b_uid, status, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`
		if _, err := tx.Exec(ctx, insertPair,
			pair.ID, pair.Participants[0], pair.Participants[1], pair.Status, pair.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to create pair: %w", err)
		}

		consume := `UPDATE pair_codes SET used = TRUE, pair_id = $2 WHERE code = $1 AND used = FALSE`
		result, err := tx.Exec(ctx, consume, p.Code, pair.ID)
		if err != nil {
			return fmt.Errorf("failed to consume pair code: %w", err)
		}
		if result.RowsAffected() != 1 {
			return models.ErrPairCodeUsed
		}

		link := `UPDATE user_profiles SET pair_id = $1, updated_at = $2 WHERE uid = ANY($3)`
		if _, err := tx.Exec(ctx, link, pair.ID, p.Now, uids); err != nil {
			return fmt.Errorf("failed to link profiles: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return pair, nil
}

func lockPairCode(ctx context.Context, tx pgx.Tx, code string) (*models.PairCode, error) {
	query := `SELECT ` + pairCodeColumns + ` FROM pair_codes WHERE code = $1 FOR UPDATE`
	pc, err := scanPairCode(tx.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrPairCodeNotFound
		}
		return nil, fmt.Errorf("failed to lock pair code: %w", err)
	}
	return pc, nil
}

// lockUnpairedProfiles makes sure both profiles exist, locks them and fails
// with ErrAlreadyPaired if either already belongs to a pair.
func lockUnpairedProfiles(ctx context.Context, tx pgx.Tx, uids []string, p RedeemParams) error {
	ensure := `
		INSERT INTO user_profiles (uid, display_name, bio, avatar_url, created_at, updated_at)
		VALUES ($1, 'User', '', '', $2, $2)
		ON CONFLICT (uid) DO NOTHING
	`
	for _, uid := range uids {
		if _, err := tx.Exec(ctx, ensure, uid, p.Now); err != nil {
			return fmt.Errorf("failed to ensure profile: %w", err)
		}
	}

	rows, err := tx.Query(ctx,
		`SELECT uid, pair_id FROM user_profiles WHERE uid = ANY($1) ORDER BY uid FOR UPDATE`, uids)
	if err != nil {
		return fmt.Errorf("failed to lock profiles: %w", err)
	}
	defer rows.Close()

	paired := false
	for rows.Next() {
		var uid string
		var pairID *string
		if err := rows.Scan(&uid, &pairID); err != nil {
			return fmt.Errorf("failed to scan profile: %w", err)
		}
		if pairID != nil {
			paired = true
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating profiles: %w", err)
	}
	if paired {
		return models.ErrAlreadyPaired
	}
	return nil
}

// FindByID retrieves a pair by ID
func (r *PostgresPairRepository) FindByID(ctx context.Context, id string) (*models.Pair, error) {
	query := `SELECT ` + pairColumns + ` FROM pairs WHERE id = $1`
	pair, err := scanPair(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get pair: %w", err)
	}
	return pair, nil
}

// FindActiveByUser retrieves the active pair of a user
func (r *PostgresPairRepository) FindActiveByUser(ctx context.Context, uid string) (*models.Pair, error) {
	query := `
		SELECT ` + pairColumns + `
		FROM pairs
		WHERE (user_a_uid = $1 OR user_b_uid = $1) AND status = 'active'
		LIMIT 1
	`
	pair, err := scanPair(r.db.QueryRow(ctx, query, uid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get pair by user id: %w", err)
	}
	return pair, nil
}

// Deactivate ends an active pair and clears both profiles' pair id
func (r *PostgresPairRepository) Deactivate(ctx context.Context, id string) (*models.Pair, error) {
	var pair *models.Pair

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		query := `
			UPDATE pairs SET status = 'inactive'
			WHERE id = $1 AND status = 'active'
			RETURNING ` + pairColumns
		var err error
		pair, err = scanPair(tx.QueryRow(ctx, query, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return models.NewNotFoundError("pair", id)
			}
			return fmt.Errorf("failed to deactivate pair: %w", err)
		}

		if _, err := tx.Exec(ctx, `UPDATE user_profiles SET pair_id = NULL WHERE pair_id = $1`, id); err != nil {
			return fmt.Errorf("failed to unlink profiles: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return pair, nil
}

func scanPair(row pgx.Row) (*models.Pair, error) {
	var pair models.Pair
	err := row.Scan(&pair.ID, &pair.Participants[0], &pair.Participants[1], &pair.Status, &pair.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &pair, nil
}
