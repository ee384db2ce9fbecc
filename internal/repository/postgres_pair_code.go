package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"couple-sync-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pairCodeColumns = `code, owner_uid, pair_id, expires_at, created_at, used`

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation
const uniqueViolation = "23505"

// PostgresPairCodeRepository handles database operations for pairing codes
type PostgresPairCodeRepository struct {
	db *pgxpool.Pool
}

// NewPostgresPairCodeRepository creates a new pairing code repository
func NewPostgresPairCodeRepository(db *pgxpool.Pool) *PostgresPairCodeRepository {
	return &PostgresPairCodeRepository{db: db}
}

// Create stores a new code
func (r *PostgresPairCodeRepository) Create(ctx context.Context, code *models.PairCode) error {
	query := `
		INSERT INTO pair_codes (code, owner_uid, expires_at, created_at, used)
		VALUES ($1, $2, $3, $4, FALSE)
	`
	_, err := r.db.Exec(ctx, query, code.Code, code.OwnerUID, code.ExpiresAt, code.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrCodeCollision
		}
		return fmt.Errorf("failed to create pair code: %w", err)
	}
	return nil
}

// FindByCode retrieves a code
func (r *PostgresPairCodeRepository) FindByCode(ctx context.Context, code string) (*models.PairCode, error) {
	query := `SELECT ` + pairCodeColumns + ` FROM pair_codes WHERE code = $1`
	pc, err := scanPairCode(r.db.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get pair code: %w", err)
	}
	return pc, nil
}

// DeleteStale removes codes that expired, or were used, before cutoff
func (r *PostgresPairCodeRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM pair_codes WHERE expires_at < $1 OR (used AND created_at < $1)`
	result, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale pair codes: %w", err)
	}
	return result.RowsAffected(), nil
}

func scanPairCode(row pgx.Row) (*models.PairCode, error) {
	var pc models.PairCode
	err := row.Scan(&pc.Code, &pc.OwnerUID, &pc.PairID, &pc.ExpiresAt, &pc.CreatedAt, &pc.Used)
	if err != nil {
		return nil, err
	}
	return &pc, nil
}
