package repository

import (
	"context"
	"errors"
	"fmt"

	"couple-sync-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const notificationColumns = `id, type, title, body, sender_uid, recipient_uid, read, created_at, data`

// PostgresNotificationRepository handles database operations for app notifications
type PostgresNotificationRepository struct {
	db *pgxpool.Pool
}

// NewPostgresNotificationRepository creates a new notification repository
func NewPostgresNotificationRepository(db *pgxpool.Pool) *PostgresNotificationRepository {
	return &PostgresNotificationRepository{db: db}
}

// Create stores a notification
func (r *PostgresNotificationRepository) Create(ctx context.Context, n *models.AppNotification) error {
	query := `
		INSERT INTO notifications (id, type, title, body, sender_uid, recipient_uid, read, created_at, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	data := n.Data
	if data == nil {
		data = map[string]any{}
	}
	_, err := r.db.Exec(ctx, query,
		n.ID, n.Type, n.Title, n.Body, n.SenderUID, n.RecipientUID, n.Read, n.CreatedAt, data,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// FindByID retrieves a notification
func (r *PostgresNotificationRepository) FindByID(ctx context.Context, id string) (*models.AppNotification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`
	n, err := scanNotification(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return n, nil
}

// ListByRecipient returns the recipient's notifications, newest first
func (r *PostgresNotificationRepository) ListByRecipient(ctx context.Context, uid string, limit int) ([]*models.AppNotification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE recipient_uid = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, uid, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []*models.AppNotification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}
	return out, nil
}

// MarkRead marks one notification read
func (r *PostgresNotificationRepository) MarkRead(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	return nil
}

// MarkAllRead marks every unread notification of the recipient read
func (r *PostgresNotificationRepository) MarkAllRead(ctx context.Context, uid string) (int64, error) {
	result, err := r.db.Exec(ctx, `UPDATE notifications SET read = TRUE WHERE recipient_uid = $1 AND NOT read`, uid)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return result.RowsAffected(), nil
}

// Delete removes one notification
func (r *PostgresNotificationRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM notifications WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}
	return nil
}

// DeleteByRecipient removes every notification of the recipient
func (r *PostgresNotificationRepository) DeleteByRecipient(ctx context.Context, uid string) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM notifications WHERE recipient_uid = $1`, uid)
	if err != nil {
		return 0, fmt.Errorf("failed to delete notifications: %w", err)
	}
	return result.RowsAffected(), nil
}

func scanNotification(row pgx.Row) (*models.AppNotification, error) {
	var n models.AppNotification
	err := row.Scan(&n.ID, &n.Type, &n.Title, &n.Body, &n.SenderUID, &n.RecipientUID, &n.Read, &n.CreatedAt, &n.Data)
	if err != nil {
		return nil, err
	}
	return &n, nil
}
