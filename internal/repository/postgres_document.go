package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"couple-sync-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const documentColumns = `id, pair_id, created_by, created_at, updated_at, data`

// PostgresDocumentStore keeps every shared collection in one JSONB table
type PostgresDocumentStore struct {
	db   *pgxpool.Pool
	feed *ChangeFeed
}

// NewPostgresDocumentStore creates a document store. feed may be nil, in
// which case Subscribe is unavailable.
func NewPostgresDocumentStore(db *pgxpool.Pool, feed *ChangeFeed) *PostgresDocumentStore {
	return &PostgresDocumentStore{db: db, feed: feed}
}

// Create inserts a new document
func (r *PostgresDocumentStore) Create(ctx context.Context, collection string, doc *Document) error {
	query := `
		INSERT INTO shared_documents (collection, id, pair_id, created_by, created_at, updated_at, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query,
		collection, doc.ID, doc.PairID, doc.CreatedBy, doc.CreatedAt, doc.UpdatedAt, []byte(doc.Data),
	)
	if err != nil {
		return fmt.Errorf("failed to create %s document: %w", collection, err)
	}
	return nil
}

// Get retrieves a document by ID
func (r *PostgresDocumentStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM shared_documents WHERE collection = $1 AND id = $2`
	doc, err := scanDocument(r.db.QueryRow(ctx, query, collection, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get %s document: %w", collection, err)
	}
	return doc, nil
}

// Update replaces the domain fields of a document
func (r *PostgresDocumentStore) Update(ctx context.Context, collection, id string, data json.RawMessage, updatedAt time.Time) error {
	query := `UPDATE shared_documents SET data = $3, updated_at = $4 WHERE collection = $1 AND id = $2`
	result, err := r.db.Exec(ctx, query, collection, id, []byte(data), updatedAt)
	if err != nil {
		return fmt.Errorf("failed to update %s document: %w", collection, err)
	}
	if result.RowsAffected() == 0 {
		return models.NewNotFoundError(collection, id)
	}
	return nil
}

// Delete removes a document
func (r *PostgresDocumentStore) Delete(ctx context.Context, collection, id string) error {
	query := `DELETE FROM shared_documents WHERE collection = $1 AND id = $2`
	if _, err := r.db.Exec(ctx, query, collection, id); err != nil {
		return fmt.Errorf("failed to delete %s document: %w", collection, err)
	}
	return nil
}

// Query lists a pair's documents, newest first
func (r *PostgresDocumentStore) Query(ctx context.Context, collection string, q Query) ([]*Document, error) {
	query := `
		SELECT ` + documentColumns + `
		FROM shared_documents
		WHERE collection = $1 AND pair_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`
	limit := q.Limit
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.db.Query(ctx, query, collection, q.PairID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s documents: %w", collection, err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s document: %w", collection, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s documents: %w", collection, err)
	}

	return docs, nil
}

// Subscribe registers q with the change feed
func (r *PostgresDocumentStore) Subscribe(ctx context.Context, collection string, q Query, onChange func([]*Document), onError func(error)) (Unsubscribe, error) {
	if r.feed == nil {
		return nil, errors.New("change feed is not configured")
	}
	fetch := func(ctx context.Context) ([]*Document, error) {
		return r.Query(ctx, collection, q)
	}
	return r.feed.Subscribe(ctx, collection, q.PairID, fetch, onChange, onError), nil
}

func scanDocument(row pgx.Row) (*Document, error) {
	var doc Document
	var data []byte
	err := row.Scan(&doc.ID, &doc.PairID, &doc.CreatedBy, &doc.CreatedAt, &doc.UpdatedAt, &data)
	if err != nil {
		return nil, err
	}
	doc.Data = data
	return &doc, nil
}
