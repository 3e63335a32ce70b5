package requestlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fsgateway/internal/common/database"
)

// PostgresStore implements Store with PostgreSQL. A partial unique
// index on (service, data->>'document_id') WHERE status = 'Queued'
// guards against two concurrent runs queueing the same document.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL integration-request store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Create inserts a new integration request.
func (s *PostgresStore) Create(ctx context.Context, entry *Entry) error {
	query := `
		INSERT INTO integration_requests (id, service, status, data, error_code, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.pool.Exec(ctx, query,
		entry.ID,
		entry.Service,
		entry.Status,
		[]byte(entry.Data),
		nullableString(entry.ErrorCode),
		entry.CreatedAt,
		entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert integration request: %w", err)
	}

	return nil
}

// Get retrieves an integration request by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Entry, error) {
	query := `
		SELECT id, service, status, data, error_code, created_at, updated_at
		FROM integration_requests
		WHERE id = $1
	`

	row := s.pool.QueryRow(ctx, query, id)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("integration request %s: %w", id, database.ErrNotFound)
		}
		return nil, err
	}
	return entry, nil
}

// ListQueued returns all Queued entries for a service. No ORDER BY: the
// lookup contract is explicitly store-order, first match wins.
func (s *PostgresStore) ListQueued(ctx context.Context, service string) ([]*Entry, error) {
	query := `
		SELECT id, service, status, data, error_code, created_at, updated_at
		FROM integration_requests
		WHERE service = $1 AND status = $2
	`

	rows, err := s.pool.Query(ctx, query, service, StatusQueued)
	if err != nil {
		return nil, fmt.Errorf("query queued integration requests: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan integration request row: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// SetStatus durably commits a status transition. Only Queued entries
// may transition; Completed and Failed are terminal.
func (s *PostgresStore) SetStatus(ctx context.Context, id string, status Status, errorCode string) error {
	query := `
		UPDATE integration_requests
		SET status = $2, error_code = $3, updated_at = $4
		WHERE id = $1 AND status = $5
	`

	result, err := s.pool.Exec(ctx, query, id, status, nullableString(errorCode), time.Now().UTC(), StatusQueued)
	if err != nil {
		return fmt.Errorf("update integration request status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("integration request %s is not queued: %w", id, database.ErrNotFound)
	}

	return nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var entry Entry
	var errorCode *string

	err := row.Scan(
		&entry.ID,
		&entry.Service,
		&entry.Status,
		&entry.Data,
		&errorCode,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if errorCode != nil {
		entry.ErrorCode = *errorCode
	}

	return &entry, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
