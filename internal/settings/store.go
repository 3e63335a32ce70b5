package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fsgateway/internal/common/database"
	"fsgateway/internal/fsapi"
)

// PostgresStore persists the settings singleton in a single-row table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL settings store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Get loads the settings row.
func (s *PostgresStore) Get(ctx context.Context) (*Settings, error) {
	query := `
		SELECT fs_user, fs_secret, use_staging, house_account, token_format,
		       login_status, last_login_at, updated_at
		FROM gateway_settings
		WHERE id = 1
	`

	var st Settings
	var loginStatus *string
	var tokenFormat string
	err := s.pool.QueryRow(ctx, query).Scan(
		&st.User,
		&st.Secret,
		&st.UseStaging,
		&st.HouseAccount,
		&tokenFormat,
		&loginStatus,
		&st.LastLoginAt,
		&st.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("gateway settings: %w", database.ErrNotFound)
		}
		return nil, fmt.Errorf("load gateway settings: %w", err)
	}

	st.TokenFormat = fsapi.TokenFormat(tokenFormat)
	if loginStatus != nil {
		st.LoginStatus = *loginStatus
	}

	return &st, nil
}

// Save upserts the settings row.
func (s *PostgresStore) Save(ctx context.Context, st *Settings) error {
	st.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO gateway_settings (id, fs_user, fs_secret, use_staging, house_account, token_format, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			fs_user = EXCLUDED.fs_user,
			fs_secret = EXCLUDED.fs_secret,
			use_staging = EXCLUDED.use_staging,
			house_account = EXCLUDED.house_account,
			token_format = EXCLUDED.token_format,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.pool.Exec(ctx, query,
		st.User,
		st.Secret,
		st.UseStaging,
		st.HouseAccount,
		string(st.TokenFormat),
		st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save gateway settings: %w", err)
	}

	return nil
}

// RecordLogin stores the latest login result on the settings row. The
// last-login timestamp only advances on a successful login.
func (s *PostgresStore) RecordLogin(ctx context.Context, status string, at time.Time) error {
	query := `
		UPDATE gateway_settings
		SET login_status = $1,
		    last_login_at = CASE WHEN $1 = 'OK' THEN $2 ELSE last_login_at END
		WHERE id = 1
	`

	result, err := s.pool.Exec(ctx, query, status, at)
	if err != nil {
		return fmt.Errorf("record login status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("gateway settings: %w", database.ErrNotFound)
	}

	return nil
}
