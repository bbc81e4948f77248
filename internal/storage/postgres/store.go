// Package postgres stores integrations in PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"calsync/internal/common/errors"
	"calsync/internal/config"
	"calsync/internal/models"
	"calsync/internal/storage"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func init() {
	storage.Register("postgres", func(cfg *config.Config, codec *storage.CredentialCodec) (storage.Store, error) {
		return NewStore(context.Background(), &Config{URL: cfg.DatabaseURL}, codec)
	})
}

const schema = `
CREATE TABLE IF NOT EXISTS integrations (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	provider TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	base_url TEXT NOT NULL DEFAULT '',
	skip_tls_verify BOOLEAN NOT NULL DEFAULT false,
	credentials TEXT NOT NULL DEFAULT '',
	calendar_list JSONB NOT NULL DEFAULT '[]'::jsonb,
	is_active BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_integrations_user ON integrations(user_id);
CREATE INDEX IF NOT EXISTS idx_integrations_kind_active ON integrations(kind, is_active);
`

const selectColumns = `id, user_id, kind, provider, name, base_url, skip_tls_verify,
	credentials, calendar_list::text, is_active, created_at, updated_at`

type Store struct {
	pool  *pgxpool.Pool
	codec *storage.CredentialCodec
}

// NewStore connects, pings and applies the schema
func NewStore(ctx context.Context, cfg *Config, codec *storage.CredentialCodec) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid PostgreSQL config: %v", err))
	}
	if codec == nil {
		codec = &storage.CredentialCodec{}
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("parse PostgreSQL URL: %v", err))
	}
	poolCfg.MaxConns = cfg.MaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.NetworkError("failed to connect to PostgreSQL", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, errors.NetworkError("failed to ping PostgreSQL", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, errors.InternalError("failed to migrate database", err)
	}

	return &Store{pool: pool, codec: codec}, nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.Integration, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM integrations WHERE id = $1`, id)
	in, err := s.scan(row)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFoundError("integration")
	}
	return in, err
}

func (s *Store) List(ctx context.Context, filter storage.Filter) ([]*models.Integration, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	if filter.ActiveOnly {
		where = append(where, "is_active")
	}

	query := `SELECT ` + selectColumns + ` FROM integrations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.InternalError("failed to list integrations", err)
	}
	defer rows.Close()

	var out []*models.Integration
	for rows.Next() {
		in, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.InternalError("failed to list integrations", err)
	}
	return out, nil
}

func (s *Store) Save(ctx context.Context, in *models.Integration) error {
	creds, err := s.codec.Seal(in.Credentials)
	if err != nil {
		return err
	}
	calendars, err := storage.EncodeCalendarList(in.CalendarList)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = now
	}
	in.UpdatedAt = now

	err = s.pool.QueryRow(ctx, `
		INSERT INTO integrations (id, user_id, kind, provider, name, base_url, skip_tls_verify,
			credentials, calendar_list, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			kind = EXCLUDED.kind,
			provider = EXCLUDED.provider,
			name = EXCLUDED.name,
			base_url = EXCLUDED.base_url,
			skip_tls_verify = EXCLUDED.skip_tls_verify,
			credentials = EXCLUDED.credentials,
			calendar_list = EXCLUDED.calendar_list,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at`,
		in.ID, in.UserID, string(in.Kind), in.Provider, in.Name, in.BaseURL, in.SkipTLSVerify,
		creds, calendars, in.IsActive, in.CreatedAt, in.UpdatedAt,
	).Scan(&in.CreatedAt)
	if err != nil {
		return errors.InternalError("failed to save integration", err)
	}
	return nil
}

func (s *Store) SetActive(ctx context.Context, id string, active bool) error {
	return s.exec(ctx, `UPDATE integrations SET is_active = $2, updated_at = now() WHERE id = $1`, id, active)
}

func (s *Store) UpdateCalendarList(ctx context.Context, id string, calendars []models.CalendarEntry) error {
	encoded, err := storage.EncodeCalendarList(calendars)
	if err != nil {
		return err
	}
	return s.exec(ctx, `UPDATE integrations SET calendar_list = $2::jsonb, updated_at = now() WHERE id = $1`, id, encoded)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.exec(ctx, `DELETE FROM integrations WHERE id = $1`, id)
}

func (s *Store) Health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) exec(ctx context.Context, query string, args ...interface{}) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return errors.InternalError("failed to update integration", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFoundError("integration")
	}
	return nil
}

func (s *Store) scan(row pgx.Row) (*models.Integration, error) {
	var (
		in                models.Integration
		kind, creds, cals string
	)
	err := row.Scan(&in.ID, &in.UserID, &kind, &in.Provider, &in.Name, &in.BaseURL, &in.SkipTLSVerify,
		&creds, &cals, &in.IsActive, &in.CreatedAt, &in.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.InternalError("failed to scan integration", err)
	}

	in.Kind = models.Kind(kind)
	if in.Credentials, err = s.codec.Open(creds); err != nil {
		return nil, err
	}
	if in.CalendarList, err = storage.DecodeCalendarList(cals); err != nil {
		return nil, err
	}
	return &in, nil
}
