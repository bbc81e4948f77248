// Package sqlite stores integrations in a SQLite database via go-sqlite3.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"calsync/internal/common/errors"
	"calsync/internal/config"
	"calsync/internal/models"
	"calsync/internal/storage"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	storage.Register("sqlite", func(cfg *config.Config, codec *storage.CredentialCodec) (storage.Store, error) {
		return NewStore(&Config{DatabasePath: cfg.DatabasePath}, codec)
	})
}

const selectColumns = `id, user_id, kind, provider, name, base_url, skip_tls_verify,
	credentials, calendar_list, is_active, created_at, updated_at`

type Store struct {
	db    *sql.DB
	codec *storage.CredentialCodec
}

// NewStore opens the database and applies the schema
func NewStore(cfg *Config, codec *storage.CredentialCodec) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid SQLite config: %v", err))
	}
	if codec == nil {
		codec = &storage.CredentialCodec{}
	}

	db, err := sql.Open("sqlite3", cfg.GetConnectionString())
	if err != nil {
		return nil, errors.InternalError("failed to open database", err)
	}

	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, errors.InternalError("failed to configure database", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.InternalError("failed to ping database", err)
	}

	s := &Store{db: db, codec: codec}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errors.InternalError("failed to migrate database", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS integrations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			provider TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			base_url TEXT NOT NULL DEFAULT '',
			skip_tls_verify INTEGER NOT NULL DEFAULT 0,
			credentials TEXT NOT NULL DEFAULT '',
			calendar_list TEXT NOT NULL DEFAULT '[]',
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_integrations_user ON integrations(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_integrations_kind_active ON integrations(kind, is_active)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.Integration, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM integrations WHERE id = ?`, id)
	in, err := s.scan(row)
	if err == sql.ErrNoRows {
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
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.ActiveOnly {
		where = append(where, "is_active = 1")
	}

	query := `SELECT ` + selectColumns + ` FROM integrations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
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

	var createdAt int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO integrations (id, user_id, kind, provider, name, base_url, skip_tls_verify,
			credentials, calendar_list, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			kind = excluded.kind,
			provider = excluded.provider,
			name = excluded.name,
			base_url = excluded.base_url,
			skip_tls_verify = excluded.skip_tls_verify,
			credentials = excluded.credentials,
			calendar_list = excluded.calendar_list,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
		RETURNING created_at`,
		in.ID, in.UserID, string(in.Kind), in.Provider, in.Name, in.BaseURL, in.SkipTLSVerify,
		creds, calendars, in.IsActive, in.CreatedAt.UnixMilli(), in.UpdatedAt.UnixMilli(),
	).Scan(&createdAt)
	if err != nil {
		return errors.InternalError("failed to save integration", err)
	}

	in.CreatedAt = time.UnixMilli(createdAt).UTC()
	return nil
}

func (s *Store) SetActive(ctx context.Context, id string, active bool) error {
	return s.exec(ctx, `UPDATE integrations SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, time.Now().UTC().UnixMilli(), id)
}

func (s *Store) UpdateCalendarList(ctx context.Context, id string, calendars []models.CalendarEntry) error {
	encoded, err := storage.EncodeCalendarList(calendars)
	if err != nil {
		return err
	}
	return s.exec(ctx, `UPDATE integrations SET calendar_list = ?, updated_at = ? WHERE id = ?`,
		encoded, time.Now().UTC().UnixMilli(), id)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.exec(ctx, `DELETE FROM integrations WHERE id = ?`, id)
}

func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// exec runs a single-row statement and maps zero affected rows to not_found
func (s *Store) exec(ctx context.Context, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.InternalError("failed to update integration", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.InternalError("failed to update integration", err)
	}
	if n == 0 {
		return errors.NotFoundError("integration")
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scan(row scanner) (*models.Integration, error) {
	var (
		in                   models.Integration
		kind, creds, cals    string
		createdAt, updatedAt int64
	)
	err := row.Scan(&in.ID, &in.UserID, &kind, &in.Provider, &in.Name, &in.BaseURL, &in.SkipTLSVerify,
		&creds, &cals, &in.IsActive, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.InternalError("failed to scan integration", err)
	}

	in.Kind = models.Kind(kind)
	in.CreatedAt = time.UnixMilli(createdAt).UTC()
	in.UpdatedAt = time.UnixMilli(updatedAt).UTC()

	if in.Credentials, err = s.codec.Open(creds); err != nil {
		return nil, err
	}
	if in.CalendarList, err = storage.DecodeCalendarList(cals); err != nil {
		return nil, err
	}
	return &in, nil
}
