package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"wishlist/migrations"
)

// PostgresStore provides record persistence in a single Postgres table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database. The schema must already exist.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgresStore connects with the pgx driver and migrates the schema.
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, unavailable("postgres open", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, unavailable("postgres ping", err)
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	return NewPostgresStore(db), nil
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

const (
	upsertRecordSQL = `INSERT INTO records (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	selectRecordSQL   = `SELECT value FROM records WHERE key = $1`
	deleteRecordSQL   = `DELETE FROM records WHERE key = $1`
	selectByPrefixSQL = `SELECT value FROM records WHERE key LIKE $1 ESCAPE '\'`
)

// Set stores a new or updated value.
func (s *PostgresStore) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if _, err := s.db.ExecContext(ctx, upsertRecordSQL, key, string(data)); err != nil {
		return unavailable("postgres upsert "+key, err)
	}
	return nil
}

// Get retrieves a value by key.
func (s *PostgresStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, selectRecordSQL, key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, unavailable("postgres select "+key, err)
	}
	return json.RawMessage(data), nil
}

// Delete removes a key.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, deleteRecordSQL, key); err != nil {
		return unavailable("postgres delete "+key, err)
	}
	return nil
}

// ListByPrefix selects every value whose key starts with prefix.
func (s *PostgresStore) ListByPrefix(ctx context.Context, prefix string) ([]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, selectByPrefixSQL, escapeLike(prefix)+"%")
	if err != nil {
		return nil, unavailable("postgres scan "+prefix, err)
	}
	defer rows.Close()

	values := []json.RawMessage{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, unavailable("postgres scan "+prefix, err)
		}
		values = append(values, json.RawMessage(data))
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("postgres scan "+prefix, err)
	}
	return values, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// escapeLike escapes the LIKE metacharacters in s using backslash.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
