// Package postgres implements kvstore.Store on a single PostgreSQL table,
// giving the engine a durable backend for the flat KV abstraction
// (spec §4.6 delegates durability entirely to the chosen backend).
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentmesh/didcomm-engine/kvstore"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// Store is a pgxpool-backed kvstore.Store over a single (key, value) table.
type Store struct {
	pool *pgxpool.Pool
}

// schema is applied by New; callers that manage their own migrations can
// create the table ahead of time with the same shape.
const schema = `
CREATE TABLE IF NOT EXISTS engine_kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

// New creates a connection pool, ensures the backing table exists, and
// returns a ready-to-use Store.
func New(ctx context.Context, cfg *Config) (*Store, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)
	return newFromConnString(ctx, connString)
}

// NewFromDSN is New for callers that already have a libpq/pgx connection
// string or URL (the shape config.KVStoreConfig.DSN carries), rather than
// the discrete Config fields.
func NewFromDSN(ctx context.Context, dsn string) (*Store, error) {
	return newFromConnString(ctx, dsn)
}

func newFromConnString(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("kvstore/postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("kvstore/postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("kvstore/postgres: ensure schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Write(ctx context.Context, key, value string) error {
	const query = `
		INSERT INTO engine_kv (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`
	if _, err := s.pool.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("kvstore/postgres: write %q: %w", key, err)
	}
	return nil
}

func (s *Store) Read(ctx context.Context, key string) (string, error) {
	const query = `SELECT value FROM engine_kv WHERE key = $1`

	var value string
	err := s.pool.QueryRow(ctx, query, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", kvstore.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("kvstore/postgres: read %q: %w", key, err)
	}
	return value, nil
}

func (s *Store) SearchByPrefix(ctx context.Context, prefix string) ([]string, error) {
	const query = `SELECT value FROM engine_kv WHERE key LIKE $1 ORDER BY key`

	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	rows, err := s.pool.Query(ctx, query, escaped+"%")
	if err != nil {
		return nil, fmt.Errorf("kvstore/postgres: search prefix %q: %w", prefix, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("kvstore/postgres: scan prefix %q: %w", prefix, err)
		}
		values = append(values, value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("kvstore/postgres: iterate prefix %q: %w", prefix, err)
	}
	return values, nil
}
