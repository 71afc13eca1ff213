// Package store owns the connection pool and every SQL statement issued
// against the jobs table. Claims are a single atomic statement built around
// FOR UPDATE SKIP LOCKED so concurrent claimers never block each other and
// never receive the same row. No business logic lives here.
package store

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/jobrelay/jobrelay/errors"
	"github.com/jobrelay/jobrelay/migrations"
)

// DefaultSchema is the Postgres schema used when none is configured.
const DefaultSchema = "jobrelay"

// migrationsTable tracks applied migrations inside the queue's schema, so
// multiple queue instances with distinct schemas migrate independently.
const migrationsTable = "schema_migrations"

// psql builds statements with Postgres $n placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// identRe restricts schema names to plain lowercase identifiers. The schema
// name is interpolated into DDL and the pool search_path, so anything
// fancier is rejected at construction time.
var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Options configures a Store.
type Options struct {
	// ConnString is a libpq-style URL or DSN for the Postgres instance.
	ConnString string
	// Schema is the namespace holding the jobs table. Defaults to
	// DefaultSchema.
	Schema string
	// MaxConns caps the pool size. Zero keeps the pgxpool default.
	MaxConns int32
}

// Store implements core.Store on top of a pgx connection pool.
type Store struct {
	opts Options

	mu   sync.Mutex
	pool *pgxpool.Pool
}

// New validates opts and returns an unstarted Store. No connection is made
// until Start.
func New(opts Options) (*Store, error) {
	if opts.Schema == "" {
		opts.Schema = DefaultSchema
	}
	if !identRe.MatchString(opts.Schema) {
		return nil, fmt.Errorf("schema name %q is not a plain lowercase identifier", opts.Schema)
	}
	if opts.ConnString == "" {
		return nil, fmt.Errorf("connection string is required")
	}
	return &Store{opts: opts}, nil
}

// Schema returns the configured schema name.
func (s *Store) Schema() string { return s.opts.Schema }

// Start acquires the connection pool. The pool's search_path is pinned to
// the configured schema so every statement resolves unqualified names
// inside it. Connection failures surface on the first operation, not here.
func (s *Store) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil {
		return nil
	}

	cfg, err := pgxpool.ParseConfig(s.opts.ConnString)
	if err != nil {
		return errors.NewStoreError("start", err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = s.opts.Schema
	if s.opts.MaxConns > 0 {
		cfg.MaxConns = s.opts.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return errors.NewStoreError("start", err)
	}
	s.pool = pool
	return nil
}

// Stop releases the pool. Safe to call when never started, and idempotent.
func (s *Store) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
}

// Ping verifies connectivity. Used at startup when migration is skipped.
func (s *Store) Ping(ctx context.Context) error {
	pool, err := s.db()
	if err != nil {
		return err
	}
	if err := pool.Ping(ctx); err != nil {
		return errors.NewStoreError("ping", err)
	}
	return nil
}

// Migrate idempotently creates the schema, the jobs table, and its indexes.
// Each migration file runs in its own transaction and rolls back on
// failure, so a failed migration never leaves a partial schema behind.
func (s *Store) Migrate(ctx context.Context) error {
	pool, err := s.db()
	if err != nil {
		return err
	}

	// The schema itself cannot live in a migration file: migrations resolve
	// through search_path, which points at this schema.
	if _, err := pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+s.opts.Schema); err != nil {
		return errors.NewStoreError("migrate", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	driver, err := migratepg.WithInstance(db, &migratepg.Config{
		SchemaName:      s.opts.Schema,
		MigrationsTable: migrationsTable,
	})
	if err != nil {
		return errors.NewStoreError("migrate", err)
	}

	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return errors.NewStoreError("migrate", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return errors.NewStoreError("migrate", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return errors.NewStoreError("migrate", err)
	}
	return nil
}

// db returns the live pool or ErrNotConnected when Start has not run.
func (s *Store) db() (*pgxpool.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool == nil {
		return nil, errors.NewStoreError("acquire", errors.ErrNotConnected)
	}
	return s.pool, nil
}
