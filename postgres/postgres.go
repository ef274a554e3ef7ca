// Package postgres stores conversation events in PostgreSQL.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver for database/sql (needed by goose)
	"github.com/pressly/goose/v3"

	"github.com/fwojciec/relay"
	"github.com/fwojciec/relay/json"
)

//go:embed migrations/*.sql
var migrations embed.FS

// uniqueViolation is the SQLSTATE for unique constraint violations.
const uniqueViolation = "23505"

// NewPool creates a connection pool for dsn and verifies it with a ping.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// RunMigrations applies all pending goose migrations from the embedded SQL files.
func RunMigrations(ctx context.Context, dsn string) error {
	goose.SetBaseFS(migrations)

	db, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		return fmt.Errorf("postgres: open db for migrations: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("postgres: set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("postgres: run migrations: %w", err)
	}
	return nil
}

// MigrationVersion returns the current migration version.
func MigrationVersion(ctx context.Context, dsn string) (int64, error) {
	goose.SetBaseFS(migrations)

	db, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		return 0, fmt.Errorf("postgres: open db for version: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := goose.SetDialect("postgres"); err != nil {
		return 0, fmt.Errorf("postgres: set dialect: %w", err)
	}
	version, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("postgres: get version: %w", err)
	}
	return version, nil
}

// Interface compliance check.
var _ relay.Store = (*Store)(nil)

// Store implements relay.Store on the events table. Keys are compared
// bytewise (COLLATE "C"), matching fractional key order.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore returns a Store backed by pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// AppendEvents inserts events in one transaction. A key or ID already
// stored fails the whole batch with relay.ErrValidation.
func (s *Store) AppendEvents(ctx context.Context, conversationID string, events []relay.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, e := range events {
		if e.OrderKey == "" {
			return fmt.Errorf("postgres: event %s has no order key: %w", e.ID, relay.ErrValidation)
		}
		segments, err := json.MarshalSegments(e.Segments)
		if err != nil {
			return fmt.Errorf("postgres: event %s: %w", e.ID, err)
		}
		var md []byte
		if e.ResponseMetadata != nil {
			if md, err = json.MarshalMetadata(e.ResponseMetadata); err != nil {
				return fmt.Errorf("postgres: event %s: %w", e.ID, err)
			}
		}
		batch.Queue(
			`INSERT INTO events (conversation_id, order_key, id, role, segments, response_metadata, ts)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			conversationID, e.OrderKey, e.ID, string(e.Role), []byte(segments), md, e.TS,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("postgres: duplicate event in %s: %w", conversationID, relay.ErrValidation)
		}
		return fmt.Errorf("postgres: append events: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// LoadOrdered returns the events of a conversation in ascending key order.
func (s *Store) LoadOrdered(ctx context.Context, conversationID string) ([]relay.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, role, segments, response_metadata, ts, order_key
		 FROM events WHERE conversation_id = $1 ORDER BY order_key ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("postgres: load %s: %w", conversationID, err)
	}
	defer rows.Close()

	var events []relay.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanEvent(row pgx.Row) (relay.Event, error) {
	var (
		e        relay.Event
		role     string
		segments []byte
		md       []byte
	)
	if err := row.Scan(&e.ID, &role, &segments, &md, &e.TS, &e.OrderKey); err != nil {
		return relay.Event{}, fmt.Errorf("postgres: scan event: %w", err)
	}
	e.Role = relay.Role(role)
	segs, err := json.UnmarshalSegments(segments)
	if err != nil {
		return relay.Event{}, fmt.Errorf("postgres: event %s: %w", e.ID, err)
	}
	e.Segments = segs
	if len(md) > 0 {
		if e.ResponseMetadata, err = json.UnmarshalMetadata(md); err != nil {
			return relay.Event{}, fmt.Errorf("postgres: event %s: %w", e.ID, err)
		}
	}
	e.TS = e.TS.UTC()
	return e, nil
}
