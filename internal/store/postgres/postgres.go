package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"stockroom/backend/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Store keeps each collection as one JSONB row guarded by a revision column.
type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Read(ctx context.Context, name store.Collection) (store.Document, error) {
	var (
		body     []byte
		revision int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT body::text, revision FROM collections WHERE name = $1
	`, string(name)).Scan(&body, &revision)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, nil
	}
	if err != nil {
		return store.Document{}, err
	}
	return store.Document{Body: body, Revision: revision}, nil
}

func (s *Store) Write(ctx context.Context, name store.Collection, body []byte, expected int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	next, err := put(ctx, tx, store.Write{Collection: name, Body: body, Expected: expected})
	if err != nil {
		return 0, classify(name, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, classify(name, err)
	}
	return next, nil
}

func (s *Store) Commit(ctx context.Context, writes ...store.Write) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, w := range writes {
		if _, err := put(ctx, tx, w); err != nil {
			return classify(w.Collection, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return classify("", err)
	}
	return nil
}

func put(ctx context.Context, tx *sql.Tx, w store.Write) (int64, error) {
	var current int64
	err := tx.QueryRowContext(ctx, `
		SELECT revision FROM collections WHERE name = $1 FOR UPDATE
	`, string(w.Collection)).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	if err := store.CheckRevision(w.Collection, w.Expected, current); err != nil {
		return 0, err
	}
	next := current + 1
	_, err = tx.ExecContext(ctx, `
		INSERT INTO collections (name, body, revision, updated_at)
		VALUES ($1, $2::jsonb, $3, now())
		ON CONFLICT (name)
		DO UPDATE SET body = EXCLUDED.body, revision = EXCLUDED.revision, updated_at = now()
	`, string(w.Collection), string(w.Body), next)
	if err != nil {
		return 0, err
	}
	return next, nil
}

// classify maps serialization failures and racing first inserts to a revision
// conflict so callers can retry.
func classify(name store.Collection, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "23505") {
		return &store.ConflictError{Collection: name, Expected: store.AnyRevision, Current: -1}
	}
	return err
}
