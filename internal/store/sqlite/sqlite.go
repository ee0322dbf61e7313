package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"stockroom/backend/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Store keeps each collection as one row. Commit runs in a single transaction.
type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; avoids SQLITE_BUSY between pooled connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Read(ctx context.Context, name store.Collection) (store.Document, error) {
	var (
		body     string
		revision int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT body, revision FROM collections WHERE name = ?`, string(name)).Scan(&body, &revision)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, nil
	}
	if err != nil {
		return store.Document{}, err
	}
	return store.Document{Body: []byte(body), Revision: revision}, nil
}

func (s *Store) Write(ctx context.Context, name store.Collection, body []byte, expected int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	next, err := put(ctx, tx, store.Write{Collection: name, Body: body, Expected: expected})
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Store) Commit(ctx context.Context, writes ...store.Write) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, w := range writes {
		if _, err := put(ctx, tx, w); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func put(ctx context.Context, tx *sql.Tx, w store.Write) (int64, error) {
	var current int64
	err := tx.QueryRowContext(ctx, `SELECT revision FROM collections WHERE name = ?`, string(w.Collection)).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	if err := store.CheckRevision(w.Collection, w.Expected, current); err != nil {
		return 0, err
	}
	next := current + 1
	_, err = tx.ExecContext(ctx, `
		INSERT INTO collections (name, body, revision, updated_at)
		VALUES (?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		ON CONFLICT (name) DO UPDATE SET
			body = excluded.body,
			revision = excluded.revision,
			updated_at = excluded.updated_at
	`, string(w.Collection), string(w.Body), next)
	if err != nil {
		return 0, err
	}
	return next, nil
}
