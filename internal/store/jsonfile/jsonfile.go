// Package jsonfile stores each collection as a pretty-printed <name>.json file
// in a data directory.
package jsonfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"stockroom/backend/internal/store"
)

// Store writes with temp-file-and-rename so a reader never sees a half written
// file. Revisions live in process memory; a file present on startup begins at
// revision 1.
//
// Commit is sequential: a crash between two files leaves the earlier ones
// written.
type Store struct {
	dir       string
	mu        sync.RWMutex
	revisions map[store.Collection]int64
}

func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: data dir is required", store.ErrValidation)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{dir: dir, revisions: make(map[store.Collection]int64)}, nil
}

func (s *Store) path(name store.Collection) string {
	return filepath.Join(s.dir, string(name)+".json")
}

func (s *Store) Read(_ context.Context, name store.Collection) (store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	body, err := os.ReadFile(s.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return store.Document{Revision: s.revisions[name]}, nil
		}
		return store.Document{}, err
	}
	return store.Document{Body: body, Revision: s.revisionLocked(name)}, nil
}

func (s *Store) Write(_ context.Context, name store.Collection, body []byte, expected int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.revisionLocked(name)
	if err := store.CheckRevision(name, expected, current); err != nil {
		return 0, err
	}
	if err := s.replace(name, body); err != nil {
		return 0, err
	}
	s.revisions[name] = current + 1
	return current + 1, nil
}

func (s *Store) Commit(_ context.Context, writes ...store.Write) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make(map[store.Collection]int64, len(writes))
	for _, w := range writes {
		current, seen := pending[w.Collection]
		if !seen {
			current = s.revisionLocked(w.Collection)
		}
		if err := store.CheckRevision(w.Collection, w.Expected, current); err != nil {
			return err
		}
		pending[w.Collection] = current + 1
	}
	for _, w := range writes {
		if err := s.replace(w.Collection, w.Body); err != nil {
			return err
		}
		s.revisions[w.Collection] = s.revisionLocked(w.Collection) + 1
	}
	return nil
}

func (s *Store) Close() error {
	return nil
}

// revisionLocked lazily seeds revision 1 for files written by an earlier process.
func (s *Store) revisionLocked(name store.Collection) int64 {
	if rev, ok := s.revisions[name]; ok {
		return rev
	}
	if _, err := os.Stat(s.path(name)); err == nil {
		s.revisions[name] = 1
		return 1
	}
	return 0
}

func (s *Store) replace(name store.Collection, body []byte) error {
	target := s.path(name)
	tmp, err := os.CreateTemp(s.dir, "."+string(name)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
