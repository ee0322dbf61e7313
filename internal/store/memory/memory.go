package memory

import (
	"context"
	"slices"
	"sync"

	"stockroom/backend/internal/store"
)

type entry struct {
	body     []byte
	revision int64
}

// Store keeps every collection in process memory. Commit is atomic.
type Store struct {
	mu          sync.RWMutex
	collections map[store.Collection]entry
}

func New() *Store {
	return &Store{collections: make(map[store.Collection]entry)}
}

// Seed replaces a collection body without revision checks. Tests use it to
// load fixtures, including malformed ones.
func (s *Store) Seed(name store.Collection, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.collections[name]
	s.collections[name] = entry{body: slices.Clone(body), revision: current.revision + 1}
}

func (s *Store) Read(_ context.Context, name store.Collection) (store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e := s.collections[name]
	return store.Document{Body: slices.Clone(e.body), Revision: e.revision}, nil
}

func (s *Store) Write(_ context.Context, name store.Collection, body []byte, expected int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.collections[name]
	if err := store.CheckRevision(name, expected, current.revision); err != nil {
		return 0, err
	}
	next := entry{body: slices.Clone(body), revision: current.revision + 1}
	s.collections[name] = next
	return next.revision, nil
}

func (s *Store) Commit(_ context.Context, writes ...store.Write) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// same collection may appear twice; later writes see the earlier bump
	revisions := make(map[store.Collection]int64, len(writes))
	for _, w := range writes {
		current, seen := revisions[w.Collection]
		if !seen {
			current = s.collections[w.Collection].revision
		}
		if err := store.CheckRevision(w.Collection, w.Expected, current); err != nil {
			return err
		}
		revisions[w.Collection] = current + 1
	}
	for _, w := range writes {
		current := s.collections[w.Collection]
		s.collections[w.Collection] = entry{body: slices.Clone(w.Body), revision: current.revision + 1}
	}
	return nil
}

func (s *Store) Close() error {
	return nil
}
