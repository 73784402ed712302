// Package memory provides an in-memory SessionStore for tests and
// single-process runs without a database file.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/crowdthink/brainstorm/internal/domain"
	"github.com/crowdthink/brainstorm/internal/storage"
)

// Store is an in-memory implementation of SessionStore.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

var _ storage.SessionStore = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	return &Store{sessions: make(map[string]*domain.Session)}
}

func (s *Store) Create(_ context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess.Version = 1
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	sess.UpdatedAt = sess.CreatedAt
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *Store) Get(_ context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound(id)
	}
	return sess.Clone(), nil
}

func (s *Store) Save(_ context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[sess.ID]
	if !ok {
		return domain.ErrSessionNotFound(sess.ID)
	}
	if stored.Version != sess.Version {
		return storage.ErrVersionConflict
	}

	sess.Version++
	sess.UpdatedAt = time.Now().UTC()
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *Store) List(_ context.Context, opts storage.ListOptions) ([]*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Session
	for _, sess := range s.sessions {
		if opts.Principal != "" && sess.Principal != opts.Principal {
			continue
		}
		out = append(out, sess.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return domain.ErrSessionNotFound(id)
	}
	delete(s.sessions, id)
	return nil
}

func (s *Store) Close() error { return nil }
