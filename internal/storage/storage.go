// Package storage defines the durable transcript contract the engine writes
// through. Implementations must make a session's transcript survive restarts;
// a terminal stream event is only published after the store write succeeds.
package storage

import (
	"context"
	"errors"

	"github.com/crowdthink/brainstorm/internal/domain"
)

// ErrVersionConflict reports that a Save lost an optimistic-concurrency race:
// the stored session carries a newer version than the one being written.
var ErrVersionConflict = errors.New("session version conflict")

// ListOptions filters and pages ListSessions.
type ListOptions struct {
	// Principal limits results to one owner; empty matches all.
	Principal string
	Limit     int
	Offset    int
}

// SessionStore persists sessions and their transcripts.
//
// Create assigns version 1. Save compares the caller's version against the
// stored one and increments it on success; a mismatch returns
// ErrVersionConflict and leaves the stored session untouched. Get and Delete
// return a session_not_found engine error for unknown IDs.
type SessionStore interface {
	Create(ctx context.Context, sess *domain.Session) error
	Get(ctx context.Context, id string) (*domain.Session, error)
	Save(ctx context.Context, sess *domain.Session) error
	List(ctx context.Context, opts ListOptions) ([]*domain.Session, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

const appendRetries = 3

// AppendEntry atomically applies mutate to the stored session: load, mutate,
// versioned save, retried on a lost race. Mutation errors pass through
// unwrapped so state-machine rejections keep their kind.
func AppendEntry(ctx context.Context, store SessionStore, id string, mutate func(*domain.Session) error) (*domain.Session, error) {
	var err error
	for attempt := 0; attempt < appendRetries; attempt++ {
		var sess *domain.Session
		sess, err = store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err = mutate(sess); err != nil {
			return nil, err
		}
		err = store.Save(ctx, sess)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
	}
	return nil, err
}
