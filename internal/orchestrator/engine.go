// Package orchestrator drives brainstorm rounds: it owns the per-session
// exclusive lock, invokes provider adapters sequentially in participant
// order, and commits results through the session state machine. At most one
// round is ever in flight per session; rounds across sessions run freely in
// parallel.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/crowdthink/brainstorm/internal/domain"
	"github.com/crowdthink/brainstorm/internal/provider"
	"github.com/crowdthink/brainstorm/internal/session"
	"github.com/crowdthink/brainstorm/internal/storage"
	"github.com/crowdthink/brainstorm/internal/tokens"
)

const (
	defaultCallTimeout   = 2 * time.Minute
	defaultHistoryBudget = 8000
)

// Option configures the engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithCallTimeout sets the per-adapter-call deadline.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) { e.callTimeout = d }
}

// WithHistoryBudget caps the token count of the rendered transcript passed to
// an adapter. Zero disables truncation.
func WithHistoryBudget(budget int) Option {
	return func(e *Engine) { e.budgeter = tokens.NewBudgeter(budget) }
}

// Engine coordinates sessions, providers, storage, and the stream hub.
type Engine struct {
	store     storage.SessionStore
	providers *provider.Registry
	publisher domain.Publisher
	budgeter  *tokens.Budgeter
	tracer    trace.Tracer
	logger    *slog.Logger

	callTimeout time.Duration

	mu     sync.Mutex
	active map[string]struct{}
	rounds sync.WaitGroup
}

// New creates an engine.
func New(store storage.SessionStore, providers *provider.Registry, publisher domain.Publisher, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		providers:   providers,
		publisher:   publisher,
		budgeter:    tokens.NewBudgeter(defaultHistoryBudget),
		tracer:      otel.Tracer("brainstorm/orchestrator"),
		logger:      slog.Default(),
		callTimeout: defaultCallTimeout,
		active:      map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// tryLock claims the session's round slot. It never blocks: contention is
// reported to the caller as SessionBusy so the client can surface a
// deterministic "wait for the AIs to finish" state.
func (e *Engine) tryLock(sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.active[sessionID]; busy {
		return domain.ErrSessionBusy(sessionID)
	}
	e.active[sessionID] = struct{}{}
	return nil
}

func (e *Engine) unlock(sessionID string) {
	e.mu.Lock()
	delete(e.active, sessionID)
	e.mu.Unlock()
}

// CreateSession validates the parameters and persists a new active session.
func (e *Engine) CreateSession(ctx context.Context, params session.NewParams) (*domain.Session, error) {
	for _, role := range params.Order {
		if _, err := e.providers.Lookup(role); err != nil {
			return nil, domain.ErrServer("no backend configured for participant " + role)
		}
	}

	sess, err := session.New(params)
	if err != nil {
		return nil, err
	}
	if err := e.store.Create(ctx, sess); err != nil {
		return nil, err
	}
	e.logger.Info("session created",
		slog.String("session_id", sess.ID),
		slog.String("topic", sess.Topic),
		slog.Int("participants", len(sess.Participants)))
	return sess.Clone(), nil
}

// GetSession returns the full session document, transcript included.
func (e *Engine) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	return e.store.Get(ctx, id)
}

// ListSessions pages through stored sessions.
func (e *Engine) ListSessions(ctx context.Context, opts storage.ListOptions) ([]*domain.Session, error) {
	return e.store.List(ctx, opts)
}

// DeleteSession removes a session and its transcript. Deletion is
// whole-session only; individual entries are immutable.
func (e *Engine) DeleteSession(ctx context.Context, id string) error {
	if err := e.tryLock(id); err != nil {
		return err
	}
	defer e.unlock(id)
	return e.store.Delete(ctx, id)
}

// Pause suspends scheduling of new rounds. An in-flight round completes its
// current generation and persists it.
func (e *Engine) Pause(ctx context.Context, id string) (*domain.Session, error) {
	return storage.AppendEntry(ctx, e.store, id, session.Pause)
}

// Resume reactivates a paused session. It does not trigger a round by
// itself; any continue request dropped by the pause needs re-submitting.
func (e *Engine) Resume(ctx context.Context, id string) (*domain.Session, error) {
	return storage.AppendEntry(ctx, e.store, id, session.Resume)
}

// Stop completes the session.
func (e *Engine) Stop(ctx context.Context, id string) (*domain.Session, error) {
	return storage.AppendEntry(ctx, e.store, id, session.Stop)
}

// SubmitUserMessage appends a user entry and triggers one orchestration
// round. The entry is persisted before the call returns; the round runs
// asynchronously under the session lock.
func (e *Engine) SubmitUserMessage(ctx context.Context, id, content string, attachments []domain.Attachment) (*domain.Session, error) {
	if err := e.tryLock(id); err != nil {
		return nil, err
	}

	entry := session.NewUserEntry(content)
	sess, err := storage.AppendEntry(ctx, e.store, id, func(s *domain.Session) error {
		return session.AppendUserMessage(s, entry)
	})
	if err != nil {
		e.unlock(id)
		return nil, err
	}

	e.spawnRound(id, attachments)
	return sess, nil
}

// ContinueDiscussion triggers one round with no new user input: the
// participants respond to the transcript as it stands.
func (e *Engine) ContinueDiscussion(ctx context.Context, id string) (*domain.Session, error) {
	if err := e.tryLock(id); err != nil {
		return nil, err
	}

	sess, err := e.store.Get(ctx, id)
	if err != nil {
		e.unlock(id)
		return nil, err
	}
	if err := session.CanStartRound(sess); err != nil {
		e.unlock(id)
		return nil, err
	}
	if len(sess.Messages) == 0 {
		e.unlock(id)
		return nil, domain.ErrInvalidTransition("continue with empty transcript", sess.Status)
	}

	e.spawnRound(id, nil)
	return sess, nil
}

// Retry re-attempts the round that moved the session to error.
func (e *Engine) Retry(ctx context.Context, id string) (*domain.Session, error) {
	if err := e.tryLock(id); err != nil {
		return nil, err
	}

	sess, err := storage.AppendEntry(ctx, e.store, id, session.Retry)
	if err != nil {
		e.unlock(id)
		return nil, err
	}

	e.spawnRound(id, nil)
	return sess, nil
}

// spawnRound runs one round in the background. The caller must already hold
// the session lock; the round releases it when done. The round gets its own
// context so an HTTP client disconnect does not abort generation mid-write.
func (e *Engine) spawnRound(sessionID string, attachments []domain.Attachment) {
	e.rounds.Add(1)
	go func() {
		defer e.rounds.Done()
		defer e.unlock(sessionID)
		e.runRound(context.Background(), sessionID, attachments)
	}()
}

// Drain blocks until every in-flight round has finished or ctx expires.
func (e *Engine) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.rounds.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
