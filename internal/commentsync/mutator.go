package commentsync

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/baduk1/threadsync/pkg/thread"
)

// State is the position of a submission in the create protocol.
type State int

const (
	StateIdle State = iota
	StateSubmitting
	StateConfirmed
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitting:
		return "submitting"
	case StateConfirmed:
		return "confirmed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Submission tracks one create request from optimistic insert to
// reconciliation. It is safe to read from other goroutines while Submit runs.
type Submission struct {
	Key       thread.Key
	PendingID thread.CommentID
	Body      string
	ParentID  *int64

	mu      sync.Mutex
	state   State
	comment *thread.Comment
	err     error
	done    chan struct{}
}

// State returns the current protocol state.
func (s *Submission) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Comment returns the durable record once the submission is confirmed.
func (s *Submission) Comment() *thread.Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.comment
}

// Err returns the rejection once the submission is rolled back.
func (s *Submission) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the submission reaches a final state.
func (s *Submission) Done() <-chan struct{} {
	return s.done
}

func (s *Submission) finish(state State, comment *thread.Comment, err error) {
	s.mu.Lock()
	s.state = state
	s.comment = comment
	s.err = err
	s.mu.Unlock()
	close(s.done)
}

// Mutator runs the create-comment protocol: validate, insert optimistically,
// call the backend, then invalidate on success or roll back on failure.
// Failures are never retried automatically.
type Mutator struct {
	cache    *Cache
	backend  Backend
	identity *Identity
	logger   zerolog.Logger
	metrics  *Metrics
	now      func() time.Time

	mu       sync.Mutex
	inFlight map[thread.Key]int
}

// NewMutator wires a mutator to the cache it updates and the backend it
// writes through.
func NewMutator(cache *Cache, backend Backend, identity *Identity, logger zerolog.Logger, metrics *Metrics) *Mutator {
	return &Mutator{
		cache:    cache,
		backend:  backend,
		identity: identity,
		logger:   logger.With().Str("component", "mutator").Logger(),
		metrics:  metrics,
		now:      time.Now,
		inFlight: make(map[thread.Key]int),
	}
}

// Submit creates a comment on key and blocks until it is reconciled.
//
// Invalid input returns a *thread.ValidationError with a nil Submission;
// nothing touches the cache or the network. Otherwise the pending comment
// is visible in the cache before the backend is called, and the returned
// Submission ends Confirmed (nil error) or RolledBack (the backend error).
// Reconciliation always targets key, whatever the caller displays now.
func (m *Mutator) Submit(ctx context.Context, key thread.Key, body string, parentID *int64) (*Submission, error) {
	body = strings.TrimSpace(body)
	if err := validateSubmission(key, body, parentID); err != nil {
		m.metrics.submission("invalid")
		return nil, err
	}

	var parent *int64
	if parentID != nil {
		parent = thread.Int64Ptr(*parentID)
	}

	now := m.now().UTC()
	pending := thread.Comment{
		ID:        thread.NewPendingID(),
		ProjectID: key.ProjectID,
		Context:   key.Context,
		Body:      body,
		Author:    m.identity.Current(),
		ParentID:  parent,
		CreatedAt: now,
		UpdatedAt: now,
		Pending:   true,
	}

	sub := &Submission{
		Key:       key,
		PendingID: pending.ID,
		Body:      body,
		ParentID:  parent,
		state:     StateSubmitting,
		done:      make(chan struct{}),
	}

	m.track(key, 1)
	defer m.track(key, -1)

	token := m.cache.ApplyOptimistic(key, pending)

	log := m.logger.With().
		Str("project", key.ProjectID).
		Str("context_type", string(key.Context.Type)).
		Str("context_id", key.Context.ID).
		Str("pending_id", pending.ID.String()).
		Logger()

	created, err := m.backend.CreateComment(ctx, key, body, parent)
	if err != nil {
		m.cache.Rollback(key, token)
		sub.finish(StateRolledBack, nil, err)
		m.metrics.submission("rolled_back")
		log.Info().Err(err).Msg("Comment rejected, rolled back")
		return sub, err
	}

	m.cache.Settle(key, token)
	m.cache.Invalidate(key)
	sub.finish(StateConfirmed, created, nil)
	m.metrics.submission("confirmed")
	log.Info().Str("comment_id", created.ID.String()).Msg("Comment confirmed")
	return sub, nil
}

// InFlight returns how many submissions for key are still Submitting.
func (m *Mutator) InFlight(key thread.Key) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight[key]
}

func (m *Mutator) track(key thread.Key, delta int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.inFlight[key] += delta
	if m.inFlight[key] <= 0 {
		delete(m.inFlight, key)
	}
}

func validateSubmission(key thread.Key, body string, parentID *int64) error {
	if err := key.Validate(); err != nil {
		return &thread.ValidationError{Field: "context", Message: err.Error()}
	}
	if body == "" {
		return &thread.ValidationError{Field: "body", Message: "comment body cannot be empty"}
	}
	if parentID != nil && *parentID <= 0 {
		return &thread.ValidationError{Field: "parent_id", Message: "parent id must be a confirmed comment id"}
	}
	return nil
}
