package commentsync

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/baduk1/threadsync/pkg/thread"
)

// PlaceholderName is shown as the author of optimistic comments while the
// current user is still unknown.
const PlaceholderName = "You"

// Identity remembers the current user for optimistic authorship. Lookups
// are best effort: a failed Prefetch leaves the placeholder in place and
// the next Prefetch tries again.
type Identity struct {
	backend Backend
	logger  zerolog.Logger

	mu       sync.Mutex
	user     *thread.User
	fetching bool
}

// NewIdentity creates an Identity that loads the user through backend.
func NewIdentity(backend Backend, logger zerolog.Logger) *Identity {
	return &Identity{
		backend: backend,
		logger:  logger.With().Str("component", "identity").Logger(),
	}
}

// Prefetch loads the current user unless it is already known or a lookup is
// already running. It blocks for the duration of the lookup.
func (i *Identity) Prefetch(ctx context.Context) {
	i.mu.Lock()
	if i.user != nil || i.fetching {
		i.mu.Unlock()
		return
	}
	i.fetching = true
	i.mu.Unlock()

	user, err := i.backend.FetchCurrentUser(ctx)

	i.mu.Lock()
	defer i.mu.Unlock()
	i.fetching = false
	if err != nil {
		i.logger.Debug().Err(err).Msg("Current user unavailable, using placeholder")
		return
	}
	i.user = user
}

// Set records the current user directly.
func (i *Identity) Set(user thread.User) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.user = &user
}

// Current returns the best known author without blocking.
func (i *Identity) Current() thread.Author {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.user == nil {
		return thread.Author{DisplayName: PlaceholderName}
	}
	return i.user.Author()
}

// Known reports whether the current user has been loaded.
func (i *Identity) Known() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.user != nil
}
