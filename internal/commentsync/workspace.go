package commentsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/baduk1/threadsync/pkg/thread"
)

// ErrViewClosed is returned by View.Submit after View.Close.
var ErrViewClosed = errors.New("thread view is closed")

// Options configures a Workspace.
type Options struct {
	StaleAfter      time.Duration
	ErrorRetryAfter time.Duration
	FetchTimeout    time.Duration

	// Credential is presented when the push channel connects.
	Credential CredentialFunc

	Logger zerolog.Logger

	// Registerer receives the sync metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer
}

// Workspace owns one session's sync components: a cache, a mutator, a
// router and a channel lifecycle. Views opened on it share all four.
type Workspace struct {
	cache     *Cache
	mutator   *Mutator
	router    *Router
	lifecycle *Lifecycle
	identity  *Identity
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	views  map[*View]struct{}
	closed bool
}

// New creates a workspace. transport may be nil, in which case threads are
// kept fresh by staleness refetch alone.
func New(backend Backend, transport Transport, opts Options) *Workspace {
	metrics := NewMetrics(opts.Registerer)
	cache := NewCache(backend, CacheOptions{
		StaleAfter:      opts.StaleAfter,
		ErrorRetryAfter: opts.ErrorRetryAfter,
		FetchTimeout:    opts.FetchTimeout,
		Logger:          opts.Logger,
		Metrics:         metrics,
	})
	identity := NewIdentity(backend, opts.Logger)
	router := NewRouter(cache, opts.Logger, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	return &Workspace{
		cache:     cache,
		mutator:   NewMutator(cache, backend, identity, opts.Logger, metrics),
		router:    router,
		lifecycle: NewLifecycle(transport, opts.Credential, router, opts.Logger, metrics),
		identity:  identity,
		logger:    opts.Logger.With().Str("component", "workspace").Logger(),
		ctx:       ctx,
		cancel:    cancel,
		views:     make(map[*View]struct{}),
	}
}

// Cache exposes the shared cache.
func (w *Workspace) Cache() *Cache { return w.cache }

// Mutator exposes the shared mutator.
func (w *Workspace) Mutator() *Mutator { return w.mutator }

// Router exposes the shared router.
func (w *Workspace) Router() *Router { return w.router }

// Lifecycle exposes the shared channel lifecycle.
func (w *Workspace) Lifecycle() *Lifecycle { return w.lifecycle }

// Identity exposes the current-user lookup.
func (w *Workspace) Identity() *Identity { return w.identity }

// Open starts following a thread: it pins the cache entry, tracks the thread
// on the router, subscribes to the project room and kicks off the first
// fetch. A push channel failure does not fail Open; see View.Degraded.
func (w *Workspace) Open(ctx context.Context, key thread.Key) (*View, error) {
	if err := key.Validate(); err != nil {
		return nil, &thread.ValidationError{Field: "context", Message: err.Error()}
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, fmt.Errorf("workspace is closed")
	}
	w.mu.Unlock()

	w.cache.Acquire(key)
	untrack := w.router.Track(key)
	handle, _ := w.lifecycle.Subscribe(ctx, key.ProjectID)
	changes, stopWatch := w.cache.Watch(key)

	v := &View{
		ws:        w,
		key:       key,
		untrack:   untrack,
		handle:    handle,
		changes:   changes,
		stopWatch: stopWatch,
	}

	w.mu.Lock()
	w.views[v] = struct{}{}
	w.mu.Unlock()

	go w.identity.Prefetch(w.ctx)
	w.cache.Get(key)

	w.logger.Debug().
		Str("project", key.ProjectID).
		Str("context_type", string(key.Context.Type)).
		Str("context_id", key.Context.ID).
		Bool("degraded", handle.Degraded()).
		Msg("Opened thread")
	return v, nil
}

// Close closes every open view, disconnects the push channel and stops all
// background fetches.
func (w *Workspace) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	views := make([]*View, 0, len(w.views))
	for v := range w.views {
		views = append(views, v)
	}
	w.mu.Unlock()

	for _, v := range views {
		v.Close()
	}
	w.cancel()
	w.lifecycle.Close()
	w.cache.Close()
}

func (w *Workspace) forget(v *View) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.views, v)
}

// View is one open thread. It is what a UI surface holds: the rendered tree,
// the loading and error flags, and a submit action.
type View struct {
	ws        *Workspace
	key       thread.Key
	untrack   func()
	handle    *Handle
	changes   <-chan struct{}
	stopWatch func()

	submitting atomic.Int32
	once       sync.Once

	mu     sync.Mutex
	closed bool
}

// Key returns the thread the view follows.
func (v *View) Key() thread.Key { return v.key }

// Snapshot returns the cached state, refreshing in the background when due.
func (v *View) Snapshot() Snapshot {
	return v.ws.cache.Get(v.key)
}

// Tree returns the current comments arranged for rendering.
func (v *View) Tree() thread.Tree {
	return thread.BuildTree(v.Snapshot().Comments)
}

// Loading reports whether the first fetch is still in flight.
func (v *View) Loading() bool {
	return v.Snapshot().Loading
}

// Err returns the last fetch failure, if any.
func (v *View) Err() error {
	return v.Snapshot().Err
}

// Degraded reports whether the view is without live push updates.
func (v *View) Degraded() bool {
	return v.handle.Degraded()
}

// Changes signals whenever the thread's cached state changes. It is closed
// when the view closes.
func (v *View) Changes() <-chan struct{} {
	return v.changes
}

// Submit posts a comment to the thread and blocks until it is reconciled.
// The pending comment is visible through Snapshot and Tree while it runs.
// A submission still reconciles if the view is closed meanwhile; the thread
// is kept cached until it does. Submitting on a closed view fails with
// ErrViewClosed.
func (v *View) Submit(ctx context.Context, body string, parentID *int64) (*Submission, error) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil, ErrViewClosed
	}
	v.ws.cache.Acquire(v.key)
	v.mu.Unlock()
	defer v.ws.cache.Release(v.key)

	v.submitting.Add(1)
	defer v.submitting.Add(-1)
	return v.ws.mutator.Submit(ctx, v.key, body, parentID)
}

// IsSubmitting reports whether a Submit on this view is in progress.
func (v *View) IsSubmitting() bool {
	return v.submitting.Load() > 0
}

// Close releases the view's cache reference, router registration and room
// subscription. Safe to call more than once.
func (v *View) Close() {
	v.once.Do(func() {
		v.mu.Lock()
		v.closed = true
		v.mu.Unlock()

		v.stopWatch()
		v.untrack()
		if err := v.ws.lifecycle.Unsubscribe(context.Background(), v.handle); err != nil {
			v.ws.logger.Debug().Err(err).Str("project", v.key.ProjectID).Msg("Unsubscribe reported an error")
		}
		v.ws.cache.Release(v.key)
		v.ws.forget(v)
	})
}
