package commentsync

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/baduk1/threadsync/pkg/thread"
)

const (
	// DefaultStaleAfter is how long fetched data is served before a Get
	// triggers a background refresh.
	DefaultStaleAfter = 30 * time.Second

	// DefaultErrorRetryAfter throttles refetch attempts after a failure.
	DefaultErrorRetryAfter = 5 * time.Second

	// DefaultFetchTimeout bounds a single background fetch.
	DefaultFetchTimeout = 15 * time.Second
)

// CacheOptions tunes a Cache. Zero durations fall back to the defaults.
type CacheOptions struct {
	StaleAfter      time.Duration
	ErrorRetryAfter time.Duration
	FetchTimeout    time.Duration
	Logger          zerolog.Logger
	Metrics         *Metrics

	// Now overrides the clock. Tests use it to age entries.
	Now func() time.Time
}

// Snapshot is a point-in-time copy of one cache entry. The Comments slice is
// owned by the caller.
type Snapshot struct {
	Comments []thread.Comment

	// Loading is true while the first fetch is in flight and there is no data.
	Loading bool

	// Fetching is true whenever a background fetch is in flight.
	Fetching bool

	// Stale is true once the entry has been invalidated and not yet refreshed.
	Stale bool

	// Err is the last fetch failure (*thread.FetchError), cleared by the next
	// successful fetch. Comments still hold the last known good list.
	Err error

	FetchedAt time.Time
}

// RollbackToken captures the entry as it was before an optimistic insert.
type RollbackToken struct {
	id         thread.CommentID
	generation uint64
	comments   []thread.Comment
}

// PendingID returns the id of the optimistic comment the token undoes.
func (t RollbackToken) PendingID() thread.CommentID {
	return t.id
}

type entry struct {
	comments  []thread.Comment
	hasData   bool
	stale     bool
	fetchedAt time.Time
	failedAt  time.Time
	err       error

	fetching    bool
	fetchSeq    uint64
	cancelFetch context.CancelFunc

	// generation changes on every mutation of comments. Values come from a
	// cache-wide counter, so a recreated entry never reuses one.
	generation uint64
	refs       int

	// unsettled holds optimistic comments still waiting for the server.
	// Fetches keep them at the head of the list.
	unsettled map[thread.CommentID]struct{}
}

// Cache is the per-thread comment store. Entries are keyed by thread.Key
// and never share state, so a mutation on one thread cannot disturb another.
//
// Every method runs as a single critical section. Fetches run on background
// goroutines outside the lock and are discarded if the entry moved on while
// they were in flight.
type Cache struct {
	backend Backend
	opts    CacheOptions
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	gen      uint64
	entries  map[thread.Key]*entry
	watchers map[thread.Key]map[uint64]chan struct{}
	nextSub  uint64
	closed   bool
}

// NewCache creates an empty cache reading through backend.
func NewCache(backend Backend, opts CacheOptions) *Cache {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.ErrorRetryAfter <= 0 {
		opts.ErrorRetryAfter = DefaultErrorRetryAfter
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		backend:  backend,
		opts:     opts,
		logger:   opts.Logger.With().Str("component", "cache").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		entries:  make(map[thread.Key]*entry),
		watchers: make(map[thread.Key]map[uint64]chan struct{}),
	}
}

// Get returns the current state of a thread without blocking. It starts a
// background fetch when none is in flight and the data is absent, stale or
// older than StaleAfter. After a failed fetch, automatic attempts wait for
// ErrorRetryAfter.
func (c *Cache) Get(key thread.Key) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return Snapshot{}
	}

	e := c.entryLocked(key)
	if c.needsFetch(e) {
		c.startFetchLocked(key, e)
	}
	return e.snapshot()
}

// Peek returns the current state without creating an entry or fetching.
// The boolean is false when the cache holds nothing for key.
func (c *Cache) Peek(key thread.Key) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Snapshot{}, false
	}
	return e.snapshot(), true
}

// ApplyOptimistic prepends comment, marked pending, to the thread and
// returns a token that undoes the insert. The comment stays unsettled until
// Rollback or Settle: fetches that land meanwhile, including one already in
// flight, keep it at the head of the list. The insert does not count as
// fetched data, so a thread that is still loading keeps loading.
func (c *Cache) ApplyOptimistic(key thread.Key, comment thread.Comment) RollbackToken {
	c.mu.Lock()
	defer c.mu.Unlock()

	comment.Pending = true
	if c.closed {
		return RollbackToken{id: comment.ID}
	}

	e := c.entryLocked(key)
	token := RollbackToken{
		id:       comment.ID,
		comments: cloneComments(e.comments),
	}

	next := make([]thread.Comment, 0, len(e.comments)+1)
	next = append(next, comment.Clone())
	next = append(next, e.comments...)
	e.comments = next
	if e.unsettled == nil {
		e.unsettled = make(map[thread.CommentID]struct{})
	}
	e.unsettled[comment.ID] = struct{}{}
	c.bumpLocked(e)
	token.generation = e.generation

	c.opts.Metrics.apply()
	c.notifyLocked(key)

	c.logger.Debug().
		Str("project", key.ProjectID).
		Str("context_type", string(key.Context.Type)).
		Str("context_id", key.Context.ID).
		Str("pending_id", comment.ID.String()).
		Msg("Applied optimistic comment")

	return token
}

// Rollback undoes an optimistic insert. When nothing touched the entry since
// the insert, the exact pre-insert state is restored. Otherwise only the
// token's pending comment is removed, which keeps other concurrent pending
// submissions and any newer server data. Rolling back an evicted thread is
// a no-op.
func (c *Cache) Rollback(key thread.Key, token RollbackToken) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.opts.Metrics.rollback("evicted")
		return
	}

	delete(e.unsettled, token.id)
	if e.generation == token.generation {
		e.comments = cloneComments(token.comments)
		c.opts.Metrics.rollback("exact")
	} else {
		e.comments = removeComment(e.comments, token.id)
		c.opts.Metrics.rollback("partial")
	}
	c.bumpLocked(e)
	c.notifyLocked(key)
}

// Settle records that the server accepted the token's comment. It stays
// visible, still pending, until the next successful fetch replaces it with
// the stored record. Settling an evicted thread is a no-op.
func (c *Cache) Settle(key thread.Key, token RollbackToken) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		delete(e.unsettled, token.id)
	}
}

// Invalidate marks a thread stale. Referenced threads refetch in the
// background right away, restarting any fetch already in flight; the old
// list stays visible until the new one replaces it wholesale, apart from
// unsettled optimistic comments. Unreferenced threads drop any fetch in
// flight and refetch on their next Get. Invalidating an evicted thread is a
// no-op.
func (c *Cache) Invalidate(key thread.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || c.closed {
		return
	}

	e.stale = true
	c.opts.Metrics.invalidate()
	if e.fetching {
		c.cancelFetchLocked(e)
	}
	if e.refs > 0 {
		c.startFetchLocked(key, e)
	}
	c.notifyLocked(key)
}

// Acquire adds a reference to a thread, creating its entry if needed.
func (c *Cache) Acquire(key thread.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.entryLocked(key).refs++
}

// Release drops a reference. The last release evicts the entry and cancels
// its in-flight fetch.
func (c *Cache) Release(key thread.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs > 0 {
		return
	}

	c.cancelFetchLocked(e)
	delete(c.entries, key)
	c.opts.Metrics.setEntries(len(c.entries))

	c.logger.Debug().
		Str("project", key.ProjectID).
		Str("context_type", string(key.Context.Type)).
		Str("context_id", key.Context.ID).
		Msg("Evicted thread")
}

// Refs returns the reference count for a thread, zero when absent.
func (c *Cache) Refs(key thread.Key) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		return e.refs
	}
	return 0
}

// Len returns the number of entries held.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Watch returns a channel that receives a value whenever the thread changes.
// Notifications coalesce: a slow reader sees one pending signal, never a
// backlog. Call cancel to stop watching. The channel is closed on cancel or
// when the cache is closed.
func (c *Cache) Watch(key thread.Key) (<-chan struct{}, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan struct{}, 1)
	if c.closed {
		close(ch)
		return ch, func() {}
	}

	c.nextSub++
	id := c.nextSub
	if c.watchers[key] == nil {
		c.watchers[key] = make(map[uint64]chan struct{})
	}
	c.watchers[key][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()

			subs, ok := c.watchers[key]
			if !ok {
				return
			}
			if _, ok := subs[id]; !ok {
				return
			}
			delete(subs, id)
			close(ch)
			if len(subs) == 0 {
				delete(c.watchers, key)
			}
		})
	}
	return ch, cancel
}

// Close cancels every background fetch, drops all entries and closes all
// watch channels. It waits for fetch goroutines to exit.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cancel()
	c.entries = make(map[thread.Key]*entry)
	for key, subs := range c.watchers {
		for _, ch := range subs {
			close(ch)
		}
		delete(c.watchers, key)
	}
	c.opts.Metrics.setEntries(0)
	c.mu.Unlock()

	c.wg.Wait()
}

func (c *Cache) entryLocked(key thread.Key) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
		c.opts.Metrics.setEntries(len(c.entries))
	}
	return e
}

func (c *Cache) bumpLocked(e *entry) {
	c.gen++
	e.generation = c.gen
}

func (c *Cache) needsFetch(e *entry) bool {
	if e.fetching {
		return false
	}
	now := c.opts.Now()
	if !e.failedAt.IsZero() && now.Sub(e.failedAt) < c.opts.ErrorRetryAfter {
		return false
	}
	return !e.hasData || e.stale || now.Sub(e.fetchedAt) >= c.opts.StaleAfter
}

func (c *Cache) startFetchLocked(key thread.Key, e *entry) {
	e.fetchSeq++
	seq := e.fetchSeq

	ctx, cancel := context.WithTimeout(c.ctx, c.opts.FetchTimeout)
	e.fetching = true
	e.cancelFetch = cancel

	c.wg.Add(1)
	go c.fetch(ctx, cancel, key, seq)
}

// cancelFetchLocked abandons the in-flight fetch, if any. Bumping the
// sequence makes its result unacceptable even if it already returned.
func (c *Cache) cancelFetchLocked(e *entry) {
	if e.cancelFetch != nil {
		e.cancelFetch()
		e.cancelFetch = nil
	}
	e.fetching = false
	e.fetchSeq++
}

func (c *Cache) fetch(ctx context.Context, cancel context.CancelFunc, key thread.Key, seq uint64) {
	defer c.wg.Done()
	defer cancel()

	comments, err := c.backend.FetchComments(ctx, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || c.closed || e.fetchSeq != seq {
		c.opts.Metrics.fetch("discarded")
		return
	}

	e.fetching = false
	e.cancelFetch = nil

	if err != nil {
		e.err = &thread.FetchError{Key: key, Err: err}
		e.failedAt = c.opts.Now()
		c.opts.Metrics.fetch("error")
		c.logger.Warn().
			Err(err).
			Str("project", key.ProjectID).
			Str("context_type", string(key.Context.Type)).
			Str("context_id", key.Context.ID).
			Msg("Failed to fetch comments")
		c.notifyLocked(key)
		return
	}

	e.comments = append(unsettledComments(e), cloneComments(comments)...)
	e.hasData = true
	e.stale = false
	e.err = nil
	e.failedAt = time.Time{}
	e.fetchedAt = c.opts.Now()
	c.bumpLocked(e)
	c.opts.Metrics.fetch("ok")
	c.notifyLocked(key)
}

// notifyLocked signals every watcher of key without blocking. A watcher
// that already has a signal queued keeps just that one.
func (c *Cache) notifyLocked(key thread.Key) {
	for _, ch := range c.watchers[key] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (e *entry) snapshot() Snapshot {
	return Snapshot{
		Comments:  cloneComments(e.comments),
		Loading:   e.fetching && !e.hasData,
		Fetching:  e.fetching,
		Stale:     e.stale,
		Err:       e.err,
		FetchedAt: e.fetchedAt,
	}
}

func cloneComments(in []thread.Comment) []thread.Comment {
	if in == nil {
		return nil
	}
	out := make([]thread.Comment, len(in))
	for i, c := range in {
		out[i] = c.Clone()
	}
	return out
}

// unsettledComments returns the entry's unsettled optimistic comments in
// list order.
func unsettledComments(e *entry) []thread.Comment {
	out := make([]thread.Comment, 0, len(e.unsettled))
	for _, c := range e.comments {
		if _, ok := e.unsettled[c.ID]; ok && c.Pending {
			out = append(out, c.Clone())
		}
	}
	return out
}

func removeComment(in []thread.Comment, id thread.CommentID) []thread.Comment {
	out := make([]thread.Comment, 0, len(in))
	for _, c := range in {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}
