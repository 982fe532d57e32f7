package commentsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/baduk1/threadsync/pkg/thread"
)

var commentOpts = cmp.AllowUnexported(thread.CommentID{})

var (
	keyA = thread.NewKey("proj-1", thread.ContextTask, "t-42")
	keyB = thread.NewKey("proj-1", thread.ContextTask, "t-43")
	keyC = thread.NewKey("proj-2", thread.ContextBOQ, "b-1")
)

// fakeBackend is an in-memory Backend that counts calls. Fetches and
// creates can be held on a gate to observe intermediate state.
type fakeBackend struct {
	mu          sync.Mutex
	threads     map[thread.Key][]thread.Comment
	fetchCalls  map[thread.Key]int
	fetchDone   map[thread.Key]int
	fetchErr    error
	fetchGate   chan struct{}
	createCalls int
	createErr   map[string]error
	createGate  chan struct{}
	nextID      int64
	user        *thread.User
	userErr     error
	userCalls   int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		threads:    make(map[thread.Key][]thread.Comment),
		fetchCalls: make(map[thread.Key]int),
		fetchDone:  make(map[thread.Key]int),
		createErr:  make(map[string]error),
		nextID:     100,
	}
}

func (f *fakeBackend) seed(key thread.Key, comments ...thread.Comment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threads[key] = append([]thread.Comment(nil), comments...)
	for _, c := range comments {
		if id, ok := c.ID.Durable(); ok && id >= f.nextID {
			f.nextID = id
		}
	}
}

func (f *fakeBackend) FetchComments(ctx context.Context, key thread.Key) ([]thread.Comment, error) {
	f.mu.Lock()
	f.fetchCalls[key]++
	gate := f.fetchGate
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.fetchDone[key]++
		f.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return cloneComments(f.threads[key]), nil
}

func (f *fakeBackend) CreateComment(ctx context.Context, key thread.Key, body string, parentID *int64) (*thread.Comment, error) {
	f.mu.Lock()
	f.createCalls++
	gate := f.createGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, &thread.NetworkError{Op: "create comment", Err: ctx.Err()}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.createErr[body]; err != nil {
		return nil, err
	}

	f.nextID++
	c := thread.Comment{
		ID:        thread.ConfirmedID(f.nextID),
		ProjectID: key.ProjectID,
		Context:   key.Context,
		Body:      body,
		Author:    thread.Author{ID: "u-1", DisplayName: "Ada"},
		ParentID:  parentID,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	f.threads[key] = append([]thread.Comment{c}, f.threads[key]...)
	return &c, nil
}

func (f *fakeBackend) FetchCurrentUser(ctx context.Context) (*thread.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userCalls++
	if f.userErr != nil {
		return nil, f.userErr
	}
	if f.user == nil {
		return nil, errors.New("not signed in")
	}
	u := *f.user
	return &u, nil
}

func (f *fakeBackend) fetches(key thread.Key) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls[key]
}

func (f *fakeBackend) finishedFetches(key thread.Key) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchDone[key]
}

func (f *fakeBackend) creates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}

func (f *fakeBackend) setFetchErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErr = err
}

func (f *fakeBackend) holdFetches() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchGate = make(chan struct{})
	return f.fetchGate
}

func (f *fakeBackend) holdCreates() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createGate = make(chan struct{})
	return f.createGate
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeInvalidator records invalidations in order.
type fakeInvalidator struct {
	mu   sync.Mutex
	keys []thread.Key
}

func (f *fakeInvalidator) Invalidate(key thread.Key) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
}

func (f *fakeInvalidator) calls() []thread.Key {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]thread.Key(nil), f.keys...)
}

func (f *fakeInvalidator) count(key thread.Key) int {
	n := 0
	for _, k := range f.calls() {
		if k == key {
			n++
		}
	}
	return n
}

// fakeTransport hands out fakeConns and records connects.
type fakeTransport struct {
	mu          sync.Mutex
	connectErr  error
	joinErr     map[string]error
	conns       []*fakeConn
	credentials []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{joinErr: make(map[string]error)}
}

func (t *fakeTransport) Connect(ctx context.Context, credential string) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.credentials = append(t.credentials, credential)
	if t.connectErr != nil {
		return nil, t.connectErr
	}
	conn := &fakeConn{
		transport: t,
		events:    make(chan thread.Event, 16),
		errs:      make(chan error, 16),
	}
	t.conns = append(t.conns, conn)
	return conn, nil
}

func (t *fakeTransport) setConnectErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectErr = err
}

func (t *fakeTransport) connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

func (t *fakeTransport) last() *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

type fakeConn struct {
	transport *fakeTransport

	mu     sync.Mutex
	joins  []string
	leaves []string
	closed bool
	once   sync.Once
	events chan thread.Event
	errs   chan error
}

func (c *fakeConn) Join(ctx context.Context, projectID string) error {
	c.transport.mu.Lock()
	err := c.transport.joinErr[projectID]
	c.transport.mu.Unlock()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.joins = append(c.joins, projectID)
	return nil
}

func (c *fakeConn) Leave(ctx context.Context, projectID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaves = append(c.leaves, projectID)
	return nil
}

func (c *fakeConn) Events() <-chan thread.Event { return c.events }

func (c *fakeConn) Errors() <-chan error { return c.errs }

func (c *fakeConn) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.events)
		close(c.errs)
	})
	return nil
}

func (c *fakeConn) joined() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.joins...)
}

func (c *fakeConn) left() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.leaves...)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func confirmed(id int64, body string, parent *int64) thread.Comment {
	return thread.Comment{
		ID:        thread.ConfirmedID(id),
		ProjectID: keyA.ProjectID,
		Context:   keyA.Context,
		Body:      body,
		Author:    thread.Author{ID: "u-2", DisplayName: "Grace"},
		ParentID:  parent,
	}
}

func newTestCache(t *testing.T, backend Backend, clock *fakeClock) *Cache {
	t.Helper()
	opts := CacheOptions{Logger: zerolog.Nop(), Metrics: NewMetrics(nil)}
	if clock != nil {
		opts.Now = clock.Now
	}
	cache := NewCache(backend, opts)
	t.Cleanup(cache.Close)
	return cache
}

// loaded waits for the first fetch of key to land and returns the snapshot.
func loaded(t *testing.T, cache *Cache, key thread.Key) Snapshot {
	t.Helper()
	var snap Snapshot
	require.Eventually(t, func() bool {
		snap = cache.Get(key)
		return !snap.Fetching && !snap.FetchedAt.IsZero()
	}, time.Second, 5*time.Millisecond)
	return snap
}

func countBody(comments []thread.Comment, body string) (total, pending int) {
	for _, c := range comments {
		if c.Body == body {
			total++
			if c.Pending {
				pending++
			}
		}
	}
	return total, pending
}
