package commentsync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// ErrNoTransport is reported by handles of a Lifecycle built without a
// transport. Such handles are always degraded.
var ErrNoTransport = errors.New("push channel not configured")

// Handle is one subscriber's claim on a project room.
type Handle struct {
	id        uint64
	projectID string

	// guarded by Lifecycle.mu
	released bool
	err      error
}

// ProjectID returns the project the handle subscribes to.
func (h *Handle) ProjectID() string {
	return h.projectID
}

// Degraded reports whether the room could not be joined when the handle was
// issued. A degraded subscriber relies on staleness refetch alone.
func (h *Handle) Degraded() bool {
	return h.err != nil
}

// Err returns the connect or join failure behind a degraded handle.
func (h *Handle) Err() error {
	return h.err
}

// Lifecycle shares one push connection between all subscribers. The first
// handle connects, the first handle per project joins the project room, the
// last handle per project leaves it and the last handle overall disconnects.
// Events from the connection are pumped into the router.
//
// Channel failures never fail a subscriber: Subscribe still returns a
// handle, marked degraded, and the next Subscribe tries again.
type Lifecycle struct {
	transport  Transport
	credential CredentialFunc
	router     *Router
	logger     zerolog.Logger
	metrics    *Metrics

	mu       sync.Mutex
	conn     Conn
	stopPump context.CancelFunc
	pumpDone chan struct{}
	handles  int
	projects map[string]int
	joined   map[string]bool
	nextID   uint64
}

// NewLifecycle creates a lifecycle. transport may be nil, in which case every
// handle is degraded with ErrNoTransport.
func NewLifecycle(transport Transport, credential CredentialFunc, router *Router, logger zerolog.Logger, metrics *Metrics) *Lifecycle {
	if credential == nil {
		credential = StaticCredential("")
	}
	return &Lifecycle{
		transport:  transport,
		credential: credential,
		router:     router,
		logger:     logger.With().Str("component", "channel").Logger(),
		metrics:    metrics,
		projects:   make(map[string]int),
		joined:     make(map[string]bool),
	}
}

// Subscribe claims the room for projectID. The returned handle is never nil;
// a non-nil error means the handle is degraded.
//
// Connect and join run under the lifecycle lock so concurrent first
// subscribers share one connection.
func (l *Lifecycle) Subscribe(ctx context.Context, projectID string) (*Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	h := &Handle{id: l.nextID, projectID: projectID}
	l.handles++
	l.projects[projectID]++

	log := l.logger.With().Str("project", projectID).Logger()

	if err := l.connectLocked(ctx); err != nil {
		h.err = err
		if errors.Is(err, ErrNoTransport) {
			return h, err
		}
		l.metrics.channelError()
		log.Warn().Err(err).Msg("Push channel unavailable, relying on refetch")
		return h, err
	}

	if err := l.joinPendingLocked(ctx, projectID); err != nil {
		h.err = err
		log.Warn().Err(err).Msg("Failed to join project room, relying on refetch")
		return h, err
	}

	return h, nil
}

// Unsubscribe releases a handle. Releasing the same handle again is a no-op.
func (l *Lifecycle) Unsubscribe(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if h.released {
		return nil
	}
	h.released = true
	l.handles--
	l.projects[h.projectID]--

	var leaveErr error
	if l.projects[h.projectID] <= 0 {
		delete(l.projects, h.projectID)
		if l.joined[h.projectID] && l.conn != nil {
			if err := l.conn.Leave(ctx, h.projectID); err != nil {
				leaveErr = fmt.Errorf("failed to leave project %s: %w", h.projectID, err)
				l.metrics.channelError()
				l.logger.Warn().Err(err).Str("project", h.projectID).Msg("Failed to leave project room")
			} else {
				l.logger.Debug().Str("project", h.projectID).Msg("Left project room")
			}
		}
		delete(l.joined, h.projectID)
		l.metrics.setRooms(len(l.joined))
	}

	if l.handles <= 0 {
		l.handles = 0
		l.disconnectLocked()
	}
	return leaveErr
}

// Connected reports whether a push connection is open.
func (l *Lifecycle) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// Joined reports whether the room for projectID is currently joined.
func (l *Lifecycle) Joined(projectID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.joined[projectID]
}

// Close disconnects regardless of outstanding handles.
func (l *Lifecycle) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.handles = 0
	l.projects = make(map[string]int)
	l.disconnectLocked()
}

func (l *Lifecycle) connectLocked(ctx context.Context) error {
	if l.conn != nil {
		return nil
	}
	if l.transport == nil {
		return ErrNoTransport
	}

	conn, err := l.transport.Connect(ctx, l.credential())
	if err != nil {
		return fmt.Errorf("failed to connect push channel: %w", err)
	}
	l.conn = conn

	pumpCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	l.stopPump = stop
	l.pumpDone = done
	go l.pump(pumpCtx, conn, done)

	l.logger.Info().Msg("Push channel connected")
	return nil
}

// joinPendingLocked joins every project that has subscribers but no room,
// which picks up projects whose earlier join failed. Only the failure for
// current is returned.
func (l *Lifecycle) joinPendingLocked(ctx context.Context, current string) error {
	var currentErr error
	for projectID, count := range l.projects {
		if count <= 0 || l.joined[projectID] {
			continue
		}
		if err := l.conn.Join(ctx, projectID); err != nil {
			l.metrics.channelError()
			if projectID == current {
				currentErr = fmt.Errorf("failed to join project %s: %w", projectID, err)
			}
			continue
		}
		l.joined[projectID] = true
		l.logger.Debug().Str("project", projectID).Msg("Joined project room")
	}
	l.metrics.setRooms(len(l.joined))
	return currentErr
}

func (l *Lifecycle) disconnectLocked() {
	if l.conn == nil {
		return
	}

	l.stopPump()
	if err := l.conn.Close(); err != nil {
		l.logger.Warn().Err(err).Msg("Error closing push channel")
	}
	<-l.pumpDone

	l.conn = nil
	l.stopPump = nil
	l.pumpDone = nil
	l.joined = make(map[string]bool)
	l.metrics.setRooms(0)
	l.logger.Info().Msg("Push channel disconnected")
}

// pump feeds connection events to the router and logs stream errors until
// the connection closes or the lifecycle stops it.
func (l *Lifecycle) pump(ctx context.Context, conn Conn, done chan struct{}) {
	defer close(done)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs := conn.Errors()
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-errs:
				if !ok {
					return
				}
				l.metrics.channelError()
				l.logger.Warn().Err(err).Msg("Push channel error")
			}
		}
	}()

	if err := l.router.Run(ctx, conn.Events()); err != nil && !errors.Is(err, context.Canceled) {
		l.logger.Warn().Err(err).Msg("Event pump stopped")
	}
	wg.Wait()
}
