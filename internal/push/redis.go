package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/baduk1/threadsync/internal/commentsync"
	"github.com/baduk1/threadsync/pkg/thread"
)

// DefaultBuffer is the size of the event and error channels of a connection.
const DefaultBuffer = 64

// ErrClosed is returned by operations on a closed connection.
var ErrClosed = errors.New("push connection closed")

// VerifyFunc checks a credential presented on connect.
type VerifyFunc func(credential string) error

// RedisTransport opens connections backed by one Redis Pub/Sub subscription
// each. Joining a project subscribes to its events channel.
type RedisTransport struct {
	rdb       *redis.Client
	namespace string
	verify    VerifyFunc
	buffer    int
	logger    zerolog.Logger
}

// NewRedisTransport creates a transport over rdb. verify may be nil when the
// caller has already authenticated the credential.
func NewRedisTransport(rdb *redis.Client, namespace string, verify VerifyFunc, logger zerolog.Logger) *RedisTransport {
	return &RedisTransport{
		rdb:       rdb,
		namespace: namespace,
		verify:    verify,
		buffer:    DefaultBuffer,
		logger:    logger.With().Str("component", "redis_transport").Logger(),
	}
}

// Connect verifies the credential and opens a subscription with no rooms.
func (t *RedisTransport) Connect(ctx context.Context, credential string) (commentsync.Conn, error) {
	if t.verify != nil {
		if err := t.verify(credential); err != nil {
			return nil, fmt.Errorf("credential rejected: %w", err)
		}
	}

	connCtx, cancel := context.WithCancel(context.Background())
	return &redisConn{
		pubsub:    t.rdb.Subscribe(ctx),
		namespace: t.namespace,
		logger:    t.logger,
		events:    make(chan thread.Event, t.buffer),
		errs:      make(chan error, t.buffer),
		ctx:       connCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}, nil
}

type redisConn struct {
	pubsub    *redis.PubSub
	namespace string
	logger    zerolog.Logger

	events chan thread.Event
	errs   chan error
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	started bool
	closed  bool
}

// Join subscribes to the project's events channel. The reader starts with
// the first room.
func (c *redisConn) Join(ctx context.Context, projectID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	channel := thread.ProjectEventsChannel(c.namespace, projectID)
	if err := c.pubsub.Subscribe(ctx, channel); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}
	if !c.started {
		c.started = true
		go c.read()
	}
	c.logger.Debug().Str("project", projectID).Msg("Subscribed to project room")
	return nil
}

// Leave unsubscribes from the project's events channel.
func (c *redisConn) Leave(ctx context.Context, projectID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	channel := thread.ProjectEventsChannel(c.namespace, projectID)
	if err := c.pubsub.Unsubscribe(ctx, channel); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", channel, err)
	}
	return nil
}

func (c *redisConn) Events() <-chan thread.Event { return c.events }

func (c *redisConn) Errors() <-chan error { return c.errs }

// Close stops the subscription and closes both channels. Safe to call more
// than once.
func (c *redisConn) Close() error {
	var err error
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		started := c.started
		c.mu.Unlock()

		c.cancel()
		err = c.pubsub.Close()
		if started {
			<-c.done
			return
		}
		close(c.events)
		close(c.errs)
		close(c.done)
	})
	return err
}

// read decodes Pub/Sub messages into events until the connection closes.
// Undecodable messages are reported on the error channel and skipped.
func (c *redisConn) read() {
	defer close(c.done)
	defer close(c.events)
	defer close(c.errs)

	ch := c.pubsub.Channel()
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event thread.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				select {
				case c.errs <- fmt.Errorf("failed to unmarshal event from %s: %w", msg.Channel, err):
				case <-c.ctx.Done():
					return
				}
				continue
			}

			select {
			case c.events <- event:
			case <-c.ctx.Done():
				return
			}
		}
	}
}
