// Package store is the Redis-backed source of truth for comment threads.
// It validates writes, allocates durable ids and publishes an event to the
// project's Pub/Sub room after every change.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/baduk1/threadsync/pkg/thread"
)

var (
	// ErrInvalid marks malformed input.
	ErrInvalid = errors.New("invalid")

	// ErrForbidden marks a caller without rights on the project or comment.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound marks a missing comment, parent or user.
	ErrNotFound = errors.New("not found")
)

// Error is a store rejection. Detail is safe to show to end users; Kind is
// one of the sentinel errors above and is matched with errors.Is.
type Error struct {
	Kind   error
	Detail string
}

func (e *Error) Error() string {
	return e.Detail
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func reject(kind error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// StatusOf maps a store error to the HTTP status used to report it.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Client provides namespace-scoped Redis operations for threads.
// It is safe for concurrent use.
type Client struct {
	rdb       *redis.Client
	namespace string
	now       func() time.Time
}

// NewClient creates a store client. All keys and channels are prefixed with
// namespace, which must not be empty.
func NewClient(redisOpts *redis.Options, namespace string) (*Client, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}

	return &Client{
		rdb:       redis.NewClient(redisOpts),
		namespace: namespace,
		now:       time.Now,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Used by the health check.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Redis returns the underlying connection, shared with the Pub/Sub transport.
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// Namespace returns the key namespace.
func (c *Client) Namespace() string {
	return c.namespace
}

// PutUser creates or replaces a user record.
func (c *Client) PutUser(ctx context.Context, u *thread.User) error {
	if u.ID == "" {
		return reject(ErrInvalid, "user id cannot be empty")
	}
	if err := c.rdb.HSet(ctx, thread.UserKey(c.namespace, u.ID), thread.UserToHash(u)).Err(); err != nil {
		return fmt.Errorf("failed to write user to Redis: %w", err)
	}
	return nil
}

// GetUser reads a user record.
func (c *Client) GetUser(ctx context.Context, userID string) (*thread.User, error) {
	hash, err := c.rdb.HGetAll(ctx, thread.UserKey(c.namespace, userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read user from Redis: %w", err)
	}
	if len(hash) == 0 {
		return nil, reject(ErrNotFound, "user %s not found", userID)
	}
	return thread.HashToUser(hash), nil
}

// AddMember grants userID the right to comment in projectID.
func (c *Client) AddMember(ctx context.Context, projectID, userID string) error {
	if projectID == "" || userID == "" {
		return reject(ErrInvalid, "project id and user id are required")
	}
	if err := c.rdb.SAdd(ctx, thread.ProjectMembersKey(c.namespace, projectID), userID).Err(); err != nil {
		return fmt.Errorf("failed to add project member: %w", err)
	}
	return nil
}

// RemoveMember revokes userID's membership of projectID.
func (c *Client) RemoveMember(ctx context.Context, projectID, userID string) error {
	if err := c.rdb.SRem(ctx, thread.ProjectMembersKey(c.namespace, projectID), userID).Err(); err != nil {
		return fmt.Errorf("failed to remove project member: %w", err)
	}
	return nil
}

// IsMember reports whether userID belongs to projectID.
func (c *Client) IsMember(ctx context.Context, projectID, userID string) (bool, error) {
	ok, err := c.rdb.SIsMember(ctx, thread.ProjectMembersKey(c.namespace, projectID), userID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check project membership: %w", err)
	}
	return ok, nil
}

// Publish sends an event to the project's room. Delivery is at-most-once:
// subscribers that are not listening right now never see it.
func (c *Client) Publish(ctx context.Context, event thread.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	channel := thread.ProjectEventsChannel(c.namespace, event.ProjectID)
	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Kind, err)
	}
	return nil
}
