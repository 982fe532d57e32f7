package commentsync

import (
	"context"

	"github.com/baduk1/threadsync/pkg/thread"
)

// Backend is the storage/API collaborator. The cache reads through it and
// the mutator writes through it.
type Backend interface {
	// FetchComments returns the ordered comment list for one thread.
	FetchComments(ctx context.Context, key thread.Key) ([]thread.Comment, error)

	// CreateComment persists a new comment and returns the durable record.
	// Rejections are reported as *thread.APIError carrying a display detail.
	CreateComment(ctx context.Context, key thread.Key, body string, parentID *int64) (*thread.Comment, error)

	// FetchCurrentUser is best effort and only used for optimistic authorship.
	FetchCurrentUser(ctx context.Context) (*thread.User, error)
}

// Transport opens push-channel connections.
type Transport interface {
	Connect(ctx context.Context, credential string) (Conn, error)
}

// Conn is one authenticated push connection multiplexing project rooms.
//
// Events and Errors are closed when the connection is closed. Delivery is
// at-most-once: consumers must tolerate gaps.
type Conn interface {
	Join(ctx context.Context, projectID string) error
	Leave(ctx context.Context, projectID string) error
	Events() <-chan thread.Event
	Errors() <-chan error
	Close() error
}

// CredentialFunc returns the credential to present on connect. It is called
// each time a connection is established so refreshed tokens are picked up.
type CredentialFunc func() string

// StaticCredential returns a CredentialFunc that always yields token.
func StaticCredential(token string) CredentialFunc {
	return func() string { return token }
}

// Invalidator is the part of the cache the router drives.
type Invalidator interface {
	Invalidate(key thread.Key)
}
