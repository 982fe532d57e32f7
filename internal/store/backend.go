package store

import (
	"context"
	"errors"

	"github.com/baduk1/threadsync/pkg/thread"
)

// Backend adapts a Client to the sync core for one signed-in user, for
// in-process use without the HTTP API in between. Store rejections surface
// as *thread.APIError, the same shape the HTTP client produces.
type Backend struct {
	client *Client
	userID string
}

// NewBackend binds client to userID.
func NewBackend(client *Client, userID string) *Backend {
	return &Backend{client: client, userID: userID}
}

// FetchComments lists a thread newest first.
func (b *Backend) FetchComments(ctx context.Context, key thread.Key) ([]thread.Comment, error) {
	comments, err := b.client.ListComments(ctx, key)
	return comments, asAPIError(err)
}

// CreateComment stores a comment authored by the bound user.
func (b *Backend) CreateComment(ctx context.Context, key thread.Key, body string, parentID *int64) (*thread.Comment, error) {
	user, err := b.client.GetUser(ctx, b.userID)
	if err != nil {
		return nil, asAPIError(err)
	}
	comment, err := b.client.CreateComment(ctx, *user, key, body, parentID)
	return comment, asAPIError(err)
}

// FetchCurrentUser returns the bound user.
func (b *Backend) FetchCurrentUser(ctx context.Context) (*thread.User, error) {
	user, err := b.client.GetUser(ctx, b.userID)
	return user, asAPIError(err)
}

func asAPIError(err error) error {
	var storeErr *Error
	if !errors.As(err, &storeErr) {
		return err
	}
	return &thread.APIError{Status: StatusOf(err), Detail: storeErr.Detail}
}
