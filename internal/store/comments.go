package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/baduk1/threadsync/pkg/thread"
)

// ListComments returns a thread newest first. Index entries whose hash has
// gone missing are skipped.
func (c *Client) ListComments(ctx context.Context, key thread.Key) ([]thread.Comment, error) {
	if err := key.Validate(); err != nil {
		return nil, reject(ErrInvalid, "%s", err.Error())
	}

	ids, err := c.rdb.ZRevRange(ctx, thread.ThreadIndexKey(c.namespace, key), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read thread index: %w", err)
	}
	if len(ids) == 0 {
		return []thread.Comment{}, nil
	}

	pipe := c.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, raw := range ids {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt thread index entry %q: %w", raw, err)
		}
		cmds[i] = pipe.HGetAll(ctx, thread.CommentKey(c.namespace, id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read comments: %w", err)
	}

	comments := make([]thread.Comment, 0, len(ids))
	for _, cmd := range cmds {
		hash := cmd.Val()
		if len(hash) == 0 {
			continue
		}
		comment, err := thread.HashToComment(hash)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize comment: %w", err)
		}
		comments = append(comments, *comment)
	}
	return comments, nil
}

// GetComment reads one comment by durable id.
func (c *Client) GetComment(ctx context.Context, id int64) (*thread.Comment, error) {
	hash, err := c.rdb.HGetAll(ctx, thread.CommentKey(c.namespace, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read comment from Redis: %w", err)
	}
	if len(hash) == 0 {
		return nil, reject(ErrNotFound, "comment %d not found", id)
	}
	comment, err := thread.HashToComment(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize comment: %w", err)
	}
	return comment, nil
}

// CreateComment validates and stores a new comment by author, then publishes
// a created event.
//
// Rejections:
//   - ErrInvalid: bad key, empty body
//   - ErrForbidden: author is not a member of the project
//   - ErrNotFound: parent is not a comment of the same thread
func (c *Client) CreateComment(ctx context.Context, author thread.User, key thread.Key, body string, parentID *int64) (*thread.Comment, error) {
	if err := key.Validate(); err != nil {
		return nil, reject(ErrInvalid, "%s", err.Error())
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, reject(ErrInvalid, "Comment body cannot be empty")
	}

	if err := c.RequireMember(ctx, key.ProjectID, author.ID); err != nil {
		return nil, err
	}

	if parentID != nil {
		parent, err := c.GetComment(ctx, *parentID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, reject(ErrNotFound, "Parent comment %d not found", *parentID)
			}
			return nil, err
		}
		if parent.Key() != key {
			return nil, reject(ErrNotFound, "Parent comment %d not found in this thread", *parentID)
		}
	}

	id, err := c.rdb.Incr(ctx, thread.CommentSequenceKey(c.namespace)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate comment id: %w", err)
	}

	now := c.now().UTC()
	comment := &thread.Comment{
		ID:        thread.ConfirmedID(id),
		ProjectID: key.ProjectID,
		Context:   key.Context,
		Body:      body,
		Author:    author.Author(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if parentID != nil {
		comment.ParentID = thread.Int64Ptr(*parentID)
	}

	hash, err := thread.CommentToHash(comment)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize comment: %w", err)
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, thread.CommentKey(c.namespace, id), hash)
		pipe.ZAdd(ctx, thread.ThreadIndexKey(c.namespace, key), redis.Z{Score: float64(id), Member: id})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write comment to Redis: %w", err)
	}

	if err := c.Publish(ctx, thread.Event{Kind: thread.EventCreated, ProjectID: key.ProjectID, Comment: *comment}); err != nil {
		return nil, err
	}
	return comment, nil
}

// UpdateComment replaces the body of a comment. Only its author may edit it.
func (c *Client) UpdateComment(ctx context.Context, userID, projectID string, id int64, body string) (*thread.Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, reject(ErrInvalid, "Comment body cannot be empty")
	}

	comment, err := c.ownedComment(ctx, userID, projectID, id)
	if err != nil {
		return nil, err
	}

	comment.Body = body
	comment.UpdatedAt = c.now().UTC()
	err = c.rdb.HSet(ctx, thread.CommentKey(c.namespace, id),
		"body", comment.Body,
		"updated_at_ms", comment.UpdatedAt.UnixMilli(),
	).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to update comment: %w", err)
	}

	if err := c.Publish(ctx, thread.Event{Kind: thread.EventUpdated, ProjectID: projectID, Comment: *comment}); err != nil {
		return nil, err
	}
	return comment, nil
}

// DeleteComment removes a comment. Only its author may delete it. Replies
// are left in place and render as top-level once their parent is gone.
func (c *Client) DeleteComment(ctx context.Context, userID, projectID string, id int64) error {
	comment, err := c.ownedComment(ctx, userID, projectID, id)
	if err != nil {
		return err
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, thread.CommentKey(c.namespace, id))
		pipe.ZRem(ctx, thread.ThreadIndexKey(c.namespace, comment.Key()), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete comment: %w", err)
	}

	return c.Publish(ctx, thread.Event{Kind: thread.EventDeleted, ProjectID: projectID, Comment: *comment})
}

func (c *Client) ownedComment(ctx context.Context, userID, projectID string, id int64) (*thread.Comment, error) {
	comment, err := c.GetComment(ctx, id)
	if err != nil {
		return nil, err
	}
	if comment.ProjectID != projectID {
		return nil, reject(ErrNotFound, "comment %d not found", id)
	}
	if comment.Author.ID != userID {
		return nil, reject(ErrForbidden, "Only the author can change this comment")
	}
	return comment, nil
}

// RequireMember returns ErrForbidden unless userID belongs to projectID.
func (c *Client) RequireMember(ctx context.Context, projectID, userID string) error {
	ok, err := c.IsMember(ctx, projectID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return reject(ErrForbidden, "You do not have permission to comment on this project")
	}
	return nil
}
