package thread

import (
	"fmt"
	"strconv"
	"time"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Redis stores data as string-to-string maps (hashes). Timestamps are kept as
// Unix milliseconds and an absent parent is stored as an empty string.
// Pending comments are never persisted, so only durable ids appear here.

// CommentToHash converts a confirmed Comment to a Redis hash.
func CommentToHash(c *Comment) (map[string]interface{}, error) {
	id, ok := c.ID.Durable()
	if !ok {
		return nil, fmt.Errorf("cannot persist comment %s: id is not durable", c.ID)
	}

	parent := ""
	if c.ParentID != nil {
		parent = strconv.FormatInt(*c.ParentID, 10)
	}

	hash := map[string]interface{}{
		"id":                  id,
		"project_id":          c.ProjectID,
		"context_type":        string(c.Context.Type),
		"context_id":          c.Context.ID,
		"body":                c.Body,
		"author_id":           c.Author.ID,
		"author_display_name": c.Author.DisplayName,
		"author_avatar_url":   c.Author.AvatarURL,
		"parent_id":           parent,
		"created_at_ms":       c.CreatedAt.UnixMilli(),
		"updated_at_ms":       c.UpdatedAt.UnixMilli(),
	}

	return hash, nil
}

// HashToComment converts a Redis hash back to a confirmed Comment.
func HashToComment(hash map[string]string) (*Comment, error) {
	id, err := strconv.ParseInt(hash["id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid id field: %w", err)
	}

	var parentID *int64
	if raw := hash["parent_id"]; raw != "" {
		parent, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid parent_id field: %w", err)
		}
		parentID = &parent
	}

	createdAtMs, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)
	updatedAtMs, _ := strconv.ParseInt(hash["updated_at_ms"], 10, 64)

	comment := &Comment{
		ID:        ConfirmedID(id),
		ProjectID: hash["project_id"],
		Context: Context{
			Type: ContextType(hash["context_type"]),
			ID:   hash["context_id"],
		},
		Body: hash["body"],
		Author: Author{
			ID:          hash["author_id"],
			DisplayName: hash["author_display_name"],
			AvatarURL:   hash["author_avatar_url"],
		},
		ParentID:  parentID,
		CreatedAt: time.UnixMilli(createdAtMs).UTC(),
		UpdatedAt: time.UnixMilli(updatedAtMs).UTC(),
	}

	return comment, nil
}

// UserToHash converts a User to a Redis hash.
func UserToHash(u *User) map[string]interface{} {
	return map[string]interface{}{
		"id":           u.ID,
		"display_name": u.DisplayName,
		"email":        u.Email,
	}
}

// HashToUser converts a Redis hash back to a User.
func HashToUser(hash map[string]string) *User {
	return &User{
		ID:          hash["id"],
		DisplayName: hash["display_name"],
		Email:       hash["email"],
	}
}
