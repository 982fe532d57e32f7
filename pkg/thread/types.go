package thread

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// pendingPrefix marks locally generated comment ids. A pending tag never
// parses as an integer, so it cannot collide with a durable id.
const pendingPrefix = "pending-"

// ContextType identifies the kind of resource a thread is attached to.
type ContextType string

const (
	// ContextTask attaches a thread to a task
	ContextTask ContextType = "task"

	// ContextBOQ attaches a thread to a bill of quantities
	ContextBOQ ContextType = "boq"

	// ContextProject attaches a thread to the project itself
	ContextProject ContextType = "project"
)

// Validate checks if the ContextType is a valid enum value.
func (ct ContextType) Validate() error {
	switch ct {
	case ContextTask, ContextBOQ, ContextProject:
		return nil
	default:
		return fmt.Errorf("unknown context type: %q", ct)
	}
}

// Context is the (type, id) pair identifying the resource a thread belongs to.
type Context struct {
	Type ContextType `json:"type"`
	ID   string      `json:"id"`
}

// Validate checks the context type and id.
func (c Context) Validate() error {
	if err := c.Type.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("context id cannot be empty")
	}
	return nil
}

func (c Context) String() string {
	return fmt.Sprintf("%s/%s", c.Type, c.ID)
}

// Key addresses one thread: a context inside a project. It is a comparable
// value type and is used directly as a map key by the cache and the router.
type Key struct {
	ProjectID string  `json:"project_id"`
	Context   Context `json:"context"`
}

// NewKey builds a Key from its three parts.
func NewKey(projectID string, contextType ContextType, contextID string) Key {
	return Key{
		ProjectID: projectID,
		Context:   Context{Type: contextType, ID: contextID},
	}
}

// Validate checks that every part of the key is present and well formed.
func (k Key) Validate() error {
	if strings.TrimSpace(k.ProjectID) == "" {
		return fmt.Errorf("project id cannot be empty")
	}
	if err := k.Context.Validate(); err != nil {
		return fmt.Errorf("invalid context: %w", err)
	}
	return nil
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.ProjectID, k.Context)
}

// CommentID is either a durable server-assigned integer or a transient
// pending tag generated locally. The zero value is neither and is invalid.
type CommentID struct {
	durable int64
	tag     string
}

// ConfirmedID returns the identity of a server-confirmed comment.
func ConfirmedID(id int64) CommentID {
	return CommentID{durable: id}
}

// PendingID returns the identity of a locally created, unconfirmed comment.
func PendingID(tag string) CommentID {
	return CommentID{tag: tag}
}

// NewPendingID generates a fresh pending identity.
func NewPendingID() CommentID {
	return PendingID(pendingPrefix + uuid.New().String())
}

// IsPending reports whether the id is a local pending tag.
func (id CommentID) IsPending() bool {
	return id.tag != ""
}

// IsZero reports whether the id was never set.
func (id CommentID) IsZero() bool {
	return id.tag == "" && id.durable == 0
}

// Durable returns the server id and true for confirmed ids.
func (id CommentID) Durable() (int64, bool) {
	if id.tag != "" || id.durable == 0 {
		return 0, false
	}
	return id.durable, true
}

// Tag returns the pending tag and true for pending ids.
func (id CommentID) Tag() (string, bool) {
	if id.tag == "" {
		return "", false
	}
	return id.tag, true
}

func (id CommentID) String() string {
	if id.tag != "" {
		return id.tag
	}
	return strconv.FormatInt(id.durable, 10)
}

// MarshalJSON writes confirmed ids as numbers and pending ids as strings.
func (id CommentID) MarshalJSON() ([]byte, error) {
	if id.tag != "" {
		return json.Marshal(id.tag)
	}
	return json.Marshal(id.durable)
}

// UnmarshalJSON accepts a number (confirmed) or a string (pending).
func (id *CommentID) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*id = ConfirmedID(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("comment id must be a number or a string: %w", err)
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*id = ConfirmedID(n)
		return nil
	}
	*id = PendingID(s)
	return nil
}

// ParseCommentID parses the string form produced by CommentID.String.
func ParseCommentID(s string) (CommentID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return CommentID{}, fmt.Errorf("comment id cannot be empty")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n <= 0 {
			return CommentID{}, fmt.Errorf("comment id must be positive, got %d", n)
		}
		return ConfirmedID(n), nil
	}
	return PendingID(s), nil
}

// Author is the display identity attached to a comment.
type Author struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// User is the authenticated account returned by the API.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

// Author converts the user to the author shape stored on comments.
func (u User) Author() Author {
	return Author{ID: u.ID, DisplayName: u.DisplayName}
}

// Comment is a single entry in a thread.
type Comment struct {
	ID        CommentID `json:"id"`
	ProjectID string    `json:"project_id"`
	Context   Context   `json:"context"`
	Body      string    `json:"body"`
	Author    Author    `json:"author"`
	ParentID  *int64    `json:"parent_id,omitempty"` // durable ids only
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Pending   bool      `json:"pending"`
}

// Key returns the thread this comment belongs to.
func (c Comment) Key() Key {
	return Key{ProjectID: c.ProjectID, Context: c.Context}
}

// IsReply reports whether the comment has a parent.
func (c Comment) IsReply() bool {
	return c.ParentID != nil
}

// Validate checks if the Comment has valid field values.
func (c *Comment) Validate() error {
	if c.ID.IsZero() {
		return fmt.Errorf("comment id cannot be empty")
	}
	if c.Pending != c.ID.IsPending() {
		return fmt.Errorf("comment %s: pending flag does not match id kind", c.ID)
	}
	if err := c.Key().Validate(); err != nil {
		return fmt.Errorf("comment %s: %w", c.ID, err)
	}
	if strings.TrimSpace(c.Body) == "" {
		return fmt.Errorf("comment %s: body cannot be empty", c.ID)
	}
	if c.ParentID != nil && *c.ParentID <= 0 {
		return fmt.Errorf("comment %s: parent id must be positive", c.ID)
	}
	return nil
}

// Clone returns a copy that shares no pointers with c.
func (c Comment) Clone() Comment {
	if c.ParentID != nil {
		parent := *c.ParentID
		c.ParentID = &parent
	}
	return c
}

// EventKind is the kind of change carried by a push event.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
)

// Validate checks if the EventKind is a valid enum value.
func (k EventKind) Validate() error {
	switch k {
	case EventCreated, EventUpdated, EventDeleted:
		return nil
	default:
		return fmt.Errorf("unknown event kind: %q", k)
	}
}

// Event is a push notification about one comment in one project.
type Event struct {
	Kind      EventKind `json:"kind"`
	ProjectID string    `json:"project_id"`
	Comment   Comment   `json:"comment"`
}

// Key returns the thread the event refers to.
func (e Event) Key() Key {
	return Key{ProjectID: e.ProjectID, Context: e.Comment.Context}
}

// Int64Ptr is a small helper for building optional parent ids.
func Int64Ptr(v int64) *int64 {
	return &v
}
