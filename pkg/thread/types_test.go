package thread

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func validComment() *Comment {
	now := time.Now().UTC()
	return &Comment{
		ID:        ConfirmedID(1),
		ProjectID: "proj-1",
		Context:   Context{Type: ContextTask, ID: "t-42"},
		Body:      "A",
		Author:    Author{ID: "u-1", DisplayName: "Ada"},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TestCommentValidate_Valid tests that a confirmed comment passes validation
func TestCommentValidate_Valid(t *testing.T) {
	if err := validComment().Validate(); err != nil {
		t.Errorf("valid comment failed validation: %v", err)
	}
}

// TestCommentValidate_Pending tests that pending comments must carry a pending id
func TestCommentValidate_Pending(t *testing.T) {
	c := validComment()
	c.ID = NewPendingID()
	c.Pending = true
	if err := c.Validate(); err != nil {
		t.Errorf("pending comment failed validation: %v", err)
	}

	c.Pending = false
	if err := c.Validate(); err == nil {
		t.Error("expected validation to fail when pending flag disagrees with id")
	}
}

func TestCommentValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Comment)
	}{
		{"zero id", func(c *Comment) { c.ID = CommentID{} }},
		{"empty project", func(c *Comment) { c.ProjectID = "" }},
		{"unknown context type", func(c *Comment) { c.Context.Type = "invoice" }},
		{"empty context id", func(c *Comment) { c.Context.ID = " " }},
		{"blank body", func(c *Comment) { c.Body = " \n\t" }},
		{"non-positive parent", func(c *Comment) { c.ParentID = Int64Ptr(0) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validComment()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Errorf("expected validation to fail for %s", tt.name)
			}
		})
	}
}

func TestCommentIDKinds(t *testing.T) {
	confirmed := ConfirmedID(7)
	if confirmed.IsPending() {
		t.Error("confirmed id reported as pending")
	}
	if n, ok := confirmed.Durable(); !ok || n != 7 {
		t.Errorf("Durable() = %d, %v; expected 7, true", n, ok)
	}
	if _, ok := confirmed.Tag(); ok {
		t.Error("confirmed id should not expose a tag")
	}

	pending := NewPendingID()
	if !pending.IsPending() {
		t.Error("pending id not reported as pending")
	}
	if _, ok := pending.Durable(); ok {
		t.Error("pending id should not expose a durable id")
	}
	tag, ok := pending.Tag()
	if !ok || !strings.HasPrefix(tag, "pending-") {
		t.Errorf("Tag() = %q, %v; expected pending- prefix", tag, ok)
	}
	if NewPendingID() == pending {
		t.Error("pending ids should be unique")
	}
	if !(CommentID{}).IsZero() {
		t.Error("zero value should report IsZero")
	}
}

func TestCommentIDJSON(t *testing.T) {
	data, err := json.Marshal(ConfirmedID(12))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "12" {
		t.Errorf("confirmed id marshalled as %s, expected 12", data)
	}

	pending := PendingID("pending-abc")
	data, err = json.Marshal(pending)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `"pending-abc"` {
		t.Errorf("pending id marshalled as %s", data)
	}

	var decoded CommentID
	if err := json.Unmarshal([]byte(`"pending-abc"`), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded != pending {
		t.Errorf("decoded %v, expected %v", decoded, pending)
	}

	if err := json.Unmarshal([]byte(`"31"`), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded != ConfirmedID(31) {
		t.Errorf("numeric string decoded as %v, expected confirmed 31", decoded)
	}

	if err := json.Unmarshal([]byte(`{}`), &decoded); err == nil {
		t.Error("expected object to be rejected as comment id")
	}
}

func TestParseCommentID(t *testing.T) {
	id, err := ParseCommentID("5")
	if err != nil || id != ConfirmedID(5) {
		t.Errorf("ParseCommentID(5) = %v, %v", id, err)
	}
	id, err = ParseCommentID("pending-x")
	if err != nil || !id.IsPending() {
		t.Errorf("ParseCommentID(pending-x) = %v, %v", id, err)
	}
	if _, err := ParseCommentID(""); err == nil {
		t.Error("expected empty id to fail")
	}
	if _, err := ParseCommentID("-3"); err == nil {
		t.Error("expected negative id to fail")
	}
}

func TestKeyEquality(t *testing.T) {
	a := NewKey("proj-1", ContextTask, "t-42")
	b := Key{ProjectID: "proj-1", Context: Context{Type: ContextTask, ID: "t-42"}}
	if a != b {
		t.Error("keys built from the same parts should be equal")
	}
	if a == NewKey("proj-1", ContextBOQ, "t-42") {
		t.Error("keys with different context types should differ")
	}

	m := map[Key]int{a: 1}
	if m[b] != 1 {
		t.Error("equal keys should address the same map slot")
	}
	if a.String() != "proj-1:task/t-42" {
		t.Errorf("Key.String() = %q", a.String())
	}
}

func TestEventKey(t *testing.T) {
	c := validComment()
	ev := Event{Kind: EventCreated, ProjectID: "proj-1", Comment: *c}
	if ev.Key() != c.Key() {
		t.Errorf("event key %v does not match comment key %v", ev.Key(), c.Key())
	}
	if err := EventKind("moved").Validate(); err == nil {
		t.Error("expected unknown event kind to fail validation")
	}
}

func TestCommentClone(t *testing.T) {
	c := validComment()
	c.ParentID = Int64Ptr(3)
	clone := c.Clone()
	*clone.ParentID = 9
	if *c.ParentID != 3 {
		t.Error("clone shares parent pointer with original")
	}
}
