package format

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baduk1/threadsync/pkg/thread"
)

var (
	taskKey = thread.NewKey("proj-1", thread.ContextTask, "t-42")
	now     = time.Date(2025, 10, 29, 13, 0, 0, 0, time.UTC)
	ada     = thread.Author{ID: "u-1", DisplayName: "Ada"}
)

func comment(id int64, body string, parent *int64, age time.Duration) thread.Comment {
	return thread.Comment{
		ID:        thread.ConfirmedID(id),
		ProjectID: taskKey.ProjectID,
		Context:   taskKey.Context,
		Body:      body,
		Author:    ada,
		ParentID:  parent,
		CreatedAt: now.Add(-age),
		UpdatedAt: now.Add(-age),
	}
}

func TestFormatBody(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{name: "empty body", body: "", expected: "-"},
		{name: "short single line", body: "looks good", expected: "looks good"},
		{name: "exactly 60 chars", body: strings.Repeat("a", 60), expected: strings.Repeat("a", 60)},
		{name: "61 chars - should truncate", body: strings.Repeat("a", 61), expected: strings.Repeat("a", 57) + "..."},
		{name: "multi-line body - first line only", body: "First line\nSecond line", expected: "First line"},
		{name: "body with leading/trailing whitespace", body: "  \n  hello world  \n  ", expected: "hello world"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatBody(tt.body))
		})
	}
}

func TestFormatTimestamp(t *testing.T) {
	assert.Equal(t, "-", formatTimestamp(time.Time{}, now))
	assert.Equal(t, "5s ago", formatTimestamp(now.Add(-5*time.Second), now))
	assert.Equal(t, "3m ago", formatTimestamp(now.Add(-3*time.Minute), now))
	assert.Equal(t, "2h ago", formatTimestamp(now.Add(-2*time.Hour), now))
	assert.Equal(t, "4d ago", formatTimestamp(now.Add(-96*time.Hour), now))
	assert.Equal(t, "0s ago", formatTimestamp(now.Add(time.Minute), now), "clock skew never goes negative")
}

func TestFormatID(t *testing.T) {
	assert.Equal(t, "#12", formatID(thread.ConfirmedID(12)))
	assert.Equal(t, "pending", formatID(thread.NewPendingID()))
	assert.Equal(t, "-", formatID(thread.CommentID{}))
}

func TestFormatTree(t *testing.T) {
	t.Run("empty thread", func(t *testing.T) {
		var buf bytes.Buffer
		n := FormatTree(&buf, taskKey, thread.BuildTree(nil), now)
		assert.Equal(t, 0, n)
		assert.Equal(t, "No comments on proj-1:task/t-42\n", buf.String())
	})

	t.Run("replies are indented", func(t *testing.T) {
		comments := []thread.Comment{
			comment(2, "reply", thread.Int64Ptr(1), time.Minute),
			comment(1, "question", nil, time.Hour),
		}

		var buf bytes.Buffer
		n := FormatTree(&buf, taskKey, thread.BuildTree(comments), now)
		require.Equal(t, 2, n)

		out := buf.String()
		assert.Contains(t, out, "Thread proj-1:task/t-42:")
		assert.Contains(t, out, "#1       Ada              1h ago\n    question\n")
		assert.Contains(t, out, "    #2       Ada              1m ago\n        reply\n")
		assert.Contains(t, out, "2 comments")
	})
}

func TestFormatJSONL(t *testing.T) {
	comments := []thread.Comment{comment(2, "b", nil, 0), comment(1, "a", nil, 0)}

	var buf bytes.Buffer
	require.NoError(t, FormatJSONL(&buf, comments))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var decoded thread.Comment
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &decoded))
	assert.Equal(t, thread.ConfirmedID(2), decoded.ID)
}

func TestFormatEvent(t *testing.T) {
	var buf bytes.Buffer
	FormatEvent(&buf, thread.Event{Kind: thread.EventCreated, ProjectID: "proj-1", Comment: comment(7, "hi\nthere", nil, 0)})

	out := buf.String()
	assert.Contains(t, out, "created proj-1:task/t-42 #7 by Ada: hi\n")
}

func TestParseOutputFormat(t *testing.T) {
	f, err := ParseOutputFormat("jsonl")
	require.NoError(t, err)
	assert.Equal(t, OutputFormatJSONL, f)

	_, err = ParseOutputFormat("table")
	assert.Error(t, err)
}
