// Package format renders threads and push events for the CLI.
package format

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/baduk1/threadsync/pkg/thread"
)

// OutputFormat specifies how a thread is written.
type OutputFormat string

const (
	// OutputFormatTree indents replies under their parents
	OutputFormatTree OutputFormat = "tree"

	// OutputFormatJSONL outputs complete comments as line-delimited JSON
	OutputFormatJSONL OutputFormat = "jsonl"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputFormatTree, OutputFormatJSONL:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("invalid output format %q (must be 'tree' or 'jsonl')", s)
	}
}

// Write renders comments in the requested format.
func Write(w io.Writer, key thread.Key, comments []thread.Comment, format OutputFormat, now time.Time) error {
	switch format {
	case OutputFormatJSONL:
		return FormatJSONL(w, comments)
	default:
		FormatTree(w, key, thread.BuildTree(comments), now)
		return nil
	}
}

// FormatTree writes a thread with replies indented under their parents.
// Returns the number of comments written.
func FormatTree(w io.Writer, key thread.Key, tree thread.Tree, now time.Time) int {
	total := tree.Len()
	if total == 0 {
		fmt.Fprintf(w, "No comments on %s\n", key)
		return 0
	}

	fmt.Fprintf(w, "Thread %s:\n\n", key)
	tree.Walk(func(depth int, c thread.Comment) bool {
		indent := strings.Repeat("    ", depth)
		fmt.Fprintf(w, "%s%-8s %-16s %s\n", indent, formatID(c.ID), formatAuthor(c.Author), formatTimestamp(c.CreatedAt, now))
		fmt.Fprintf(w, "%s    %s\n", indent, formatBody(c.Body))
		return true
	})

	countMsg := "comment"
	if total != 1 {
		countMsg = "comments"
	}
	fmt.Fprintf(w, "\n%d %s\n", total, countMsg)
	return total
}

// FormatJSONL writes comments as line-delimited JSON (JSONL) to the provided writer.
// Each comment is written as a single JSON object on its own line.
func FormatJSONL(w io.Writer, comments []thread.Comment) error {
	for _, c := range comments {
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal comment to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatEvent writes one push event as a single line.
func FormatEvent(w io.Writer, event thread.Event) {
	c := event.Comment
	fmt.Fprintf(w, "[%s] %-7s %s %s by %s: %s\n",
		c.UpdatedAt.Local().Format("15:04:05"),
		event.Kind,
		event.Key(),
		formatID(c.ID),
		formatAuthor(c.Author),
		formatBody(c.Body),
	)
}

// formatID shows durable ids as #n and pending ones as "pending".
func formatID(id thread.CommentID) string {
	if id.IsPending() {
		return "pending"
	}
	if n, ok := id.Durable(); ok {
		return fmt.Sprintf("#%d", n)
	}
	return "-"
}

func formatAuthor(a thread.Author) string {
	name := a.DisplayName
	if name == "" {
		name = a.ID
	}
	if name == "" {
		return "-"
	}
	if len(name) > 16 {
		return name[:13] + "..."
	}
	return name
}

// formatBody truncates a body to its first non-empty line, max 60 characters.
// Empty bodies return "-".
func formatBody(body string) string {
	var firstLine string
	for _, line := range strings.Split(body, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			firstLine = trimmed
			break
		}
	}
	if firstLine == "" {
		return "-"
	}

	if len(firstLine) > 60 {
		return firstLine[:57] + "..."
	}
	return firstLine
}

// formatTimestamp shows relative time like "2m ago", "1h ago", etc.
func formatTimestamp(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "-"
	}

	diff := now.Sub(t)
	if diff < 0 {
		diff = 0
	}

	if diff < time.Minute {
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	} else if diff < time.Hour {
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	} else if diff < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	} else {
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}
