package format

import (
	"fmt"
	"time"

	"github.com/baduk1/threadsync/pkg/thread"
)

// Filter narrows the comments shown by `threads show`. All criteria are
// ANDed; zero values match everything.
type Filter struct {
	Since  time.Time
	Until  time.Time
	Author string // author id or display name
}

// ParseTime accepts a duration relative to now ("1h30m") or an RFC3339
// timestamp.
func ParseTime(spec string, now time.Time) (time.Time, error) {
	if spec == "" {
		return time.Time{}, fmt.Errorf("empty time specification")
	}

	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		return t, nil
	}

	if d, err := time.ParseDuration(spec); err == nil {
		return now.Add(-d), nil
	}

	return time.Time{}, fmt.Errorf("invalid time specification: %s (use duration like '1h30m' or RFC3339 like '2025-10-29T13:00:00Z')", spec)
}

// ParseFilter builds a filter from --since, --until and --author.
func ParseFilter(since, until, author string, now time.Time) (*Filter, error) {
	f := &Filter{Author: author}
	var err error

	if since != "" {
		if f.Since, err = ParseTime(since, now); err != nil {
			return nil, fmt.Errorf("invalid --since: %w", err)
		}
	}
	if until != "" {
		if f.Until, err = ParseTime(until, now); err != nil {
			return nil, fmt.Errorf("invalid --until: %w", err)
		}
	}

	if !f.Since.IsZero() && !f.Until.IsZero() && !f.Since.Before(f.Until) {
		return nil, fmt.Errorf("--since must be before --until")
	}
	return f, nil
}

// Matches reports whether c passes every criterion.
func (f *Filter) Matches(c thread.Comment) bool {
	if f == nil {
		return true
	}
	if !f.Since.IsZero() && c.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && c.CreatedAt.After(f.Until) {
		return false
	}
	if f.Author != "" && c.Author.ID != f.Author && c.Author.DisplayName != f.Author {
		return false
	}
	return true
}

// Apply returns the matching comments in their original order.
func (f *Filter) Apply(comments []thread.Comment) []thread.Comment {
	if f == nil {
		return comments
	}
	out := make([]thread.Comment, 0, len(comments))
	for _, c := range comments {
		if f.Matches(c) {
			out = append(out, c)
		}
	}
	return out
}
