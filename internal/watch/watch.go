package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/baduk1/threadsync/internal/commentsync"
	"github.com/baduk1/threadsync/internal/format"
	"github.com/baduk1/threadsync/pkg/thread"
)

// PollInterval is how often WaitForComment refetches the thread.
const PollInterval = 200 * time.Millisecond

// StreamEvents joins projectID's room on conn and writes every event to w
// until ctx is cancelled or the connection closes. When only is non-nil,
// events for other threads are skipped. Returns the number of events
// written.
func StreamEvents(ctx context.Context, conn commentsync.Conn, projectID string, only *thread.Key, w io.Writer) (int, error) {
	if err := conn.Join(ctx, projectID); err != nil {
		return 0, fmt.Errorf("failed to join project %s: %w", projectID, err)
	}

	written := 0
	events := conn.Events()
	for {
		select {
		case <-ctx.Done():
			return written, nil

		case event, ok := <-events:
			if !ok {
				return written, fmt.Errorf("event stream closed")
			}
			if event.ProjectID != projectID {
				continue
			}
			if only != nil && event.Key() != *only {
				continue
			}
			format.FormatEvent(w, event)
			written++
		}
	}
}

// WaitForComment polls a thread until a confirmed comment matching match
// shows up, or the timeout expires.
func WaitForComment(ctx context.Context, backend commentsync.Backend, key thread.Key, match func(thread.Comment) bool, timeout time.Duration) (*thread.Comment, error) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for comment on %s after %v", key, timeout)

		case <-ticker.C:
			comments, err := backend.FetchComments(ctx, key)
			if err != nil {
				var netErr *thread.NetworkError
				if errors.As(err, &netErr) {
					// Transient, keep polling
					continue
				}
				return nil, fmt.Errorf("failed to fetch comments: %w", err)
			}

			for _, c := range comments {
				if !c.Pending && match(c) {
					found := c
					return &found, nil
				}
			}
		}
	}
}
