package thread

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced so several deployments
// can share one Redis server without seeing each other's threads or events.
//
// Key pattern: threads:{namespace}:{entity}:{id}
// Channel pattern: threads:{namespace}:project:{project_id}:events

// CommentKey returns the Redis key for a comment hash.
// Pattern: threads:{namespace}:comment:{comment_id}
func CommentKey(namespace string, commentID int64) string {
	return fmt.Sprintf("threads:%s:comment:%d", namespace, commentID)
}

// ThreadIndexKey returns the Redis key for the ZSET listing one thread's
// comment ids, scored by id.
// Pattern: threads:{namespace}:thread:{project_id}:{context_type}:{context_id}
func ThreadIndexKey(namespace string, key Key) string {
	return fmt.Sprintf("threads:%s:thread:%s:%s:%s", namespace, key.ProjectID, key.Context.Type, key.Context.ID)
}

// CommentSequenceKey returns the counter used to allocate durable comment ids.
// Pattern: threads:{namespace}:comment_seq
func CommentSequenceKey(namespace string) string {
	return fmt.Sprintf("threads:%s:comment_seq", namespace)
}

// UserKey returns the Redis key for a user hash.
// Pattern: threads:{namespace}:user:{user_id}
func UserKey(namespace, userID string) string {
	return fmt.Sprintf("threads:%s:user:%s", namespace, userID)
}

// ProjectMembersKey returns the SET of user ids allowed to comment in a project.
// Pattern: threads:{namespace}:project:{project_id}:members
func ProjectMembersKey(namespace, projectID string) string {
	return fmt.Sprintf("threads:%s:project:%s:members", namespace, projectID)
}

// ProjectEventsChannel returns the Pub/Sub channel ("room") for a project.
// Pattern: threads:{namespace}:project:{project_id}:events
func ProjectEventsChannel(namespace, projectID string) string {
	return fmt.Sprintf("threads:%s:project:%s:events", namespace, projectID)
}
