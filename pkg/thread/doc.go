// Package thread provides the domain types, tree builder and Redis schema
// shared by every part of threadsync.
//
// # Overview
//
// A thread is the ordered list of comments attached to one resource (a task,
// a bill of quantities, or the project itself) inside a project. Threads are
// addressed by a Key: the project id plus a Context (type, id). Key is a
// plain comparable struct, so it is used directly as a map key.
//
// # Comment identity
//
// A comment is either confirmed, with a durable integer id assigned by the
// server, or pending, with a locally generated tag. CommentID models this as
// a sum type:
//
//	id := thread.NewPendingID()      // "pending-<uuid>"
//	id = thread.ConfirmedID(42)      // durable
//	if n, ok := id.Durable(); ok {
//		// confirmed
//	}
//
// Parent ids are durable-only. A reply to a comment that is still pending is
// not expressible; it renders as top-level until its parent is confirmed.
//
// # Rendering
//
// BuildTree turns a flat list into top-level comments and per-parent reply
// groups. It is pure and preserves the input order.
//
// # Redis Schema
//
// Comments: threads:{namespace}:comment:{id}
// Thread index: threads:{namespace}:thread:{project}:{context_type}:{context_id}
// Id sequence: threads:{namespace}:comment_seq
// Users: threads:{namespace}:user:{user_id}
// Project members: threads:{namespace}:project:{project}:members
//
// Pub/Sub channels (one room per project):
//
// Project events: threads:{namespace}:project:{project}:events
package thread
