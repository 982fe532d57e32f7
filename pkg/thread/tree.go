package thread

// Tree is the render-time shape of a thread: top-level comments plus the
// replies grouped under each durable parent id.
type Tree struct {
	TopLevel   []Comment
	ChildrenOf map[int64][]Comment
}

// BuildTree partitions a flat, ordered comment list into a Tree.
//
// Order is preserved in both partitions. A comment whose parent is not in
// the list (a partial refresh, a deleted parent) or points at itself is
// treated as top-level. Parent chains that loop back on themselves are cut
// at the member listed first, which becomes top-level, so every comment
// stays reachable. Parent ids are durable-only, so a reply can never hang
// off a pending comment. BuildTree keeps no state between calls.
func BuildTree(comments []Comment) Tree {
	present := make(map[int64]struct{}, len(comments))
	for _, c := range comments {
		if id, ok := c.ID.Durable(); ok {
			present[id] = struct{}{}
		}
	}

	tree := Tree{
		TopLevel:   make([]Comment, 0, len(comments)),
		ChildrenOf: make(map[int64][]Comment),
	}
	for _, c := range comments {
		if !attachable(c, present) {
			continue
		}
		parent := *c.ParentID
		tree.ChildrenOf[parent] = append(tree.ChildrenOf[parent], c)
	}

	reachable := make(map[int64]struct{}, len(comments))
	for _, c := range comments {
		if !attachable(c, present) {
			tree.markReachable(c, reachable)
		}
	}
	cut := make(map[int64]struct{})
	for _, c := range comments {
		id, ok := c.ID.Durable()
		if !ok || !attachable(c, present) {
			continue
		}
		if _, seen := reachable[id]; seen {
			continue
		}
		head := firstInCycle(comments, id)
		cut[head] = struct{}{}
		tree.detach(head)
		tree.markReachable(comments[position(comments, head)], reachable)
	}

	for _, c := range comments {
		id, durable := c.ID.Durable()
		_, wasCut := cut[id]
		if !attachable(c, present) || (durable && wasCut) {
			tree.TopLevel = append(tree.TopLevel, c)
		}
	}
	return tree
}

func (t Tree) markReachable(c Comment, reachable map[int64]struct{}) {
	id, ok := c.ID.Durable()
	if !ok {
		return
	}
	if _, seen := reachable[id]; seen {
		return
	}
	reachable[id] = struct{}{}
	for _, reply := range t.ChildrenOf[id] {
		t.markReachable(reply, reachable)
	}
}

// firstInCycle follows parent links up from an unreachable comment to the
// loop they must end in and returns the loop member listed first.
func firstInCycle(comments []Comment, from int64) int64 {
	parents := make(map[int64]int64, len(comments))
	for _, c := range comments {
		if id, ok := c.ID.Durable(); ok && c.ParentID != nil {
			parents[id] = *c.ParentID
		}
	}

	seen := make(map[int64]struct{})
	id := from
	for {
		if _, ok := seen[id]; ok {
			break
		}
		seen[id] = struct{}{}
		id = parents[id]
	}

	head, best := id, position(comments, id)
	for next := parents[id]; next != id; next = parents[next] {
		if pos := position(comments, next); pos < best {
			head, best = next, pos
		}
	}
	return head
}

func position(comments []Comment, id int64) int {
	for i, c := range comments {
		if d, ok := c.ID.Durable(); ok && d == id {
			return i
		}
	}
	return len(comments)
}

func (t Tree) detach(id int64) {
	for parent, siblings := range t.ChildrenOf {
		kept := siblings[:0]
		for _, s := range siblings {
			if d, ok := s.ID.Durable(); !ok || d != id {
				kept = append(kept, s)
			}
		}
		switch {
		case len(kept) == len(siblings):
		case len(kept) == 0:
			delete(t.ChildrenOf, parent)
		default:
			t.ChildrenOf[parent] = kept
		}
	}
}

func attachable(c Comment, present map[int64]struct{}) bool {
	if c.ParentID == nil {
		return false
	}
	if self, ok := c.ID.Durable(); ok && self == *c.ParentID {
		return false
	}
	_, ok := present[*c.ParentID]
	return ok
}

// Replies returns the direct replies to a comment, or nil for a pending one.
func (t Tree) Replies(c Comment) []Comment {
	id, ok := c.ID.Durable()
	if !ok {
		return nil
	}
	return t.ChildrenOf[id]
}

// Walk visits every reachable comment depth-first, top-level comments at
// depth 0. Returning false from fn stops the walk.
func (t Tree) Walk(fn func(depth int, c Comment) bool) {
	visited := make(map[int64]struct{})
	var visit func(depth int, c Comment) bool
	visit = func(depth int, c Comment) bool {
		if id, ok := c.ID.Durable(); ok {
			if _, seen := visited[id]; seen {
				return true
			}
			visited[id] = struct{}{}
		}
		if !fn(depth, c) {
			return false
		}
		for _, reply := range t.Replies(c) {
			if !visit(depth+1, reply) {
				return false
			}
		}
		return true
	}
	for _, c := range t.TopLevel {
		if !visit(0, c) {
			return
		}
	}
}

// Len counts the comments reachable from the top level.
func (t Tree) Len() int {
	n := 0
	t.Walk(func(int, Comment) bool {
		n++
		return true
	})
	return n
}
