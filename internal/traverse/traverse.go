// Package traverse is the cycle-safe, budgeted breadth-first walk shared by
// the traceability graph and the lineage tracker.
package traverse

import (
	"context"
	"errors"
	"time"
)

// VisitScope controls when a node counts as already visited.
type VisitScope string

const (
	// ScopeGlobal expands each node at most once per walk. A second arrival
	// at an expanded node that is not an ancestor is marked Revisited.
	ScopeGlobal VisitScope = "global"

	// ScopePath only refuses ancestors on the current path, so every
	// distinct path is enumerated. Used for lineage branch listing.
	ScopePath VisitScope = "path"
)

// TruncationReason says why a walk stopped early.
type TruncationReason string

const (
	TruncatedMaxNodes  TruncationReason = "max_nodes"
	TruncatedTimeout   TruncationReason = "timeout"
	TruncatedCancelled TruncationReason = "cancelled"
)

// Edge is one hop returned by a NeighborFunc.
type Edge[K comparable, M any] struct {
	ID   string
	To   K
	Meta M
}

// NeighborFunc lists the edges leaving key.
type NeighborFunc[K comparable, M any] func(ctx context.Context, key K) ([]Edge[K, M], error)

// Options bounds a walk. Zero values mean unlimited, except Scope which
// defaults to ScopeGlobal.
type Options struct {
	MaxDepth int
	MaxNodes int
	Timeout  time.Duration
	Scope    VisitScope
}

// Node is one position in the walk tree. Via is the edge that led here and
// is nil for the root.
type Node[K comparable, M any] struct {
	Key      K
	Depth    int
	Via      *Edge[K, M]
	Parent   *Node[K, M] `json:"-"`
	Children []*Node[K, M]

	// CycleDetected marks an edge back to an ancestor. The node is not
	// expanded.
	CycleDetected bool

	// Revisited marks a node already expanded elsewhere in the walk. The
	// node is not expanded again.
	Revisited bool
}

// Path returns the keys from the root to n.
func (n *Node[K, M]) Path() []K {
	var rev []K
	for cur := n; cur != nil; cur = cur.Parent {
		rev = append(rev, cur.Key)
	}
	path := make([]K, len(rev))
	for i, k := range rev {
		path[len(rev)-1-i] = k
	}
	return path
}

// Leaf reports whether n has no children.
func (n *Node[K, M]) Leaf() bool {
	return len(n.Children) == 0
}

func (n *Node[K, M]) hasAncestor(key K) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Key == key {
			return true
		}
	}
	return false
}

// Result is a walk tree plus bookkeeping.
type Result[K comparable, M any] struct {
	Root *Node[K, M]

	// Nodes counts every node in the tree, the root included.
	Nodes int

	// EdgesVisited counts the edges followed.
	EdgesVisited int

	// CycleDetected is true when any node in the tree has CycleDetected.
	CycleDetected bool

	Truncated       bool
	TruncatedReason TruncationReason
}

// Flatten returns every non-root node in breadth-first order.
func (r *Result[K, M]) Flatten() []*Node[K, M] {
	var out []*Node[K, M]
	if r.Root == nil {
		return out
	}
	queue := []*Node[K, M]{r.Root}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if n != r.Root {
			out = append(out, n)
		}
		queue = append(queue, n.Children...)
	}
	return out
}

type edgeKey[K comparable] struct {
	from K
	to   K
	id   string
}

// Walk runs a breadth-first traversal from root.
//
// Budget exhaustion (MaxNodes, Timeout, ctx cancellation) returns the
// partial tree with Truncated set and a nil error. Errors from neighbors
// other than cancellation are returned as is.
func Walk[K comparable, M any](ctx context.Context, root K, neighbors NeighborFunc[K, M], opts Options) (*Result[K, M], error) {
	if opts.Scope == "" {
		opts.Scope = ScopeGlobal
	}

	wctx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	res := &Result[K, M]{Root: &Node[K, M]{Key: root}, Nodes: 1}
	expanded := map[K]bool{root: true}
	seenEdges := map[edgeKey[K]]bool{}

	stop := func() bool {
		if err := wctx.Err(); err != nil {
			res.Truncated = true
			res.TruncatedReason = reasonFor(err)
			return true
		}
		return false
	}

	queue := []*Node[K, M]{res.Root}
	for len(queue) > 0 {
		if stop() {
			return res, nil
		}
		n := queue[0]
		queue = queue[1:]

		if opts.MaxDepth > 0 && n.Depth >= opts.MaxDepth {
			continue
		}

		edges, err := neighbors(wctx, n.Key)
		if err != nil {
			if wctx.Err() != nil {
				stop()
				return res, nil
			}
			return nil, err
		}

		for i := range edges {
			e := edges[i]
			if opts.Scope == ScopeGlobal {
				ek := edgeKey[K]{from: n.Key, to: e.To, id: e.ID}
				if seenEdges[ek] {
					continue
				}
				seenEdges[ek] = true
			}

			if opts.MaxNodes > 0 && res.Nodes >= opts.MaxNodes {
				res.Truncated = true
				res.TruncatedReason = TruncatedMaxNodes
				return res, nil
			}

			child := &Node[K, M]{Key: e.To, Depth: n.Depth + 1, Via: &e, Parent: n}
			n.Children = append(n.Children, child)
			res.Nodes++
			res.EdgesVisited++

			switch {
			case n.hasAncestor(e.To):
				child.CycleDetected = true
				res.CycleDetected = true
			case opts.Scope == ScopeGlobal && expanded[e.To]:
				child.Revisited = true
			default:
				expanded[e.To] = true
				queue = append(queue, child)
			}
		}
	}
	return res, nil
}

func reasonFor(err error) TruncationReason {
	if errors.Is(err, context.DeadlineExceeded) {
		return TruncatedTimeout
	}
	return TruncatedCancelled
}
