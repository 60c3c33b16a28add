package graph

import (
	"context"

	"github.com/roach88/traceledger/internal/errs"
	"github.com/roach88/traceledger/internal/model"
	"github.com/roach88/traceledger/internal/traverse"
)

// Direction is the way a trace follows links.
type Direction string

const (
	Forward  Direction = "forward"
	Backward Direction = "backward"
)

// TraceNode is one entity in a trace tree. The link fields describe the
// link that led here and are empty on the root.
//
// CycleDetected marks a link back to an ancestor on the current path.
// Revisited marks an entity already reached along another path, as in a
// diamond where two branches meet; a diamond is not reported as a cycle.
// Neither kind of node is expanded further, so its Children are empty.
type TraceNode struct {
	Entity        model.EntityRef `json:"entity"`
	Depth         int             `json:"depth"`
	LinkID        string          `json:"link_id,omitempty"`
	LinkType      model.LinkType  `json:"link_type,omitempty"`
	Description   string          `json:"description,omitempty"`
	CycleDetected bool            `json:"cycle_detected,omitempty"`
	Revisited     bool            `json:"revisited,omitempty"`
	Children      []*TraceNode    `json:"children"`
}

// TraceResult is a forward or backward trace. Found is false when no link,
// active or inactive, has ever touched the root entity; the tree is then the
// bare root.
type TraceResult struct {
	Root            *TraceNode `json:"root"`
	Found           bool       `json:"found"`
	Direction       Direction  `json:"direction"`
	MaxDepth        int        `json:"max_depth"`
	NodeCount       int        `json:"node_count"`
	CycleDetected   bool       `json:"cycle_detected"`
	Truncated       bool       `json:"truncated"`
	TruncatedReason string     `json:"truncated_reason,omitempty"`
}

// Contains reports whether ref appears anywhere in the trace below the root.
func (r *TraceResult) Contains(ref model.EntityRef) bool {
	var found bool
	r.Root.each(func(n *TraceNode) {
		if n != r.Root && n.Entity == ref {
			found = true
		}
	})
	return found
}

func (n *TraceNode) each(fn func(*TraceNode)) {
	fn(n)
	for _, c := range n.Children {
		c.each(fn)
	}
}

// ForwardTrace follows active links from entity to what it points at, up to
// maxDepth hops.
func (s *Service) ForwardTrace(ctx context.Context, entity model.EntityRef, maxDepth int) (*TraceResult, error) {
	return s.trace(ctx, entity, Forward, maxDepth)
}

// BackwardTrace follows active links into entity, up to maxDepth hops.
func (s *Service) BackwardTrace(ctx context.Context, entity model.EntityRef, maxDepth int) (*TraceResult, error) {
	return s.trace(ctx, entity, Backward, maxDepth)
}

func (s *Service) trace(ctx context.Context, entity model.EntityRef, dir Direction, maxDepth int) (*TraceResult, error) {
	if entity.IsZero() {
		return nil, errs.Validation("entity type and id are required")
	}
	if err := s.checkDepth(maxDepth); err != nil {
		return nil, err
	}

	res, err := s.walk(ctx, entity, dir, maxDepth)
	if err != nil {
		return nil, err
	}
	found, err := s.known(ctx, entity)
	if err != nil {
		return nil, err
	}
	return &TraceResult{
		Root:            convert(res.Root),
		Found:           found,
		Direction:       dir,
		MaxDepth:        maxDepth,
		NodeCount:       res.Nodes,
		CycleDetected:   res.CycleDetected,
		Truncated:       res.Truncated,
		TruncatedReason: string(res.TruncatedReason),
	}, nil
}

func convert(n *traverse.Node[model.EntityRef, model.TraceabilityLink]) *TraceNode {
	out := &TraceNode{
		Entity:        n.Key,
		Depth:         n.Depth,
		CycleDetected: n.CycleDetected,
		Revisited:     n.Revisited,
		Children:      make([]*TraceNode, 0, len(n.Children)),
	}
	if n.Via != nil {
		out.LinkID = n.Via.Meta.ID
		out.LinkType = n.Via.Meta.LinkType
		out.Description = n.Via.Meta.Description
	}
	for _, c := range n.Children {
		out.Children = append(out.Children, convert(c))
	}
	return out
}
