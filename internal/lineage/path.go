package lineage

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/traceledger/internal/errs"
	"github.com/roach88/traceledger/internal/model"
	"github.com/roach88/traceledger/internal/traverse"
)

// Hop is one transformation on a lineage branch.
type Hop struct {
	EdgeID              string                 `json:"edge_id"`
	From                model.LineageNode      `json:"from"`
	To                  model.LineageNode      `json:"to"`
	TransformationType  string                 `json:"transformation_type"`
	TransformationLogic string                 `json:"transformation_logic,omitempty"`
	QualityScore        float64                `json:"quality_score"`
	ValidationStatus    model.ValidationStatus `json:"validation_status"`
	StageRegression     bool                   `json:"stage_regression"`
	Timestamp           time.Time              `json:"timestamp"`
}

func hopFrom(e model.LineageEdge) Hop {
	return Hop{
		EdgeID:              e.ID,
		From:                e.Source,
		To:                  e.Target,
		TransformationType:  e.TransformationType,
		TransformationLogic: e.TransformationLogic,
		QualityScore:        e.QualityScore,
		ValidationStatus:    e.ValidationStatus,
		StageRegression:     e.StageRegression,
		Timestamp:           e.Timestamp,
	}
}

// Branch is one route from an origin to the requested node, in
// transformation order. A Truncated branch stopped at the depth limit or a
// traversal budget, so its Origin still has upstream edges and is not a
// true origin.
type Branch struct {
	Origin        model.LineageNode `json:"origin"`
	Hops          []Hop             `json:"hops"`
	MinQuality    float64           `json:"min_quality"`
	CycleDetected bool              `json:"cycle_detected,omitempty"`
	Truncated     bool              `json:"truncated,omitempty"`
}

// truncatedMaxDepth is the Path.TruncatedReason when only the depth limit
// cut a branch short.
const truncatedMaxDepth = "max_depth"

// Path is the full upstream lineage of a node.
type Path struct {
	Node     model.LineageNode `json:"node"`
	Branches []Branch          `json:"branches"`

	// Quality is the weakest hop across every branch; 1 when the node has
	// no upstream.
	Quality float64 `json:"quality"`

	// Sources lists the distinct bronze origins.
	Sources []model.LineageNode `json:"sources"`

	CycleDetected   bool   `json:"cycle_detected"`
	Truncated       bool   `json:"truncated"`
	TruncatedReason string `json:"truncated_reason,omitempty"`
}

// GetLineagePath walks upstream from node to every origin. Each distinct
// route becomes a branch, so fan-in produces several branches. Branches cut
// short are flagged Truncated and their origins are left out of Sources. A
// node with no edges in either direction returns errs.ErrNotFound.
func (t *Tracker) GetLineagePath(ctx context.Context, node model.LineageNode) (*Path, error) {
	if err := validateNode("node", node); err != nil {
		return nil, err
	}

	upstream := func(ctx context.Context, n model.LineageNode) ([]traverse.Edge[model.LineageNode, model.LineageEdge], error) {
		edges, err := t.store.LineageEdgesInto(ctx, n)
		if err != nil {
			return nil, err
		}
		out := make([]traverse.Edge[model.LineageNode, model.LineageEdge], len(edges))
		for i, e := range edges {
			out[i] = traverse.Edge[model.LineageNode, model.LineageEdge]{ID: e.ID, To: e.Source, Meta: e}
		}
		return out, nil
	}

	res, err := traverse.Walk(ctx, node, upstream, traverse.Options{
		MaxDepth: t.opts.MaxDepth,
		MaxNodes: t.opts.MaxNodes,
		Timeout:  t.opts.Timeout,
		Scope:    traverse.ScopePath,
	})
	if err != nil {
		return nil, fmt.Errorf("lineage of %s: %w", node, err)
	}

	if res.Root.Leaf() {
		down, err := t.store.LineageEdgesFrom(ctx, node)
		if err != nil {
			return nil, fmt.Errorf("lineage of %s: %w", node, err)
		}
		if len(down) == 0 {
			return nil, errs.NotFound("lineage node", node.String())
		}
	}

	path := &Path{
		Node:            node,
		Branches:        []Branch{},
		Quality:         1,
		Sources:         []model.LineageNode{},
		CycleDetected:   res.CycleDetected,
		Truncated:       res.Truncated,
		TruncatedReason: string(res.TruncatedReason),
	}
	t.recordTruncation("lineage", res.Truncated, res.TruncatedReason)

	if res.Root.Leaf() && node.Stage == model.StageBronze {
		path.Sources = append(path.Sources, node)
	}

	seenSource := map[model.LineageNode]bool{}
	for _, leaf := range res.Flatten() {
		if !leaf.Leaf() {
			continue
		}
		branch := Branch{Origin: leaf.Key, MinQuality: 1, CycleDetected: leaf.CycleDetected}
		if !leaf.CycleDetected && (res.Truncated || leaf.Depth >= t.opts.MaxDepth) {
			up, err := t.store.LineageEdgesInto(ctx, leaf.Key)
			if err != nil {
				return nil, fmt.Errorf("lineage of %s: %w", node, err)
			}
			branch.Truncated = len(up) > 0
		}
		if branch.Truncated && !path.Truncated {
			path.Truncated = true
			path.TruncatedReason = truncatedMaxDepth
		}
		// Walking parent pointers from the leaf yields hops in
		// transformation order.
		for n := leaf; n.Via != nil; n = n.Parent {
			hop := hopFrom(n.Via.Meta)
			branch.Hops = append(branch.Hops, hop)
			if hop.QualityScore < branch.MinQuality {
				branch.MinQuality = hop.QualityScore
			}
		}
		if branch.MinQuality < path.Quality {
			path.Quality = branch.MinQuality
		}
		path.Branches = append(path.Branches, branch)

		if !leaf.CycleDetected && !branch.Truncated && leaf.Key.Stage == model.StageBronze && !seenSource[leaf.Key] {
			seenSource[leaf.Key] = true
			path.Sources = append(path.Sources, leaf.Key)
		}
	}
	return path, nil
}

// Affected is a node reachable downstream.
type Affected struct {
	Node  model.LineageNode `json:"node"`
	Depth int               `json:"depth"`
	Via   string            `json:"via_edge"`
}

// DownstreamResult lists what consumes a node, directly or indirectly.
type DownstreamResult struct {
	Node            model.LineageNode `json:"node"`
	Affected        []Affected        `json:"affected"`
	CycleDetected   bool              `json:"cycle_detected"`
	Truncated       bool              `json:"truncated"`
	TruncatedReason string            `json:"truncated_reason,omitempty"`
}

// Downstream walks forward from node up to maxDepth hops; zero means the
// tracker's depth limit. Each reachable node is listed once, at its
// shallowest depth.
func (t *Tracker) Downstream(ctx context.Context, node model.LineageNode, maxDepth int) (*DownstreamResult, error) {
	if err := validateNode("node", node); err != nil {
		return nil, err
	}
	if maxDepth < 0 || maxDepth > t.opts.MaxDepth {
		return nil, errs.ValidationField("max_depth", "max depth must be between 1 and %d, got %d", t.opts.MaxDepth, maxDepth)
	}
	if maxDepth == 0 {
		maxDepth = t.opts.MaxDepth
	}

	downstream := func(ctx context.Context, n model.LineageNode) ([]traverse.Edge[model.LineageNode, model.LineageEdge], error) {
		edges, err := t.store.LineageEdgesFrom(ctx, n)
		if err != nil {
			return nil, err
		}
		out := make([]traverse.Edge[model.LineageNode, model.LineageEdge], len(edges))
		for i, e := range edges {
			out[i] = traverse.Edge[model.LineageNode, model.LineageEdge]{ID: e.ID, To: e.Target, Meta: e}
		}
		return out, nil
	}

	res, err := traverse.Walk(ctx, node, downstream, traverse.Options{
		MaxDepth: maxDepth,
		MaxNodes: t.opts.MaxNodes,
		Timeout:  t.opts.Timeout,
		Scope:    traverse.ScopeGlobal,
	})
	if err != nil {
		return nil, fmt.Errorf("downstream of %s: %w", node, err)
	}
	t.recordTruncation("downstream", res.Truncated, res.TruncatedReason)

	out := &DownstreamResult{
		Node:            node,
		Affected:        []Affected{},
		CycleDetected:   res.CycleDetected,
		Truncated:       res.Truncated,
		TruncatedReason: string(res.TruncatedReason),
	}
	seen := map[model.LineageNode]bool{node: true}
	for _, n := range res.Flatten() {
		if seen[n.Key] {
			continue
		}
		seen[n.Key] = true
		out.Affected = append(out.Affected, Affected{Node: n.Key, Depth: n.Depth, Via: n.Via.ID})
	}
	return out, nil
}

func (t *Tracker) recordTruncation(kind string, truncated bool, reason traverse.TruncationReason) {
	if truncated {
		t.metrics.TraversalsTruncated.WithLabelValues(kind, string(reason)).Inc()
	}
}
