package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/traceledger/internal/errs"
	"github.com/roach88/traceledger/internal/graph"
	"github.com/roach88/traceledger/internal/model"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Direction string
	Depth     int
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace <type/id>",
		Short: "Trace linked entities",
		Long: `Walk the traceability graph from an entity.

Directions:
  forward    entities this one links to (children)
  backward   entities linking to this one (parents)
  both       active links in and out, one hop

Examples:
  traceledger trace requirement/R-1 --depth 5
  traceledger trace test/T-9 --direction backward`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, rootOpts, func(ctx context.Context, l *ledger, out *OutputFormatter) error {
				return runTrace(ctx, opts, l, out, args[0])
			})
		},
	}

	cmd.Flags().StringVar(&opts.Direction, "direction", "forward", "forward, backward or both")
	cmd.Flags().IntVar(&opts.Depth, "depth", 3, "maximum hops")

	return cmd
}

func runTrace(ctx context.Context, opts *TraceOptions, l *ledger, out *OutputFormatter, target string) error {
	ref, err := parseRef(target)
	if err != nil {
		return out.Fail("trace failed", err)
	}

	switch opts.Direction {
	case "both":
		n, err := l.graph.Bidirectional(ctx, ref)
		if err != nil {
			return out.Fail("trace failed", err)
		}
		return out.Success(n, func(w io.Writer) {
			fmt.Fprintf(w, "%s\n", ref)
			for _, link := range n.Outgoing {
				fmt.Fprintf(w, "  -> %s (%s)\n", link.Target, link.LinkType)
			}
			for _, link := range n.Incoming {
				fmt.Fprintf(w, "  <- %s (%s)\n", link.Source, link.LinkType)
			}
		})
	case "forward", "backward":
	default:
		return out.Fail("trace failed",
			errs.ValidationField("direction", "--direction must be forward, backward or both, got %q", opts.Direction))
	}

	var result *graph.TraceResult
	if opts.Direction == "forward" {
		result, err = l.graph.ForwardTrace(ctx, ref, opts.Depth)
	} else {
		result, err = l.graph.BackwardTrace(ctx, ref, opts.Depth)
	}
	if err != nil {
		return out.Fail("trace failed", err)
	}

	return out.Success(result, func(w io.Writer) {
		if !result.Found {
			fmt.Fprintf(w, "no links recorded for %s\n", ref)
			return
		}
		printTraceNode(w, result.Root)
		fmt.Fprintf(w, "\n%d entities", result.NodeCount)
		if result.CycleDetected {
			fmt.Fprint(w, ", cycle detected")
		}
		if result.Truncated {
			fmt.Fprintf(w, ", truncated (%s)", result.TruncatedReason)
		}
		fmt.Fprintln(w)
	})
}

func printTraceNode(w io.Writer, n *graph.TraceNode) {
	indent := strings.Repeat("  ", n.Depth)
	switch {
	case n.Depth == 0:
		fmt.Fprintf(w, "%s\n", n.Entity)
	case n.CycleDetected:
		fmt.Fprintf(w, "%s%s %s [cycle]\n", indent, n.LinkType, n.Entity)
	case n.Revisited:
		fmt.Fprintf(w, "%s%s %s [seen]\n", indent, n.LinkType, n.Entity)
	default:
		fmt.Fprintf(w, "%s%s %s\n", indent, n.LinkType, n.Entity)
	}
	for _, c := range n.Children {
		printTraceNode(w, c)
	}
}

// ImpactOptions holds flags for the impact command.
type ImpactOptions struct {
	*RootOptions
	Change string
}

// NewImpactCommand creates the impact command.
func NewImpactCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImpactOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "impact <type/id>",
		Short: "Assess what a change to an entity affects",
		Long: `List every entity reachable forward from the changed entity and grade the
scope (low, medium, high, critical) by how many there are.

Examples:
  traceledger impact specification/S-3 --change "tighten assay limit"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, rootOpts, func(ctx context.Context, l *ledger, out *OutputFormatter) error {
				return runImpact(ctx, opts, l, out, args[0])
			})
		},
	}

	cmd.Flags().StringVar(&opts.Change, "change", "", "description of the proposed change")

	return cmd
}

func runImpact(ctx context.Context, opts *ImpactOptions, l *ledger, out *OutputFormatter, target string) error {
	ref, err := parseRef(target)
	if err != nil {
		return out.Fail("impact analysis failed", err)
	}
	report, err := l.graph.ImpactAnalysis(ctx, ref, opts.Change)
	if err != nil {
		return out.Fail("impact analysis failed", err)
	}

	return out.Success(report, func(w io.Writer) {
		fmt.Fprintf(w, "Impact of change to %s: %s (%d affected)\n", ref, report.Scope, report.TotalAffected)
		for _, a := range report.Affected {
			fmt.Fprintf(w, "  depth %d  %s  via %s  (%s)\n", a.Depth, a.Entity, a.LinkType, joinRefs(a.Path))
		}
	})
}

func joinRefs(refs []model.EntityRef) string {
	parts := make([]string, len(refs))
	for i, r := range refs {
		parts[i] = r.String()
	}
	return strings.Join(parts, " -> ")
}
