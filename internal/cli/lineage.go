package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/traceledger/internal/lineage"
)

// LineageOptions holds flags for the lineage command.
type LineageOptions struct {
	*RootOptions
	Downstream bool
	Depth      int
}

// NewLineageCommand creates the lineage command.
func NewLineageCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LineageOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "lineage <type/id@stage>",
		Short: "Show data lineage for a node",
		Long: `Show every upstream branch from the bronze origins to a node, with the
weakest quality score along the way. With --downstream, list the nodes that
consume it instead.

Examples:
  traceledger lineage batch_record/B-7@gold
  traceledger lineage raw_reading/RR-1@bronze --downstream --depth 4`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, rootOpts, func(ctx context.Context, l *ledger, out *OutputFormatter) error {
				return runLineage(ctx, opts, l, out, args[0])
			})
		},
	}

	cmd.Flags().BoolVar(&opts.Downstream, "downstream", false, "list consumers instead of sources")
	cmd.Flags().IntVar(&opts.Depth, "depth", 0, "maximum downstream hops (0 = configured limit)")

	return cmd
}

func runLineage(ctx context.Context, opts *LineageOptions, l *ledger, out *OutputFormatter, target string) error {
	node, err := parseNode(target)
	if err != nil {
		return out.Fail("lineage failed", err)
	}

	if opts.Downstream {
		res, err := l.lineage.Downstream(ctx, node, opts.Depth)
		if err != nil {
			return out.Fail("lineage failed", err)
		}
		return out.Success(res, func(w io.Writer) {
			fmt.Fprintf(w, "Downstream of %s: %d nodes\n", node, len(res.Affected))
			for _, a := range res.Affected {
				fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", a.Depth), a.Node)
			}
			printTruncation(w, res.CycleDetected, res.Truncated, res.TruncatedReason)
		})
	}

	path, err := l.lineage.GetLineagePath(ctx, node)
	if err != nil {
		return out.Fail("lineage failed", err)
	}
	return out.Success(path, func(w io.Writer) {
		fmt.Fprintf(w, "Lineage of %s: %d branches, quality %.2f\n", node, len(path.Branches), path.Quality)
		for i, b := range path.Branches {
			printBranch(w, i+1, b)
		}
		printTruncation(w, path.CycleDetected, path.Truncated, path.TruncatedReason)
	})
}

func printBranch(w io.Writer, n int, b lineage.Branch) {
	suffix := ""
	if b.Truncated {
		suffix = " [truncated]"
	}
	fmt.Fprintf(w, "  branch %d from %s (min quality %.2f)%s\n", n, b.Origin, b.MinQuality, suffix)
	for _, h := range b.Hops {
		flag := ""
		if h.StageRegression {
			flag = " [stage regression]"
		}
		fmt.Fprintf(w, "    %s -> %s  %s q=%.2f %s%s\n",
			h.From, h.To, h.TransformationType, h.QualityScore, h.ValidationStatus, flag)
	}
}

func printTruncation(w io.Writer, cycle, truncated bool, reason string) {
	if cycle {
		fmt.Fprintln(w, "cycle detected")
	}
	if truncated {
		fmt.Fprintf(w, "truncated: %s\n", reason)
	}
}
