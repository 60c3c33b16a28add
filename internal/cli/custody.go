package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// NewCustodyCommand creates the custody command.
func NewCustodyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "custody <type/id>",
		Short: "Show the chain of custody for an item",
		Long: `List every custody transfer for a physical item in order, with the current
holder and whether each transfer continues the one before it.

Examples:
  traceledger custody sample/S-42`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, rootOpts, func(ctx context.Context, l *ledger, out *OutputFormatter) error {
				return runCustody(ctx, l, out, args[0])
			})
		},
	}
}

func runCustody(ctx context.Context, l *ledger, out *OutputFormatter, target string) error {
	ref, err := parseRef(target)
	if err != nil {
		return out.Fail("custody lookup failed", err)
	}
	chain, err := l.custody.GetChain(ctx, ref)
	if err != nil {
		return out.Fail("custody lookup failed", err)
	}

	return out.Success(chain, func(w io.Writer) {
		fmt.Fprintf(w, "%s held by %s at %s\n", ref, chain.CurrentHolder, chain.CurrentLocation)
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "#\tTIME\tEVENT\tFROM\tTO\tLOCATION\tOK")
		for _, e := range chain.Events {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%t\n",
				e.Position, e.Timestamp.Format(time.RFC3339), e.EventType, e.FromActor, e.ToActor, e.ToLocation, e.ContinuityHeld)
		}
		tw.Flush()
		if chain.Disposed {
			fmt.Fprintln(w, "Item disposed")
		}
		if !chain.ContinuityIntact {
			fmt.Fprintln(w, "Continuity broken")
		}
	})
}
