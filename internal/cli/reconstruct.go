package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/traceledger/internal/canon"
)

// ReconstructOptions holds flags for the reconstruct command.
type ReconstructOptions struct {
	*RootOptions
	At string
}

// NewReconstructCommand creates the reconstruct command.
func NewReconstructCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReconstructOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reconstruct <type/id>",
		Short: "Rebuild an entity's state at a point in time",
		Long: `Fold the entity's audit events up to a timestamp into its field values.

Examples:
  traceledger reconstruct document/100
  traceledger reconstruct document/100 --at 2026-03-01T12:00:00Z`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, rootOpts, func(ctx context.Context, l *ledger, out *OutputFormatter) error {
				return runReconstruct(ctx, opts, l, out, args[0])
			})
		},
	}

	cmd.Flags().StringVar(&opts.At, "at", "", "RFC 3339 point in time (default now)")

	return cmd
}

func runReconstruct(ctx context.Context, opts *ReconstructOptions, l *ledger, out *OutputFormatter, target string) error {
	ref, err := parseRef(target)
	if err != nil {
		return out.Fail("reconstruct failed", err)
	}
	at, err := parseTime("at", opts.At)
	if err != nil {
		return out.Fail("reconstruct failed", err)
	}
	var asOf time.Time
	if at != nil {
		asOf = *at
	}

	state, err := l.audit.ReconstructState(ctx, ref, asOf)
	if err != nil {
		return out.Fail("reconstruct failed", err)
	}
	return out.Success(state, func(w io.Writer) {
		fmt.Fprintf(w, "%s as of %s (%d events, last seq %d)\n",
			ref, state.AsOf.Format(time.RFC3339), state.EventCount, state.LastSequence)
		if !state.Exists {
			fmt.Fprintln(w, "Entity deleted")
			return
		}
		for _, k := range state.Fields.SortedKeys() {
			fmt.Fprintf(w, "  %s = %s\n", k, canon.MustMarshal(state.Fields[k]))
		}
	})
}
