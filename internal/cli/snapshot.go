package cli

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/traceledger/internal/canon"
	"github.com/roach88/traceledger/internal/errs"
	"github.com/roach88/traceledger/internal/model"
	"github.com/roach88/traceledger/internal/snapshot"
)

// SnapshotOptions holds flags shared by the snapshot subcommands.
type SnapshotOptions struct {
	*RootOptions
	Data    string
	Trigger string
	By      string
	Version int64
}

// NewSnapshotCommand creates the snapshot command group.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SnapshotOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Create, list and compare entity snapshots",
		Long: `Snapshots are versioned copies of an entity's state. Versions start at 1 and
increase by one per entity.

Examples:
  traceledger snapshot create document/100 --data '{"status":"approved"}' --trigger approval
  traceledger snapshot capture document/100 --trigger release
  traceledger snapshot list document/100
  traceledger snapshot compare document/100 1 2`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newSnapshotCreateCommand(opts))
	cmd.AddCommand(newSnapshotCaptureCommand(opts))
	cmd.AddCommand(newSnapshotListCommand(opts))
	cmd.AddCommand(newSnapshotShowCommand(opts))
	cmd.AddCommand(newSnapshotCompareCommand(opts))

	return cmd
}

func newSnapshotCreateCommand(opts *SnapshotOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "create <type/id>",
		Short:         "Store a snapshot of the given data",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, opts.RootOptions, func(ctx context.Context, l *ledger, out *OutputFormatter) error {
				ref, err := parseRef(args[0])
				if err != nil {
					return out.Fail("snapshot failed", err)
				}
				data, err := parseObject("data", opts.Data)
				if err != nil {
					return out.Fail("snapshot failed", err)
				}
				snap, err := l.snapshots.CreateSnapshot(ctx, ref, data, opts.Trigger, opts.By)
				if err != nil {
					return out.Fail("snapshot failed", err)
				}
				return out.Success(snap, snapshotCreated(snap))
			})
		},
	}
	cmd.Flags().StringVar(&opts.Data, "data", "", "entity state as a JSON object")
	cmd.Flags().StringVar(&opts.Trigger, "trigger", "", "what prompted the snapshot (required)")
	cmd.Flags().StringVar(&opts.By, "by", "", "creating user")
	return cmd
}

func newSnapshotCaptureCommand(opts *SnapshotOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "capture <type/id>",
		Short:         "Snapshot the state rebuilt from the audit log",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, opts.RootOptions, func(ctx context.Context, l *ledger, out *OutputFormatter) error {
				ref, err := parseRef(args[0])
				if err != nil {
					return out.Fail("capture failed", err)
				}
				snap, err := l.snapshots.Capture(ctx, ref, opts.Trigger, opts.By)
				if err != nil {
					return out.Fail("capture failed", err)
				}
				return out.Success(snap, snapshotCreated(snap))
			})
		},
	}
	cmd.Flags().StringVar(&opts.Trigger, "trigger", "", "what prompted the snapshot (required)")
	cmd.Flags().StringVar(&opts.By, "by", "", "creating user")
	return cmd
}

func snapshotCreated(snap model.Snapshot) func(io.Writer) {
	return func(w io.Writer) {
		fmt.Fprintf(w, "Created %s version %d (%s)\n", snap.Entity, snap.Version, snap.Trigger)
	}
}

func newSnapshotListCommand(opts *SnapshotOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list <type/id>",
		Short:         "List snapshot versions",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, opts.RootOptions, func(ctx context.Context, l *ledger, out *OutputFormatter) error {
				ref, err := parseRef(args[0])
				if err != nil {
					return out.Fail("list failed", err)
				}
				snaps, err := l.snapshots.ListVersions(ctx, ref)
				if err != nil {
					return out.Fail("list failed", err)
				}
				return out.Success(snaps, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "VERSION\tCREATED\tTRIGGER\tBY")
					for _, s := range snaps {
						fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", s.Version, s.CreatedAt.Format(time.RFC3339), s.Trigger, s.CreatedBy)
					}
					tw.Flush()
				})
			})
		},
	}
}

func newSnapshotShowCommand(opts *SnapshotOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "show <type/id>",
		Short:         "Show one snapshot (latest by default)",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, opts.RootOptions, func(ctx context.Context, l *ledger, out *OutputFormatter) error {
				ref, err := parseRef(args[0])
				if err != nil {
					return out.Fail("show failed", err)
				}
				var snap model.Snapshot
				if opts.Version == 0 {
					snap, err = l.snapshots.Latest(ctx, ref)
				} else {
					snap, err = l.snapshots.Get(ctx, ref, opts.Version)
				}
				if err != nil {
					return out.Fail("show failed", err)
				}
				return out.Success(snap, func(w io.Writer) {
					fmt.Fprintf(w, "%s version %d (%s)\n", snap.Entity, snap.Version, snap.Trigger)
					for _, k := range snap.Data.SortedKeys() {
						fmt.Fprintf(w, "  %s = %s\n", k, canon.MustMarshal(snap.Data[k]))
					}
				})
			})
		},
	}
	cmd.Flags().Int64Var(&opts.Version, "version", 0, "version to show (0 = latest)")
	return cmd
}

func newSnapshotCompareCommand(opts *SnapshotOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "compare <type/id> <v1> <v2>",
		Short:         "Diff two snapshot versions",
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, opts.RootOptions, func(ctx context.Context, l *ledger, out *OutputFormatter) error {
				ref, err := parseRef(args[0])
				if err != nil {
					return out.Fail("compare failed", err)
				}
				v1, err := parseVersion(args[1])
				if err != nil {
					return out.Fail("compare failed", err)
				}
				v2, err := parseVersion(args[2])
				if err != nil {
					return out.Fail("compare failed", err)
				}
				diff, err := l.snapshots.Compare(ctx, ref, v1, v2)
				if err != nil {
					return out.Fail("compare failed", err)
				}
				return out.Success(diff, func(w io.Writer) { printDiff(w, diff) })
			})
		},
	}
}

func parseVersion(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errs.ValidationField("version", "version must be an integer, got %q", s)
	}
	return v, nil
}

func printDiff(w io.Writer, d *snapshot.Diff) {
	fmt.Fprintf(w, "%s v%d -> v%d\n", d.Entity, d.FromVersion, d.ToVersion)
	if d.Empty() {
		fmt.Fprintln(w, "No differences")
		return
	}
	for _, k := range slices.Sorted(maps.Keys(d.Added)) {
		fmt.Fprintf(w, "  + %s = %s\n", k, canon.MustMarshal(d.Added[k]))
	}
	for _, k := range slices.Sorted(maps.Keys(d.Removed)) {
		fmt.Fprintf(w, "  - %s = %s\n", k, canon.MustMarshal(d.Removed[k]))
	}
	for _, k := range slices.Sorted(maps.Keys(d.Modified)) {
		c := d.Modified[k]
		fmt.Fprintf(w, "  ~ %s: %s -> %s\n", k, canon.MustMarshal(c.Old), canon.MustMarshal(c.New))
	}
}
