package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/traceledger/internal/audit"
	"github.com/roach88/traceledger/internal/model"
)

// AppendOptions holds flags for the append command.
type AppendOptions struct {
	*RootOptions
	Actor     string
	Action    string
	OldValues string
	NewValues string
	Reason    string
	IP        string
	Device    string
	Location  string
}

// NewAppendCommand creates the append command.
func NewAppendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AppendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "append <type/id>",
		Short: "Append an audit event to the hash chain",
		Long: `Append one change record to the audit log. The event is assigned the next
sequence number and chained to the previous event's checksum.

Examples:
  traceledger append document/100 --actor alice --action create \
    --new '{"title":"SOP-7","status":"draft"}' --reason "initial draft"
  traceledger append document/100 --actor bob --action update \
    --old '{"status":"draft"}' --new '{"status":"approved"}' --reason "QA approval"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, rootOpts, func(ctx context.Context, l *ledger, out *OutputFormatter) error {
				return runAppend(ctx, opts, l, out, args[0])
			})
		},
	}

	cmd.Flags().StringVar(&opts.Actor, "actor", "", "acting user (required)")
	_ = cmd.MarkFlagRequired("actor")
	cmd.Flags().StringVar(&opts.Action, "action", "", "create, update or delete (required)")
	_ = cmd.MarkFlagRequired("action")
	cmd.Flags().StringVar(&opts.OldValues, "old", "", "previous field values as a JSON object")
	cmd.Flags().StringVar(&opts.NewValues, "new", "", "new field values as a JSON object")
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "reason for the change (required)")
	cmd.Flags().StringVar(&opts.IP, "ip", "", "client IP address")
	cmd.Flags().StringVar(&opts.Device, "device", "", "client device")
	cmd.Flags().StringVar(&opts.Location, "location", "", "client location")

	return cmd
}

func runAppend(ctx context.Context, opts *AppendOptions, l *ledger, out *OutputFormatter, target string) error {
	ref, err := parseRef(target)
	if err != nil {
		return out.Fail("append failed", err)
	}
	oldValues, err := parseObject("old", opts.OldValues)
	if err != nil {
		return out.Fail("append failed", err)
	}
	newValues, err := parseObject("new", opts.NewValues)
	if err != nil {
		return out.Fail("append failed", err)
	}

	ev, err := l.audit.Append(ctx, audit.AppendRequest{
		EntityType: ref.Type,
		EntityID:   ref.ID,
		ActorID:    opts.Actor,
		Action:     model.Action(opts.Action),
		OldValues:  oldValues,
		NewValues:  newValues,
		Context: model.EventContext{
			IP:       opts.IP,
			Device:   opts.Device,
			Location: opts.Location,
			Reason:   opts.Reason,
		},
	})
	if err != nil {
		return out.Fail("append failed", err)
	}

	return out.Success(ev, func(w io.Writer) {
		fmt.Fprintf(w, "Appended event %d (%s %s by %s)\n", ev.Sequence, ev.Action, ref, ev.ActorID)
		fmt.Fprintf(w, "Checksum: %s\n", ev.Checksum)
	})
}
