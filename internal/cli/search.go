package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/traceledger/internal/model"
)

// SearchOptions holds flags for the search command.
type SearchOptions struct {
	*RootOptions
	EntityType string
	EntityID   string
	Actor      string
	Action     string
	Since      string
	Until      string
	Limit      int
	Offset     int
	Ascending  bool
}

// NewSearchCommand creates the search command.
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SearchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search audit events",
		Long: `List audit events matching every given filter, newest first.

Examples:
  traceledger search --actor alice
  traceledger search --entity-type document --action update --since 2026-03-01T00:00:00Z`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, rootOpts, func(ctx context.Context, l *ledger, out *OutputFormatter) error {
				return runSearch(ctx, opts, l, out)
			})
		},
	}

	addFilterFlags(cmd, &opts.EntityType, &opts.EntityID, &opts.Actor, &opts.Action, &opts.Since, &opts.Until)
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "page size")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "page offset")
	cmd.Flags().BoolVar(&opts.Ascending, "asc", false, "oldest first")

	return cmd
}

func addFilterFlags(cmd *cobra.Command, entityType, entityID, actor, action, since, until *string) {
	cmd.Flags().StringVar(entityType, "entity-type", "", "filter by entity type")
	cmd.Flags().StringVar(entityID, "entity-id", "", "filter by entity id")
	cmd.Flags().StringVar(actor, "actor", "", "filter by actor")
	cmd.Flags().StringVar(action, "action", "", "filter by action")
	cmd.Flags().StringVar(since, "since", "", "RFC 3339 lower time bound")
	cmd.Flags().StringVar(until, "until", "", "RFC 3339 upper time bound")
}

func buildFilter(entityType, entityID, actor, action, since, until string) (model.EventFilter, error) {
	f := model.EventFilter{
		EntityType: entityType,
		EntityID:   entityID,
		ActorID:    actor,
		Action:     model.Action(action),
	}
	var err error
	if f.Since, err = parseTime("since", since); err != nil {
		return f, err
	}
	if f.Until, err = parseTime("until", until); err != nil {
		return f, err
	}
	return f, nil
}

func runSearch(ctx context.Context, opts *SearchOptions, l *ledger, out *OutputFormatter) error {
	f, err := buildFilter(opts.EntityType, opts.EntityID, opts.Actor, opts.Action, opts.Since, opts.Until)
	if err != nil {
		return out.Fail("search failed", err)
	}
	page, err := l.audit.Search(ctx, f, model.Page{Limit: opts.Limit, Offset: opts.Offset, Ascending: opts.Ascending})
	if err != nil {
		return out.Fail("search failed", err)
	}

	return out.Success(page, func(w io.Writer) {
		fmt.Fprintf(w, "%d of %d events\n", len(page.Events), page.Total)
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SEQ\tTIME\tENTITY\tACTION\tACTOR\tREASON")
		for _, ev := range page.Events {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
				ev.Sequence, ev.Timestamp.Format(time.RFC3339), ev.Entity(), ev.Action, ev.ActorID, ev.Context.Reason)
		}
		tw.Flush()
	})
}
