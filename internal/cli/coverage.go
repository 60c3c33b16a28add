package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/traceledger/internal/errs"
	"github.com/roach88/traceledger/internal/model"
	"github.com/roach88/traceledger/internal/rtm"
)

// CoverageOptions holds flags for the coverage command.
type CoverageOptions struct {
	*RootOptions
	Category string
	Priority string
	Source   string
	Statuses []string
}

// NewCoverageCommand creates the coverage command.
func NewCoverageCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CoverageOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "coverage",
		Short: "Report requirement verification coverage",
		Long: `Build the requirements traceability matrix. Each evidence link's status is
derived from its entity's live status; entities with no known status count
as unknown.

Examples:
  traceledger coverage
  traceledger coverage --category data_integrity --status test_case/TC-1=approved`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, rootOpts, func(ctx context.Context, l *ledger, out *OutputFormatter) error {
				return runCoverage(ctx, opts, l, out)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Category, "category", "", "filter by category")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "filter by priority")
	cmd.Flags().StringVar(&opts.Source, "source", "", "filter by source")
	cmd.Flags().StringArrayVar(&opts.Statuses, "status", nil, "entity status as type/id=status (repeatable)")

	return cmd
}

// registerStatuses parses type/id=status pairs into one StaticStatuses per
// entity type.
func registerStatuses(reg *rtm.ProviderRegistry, pairs []string) error {
	byType := make(map[string]rtm.StaticStatuses)
	for _, pair := range pairs {
		target, status, ok := strings.Cut(pair, "=")
		if !ok {
			return errs.ValidationField("status", "--status must be type/id=status, got %q", pair)
		}
		ref, err := parseRef(target)
		if err != nil {
			return err
		}
		if byType[ref.Type] == nil {
			byType[ref.Type] = rtm.StaticStatuses{}
		}
		byType[ref.Type][ref.String()] = model.EntityStatus(status)
	}
	for entityType, statuses := range byType {
		reg.Register(entityType, statuses)
	}
	return nil
}

func runCoverage(ctx context.Context, opts *CoverageOptions, l *ledger, out *OutputFormatter) error {
	if err := registerStatuses(l.providers, opts.Statuses); err != nil {
		return out.Fail("coverage failed", err)
	}

	report, err := l.rtm.CoverageReport(ctx, model.RequirementFilter{
		Category: opts.Category,
		Priority: model.Priority(opts.Priority),
		Source:   opts.Source,
	})
	if err != nil {
		return out.Fail("coverage failed", err)
	}

	return out.Success(report, func(w io.Writer) {
		fmt.Fprintf(w, "Coverage: %.1f%% of %d requirements verified\n", report.CoveragePercentage, report.Total)
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NUMBER\tCATEGORY\tPRIORITY\tSTATUS\tEVIDENCE")
		for _, rc := range report.Requirements {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
				rc.Requirement.Number, rc.Requirement.Category, rc.Requirement.Priority, rc.Status, len(rc.Links))
		}
		tw.Flush()
		if len(report.Gaps) > 0 {
			fmt.Fprintf(w, "\nGaps: %d\n", len(report.Gaps))
			for _, g := range report.Gaps {
				fmt.Fprintf(w, "  %s %s (%s)\n", g.Requirement.Number, g.Requirement.Title, g.Status)
			}
		}
	})
}
