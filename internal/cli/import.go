package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/traceledger/internal/fixtures"
)

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>...",
		Short: "Replay YAML fixture documents into the ledger",
		Long: `Load one or more fixture documents and write their records through the same
services the API uses, so every record is validated as a live write would
be. Import stops at the first rejected record.

Examples:
  traceledger import testdata/lab_seed.yaml
  traceledger import seeds/*.yaml --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, rootOpts, func(ctx context.Context, l *ledger, out *OutputFormatter) error {
				return runImport(ctx, l, out, args)
			})
		},
	}
}

func runImport(ctx context.Context, l *ledger, out *OutputFormatter, paths []string) error {
	targets := fixtures.Targets{
		Events:       l.audit,
		Links:        l.graph,
		Lineage:      l.lineage,
		Requirements: l.rtm,
		Custody:      l.custody,
		Snapshots:    l.snapshots,
		Logger:       l.logger,
	}

	summaries := make([]*fixtures.Summary, 0, len(paths))
	for _, path := range paths {
		doc, err := fixtures.Load(path)
		if err != nil {
			return out.Fail(fmt.Sprintf("failed to load %s", path), err)
		}
		out.VerboseLog("applying %s (%d records)", doc.Name, doc.Records())

		sum, err := fixtures.Apply(ctx, doc, targets)
		if err != nil {
			return out.Fail(fmt.Sprintf("import of %s stopped", path), err)
		}
		summaries = append(summaries, sum)
	}

	return out.Success(summaries, func(w io.Writer) {
		for _, s := range summaries {
			fmt.Fprintf(w, "Imported %s: %d events, %d links, %d lineage, %d requirements (%d evidence), %d custody, %d snapshots\n",
				s.Document, s.Events, s.Links, s.Lineage, s.Requirements, s.Evidence, s.Custody, s.Snapshots)
			for _, warn := range s.Warnings {
				fmt.Fprintf(w, "  warning: %s\n", warn)
			}
		}
	})
}
