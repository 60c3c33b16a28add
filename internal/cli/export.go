package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/traceledger/internal/audit"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	As         string
	Output     string
	EntityType string
	EntityID   string
	Actor      string
	Action     string
	Since      string
	Until      string
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export audit events in a self-verifiable format",
		Long: `Write the matching events as an export document. Events are grouped into
segments of consecutive sequences, each carrying its anchor checksum, so
the file can be verified offline with verify-export.

Examples:
  traceledger export --out audit.json
  traceledger export --actor alice --as csv --out alice.csv
  traceledger export --as cbor --out audit.cbor`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, rootOpts, func(ctx context.Context, l *ledger, out *OutputFormatter) error {
				return runExport(ctx, opts, l, out, cmd.OutOrStdout())
			})
		},
	}

	cmd.Flags().StringVar(&opts.As, "as", "json", "export encoding (json|csv|cbor)")
	cmd.Flags().StringVarP(&opts.Output, "out", "o", "", "output file (default stdout)")
	addFilterFlags(cmd, &opts.EntityType, &opts.EntityID, &opts.Actor, &opts.Action, &opts.Since, &opts.Until)

	return cmd
}

func runExport(ctx context.Context, opts *ExportOptions, l *ledger, out *OutputFormatter, stdout io.Writer) error {
	format, err := audit.ParseExportFormat(opts.As)
	if err != nil {
		return out.Fail("export failed", err)
	}
	f, err := buildFilter(opts.EntityType, opts.EntityID, opts.Actor, opts.Action, opts.Since, opts.Until)
	if err != nil {
		return out.Fail("export failed", err)
	}

	data, err := l.audit.Export(ctx, f, format)
	if err != nil {
		return out.Fail("export failed", err)
	}

	if opts.Output == "" {
		_, err := stdout.Write(data)
		return err
	}
	if err := os.WriteFile(opts.Output, data, 0o644); err != nil {
		return out.Fail("export failed", err)
	}
	result := map[string]any{"file": opts.Output, "format": format, "bytes": len(data)}
	return out.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "Wrote %d bytes of %s to %s\n", len(data), format, opts.Output)
	})
}
