package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/traceledger/internal/audit"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	From int64
	To   int64
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the audit hash chain",
		Long: `Recompute every checksum in a sequence range and check that each event
links to its predecessor. Findings are reported, never repaired, and make
the command exit 1.

Examples:
  traceledger verify
  traceledger verify --from 1000 --to 2000 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, rootOpts, func(ctx context.Context, l *ledger, out *OutputFormatter) error {
				return runVerify(ctx, opts, l, out)
			})
		},
	}

	cmd.Flags().Int64Var(&opts.From, "from", 1, "first sequence to verify")
	cmd.Flags().Int64Var(&opts.To, "to", 0, "last sequence to verify (0 = chain head)")

	return cmd
}

func runVerify(ctx context.Context, opts *VerifyOptions, l *ledger, out *OutputFormatter) error {
	report, err := l.verifier.VerifyRange(ctx, opts.From, opts.To)
	if err != nil {
		return out.Fail("verification failed", err)
	}

	status := "ok"
	if !report.Clean() {
		status = "violation"
	}
	if err := out.Render(status, report, func(w io.Writer) {
		fmt.Fprintf(w, "Verified sequences %d..%d (%d events checked)\n", report.From, report.To, report.Checked)
		if report.Clean() {
			fmt.Fprintln(w, "Chain intact")
			return
		}
		fmt.Fprintf(w, "Integrity violations: %d\n", len(report.Findings))
		for _, f := range report.Findings {
			fmt.Fprintf(w, "  seq %d  %s  %s\n", f.Sequence, f.Reason, f.Detail)
		}
	}); err != nil {
		return err
	}

	if !report.Clean() {
		return NewExitError(ExitFailure, fmt.Sprintf("%d integrity violations", len(report.Findings)))
	}
	return nil
}

// VerifyExportOptions holds flags for the verify-export command.
type VerifyExportOptions struct {
	*RootOptions
	As string
}

// NewVerifyExportCommand creates the verify-export command.
func NewVerifyExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify-export <file>",
		Short: "Verify an export file offline",
		Long: `Re-verify every segment of an export file without access to the database.
Each segment is checked against its own anchor checksum.

Examples:
  traceledger verify-export audit.json
  traceledger verify-export audit.cbor --as cbor`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			return runVerifyExport(opts, out, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.As, "as", "json", "export encoding (json|csv|cbor)")

	return cmd
}

func runVerifyExport(opts *VerifyExportOptions, out *OutputFormatter, path string) error {
	format, err := audit.ParseExportFormat(opts.As)
	if err != nil {
		return out.Fail("verify export failed", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return out.Fail("verify export failed", err)
	}
	doc, err := audit.DecodeExport(data, format)
	if err != nil {
		return out.Fail("verify export failed", err)
	}

	mismatches := audit.VerifyExport(doc)
	status := "ok"
	if len(mismatches) > 0 {
		status = "violation"
	}
	result := map[string]any{
		"file":       path,
		"events":     doc.EventCount,
		"segments":   len(doc.Segments),
		"mismatches": mismatches,
	}
	if err := out.Render(status, result, func(w io.Writer) {
		fmt.Fprintf(w, "%s: %d events in %d segments\n", path, doc.EventCount, len(doc.Segments))
		if len(mismatches) == 0 {
			fmt.Fprintln(w, "Export intact")
			return
		}
		for _, m := range mismatches {
			fmt.Fprintf(w, "  seq %d  %s\n", m.Sequence, m.Reason)
		}
	}); err != nil {
		return err
	}

	if len(mismatches) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d mismatches in export", len(mismatches)))
	}
	return nil
}
