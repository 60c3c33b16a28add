package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/traceledger/internal/api"
)

const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the write hooks and query endpoints over HTTP. When
integrity.interval is positive the hash chain is also verified in the
background on that interval.

Examples:
  traceledger serve
  traceledger serve --addr :9090 --config traceledger.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, rootOpts, func(ctx context.Context, l *ledger, out *OutputFormatter) error {
				return runServe(ctx, opts, l, out)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default from config api.addr)")

	return cmd
}

func runServe(parent context.Context, opts *ServeOptions, l *ledger, out *OutputFormatter) error {
	addr := opts.Addr
	if addr == "" {
		addr = l.cfg.API.Addr
	}

	handler := api.New(api.Deps{
		Audit:     l.audit,
		Verifier:  l.verifier,
		Graph:     l.graph,
		Lineage:   l.lineage,
		RTM:       l.rtm,
		Custody:   l.custody,
		Snapshots: l.snapshots,
		Gatherer:  l.registry,
		Metrics:   l.metrics,
		Logger:    l.logger,
	})
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			l.logger.Info("received signal, shutting down", zap.Stringer("signal", sig))
			cancel()
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		return srv.Shutdown(shutdownCtx)
	})
	if interval := l.cfg.Integrity.Interval; interval > 0 {
		g.Go(func() error {
			if err := l.verifier.Run(gctx, interval); err != nil && gctx.Err() == nil {
				return err
			}
			return nil
		})
	}

	l.logger.Info("api listening",
		zap.String("addr", addr),
		zap.String("db", l.cfg.Database.Path),
		zap.Duration("integrity_interval", l.cfg.Integrity.Interval))
	fmt.Fprintf(out.ErrWriter, "Listening on %s. Press Ctrl-C to stop.\n", addr)

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitCommandError, "server error", err)
	}
	l.logger.Info("api stopped gracefully")
	return nil
}
