package cli

import (
	"context"
	"errors"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/traceledger/internal/audit"
	"github.com/roach88/traceledger/internal/config"
	"github.com/roach88/traceledger/internal/custody"
	"github.com/roach88/traceledger/internal/graph"
	"github.com/roach88/traceledger/internal/integrity"
	"github.com/roach88/traceledger/internal/lineage"
	"github.com/roach88/traceledger/internal/logging"
	"github.com/roach88/traceledger/internal/metrics"
	"github.com/roach88/traceledger/internal/rtm"
	"github.com/roach88/traceledger/internal/snapshot"
	"github.com/roach88/traceledger/internal/store"
)

// ledger bundles every service over one opened store.
type ledger struct {
	cfg       *config.Config
	logger    *zap.Logger
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	store     *store.Store
	audit     *audit.Service
	verifier  *integrity.Verifier
	graph     *graph.Service
	lineage   *lineage.Tracker
	providers *rtm.ProviderRegistry
	rtm       *rtm.Matrix
	custody   *custody.Ledger
	snapshots *snapshot.Service
}

// loadConfig resolves the configuration and applies flag overrides.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, loadErrs := config.Load(opts.ConfigPath)
	if len(loadErrs) > 0 {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", errors.Join(loadErrs...))
	}
	if opts.Database != "" {
		cfg.Database.Path = opts.Database
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// openLedger opens the database and wires the services.
func openLedger(ctx context.Context, opts *RootOptions) (*ledger, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build logger", err)
	}

	st, err := store.Open(cfg.Database.Path, store.WithMaxOpenConns(cfg.Database.MaxOpenConns))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	auditSvc, err := audit.New(ctx, st, audit.WithLogger(logger), audit.WithMetrics(m))
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to resume audit chain", err)
	}

	providers := rtm.NewProviderRegistry()
	l := &ledger{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		metrics:  m,
		store:    st,
		audit:    auditSvc,
		verifier: integrity.NewVerifier(auditSvc, cfg.IntegrityOptions(),
			integrity.WithLogger(logger),
			integrity.WithSinks(integrity.LogSink{Logger: logger}, integrity.MetricsSink{Metrics: m})),
		graph:     graph.New(st, cfg.GraphOptions(), graph.WithLogger(logger), graph.WithMetrics(m)),
		lineage:   lineage.New(st, cfg.LineageOptions(), lineage.WithLogger(logger), lineage.WithMetrics(m)),
		providers: providers,
		rtm:       rtm.New(st, providers, rtm.WithLogger(logger)),
		custody:   custody.New(st, custody.WithLogger(logger), custody.WithMetrics(m)),
		snapshots: snapshot.New(st, snapshot.WithStateReader(auditSvc),
			snapshot.WithLogger(logger), snapshot.WithMetrics(m)),
	}
	return l, nil
}

func (l *ledger) Close() error {
	_ = l.logger.Sync()
	return l.store.Close()
}

// formatter builds the output formatter for cmd's writers.
func formatter(opts *RootOptions, out, errOut io.Writer) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    out,
		ErrWriter: errOut,
		Verbose:   opts.Verbose,
	}
}

// withLedger opens the ledger for the duration of fn.
func withLedger(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, l *ledger, out *OutputFormatter) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	l, err := openLedger(ctx, opts)
	if err != nil {
		return err
	}
	defer l.Close()

	out := formatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	out.VerboseLog("opened %s", l.cfg.Database.Path)
	return fn(ctx, l, out)
}
