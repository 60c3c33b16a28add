package integrity

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/traceledger/internal/audit"
	"github.com/roach88/traceledger/internal/errs"
	"github.com/roach88/traceledger/internal/model"
)

// Default window and parallelism used when the options leave them at zero.
const (
	DefaultWindowSize  = 10_000
	DefaultParallelism = 4
)

// Chain is the part of the audit service the verifier reads.
// *audit.Service implements it.
type Chain interface {
	Head(ctx context.Context) (model.ChainHead, error)
	VerifyIntegrity(ctx context.Context, from, to int64) (audit.VerifyResult, error)
}

// Finding is one integrity violation.
type Finding struct {
	Sequence   int64        `json:"sequence"`
	Reason     audit.Reason `json:"reason"`
	Detail     string       `json:"detail"`
	DetectedAt time.Time    `json:"detected_at"`
}

// Report is the outcome of one verification run.
type Report struct {
	From      int64         `json:"from"`
	To        int64         `json:"to"`
	Checked   int           `json:"checked"`
	Findings  []Finding     `json:"findings"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Clean reports whether the run found nothing.
func (r *Report) Clean() bool {
	return len(r.Findings) == 0
}

// Options tunes a Verifier.
type Options struct {
	// WindowSize is the number of sequences verified per worker task.
	WindowSize int64

	// Parallelism caps the number of windows verified at once.
	Parallelism int
}

// Verifier runs windowed verification over a Chain.
type Verifier struct {
	chain  Chain
	opts   Options
	sinks  []Sink
	logger *zap.Logger
	now    func() time.Time

	mu         sync.Mutex
	checkpoint int64 // highest sequence covered by a completed run
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithSinks registers escalation sinks. Reports are delivered to sinks in
// registration order.
func WithSinks(sinks ...Sink) Option {
	return func(v *Verifier) {
		v.sinks = append(v.sinks, sinks...)
	}
}

// WithLogger sets the logger used by the scheduled loop.
func WithLogger(l *zap.Logger) Option {
	return func(v *Verifier) {
		if l != nil {
			v.logger = l
		}
	}
}

// WithClock sets the clock used to stamp reports.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		v.now = now
	}
}

// NewVerifier creates a Verifier over chain.
func NewVerifier(chain Chain, opts Options, options ...Option) *Verifier {
	if opts.WindowSize <= 0 {
		opts.WindowSize = DefaultWindowSize
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = DefaultParallelism
	}
	v := &Verifier{
		chain:  chain,
		opts:   opts,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, o := range options {
		o(v)
	}
	return v
}

// Checkpoint returns the highest sequence covered by a completed run.
func (v *Verifier) Checkpoint() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.checkpoint
}

// VerifyAll verifies the whole chain up to the current head.
func (v *Verifier) VerifyAll(ctx context.Context) (*Report, error) {
	return v.VerifyRange(ctx, 1, 0)
}

// VerifyIncremental verifies from the sequence after the last checkpoint
// to the current head. The checkpoint advances even when findings are
// reported, so each violation is escalated once.
func (v *Verifier) VerifyIncremental(ctx context.Context) (*Report, error) {
	return v.VerifyRange(ctx, v.Checkpoint()+1, 0)
}

// VerifyRange verifies [from, to]. to == 0 means the chain head. Every
// sink receives the report, clean or not. The checkpoint only advances
// over ranges that start at or before checkpoint+1.
func (v *Verifier) VerifyRange(ctx context.Context, from, to int64) (*Report, error) {
	if from < 1 {
		return nil, errs.ValidationField("from", "range must start at sequence 1 or later, got %d", from)
	}
	if to != 0 && to < from {
		return nil, errs.ValidationField("to", "range end %d is before start %d", to, from)
	}

	started := v.now()
	head, err := v.chain.Head(ctx)
	if err != nil {
		return nil, fmt.Errorf("integrity: read head: %w", err)
	}
	if to == 0 || to > head.Sequence {
		to = head.Sequence
	}

	report := &Report{From: from, To: to, Findings: []Finding{}, StartedAt: started}
	if from <= to {
		if err := v.verifyWindows(ctx, report); err != nil {
			return nil, err
		}
	}
	report.Duration = v.now().Sub(started)

	v.advance(from, to)

	for _, sink := range v.sinks {
		sink.Escalate(ctx, report)
	}
	return report, nil
}

// advance moves the checkpoint to to when [from, to] is contiguous with it.
// A range that starts past checkpoint+1 leaves a gap unverified, so it
// does not move the checkpoint.
func (v *Verifier) advance(from, to int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if from <= v.checkpoint+1 && to > v.checkpoint {
		v.checkpoint = to
	}
}

type window struct {
	from, to int64
}

func (v *Verifier) windows(from, to int64) []window {
	var out []window
	for start := from; start <= to; start += v.opts.WindowSize {
		end := start + v.opts.WindowSize - 1
		if end > to {
			end = to
		}
		out = append(out, window{from: start, to: end})
	}
	return out
}

func (v *Verifier) verifyWindows(ctx context.Context, report *Report) error {
	windows := v.windows(report.From, report.To)
	results := make([]audit.VerifyResult, len(windows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.opts.Parallelism)
	for i, w := range windows {
		g.Go(func() error {
			res, err := v.chain.VerifyIntegrity(gctx, w.from, w.to)
			if err != nil {
				return fmt.Errorf("integrity: window [%d, %d]: %w", w.from, w.to, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	detected := v.now()
	for _, res := range results {
		report.Checked += res.Checked
		for _, m := range res.Mismatches {
			report.Findings = append(report.Findings, Finding{
				Sequence:   m.Sequence,
				Reason:     m.Reason,
				Detail:     detail(m),
				DetectedAt: detected,
			})
		}
	}
	sort.SliceStable(report.Findings, func(i, j int) bool {
		return report.Findings[i].Sequence < report.Findings[j].Sequence
	})
	return nil
}

func detail(m audit.Mismatch) string {
	switch m.Reason {
	case audit.ReasonSequenceGap:
		return fmt.Sprintf("sequence %d is missing", m.Sequence)
	case audit.ReasonBrokenLink:
		return fmt.Sprintf("previous checksum %s does not match stored checksum %s of the prior event", m.Actual, m.Expected)
	default:
		return fmt.Sprintf("stored checksum %s, recomputed %s", m.Actual, m.Expected)
	}
}

// Run verifies incrementally once immediately and then every interval
// until ctx is cancelled. Run errors are logged and the loop continues.
func (v *Verifier) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errs.ValidationField("interval", "interval must be positive, got %s", interval)
	}
	v.logger.Info("integrity verifier starting", zap.Duration("interval", interval))

	v.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			v.logger.Info("integrity verifier stopping", zap.Int64("checkpoint", v.Checkpoint()))
			return ctx.Err()
		case <-ticker.C:
			v.runOnce(ctx)
		}
	}
}

func (v *Verifier) runOnce(ctx context.Context) {
	report, err := v.VerifyIncremental(ctx)
	if err != nil {
		if ctx.Err() == nil {
			v.logger.Warn("integrity run failed", zap.Error(err))
		}
		return
	}
	v.logger.Debug("integrity run complete",
		zap.Int64("from", report.From),
		zap.Int64("to", report.To),
		zap.Int("checked", report.Checked),
		zap.Int("findings", len(report.Findings)),
	)
}
