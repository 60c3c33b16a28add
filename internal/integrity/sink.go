package integrity

import (
	"context"

	"go.uber.org/zap"

	"github.com/roach88/traceledger/internal/errs"
	"github.com/roach88/traceledger/internal/metrics"
)

// Sink receives every verification report. Implementations must not block
// for long; they run on the verifying goroutine.
type Sink interface {
	Escalate(ctx context.Context, r *Report)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, r *Report)

// Escalate calls f.
func (f SinkFunc) Escalate(ctx context.Context, r *Report) {
	f(ctx, r)
}

// LogSink logs each finding at error level.
type LogSink struct {
	Logger *zap.Logger
}

// Escalate implements Sink.
func (s LogSink) Escalate(_ context.Context, r *Report) {
	for _, f := range r.Findings {
		s.Logger.Error("audit chain integrity violation",
			zap.String("marker", "integrity_violation"),
			zap.String("code", string(errs.CodeIntegrityViolation)),
			zap.Int64("sequence", f.Sequence),
			zap.String("reason", string(f.Reason)),
			zap.String("detail", f.Detail),
		)
	}
}

// MetricsSink records verified events and findings.
type MetricsSink struct {
	Metrics *metrics.Metrics
}

// Escalate implements Sink.
func (s MetricsSink) Escalate(_ context.Context, r *Report) {
	s.Metrics.EventsVerified.Add(float64(r.Checked))
	s.Metrics.LastRunFindings.Set(float64(len(r.Findings)))
	for _, f := range r.Findings {
		s.Metrics.IntegrityFindings.WithLabelValues(string(f.Reason)).Inc()
	}
}
