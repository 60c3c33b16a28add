package integrity

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/roach88/traceledger/internal/audit"
	"github.com/roach88/traceledger/internal/canon"
	"github.com/roach88/traceledger/internal/errs"
	"github.com/roach88/traceledger/internal/metrics"
	"github.com/roach88/traceledger/internal/model"
	"github.com/roach88/traceledger/internal/store"
	"github.com/roach88/traceledger/internal/testutil"
)

func setupChain(t *testing.T, n int) (*audit.Service, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "integrity.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	svc, err := audit.New(context.Background(), st, audit.WithClock(testutil.NewStepClock().Now))
	require.NoError(t, err)
	appendEvents(t, svc, n)
	return svc, st
}

func appendEvents(t *testing.T, svc *audit.Service, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := svc.Append(context.Background(), audit.AppendRequest{
			EntityType: "sample",
			EntityID:   fmt.Sprintf("s-%d", i),
			ActorID:    "lab",
			Action:     model.ActionCreate,
			NewValues:  canon.Object{"i": canon.Int(int64(i))},
			Context:    model.EventContext{Reason: "intake"},
		})
		require.NoError(t, err)
	}
}

func corrupt(t *testing.T, st *store.Store, seq int64) {
	t.Helper()
	_, err := st.DB().Exec(`DROP TRIGGER IF EXISTS audit_events_no_update`)
	require.NoError(t, err)
	_, err = st.DB().Exec(`UPDATE audit_events SET checksum = 'tampered' WHERE sequence = ?`, seq)
	require.NoError(t, err)
}

// recordingSink keeps every report it receives.
type recordingSink struct {
	mu      sync.Mutex
	reports []*Report
}

func (s *recordingSink) Escalate(_ context.Context, r *Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}

func TestVerifyAll_CleanAcrossWindows(t *testing.T) {
	svc, _ := setupChain(t, 25)
	v := NewVerifier(svc, Options{WindowSize: 4, Parallelism: 3})

	report, err := v.VerifyAll(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Clean())
	assert.Equal(t, 25, report.Checked)
	assert.Equal(t, int64(1), report.From)
	assert.Equal(t, int64(25), report.To)
}

func TestVerifyAll_FindingsAtWindowBoundaries(t *testing.T) {
	svc, st := setupChain(t, 20)
	corrupt(t, st, 5) // first event of the second window
	corrupt(t, st, 12)

	v := NewVerifier(svc, Options{WindowSize: 4, Parallelism: 2})
	report, err := v.VerifyAll(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Findings, 2)
	assert.Equal(t, int64(5), report.Findings[0].Sequence)
	assert.Equal(t, int64(12), report.Findings[1].Sequence)
	for _, f := range report.Findings {
		assert.Equal(t, audit.ReasonChecksumMismatch, f.Reason)
		assert.Contains(t, f.Detail, "tampered")
	}
}

func TestVerifyAll_CorruptLastEventOfWindow(t *testing.T) {
	svc, st := setupChain(t, 8)
	corrupt(t, st, 4)

	v := NewVerifier(svc, Options{WindowSize: 4, Parallelism: 2})
	report, err := v.VerifyAll(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Findings, 1, "the intact event after the window must not be blamed")
	assert.Equal(t, int64(4), report.Findings[0].Sequence)
	assert.Equal(t, audit.ReasonChecksumMismatch, report.Findings[0].Reason)
}

func TestVerifyAll_MatchesSingleWindow(t *testing.T) {
	svc, st := setupChain(t, 30)
	corrupt(t, st, 17)

	windowed, err := NewVerifier(svc, Options{WindowSize: 3, Parallelism: 4}).VerifyAll(context.Background())
	require.NoError(t, err)
	single, err := NewVerifier(svc, Options{WindowSize: 1000, Parallelism: 1}).VerifyAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, single.Checked, windowed.Checked)
	require.Len(t, windowed.Findings, len(single.Findings))
	for i := range single.Findings {
		assert.Equal(t, single.Findings[i].Sequence, windowed.Findings[i].Sequence)
		assert.Equal(t, single.Findings[i].Reason, windowed.Findings[i].Reason)
	}
}

func TestVerifyIncremental_AdvancesCheckpoint(t *testing.T) {
	svc, st := setupChain(t, 5)
	sink := &recordingSink{}
	v := NewVerifier(svc, Options{WindowSize: 2}, WithSinks(sink))
	ctx := context.Background()

	report, err := v.VerifyIncremental(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Checked)
	assert.Equal(t, int64(5), v.Checkpoint())

	appendEvents(t, svc, 3)
	corrupt(t, st, 7)

	report, err = v.VerifyIncremental(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), report.From)
	assert.Equal(t, int64(8), report.To)
	assert.Equal(t, 3, report.Checked)
	require.Len(t, report.Findings, 1)
	assert.Equal(t, int64(7), report.Findings[0].Sequence)

	report, err = v.VerifyIncremental(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Checked)
	assert.True(t, report.Clean(), "findings are escalated once")

	assert.Equal(t, 3, sink.count())
}

func TestVerifyRange_PartialRangeKeepsGapForIncremental(t *testing.T) {
	svc, st := setupChain(t, 10)
	corrupt(t, st, 3)
	v := NewVerifier(svc, Options{WindowSize: 4})
	ctx := context.Background()

	report, err := v.VerifyRange(ctx, 6, 10)
	require.NoError(t, err)
	assert.True(t, report.Clean())
	assert.Equal(t, int64(0), v.Checkpoint())

	report, err = v.VerifyIncremental(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.From)
	assert.Equal(t, 10, report.Checked)
	require.Len(t, report.Findings, 1)
	assert.Equal(t, int64(3), report.Findings[0].Sequence)
	assert.Equal(t, int64(10), v.Checkpoint())

}

func TestVerifyRange_ContiguousRangesAdvanceCheckpoint(t *testing.T) {
	svc, _ := setupChain(t, 10)
	v := NewVerifier(svc, Options{WindowSize: 4})
	ctx := context.Background()

	_, err := v.VerifyRange(ctx, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), v.Checkpoint())

	_, err = v.VerifyRange(ctx, 3, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v.Checkpoint())

	_, err = v.VerifyRange(ctx, 2, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v.Checkpoint(), "an earlier range never moves the checkpoint back")
}

func TestVerifyRange_Validation(t *testing.T) {
	svc, _ := setupChain(t, 1)
	v := NewVerifier(svc, Options{})

	_, err := v.VerifyRange(context.Background(), 0, 0)
	assert.True(t, errs.IsValidation(err))

	_, err = v.VerifyRange(context.Background(), 4, 2)
	assert.True(t, errs.IsValidation(err))
}

func TestVerifyRange_CancelledContext(t *testing.T) {
	svc, _ := setupChain(t, 10)
	v := NewVerifier(svc, Options{WindowSize: 2})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := v.VerifyRange(ctx, 1, 0)
	assert.Error(t, err)
}

func TestLogSink_EscalatesAtErrorLevel(t *testing.T) {
	svc, st := setupChain(t, 3)
	corrupt(t, st, 2)

	core, logs := observer.New(zapcore.DebugLevel)
	v := NewVerifier(svc, Options{}, WithSinks(LogSink{Logger: zap.New(core)}))

	_, err := v.VerifyAll(context.Background())
	require.NoError(t, err)

	entries := logs.FilterField(zap.String("marker", "integrity_violation")).All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, int64(2), entries[0].ContextMap()["sequence"])
}

func TestMetricsSink(t *testing.T) {
	svc, st := setupChain(t, 6)
	corrupt(t, st, 4)

	m := metrics.NewMetrics(prometheus.NewRegistry())
	v := NewVerifier(svc, Options{}, WithSinks(MetricsSink{Metrics: m}))

	_, err := v.VerifyAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 6.0, promtest.ToFloat64(m.EventsVerified))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.LastRunFindings))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.IntegrityFindings.WithLabelValues(string(audit.ReasonChecksumMismatch))))
}

func TestRun_StopsOnCancel(t *testing.T) {
	svc, _ := setupChain(t, 2)
	sink := &recordingSink{}
	v := NewVerifier(svc, Options{}, WithSinks(sink))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- v.Run(ctx, 10*time.Millisecond) }()

	require.Eventually(t, func() bool { return sink.count() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	assert.Equal(t, int64(2), v.Checkpoint())
}

func TestRun_RejectsNonPositiveInterval(t *testing.T) {
	svc, _ := setupChain(t, 0)
	err := NewVerifier(svc, Options{}).Run(context.Background(), 0)
	assert.True(t, errs.IsValidation(err))
}
