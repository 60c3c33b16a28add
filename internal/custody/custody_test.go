package custody

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/traceledger/internal/errs"
	"github.com/roach88/traceledger/internal/metrics"
	"github.com/roach88/traceledger/internal/model"
	"github.com/roach88/traceledger/internal/store"
	"github.com/roach88/traceledger/internal/testutil"
)

var sample = model.Ref("sample", "S-1")

func newTestLedger(t *testing.T, options ...Option) *Ledger {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "custody.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	base := []Option{
		WithIDGenerator(testutil.NewSequentialIDs("custody")),
		WithClock(testutil.NewStepClock().Now),
	}
	return New(st, append(base, options...)...)
}

func hop(eventType model.CustodyEventType, fromActor, toActor, fromLoc, toLoc string) RecordRequest {
	return RecordRequest{
		Entity:         sample,
		Identifier:     "BARCODE-001",
		EventType:      eventType,
		FromActor:      fromActor,
		ToActor:        toActor,
		FromLocation:   fromLoc,
		ToLocation:     toLoc,
		IntegrityCheck: true,
	}
}

func TestRecordEvent_ContinuousChain(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	steps := []RecordRequest{
		hop(model.CustodyReceived, "", "alice", "", "dock"),
		hop(model.CustodyTransferred, "alice", "bob", "dock", "lab"),
		hop(model.CustodyTransferred, "bob", "carol", "lab", "freezer"),
		hop(model.CustodyReturned, "carol", "alice", "freezer", "dock"),
	}
	for i, req := range steps {
		ev, err := l.RecordEvent(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, i+1, ev.Position)
	}

	chain, err := l.GetChain(ctx, sample)
	require.NoError(t, err)
	assert.Len(t, chain.Events, 4)
	assert.Equal(t, "alice", chain.CurrentHolder)
	assert.Equal(t, "dock", chain.CurrentLocation)
	assert.False(t, chain.Disposed)
	assert.True(t, chain.ContinuityIntact)
	assert.True(t, chain.AllIntegrityChecksPassed)
	for _, e := range chain.Events {
		assert.True(t, e.ContinuityHeld)
	}
}

func TestRecordEvent_ActorDiscontinuity(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	l := newTestLedger(t, WithMetrics(m))
	ctx := context.Background()

	_, err := l.RecordEvent(ctx, hop(model.CustodyReceived, "", "alice", "", "dock"))
	require.NoError(t, err)

	_, err = l.RecordEvent(ctx, hop(model.CustodyTransferred, "mallory", "bob", "dock", "lab"))
	require.Error(t, err)

	var ce *errs.ContinuityError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "from_actor", ce.Field)
	assert.Equal(t, "alice", ce.Expected)
	assert.Equal(t, "mallory", ce.Actual)
	assert.Equal(t, errs.CodeContinuity, errs.CodeOf(err))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.CustodyRejections.WithLabelValues("continuity")))

	chain, err := l.GetChain(ctx, sample)
	require.NoError(t, err)
	assert.Len(t, chain.Events, 1, "rejected event is not stored")
}

func TestRecordEvent_LocationDiscontinuity(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	_, err := l.RecordEvent(ctx, hop(model.CustodyReceived, "", "alice", "", "dock"))
	require.NoError(t, err)

	_, err = l.RecordEvent(ctx, hop(model.CustodyTransferred, "alice", "bob", "lab", "freezer"))
	var ce *errs.ContinuityError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "from_location", ce.Field)
	assert.Equal(t, "dock", ce.Expected)
}

func TestRecordEvent_NothingAfterDisposal(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	l := newTestLedger(t, WithMetrics(m))
	ctx := context.Background()

	_, err := l.RecordEvent(ctx, hop(model.CustodyReceived, "", "alice", "", "dock"))
	require.NoError(t, err)
	_, err = l.RecordEvent(ctx, hop(model.CustodyDisposed, "alice", "waste", "dock", "incinerator"))
	require.NoError(t, err)

	_, err = l.RecordEvent(ctx, hop(model.CustodyTransferred, "waste", "bob", "incinerator", "lab"))
	assert.True(t, errs.IsValidation(err))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.CustodyRejections.WithLabelValues("disposed")))

	chain, err := l.GetChain(ctx, sample)
	require.NoError(t, err)
	assert.True(t, chain.Disposed)
}

func TestRecordEvent_RejectsOutOfOrderTimestamp(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	first := hop(model.CustodyReceived, "", "alice", "", "dock")
	first.Timestamp = testutil.Epoch.Add(time.Hour)
	_, err := l.RecordEvent(ctx, first)
	require.NoError(t, err)

	second := hop(model.CustodyTransferred, "alice", "bob", "dock", "lab")
	second.Timestamp = testutil.Epoch
	_, err = l.RecordEvent(ctx, second)
	assert.True(t, errs.IsValidation(err))
}

func TestRecordEvent_Validation(t *testing.T) {
	l := newTestLedger(t)
	tests := []struct {
		name string
		mod  func(r *RecordRequest)
	}{
		{"missing entity", func(r *RecordRequest) { r.Entity = model.EntityRef{} }},
		{"missing identifier", func(r *RecordRequest) { r.Identifier = "" }},
		{"bad type", func(r *RecordRequest) { r.EventType = "lost" }},
		{"missing to actor", func(r *RecordRequest) { r.ToActor = "" }},
		{"missing to location", func(r *RecordRequest) { r.ToLocation = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := hop(model.CustodyReceived, "", "alice", "", "dock")
			tt.mod(&req)
			_, err := l.RecordEvent(context.Background(), req)
			assert.True(t, errs.IsValidation(err))
		})
	}
}

func TestRecordEvent_ConcurrentHandOffsKeepChainConsistent(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	_, err := l.RecordEvent(ctx, hop(model.CustodyReceived, "", "alice", "", "dock"))
	require.NoError(t, err)

	// Every writer tries to take the item from alice; exactly one can.
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.RecordEvent(ctx, hop(model.CustodyTransferred, "alice", fmt.Sprintf("tech-%d", i), "dock", "lab"))
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	chain, err := l.GetChain(ctx, sample)
	require.NoError(t, err)
	assert.Len(t, chain.Events, 2)
}

func TestGetChain_NotFound(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.GetChain(context.Background(), model.Ref("sample", "nope"))
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestAnnotate_FlagsBrokenHandOffs(t *testing.T) {
	events := []model.CustodyEvent{
		{Position: 1, ToActor: "alice", ToLocation: "dock", IntegrityCheck: true},
		{Position: 2, FromActor: "bob", ToActor: "carol", FromLocation: "dock", ToLocation: "lab", IntegrityCheck: false},
	}
	c := Annotate(sample, events)
	assert.True(t, c.Events[0].ContinuityHeld)
	assert.False(t, c.Events[1].ContinuityHeld)
	assert.False(t, c.ContinuityIntact)
	assert.False(t, c.AllIntegrityChecksPassed)
}
