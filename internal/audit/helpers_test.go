package audit

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/traceledger/internal/canon"
	"github.com/roach88/traceledger/internal/model"
	"github.com/roach88/traceledger/internal/store"
	"github.com/roach88/traceledger/internal/testutil"
)

type fixture struct {
	svc   *Service
	store *store.Store
	clock *testutil.StepClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clock := testutil.NewStepClock()
	svc, err := New(context.Background(), st, WithClock(clock.Now))
	require.NoError(t, err)

	return &fixture{svc: svc, store: st, clock: clock}
}

func (f *fixture) append(t *testing.T, req AppendRequest) model.AuditEvent {
	t.Helper()
	ev, err := f.svc.Append(context.Background(), req)
	require.NoError(t, err)
	return ev
}

// tamper overwrites one stored column, bypassing the append-only trigger.
func (f *fixture) tamper(t *testing.T, seq int64, column string, value any) {
	t.Helper()
	db := f.store.DB()
	_, err := db.Exec(`DROP TRIGGER IF EXISTS audit_events_no_update`)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE audit_events SET `+column+` = ? WHERE sequence = ?`, value, seq)
	require.NoError(t, err)
}

func createReq(entityID string, values map[string]any) AppendRequest {
	return AppendRequest{
		EntityType: "document",
		EntityID:   entityID,
		ActorID:    "alice",
		Action:     model.ActionCreate,
		NewValues:  canon.MustObject(values),
		Context:    model.EventContext{Reason: "initial draft"},
	}
}

func updateReq(entityID string, oldValues, newValues map[string]any) AppendRequest {
	return AppendRequest{
		EntityType: "document",
		EntityID:   entityID,
		ActorID:    "bob",
		Action:     model.ActionUpdate,
		OldValues:  canon.MustObject(oldValues),
		NewValues:  canon.MustObject(newValues),
		Context:    model.EventContext{Reason: "revision"},
	}
}

func deleteReq(entityID string, oldValues map[string]any) AppendRequest {
	return AppendRequest{
		EntityType: "document",
		EntityID:   entityID,
		ActorID:    "carol",
		Action:     model.ActionDelete,
		OldValues:  canon.MustObject(oldValues),
		Context:    model.EventContext{Reason: "retired"},
	}
}

func posInf() float64 {
	return math.Inf(1)
}
