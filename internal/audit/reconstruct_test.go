package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/traceledger/internal/canon"
	"github.com/roach88/traceledger/internal/errs"
	"github.com/roach88/traceledger/internal/model"
)

func TestReconstructState_PointInTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := model.Ref("document", "100")

	created := f.append(t, createReq("100", map[string]any{"title": "Plan", "status": "draft", "owner": "alice"}))
	f.append(t, createReq("200", map[string]any{"title": "Other"}))
	updated := f.append(t, updateReq("100",
		map[string]any{"status": "draft", "owner": "alice"},
		map[string]any{"status": "approved"},
	))

	state, err := f.svc.ReconstructState(ctx, doc, created.Timestamp)
	require.NoError(t, err)
	assert.True(t, state.Exists)
	assert.Equal(t, 1, state.EventCount)
	assert.True(t, canon.Equal(canon.MustObject(map[string]any{
		"title": "Plan", "status": "draft", "owner": "alice",
	}), state.Fields))

	state, err = f.svc.ReconstructState(ctx, doc, updated.Timestamp)
	require.NoError(t, err)
	assert.Equal(t, 2, state.EventCount)
	assert.Equal(t, updated.Sequence, state.LastSequence)
	assert.Equal(t, model.ActionUpdate, state.LastAction)
	assert.True(t, canon.Equal(canon.MustObject(map[string]any{
		"title": "Plan", "status": "approved",
	}), state.Fields), "owner appears only in old values and must be dropped")
}

func TestReconstructState_BetweenEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created := f.append(t, createReq("100", map[string]any{"v": 1}))
	f.clock.Advance(time.Hour)
	f.append(t, updateReq("100", map[string]any{"v": 1}, map[string]any{"v": 2}))

	state, err := f.svc.ReconstructState(ctx, model.Ref("document", "100"), created.Timestamp.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, canon.Int(1), state.Fields["v"])
}

func TestReconstructState_DeleteThenRecreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := model.Ref("document", "100")

	f.append(t, createReq("100", map[string]any{"v": 1}))
	deleted := f.append(t, deleteReq("100", map[string]any{"v": 1}))
	recreated := f.append(t, createReq("100", map[string]any{"v": 9}))

	state, err := f.svc.ReconstructState(ctx, doc, deleted.Timestamp)
	require.NoError(t, err)
	assert.False(t, state.Exists)
	assert.Empty(t, state.Fields)

	state, err = f.svc.ReconstructState(ctx, doc, recreated.Timestamp)
	require.NoError(t, err)
	assert.True(t, state.Exists)
	assert.Equal(t, canon.Int(9), state.Fields["v"])
	assert.Equal(t, 3, state.EventCount)
}

func TestReconstructState_UpdateAfterDeleteStaysDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := model.Ref("document", "100")

	f.append(t, createReq("100", map[string]any{"status": "draft"}))
	f.append(t, deleteReq("100", map[string]any{"status": "draft"}))
	last := f.append(t, updateReq("100", map[string]any{"status": "draft"}, map[string]any{"status": "approved"}))

	state, err := f.svc.ReconstructState(ctx, doc, last.Timestamp)
	require.NoError(t, err)
	assert.False(t, state.Exists)
	assert.Empty(t, state.Fields)
	assert.Equal(t, last.Sequence, state.LastSequence)
	assert.Equal(t, model.ActionUpdate, state.LastAction)
	assert.Equal(t, 3, state.EventCount)
}

func TestReconstructState_BeforeFirstEvent(t *testing.T) {
	f := newFixture(t)
	created := f.append(t, createReq("100", map[string]any{"v": 1}))

	_, err := f.svc.ReconstructState(context.Background(), model.Ref("document", "100"), created.Timestamp.Add(-time.Second))
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = f.svc.ReconstructState(context.Background(), model.Ref("document", "missing"), time.Time{})
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestReconstructState_RequiresRef(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ReconstructState(context.Background(), model.EntityRef{}, time.Time{})
	assert.True(t, errs.IsValidation(err))
}

func TestFold_UpdateWithoutCreate(t *testing.T) {
	state := Fold([]model.AuditEvent{{
		Sequence:  7,
		Action:    model.ActionUpdate,
		NewValues: canon.Object{"status": canon.String("open")},
	}})
	assert.True(t, state.Exists)
	assert.Equal(t, canon.String("open"), state.Fields["status"])
}

func TestFold_DoesNotAliasEventValues(t *testing.T) {
	ev := model.AuditEvent{Sequence: 1, Action: model.ActionCreate, NewValues: canon.Object{"a": canon.Int(1)}}
	state := Fold([]model.AuditEvent{ev})
	state.Fields["a"] = canon.Int(2)
	assert.Equal(t, canon.Int(1), ev.NewValues["a"])
}
