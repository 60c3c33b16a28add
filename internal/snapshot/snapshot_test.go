package snapshot

import (
	"context"
	"encoding/json"
	"path/filepath"
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

var doc = model.Ref("document", "DOC-1")

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "snapshots.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestService(t *testing.T, options ...Option) *Service {
	t.Helper()
	base := []Option{
		WithIDGenerator(testutil.NewSequentialIDs("snap")),
		WithClock(testutil.NewStepClock().Now),
	}
	return New(openStore(t), append(base, options...)...)
}

func TestCreateSnapshot_Versions(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		snap, err := s.CreateSnapshot(ctx, doc, canon.MustObject(map[string]any{"rev": i}), "manual", "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(i), snap.Version)
		assert.Equal(t, testutil.Epoch.Add(time.Duration(i-1)*time.Second), snap.CreatedAt)
	}

	versions, err := s.ListVersions(ctx, doc)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, "snap-000001", versions[0].ID)

	latest, err := s.Latest(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, int64(3), latest.Version)
	assert.Equal(t, canon.Int(3), latest.Data["rev"])
}

func TestCreateSnapshot_Validation(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.CreateSnapshot(ctx, model.EntityRef{}, nil, "manual", "alice")
	assert.True(t, errs.IsValidation(err))

	_, err = s.CreateSnapshot(ctx, doc, nil, " ", "alice")
	assert.True(t, errs.IsValidation(err))

	_, err = s.Get(ctx, doc, 0)
	assert.True(t, errs.IsValidation(err))
}

func TestCompare_IdenticalVersionsHaveEmptyDiff(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	data := canon.MustObject(map[string]any{
		"title": "Spec",
		"meta":  map[string]any{"owner": "alice", "tags": []any{"a", "b"}},
	})

	_, err := s.CreateSnapshot(ctx, doc, data, "manual", "alice")
	require.NoError(t, err)
	_, err = s.CreateSnapshot(ctx, doc, data, "scheduled", "system")
	require.NoError(t, err)

	d, err := s.Compare(ctx, doc, 1, 2)
	require.NoError(t, err)
	assert.True(t, d.Empty())
	assert.Equal(t, int64(1), d.FromVersion)
	assert.Equal(t, int64(2), d.ToVersion)
	assert.Equal(t, doc, d.Entity)
}

func TestCompare_SingleChangedField(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.CreateSnapshot(ctx, doc, canon.MustObject(map[string]any{"title": "Draft", "pages": 3}), "manual", "alice")
	require.NoError(t, err)
	_, err = s.CreateSnapshot(ctx, doc, canon.MustObject(map[string]any{"title": "Final", "pages": 3}), "manual", "alice")
	require.NoError(t, err)

	d, err := s.Compare(ctx, doc, 1, 2)
	require.NoError(t, err)
	assert.Empty(t, d.Added)
	assert.Empty(t, d.Removed)
	require.Len(t, d.Modified, 1)
	change := d.Modified["title"]
	assert.Equal(t, canon.String("Draft"), change.Old)
	assert.Equal(t, canon.String("Final"), change.New)
	assert.Nil(t, change.Nested)
}

func TestCompare_MissingVersionIsNotFound(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.CreateSnapshot(ctx, doc, canon.Object{}, "manual", "alice")
	require.NoError(t, err)

	_, err = s.Compare(ctx, doc, 1, 7)
	assert.True(t, errs.IsNotFound(err))
}

func TestCompareObjects(t *testing.T) {
	a := canon.MustObject(map[string]any{
		"kept":    1,
		"dropped": true,
		"meta":    map[string]any{"owner": "alice", "stage": "draft", "old": 1},
		"list":    []any{1, 2},
	})
	b := canon.MustObject(map[string]any{
		"kept":  1,
		"fresh": "x",
		"meta":  map[string]any{"owner": "bob", "stage": "draft", "new": map[string]any{"deep": 1}},
		"list":  []any{1, 2, 3},
	})

	d := Compare(a, b)

	assert.Equal(t, map[string]canon.Value{"fresh": canon.String("x")}, d.Added)
	assert.Equal(t, map[string]canon.Value{"dropped": canon.Bool(true)}, d.Removed)
	require.Len(t, d.Modified, 2)
	assert.Nil(t, d.Modified["list"].Nested)

	meta := d.Modified["meta"].Nested
	require.NotNil(t, meta)
	assert.Equal(t, map[string]ValueChange{
		"owner": {Old: canon.String("alice"), New: canon.String("bob")},
	}, meta.Modified)
	assert.Contains(t, meta.Removed, "old")
	assert.Contains(t, meta.Added, "new")
	assert.NotContains(t, meta.Modified, "stage")
}

func TestCompare_TypeChangeHasNoNestedDiff(t *testing.T) {
	d := Compare(
		canon.MustObject(map[string]any{"meta": map[string]any{"a": 1}}),
		canon.MustObject(map[string]any{"meta": "flat"}),
	)
	require.Contains(t, d.Modified, "meta")
	assert.Nil(t, d.Modified["meta"].Nested)
}

func TestDiff_JSON(t *testing.T) {
	d := Compare(
		canon.MustObject(map[string]any{"title": "Draft"}),
		canon.MustObject(map[string]any{"title": "Final"}),
	)
	raw, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"entity": {"entity_type": "", "entity_id": ""},
		"from_version": 0,
		"to_version": 0,
		"added": {},
		"removed": {},
		"modified": {"title": {"old": "Draft", "new": "Final"}}
	}`, string(raw))
}

func TestCapture_FromAuditLog(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	clock := testutil.NewStepClock()

	log, err := audit.New(ctx, st, audit.WithClock(clock.Now))
	require.NoError(t, err)
	_, err = log.Append(ctx, audit.AppendRequest{
		EntityType: doc.Type,
		EntityID:   doc.ID,
		ActorID:    "alice",
		Action:     model.ActionCreate,
		NewValues:  canon.MustObject(map[string]any{"title": "Draft"}),
		Context:    model.EventContext{Reason: "initial draft"},
	})
	require.NoError(t, err)

	s := New(st, WithClock(clock.Now), WithStateReader(log))
	snap, err := s.Capture(ctx, doc, "pre-release", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Version)
	assert.Equal(t, canon.String("Draft"), snap.Data["title"])

	_, err = New(st).Capture(ctx, doc, "pre-release", "alice")
	assert.True(t, errs.IsValidation(err))
}

func TestCapture_DeletedEntityRejected(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	clock := testutil.NewStepClock()

	log, err := audit.New(ctx, st, audit.WithClock(clock.Now))
	require.NoError(t, err)
	for _, req := range []audit.AppendRequest{
		{Action: model.ActionCreate, NewValues: canon.MustObject(map[string]any{"title": "Draft"}), Context: model.EventContext{Reason: "draft"}},
		{Action: model.ActionDelete, OldValues: canon.MustObject(map[string]any{"title": "Draft"}), Context: model.EventContext{Reason: "withdrawn"}},
	} {
		req.EntityType, req.EntityID, req.ActorID = doc.Type, doc.ID, "alice"
		_, err := log.Append(ctx, req)
		require.NoError(t, err)
	}

	s := New(st, WithClock(clock.Now), WithStateReader(log))
	_, err = s.Capture(ctx, doc, "pre-release", "alice")
	require.True(t, errs.IsValidation(err))
	assert.Contains(t, err.Error(), "deleted")

	versions, err := s.ListVersions(ctx, doc)
	require.NoError(t, err)
	assert.Empty(t, versions, "nothing is stored for a deleted entity")
}

func TestCreateSnapshot_LogsAndCounts(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	core, logs := observer.New(zapcore.DebugLevel)
	s := newTestService(t, WithLogger(zap.New(core)), WithMetrics(m))

	_, err := s.CreateSnapshot(context.Background(), doc, canon.Object{}, "manual", "alice")
	require.NoError(t, err)
	_, err = s.CreateSnapshot(context.Background(), doc, canon.Object{}, "manual", "alice")
	require.NoError(t, err)

	assert.Equal(t, 2.0, promtest.ToFloat64(m.SnapshotsCreated.WithLabelValues("manual")))
	entries := logs.FilterMessage("snapshot created").All()
	require.Len(t, entries, 2)
	assert.Equal(t, int64(2), entries[1].ContextMap()["version"])
	assert.Equal(t, doc.String(), entries[1].ContextMap()["entity"])
}
