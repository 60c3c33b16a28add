package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/traceledger/internal/audit"
	"github.com/roach88/traceledger/internal/custody"
	"github.com/roach88/traceledger/internal/graph"
	"github.com/roach88/traceledger/internal/integrity"
	"github.com/roach88/traceledger/internal/lineage"
	"github.com/roach88/traceledger/internal/metrics"
	"github.com/roach88/traceledger/internal/model"
	"github.com/roach88/traceledger/internal/rtm"
	"github.com/roach88/traceledger/internal/snapshot"
	"github.com/roach88/traceledger/internal/store"
	"github.com/roach88/traceledger/internal/testutil"
)

type testServer struct {
	*httptest.Server
	store *store.Store

	mu        sync.Mutex
	escalated []*integrity.Report
}

func (ts *testServer) escalations() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.escalated)
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	clock := testutil.NewStepClock()
	ids := testutil.NewSequentialIDs("api")

	a, err := audit.New(context.Background(), st, audit.WithClock(clock.Now), audit.WithMetrics(m))
	require.NoError(t, err)

	ts := &testServer{store: st}
	verifier := integrity.NewVerifier(a, integrity.Options{}, integrity.WithClock(clock.Now),
		integrity.WithSinks(integrity.SinkFunc(func(_ context.Context, r *integrity.Report) {
			ts.mu.Lock()
			ts.escalated = append(ts.escalated, r)
			ts.mu.Unlock()
		})))

	srv := New(Deps{
		Audit:     a,
		Verifier:  verifier,
		Graph:     graph.New(st, graph.DefaultOptions(), graph.WithClock(clock.Now), graph.WithIDGenerator(ids)),
		Lineage:   lineage.New(st, lineage.Options{}, lineage.WithClock(clock.Now), lineage.WithIDGenerator(ids)),
		RTM:       rtm.New(st, rtm.NewProviderRegistry(), rtm.WithClock(clock.Now), rtm.WithIDGenerator(ids)),
		Custody:   custody.New(st, custody.WithClock(clock.Now), custody.WithIDGenerator(ids)),
		Snapshots: snapshot.New(st, snapshot.WithClock(clock.Now), snapshot.WithIDGenerator(ids)),
		Gatherer:  reg,
		Metrics:   m,
	})
	ts.Server = httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.URL+path, rdr)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decodeInto[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

type apiError struct {
	Error struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details"`
	} `json:"error"`
}

func documentEvent(action string, oldValues, newValues map[string]any) map[string]any {
	return map[string]any{
		"entity_type": "document",
		"entity_id":   "100",
		"actor_id":    "alice",
		"action":      action,
		"old_values":  oldValues,
		"new_values":  newValues,
		"context":     map[string]any{"reason": "document " + action},
	}
}

func TestEndToEnd_DocumentApproval(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/v1/audit/events",
		documentEvent("create", nil, map[string]any{"title": "SOP-7", "status": "draft"}))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	first := decodeInto[model.AuditEvent](t, body)
	assert.Equal(t, int64(1), first.Sequence)
	assert.Equal(t, audit.GenesisChecksum, first.PreviousChecksum)

	resp, body = ts.do(t, http.MethodPost, "/v1/audit/events",
		documentEvent("update", map[string]any{"status": "draft"}, map[string]any{"status": "approved"}))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	second := decodeInto[model.AuditEvent](t, body)
	assert.Equal(t, first.Checksum, second.PreviousChecksum)

	resp, body = ts.do(t, http.MethodGet, "/v1/audit/verify?from=1&to=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	verified := decodeInto[verifyResponse](t, body)
	assert.Equal(t, statusOK, verified.Status)
	assert.Equal(t, 2, verified.Checked)
	assert.Empty(t, verified.Findings)
	assert.Equal(t, 1, ts.escalations())

	resp, body = ts.do(t, http.MethodGet, "/v1/audit/entities/document/100/state", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	state := decodeInto[map[string]any](t, body)
	fields := state["fields"].(map[string]any)
	assert.Equal(t, "approved", fields["status"])
	assert.Equal(t, "SOP-7", fields["title"])
}

func TestAppend_MissingReasonIsBadRequest(t *testing.T) {
	ts := newTestServer(t)
	ev := documentEvent("create", nil, map[string]any{"status": "draft"})
	ev["context"] = map[string]any{}

	resp, body := ts.do(t, http.MethodPost, "/v1/audit/events", ev)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	e := decodeInto[apiError](t, body)
	assert.Equal(t, "VALIDATION", e.Error.Code)
	assert.Equal(t, "context.reason", e.Error.Details["field"])
}

func TestAppend_UnknownFieldIsBadRequest(t *testing.T) {
	ts := newTestServer(t)
	ev := documentEvent("create", nil, map[string]any{"status": "draft"})
	ev["sequence"] = 42

	resp, _ := ts.do(t, http.MethodPost, "/v1/audit/events", ev)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestVerify_ReportsViolation(t *testing.T) {
	ts := newTestServer(t)
	for i := 0; i < 3; i++ {
		resp, body := ts.do(t, http.MethodPost, "/v1/audit/events",
			documentEvent("update", map[string]any{"rev": i}, map[string]any{"rev": i + 1}))
		require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	}

	db := ts.store.DB()
	_, err := db.Exec(`DROP TRIGGER IF EXISTS audit_events_no_update`)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE audit_events SET actor_id = 'mallory' WHERE sequence = 2`)
	require.NoError(t, err)

	resp, body := ts.do(t, http.MethodGet, "/v1/audit/verify", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	verified := decodeInto[verifyResponse](t, body)
	assert.Equal(t, statusViolation, verified.Status)
	require.Len(t, verified.Findings, 1)
	assert.Equal(t, int64(2), verified.Findings[0].Sequence)
	assert.Equal(t, audit.ReasonChecksumMismatch, verified.Findings[0].Reason)
}

func TestVerify_BadRange(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.do(t, http.MethodGet, "/v1/audit/verify?from=0", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/v1/audit/verify?from=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSearchAndExport(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.do(t, http.MethodPost, "/v1/audit/events",
		documentEvent("create", nil, map[string]any{"status": "draft"}))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := ts.do(t, http.MethodGet, "/v1/audit/events?actor_id=alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decodeInto[model.EventPage](t, body)
	assert.Equal(t, 1, page.Total)

	resp, body = ts.do(t, http.MethodGet, "/v1/audit/export?format=csv&entity_type=document", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	doc, err := audit.DecodeExport(body, audit.ExportCSV)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.EventCount)
	assert.Empty(t, audit.VerifyExport(doc))

	resp, _ = ts.do(t, http.MethodGet, "/v1/audit/export?format=xml", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTraceAndImpact(t *testing.T) {
	ts := newTestServer(t)
	link := func(src, dst string) {
		resp, body := ts.do(t, http.MethodPost, "/v1/links", map[string]any{
			"source":     map[string]string{"entity_type": "requirement", "entity_id": src},
			"target":     map[string]string{"entity_type": "requirement", "entity_id": dst},
			"link_type":  "derives_from",
			"created_by": "alice",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	}
	link("A", "B")
	link("B", "C")

	resp, body := ts.do(t, http.MethodGet, "/v1/trace/requirement/A/forward?depth=5", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	trace := decodeInto[graph.TraceResult](t, body)
	assert.True(t, trace.Contains(model.Ref("requirement", "C")))

	resp, body = ts.do(t, http.MethodGet, "/v1/trace/requirement/C/backward", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	trace = decodeInto[graph.TraceResult](t, body)
	assert.True(t, trace.Contains(model.Ref("requirement", "A")))

	resp, _ = ts.do(t, http.MethodGet, "/v1/trace/requirement/A/forward?depth=99", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, "/v1/impact/requirement/A?change=reword", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	impact := decodeInto[graph.ImpactReport](t, body)
	assert.Len(t, impact.Affected, 2)
	assert.Equal(t, graph.ScopeLow, impact.Scope)
}

func TestCustody_DiscontinuityIsConflict(t *testing.T) {
	ts := newTestServer(t)
	event := func(eventType, fromActor, toActor, fromLoc, toLoc string) map[string]any {
		return map[string]any{
			"entity":          map[string]string{"entity_type": "sample", "entity_id": "S-1"},
			"identifier":      "BC-1",
			"event_type":      eventType,
			"from_actor":      fromActor,
			"to_actor":        toActor,
			"from_location":   fromLoc,
			"to_location":     toLoc,
			"integrity_check": true,
		}
	}

	resp, body := ts.do(t, http.MethodPost, "/v1/custody", event("received", "", "alice", "", "dock"))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = ts.do(t, http.MethodPost, "/v1/custody", event("transferred", "mallory", "bob", "dock", "lab"))
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	e := decodeInto[apiError](t, body)
	assert.Equal(t, "CONTINUITY", e.Error.Code)
	assert.Equal(t, "alice", e.Error.Details["expected"])
	assert.Equal(t, "mallory", e.Error.Details["actual"])

	resp, body = ts.do(t, http.MethodGet, "/v1/custody/sample/S-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	chain := decodeInto[custody.Chain](t, body)
	assert.Len(t, chain.Events, 1)
	assert.Equal(t, "alice", chain.CurrentHolder)
}

func TestRequirementsCoverage(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodPost, "/v1/requirements", map[string]any{
		"number": "URS-1", "title": "Log receipt", "category": "intake", "priority": "high",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	req := decodeInto[model.Requirement](t, body)

	resp, body = ts.do(t, http.MethodPost, "/v1/requirements/"+req.ID+"/evidence", map[string]any{
		"entity": map[string]string{"entity_type": "test_case", "entity_id": "TC-1"},
		"method": "test",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, _ = ts.do(t, http.MethodPost, "/v1/requirements/missing/evidence", map[string]any{
		"entity": map[string]string{"entity_type": "test_case", "entity_id": "TC-1"},
		"method": "test",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, "/v1/coverage?category=intake", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	report := decodeInto[rtm.CoverageReport](t, body)
	assert.Equal(t, 1, report.Total)
	assert.Len(t, report.Gaps, 1)
}

func TestSnapshots(t *testing.T) {
	ts := newTestServer(t)
	create := func(data map[string]any) {
		resp, body := ts.do(t, http.MethodPost, "/v1/snapshots", map[string]any{
			"entity":     map[string]string{"entity_type": "document", "entity_id": "100"},
			"data":       data,
			"trigger":    "manual",
			"created_by": "alice",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	}
	create(map[string]any{"status": "draft", "pages": 3})
	create(map[string]any{"status": "approved", "pages": 3})

	resp, body := ts.do(t, http.MethodGet, "/v1/snapshots/document/100/compare?from=1&to=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{
		"entity": {"entity_type": "document", "entity_id": "100"},
		"from_version": 1,
		"to_version": 2,
		"added": {},
		"removed": {},
		"modified": {"status": {"old": "draft", "new": "approved"}}
	}`, string(body))

	resp, body = ts.do(t, http.MethodGet, "/v1/snapshots/document/100/latest", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(2), decodeInto[model.Snapshot](t, body).Version)

	resp, _ = ts.do(t, http.MethodGet, "/v1/snapshots/document/100/compare?from=1&to=9", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/v1/snapshots/document/100/first", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLineageEndpoints(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodPost, "/v1/lineage", map[string]any{
		"source":              map[string]string{"entity_type": "reading", "entity_id": "R-1", "stage": "bronze"},
		"target":              map[string]string{"entity_type": "result", "entity_id": "A-1", "stage": "silver"},
		"transformation_type": "normalize",
		"quality_score":       0.75,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = ts.do(t, http.MethodGet, "/v1/lineage/result/A-1/silver", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	path := decodeInto[map[string]any](t, body)
	assert.InDelta(t, 0.75, path["quality"], 1e-9)

	resp, _ = ts.do(t, http.MethodGet, "/v1/lineage/result/unknown/silver", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), metrics.MetricHTTPRequests), "metrics output lacks request counter")
}
