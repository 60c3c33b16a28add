package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/traceledger/internal/errs"
	"github.com/roach88/traceledger/internal/model"
)

func TestSearch_FiltersByActorAndAction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.append(t, createReq("1", map[string]any{"v": 1}))
	f.append(t, updateReq("1", map[string]any{"v": 1}, map[string]any{"v": 2}))
	f.append(t, createReq("2", map[string]any{"v": 1}))
	f.append(t, updateReq("2", map[string]any{"v": 1}, map[string]any{"v": 3}))

	page, err := f.svc.Search(ctx, model.EventFilter{ActorID: "bob", Action: model.ActionUpdate}, model.Page{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Events, 2)
	assert.Equal(t, int64(4), page.Events[0].Sequence, "newest first by default")
	assert.Equal(t, int64(2), page.Events[1].Sequence)
}

func TestSearch_TimeWindowAndPaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var events []model.AuditEvent
	for i := 0; i < 6; i++ {
		events = append(events, f.append(t, createReq("doc", map[string]any{"i": i})))
	}
	since := events[1].Timestamp
	until := events[4].Timestamp

	page, err := f.svc.Search(ctx, model.EventFilter{Since: &since, Until: &until}, model.Page{Limit: 2, Offset: 1, Ascending: true})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	require.Len(t, page.Events, 2)
	assert.Equal(t, int64(3), page.Events[0].Sequence)
	assert.Equal(t, int64(4), page.Events[1].Sequence)
}

func TestSearch_RejectsBadFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()
	earlier := now.Add(-time.Hour)

	tests := []struct {
		name   string
		filter model.EventFilter
		page   model.Page
	}{
		{"unknown action", model.EventFilter{Action: "purge"}, model.Page{}},
		{"inverted window", model.EventFilter{Since: &now, Until: &earlier}, model.Page{}},
		{"inverted sequence range", model.EventFilter{FromSeq: 10, ToSeq: 2}, model.Page{}},
		{"entity id without type", model.EventFilter{EntityID: "1"}, model.Page{}},
		{"negative limit", model.EventFilter{}, model.Page{Limit: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Search(ctx, tt.filter, tt.page)
			assert.True(t, errs.IsValidation(err))
		})
	}
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	f.append(t, createReq("1", map[string]any{"v": 1}))
	f.append(t, createReq("2", map[string]any{"v": 1}))
	f.append(t, deleteReq("1", map[string]any{"v": 1}))

	history, err := f.svc.History(context.Background(), model.Ref("document", "1"))
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.ActionCreate, history[0].Action)
	assert.Equal(t, model.ActionDelete, history[1].Action)
}
