package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/traceledger/internal/canon"
	"github.com/roach88/traceledger/internal/errs"
	"github.com/roach88/traceledger/internal/model"
)

func TestAppendEventRoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	ts := time.Date(2026, 3, 1, 9, 30, 15, 123456789, time.UTC)
	written, err := s.AppendEvent(ctx, func(head model.ChainHead) (model.AuditEvent, error) {
		assert.Equal(t, model.ChainHead{}, head)
		return model.AuditEvent{
			Sequence:   1,
			EntityType: "document",
			EntityID:   "100",
			ActorID:    "alice",
			Action:     model.ActionUpdate,
			Timestamp:  ts,
			OldValues:  canon.Object{"status": canon.String("draft")},
			NewValues:  canon.Object{"status": canon.String("approved"), "score": canon.Float(0.5)},
			Context: model.EventContext{
				IP:       "10.0.0.1",
				Device:   "kiosk-3",
				Location: "lab-b",
				Reason:   "review complete",
			},
			Checksum:         "abc",
			PreviousChecksum: "000",
		}, nil
	})
	require.NoError(t, err)

	read, err := s.EventAt(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, written.Timestamp, read.Timestamp)
	assert.Equal(t, written.Context, read.Context)
	assert.True(t, canon.Equal(written.NewValues, read.NewValues))
	assert.True(t, canon.Equal(written.OldValues, read.OldValues))
	assert.Equal(t, "abc", read.Checksum)
	assert.Equal(t, "000", read.PreviousChecksum)
}

func TestAppendEventRejectsDrift(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	appendTestEvent(t, s, ref("document", "1"), "alice", model.ActionCreate, baseTime)

	_, err := s.AppendEvent(ctx, func(head model.ChainHead) (model.AuditEvent, error) {
		return model.AuditEvent{
			Sequence:         head.Sequence + 2,
			EntityType:       "document",
			EntityID:         "1",
			ActorID:          "alice",
			Action:           model.ActionUpdate,
			Timestamp:        baseTime,
			Context:          model.EventContext{Reason: "skip"},
			Checksum:         "x",
			PreviousChecksum: head.Checksum,
		}, nil
	})
	assert.True(t, errors.Is(err, ErrSequenceDrift))

	head, err := s.ChainHead(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), head.Sequence, "rejected append must not be written")
}

func TestAppendEventBuildErrorWritesNothing(t *testing.T) {
	s := createTestStore(t)
	boom := errors.New("boom")

	_, err := s.AppendEvent(context.Background(), func(model.ChainHead) (model.AuditEvent, error) {
		return model.AuditEvent{}, boom
	})
	assert.ErrorIs(t, err, boom)

	head, err := s.ChainHead(context.Background())
	require.NoError(t, err)
	assert.Zero(t, head.Sequence)
}

func TestEventAtNotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.EventAt(context.Background(), 42)
	assert.True(t, errs.IsNotFound(err))
}

func TestEventsInRangeOrdered(t *testing.T) {
	s := createTestStore(t)
	for i := 0; i < 5; i++ {
		appendTestEvent(t, s, ref("document", "1"), "alice", model.ActionUpdate, baseTime.Add(time.Duration(i)*time.Minute))
	}

	events, err := s.EventsInRange(context.Background(), 2, 4)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, int64(2), events[0].Sequence)
	assert.Equal(t, int64(4), events[2].Sequence)

	empty, err := s.EventsInRange(context.Background(), 10, 20)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestEntityEventsUntil(t *testing.T) {
	s := createTestStore(t)
	doc := ref("document", "100")
	appendTestEvent(t, s, doc, "alice", model.ActionCreate, baseTime)
	appendTestEvent(t, s, ref("document", "200"), "alice", model.ActionCreate, baseTime.Add(time.Minute))
	appendTestEvent(t, s, doc, "bob", model.ActionUpdate, baseTime.Add(2*time.Minute))

	all, err := s.EntityEvents(context.Background(), doc, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(1), all[0].Sequence)
	assert.Equal(t, int64(3), all[1].Sequence)

	until := baseTime.Add(time.Minute)
	early, err := s.EntityEvents(context.Background(), doc, &until)
	require.NoError(t, err)
	require.Len(t, early, 1)
}

func TestSearchEventsFiltersAndPages(t *testing.T) {
	s := createTestStore(t)
	for i := 0; i < 6; i++ {
		actor := "alice"
		if i%2 == 1 {
			actor = "bob"
		}
		appendTestEvent(t, s, ref("document", "1"), actor, model.ActionUpdate, baseTime.Add(time.Duration(i)*time.Minute))
	}
	ctx := context.Background()

	page, err := s.SearchEvents(ctx, model.EventFilter{ActorID: "alice"}, model.Page{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Events, 2)
	assert.Equal(t, int64(5), page.Events[0].Sequence, "newest first by default")
	assert.Equal(t, int64(3), page.Events[1].Sequence)

	page, err = s.SearchEvents(ctx, model.EventFilter{ActorID: "alice"}, model.Page{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, int64(1), page.Events[0].Sequence)

	since := baseTime.Add(2 * time.Minute)
	page, err = s.SearchEvents(ctx, model.EventFilter{Since: &since}, model.Page{Ascending: true})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	assert.Equal(t, int64(3), page.Events[0].Sequence)
	assert.Equal(t, DefaultSearchLimit, page.Limit)
}

func TestSearchEventsClampsLimit(t *testing.T) {
	s := createTestStore(t)
	page, err := s.SearchEvents(context.Background(), model.EventFilter{}, model.Page{Limit: 1_000_000})
	require.NoError(t, err)
	assert.Equal(t, MaxSearchLimit, page.Limit)
	assert.Empty(t, page.Events)
}

func TestListEventsBySequenceRange(t *testing.T) {
	s := createTestStore(t)
	for i := 0; i < 4; i++ {
		appendTestEvent(t, s, ref("sample", "9"), "alice", model.ActionUpdate, baseTime)
	}

	events, err := s.ListEvents(context.Background(), model.EventFilter{FromSeq: 2, ToSeq: 3, Action: model.ActionUpdate})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].Sequence)
}
