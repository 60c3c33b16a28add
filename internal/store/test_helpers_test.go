package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/traceledger/internal/canon"
	"github.com/roach88/traceledger/internal/model"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// appendTestEvent appends an event with a fake checksum chained to head.
func appendTestEvent(t *testing.T, s *Store, entity model.EntityRef, actor string, action model.Action, at time.Time) model.AuditEvent {
	t.Helper()
	ev, err := s.AppendEvent(context.Background(), func(head model.ChainHead) (model.AuditEvent, error) {
		seq := head.Sequence + 1
		return model.AuditEvent{
			Sequence:         seq,
			EntityType:       entity.Type,
			EntityID:         entity.ID,
			ActorID:          actor,
			Action:           action,
			Timestamp:        at,
			OldValues:        canon.Object{},
			NewValues:        canon.Object{"n": canon.Int(seq)},
			Context:          model.EventContext{Reason: "test"},
			Checksum:         fmt.Sprintf("checksum-%d", seq),
			PreviousChecksum: head.Checksum,
		}, nil
	})
	if err != nil {
		t.Fatalf("AppendEvent() failed: %v", err)
	}
	return ev
}

func ref(entityType, id string) model.EntityRef {
	return model.Ref(entityType, id)
}
