package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/traceledger/internal/errs"
	"github.com/roach88/traceledger/internal/model"
)

func testLink(id string, from, to model.EntityRef) model.TraceabilityLink {
	return model.TraceabilityLink{
		ID:        id,
		Source:    from,
		Target:    to,
		LinkType:  model.LinkDerivesFrom,
		CreatedBy: "alice",
		CreatedAt: baseTime,
		Active:    true,
	}
}

func TestWriteAndReadLink(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	l := testLink("l1", ref("sample", "1"), ref("result", "7"))
	l.Description = "assay output"
	require.NoError(t, s.WriteLink(ctx, l))

	got, err := s.ReadLink(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, l, got)

	_, err = s.ReadLink(ctx, "nope")
	assert.True(t, errs.IsNotFound(err))
}

func TestWriteLinkRejectsDuplicateActive(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteLink(ctx, testLink("l1", ref("a", "1"), ref("b", "1"))))
	err := s.WriteLink(ctx, testLink("l2", ref("a", "1"), ref("b", "1")))
	assert.True(t, errors.Is(err, ErrDuplicateLink))

	// Once deactivated the same edge may be recreated.
	_, err = s.DeactivateLink(ctx, "l1", "bob", baseTime)
	require.NoError(t, err)
	assert.NoError(t, s.WriteLink(ctx, testLink("l3", ref("a", "1"), ref("b", "1"))))
}

func TestDeactivateLink(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.WriteLink(ctx, testLink("l1", ref("a", "1"), ref("b", "1"))))

	l, err := s.DeactivateLink(ctx, "l1", "bob", baseTime)
	require.NoError(t, err)
	assert.False(t, l.Active)
	assert.Equal(t, "bob", l.DeactivatedBy)
	require.NotNil(t, l.DeactivatedAt)

	stored, err := s.ReadLink(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, l, stored)

	_, err = s.DeactivateLink(ctx, "l1", "bob", baseTime)
	assert.True(t, errs.IsValidation(err))

	_, err = s.DeactivateLink(ctx, "missing", "bob", baseTime)
	assert.True(t, errs.IsNotFound(err))
}

func TestOutgoingAndIncomingSkipInactive(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	a, b, c := ref("a", "1"), ref("b", "1"), ref("c", "1")

	require.NoError(t, s.WriteLink(ctx, testLink("l1", a, b)))
	require.NoError(t, s.WriteLink(ctx, testLink("l2", a, c)))
	_, err := s.DeactivateLink(ctx, "l2", "bob", baseTime)
	require.NoError(t, err)

	out, err := s.OutgoingLinks(ctx, a)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "l1", out[0].ID)

	in, err := s.IncomingLinks(ctx, b)
	require.NoError(t, err)
	require.Len(t, in, 1)

	all, err := s.LinksFor(ctx, a, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := s.LinksFor(ctx, a, false)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestLinksCannotBeDeleted(t *testing.T) {
	s := createTestStore(t)
	require.NoError(t, s.WriteLink(context.Background(), testLink("l1", ref("a", "1"), ref("b", "1"))))

	_, err := s.DB().Exec(`DELETE FROM traceability_links`)
	assert.ErrorContains(t, err, "never deleted")
}
