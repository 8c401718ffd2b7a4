package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreflux/eventcore/pkg/message"
	"github.com/coreflux/eventcore/pkg/storage"
)

func TestAppendAndReadAggregateEvents(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	require.NoError(t, s.AppendEvents(ctx, message.EventStream{
		{Type: "created", AggregateID: "a1", AggregateVersion: message.Ptr(uint64(1))},
		{Type: "did", AggregateID: "a1", AggregateVersion: message.Ptr(uint64(2))},
	}))

	all, err := s.AggregateEvents(ctx, "a1", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)

	after1, err := s.AggregateEvents(ctx, "a1", 1)
	require.NoError(t, err)
	require.Len(t, after1, 1)
	require.Equal(t, "did", after1[0].Type)
}

func TestAppendEventsRejectsVersionCollisionWithCommittedHistory(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	require.NoError(t, s.AppendEvents(ctx, message.EventStream{
		{Type: "created", AggregateID: "a1", AggregateVersion: message.Ptr(uint64(1))},
	}))

	err := s.AppendEvents(ctx, message.EventStream{
		{Type: "created-again", AggregateID: "a1", AggregateVersion: message.Ptr(uint64(1))},
	})
	require.ErrorIs(t, err, storage.ErrConcurrencyConflict)
}

func TestAppendEventsRejectsVersionCollisionWithinBatch(t *testing.T) {
	s := New(nil)
	err := s.AppendEvents(context.Background(), message.EventStream{
		{Type: "a", AggregateID: "a1", AggregateVersion: message.Ptr(uint64(1))},
		{Type: "b", AggregateID: "a1", AggregateVersion: message.Ptr(uint64(1))},
	})
	require.ErrorIs(t, err, storage.ErrConcurrencyConflict)
}

func TestAppendEventsIsAtomicOnConflict(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	require.NoError(t, s.AppendEvents(ctx, message.EventStream{
		{Type: "created", AggregateID: "a1", AggregateVersion: message.Ptr(uint64(1))},
	}))

	err := s.AppendEvents(ctx, message.EventStream{
		{Type: "other", AggregateID: "a2", AggregateVersion: message.Ptr(uint64(1))},
		{Type: "conflict", AggregateID: "a1", AggregateVersion: message.Ptr(uint64(1))},
	})
	require.Error(t, err)

	a2Events, err := s.AggregateEvents(ctx, "a2", 0)
	require.NoError(t, err)
	require.Empty(t, a2Events, "the whole batch should have been rejected, including the non-conflicting a2 event")
}

func TestSagaEventsFiltersByVersion(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	require.NoError(t, s.AppendEvents(ctx, message.EventStream{
		{Type: "orderPlaced", SagaID: "s1", SagaVersion: message.Ptr(uint64(0))},
		{Type: "paymentTaken", SagaID: "s1", SagaVersion: message.Ptr(uint64(1))},
	}))

	before1, err := s.SagaEvents(ctx, "s1", 1)
	require.NoError(t, err)
	require.Len(t, before1, 1)
	require.Equal(t, "orderPlaced", before1[0].Type)
}

func TestAllEventsFiltersByType(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	require.NoError(t, s.AppendEvents(ctx, message.EventStream{
		{Type: "a", AggregateID: "x1", AggregateVersion: message.Ptr(uint64(1))},
		{Type: "b", AggregateID: "x1", AggregateVersion: message.Ptr(uint64(2))},
	}))

	filtered, err := s.AllEvents(ctx, []string{"b"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	require.Equal(t, "b", filtered[0].Type)

	all, err := s.AllEvents(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestAggregateVersionTracksHighestCommitted(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	v, err := s.AggregateVersion(ctx, "unknown")
	require.NoError(t, err)
	require.Equal(t, uint64(0), v)

	require.NoError(t, s.AppendEvents(ctx, message.EventStream{
		{Type: "a", AggregateID: "a1", AggregateVersion: message.Ptr(uint64(1))},
		{Type: "b", AggregateID: "a1", AggregateVersion: message.Ptr(uint64(2))},
	}))
	v, err = s.AggregateVersion(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, uint64(2), v)
}

func TestSnapshotStorageUpsertsLatest(t *testing.T) {
	s := NewSnapshotStorage()
	ctx := context.Background()

	_, ok, err := s.LatestSnapshot(ctx, "a1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.SaveSnapshot(ctx, message.Event{Type: message.SnapshotType, AggregateID: "a1", AggregateVersion: message.Ptr(uint64(2)), Payload: "first"}))
	require.NoError(t, s.SaveSnapshot(ctx, message.Event{Type: message.SnapshotType, AggregateID: "a1", AggregateVersion: message.Ptr(uint64(4)), Payload: "second"}))

	snap, ok, err := s.LatestSnapshot(ctx, "a1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "second", snap.Payload)
	require.Equal(t, uint64(4), *snap.AggregateVersion)
}

func TestSaveSnapshotRequiresAggregateID(t *testing.T) {
	s := NewSnapshotStorage()
	err := s.SaveSnapshot(context.Background(), message.Event{Type: message.SnapshotType})
	require.Error(t, err)
}
