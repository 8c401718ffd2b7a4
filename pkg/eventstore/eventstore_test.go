package eventstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	busmemory "github.com/coreflux/eventcore/pkg/bus/memory"
	"github.com/coreflux/eventcore/pkg/message"
	storagememory "github.com/coreflux/eventcore/pkg/storage/memory"
)

// failingBus.Publish always fails, so a sync-mode Commit has something real
// to surface to its caller — the in-memory bus only logs handler errors and
// never returns them from Publish itself.
type failingBus struct {
	*busmemory.Bus
	err error
}

func (f *failingBus) Publish(ctx context.Context, m message.Message) error {
	return f.err
}

func newTestStore(t *testing.T) (*EventStore, *storagememory.EventStorage) {
	t.Helper()
	storage := storagememory.New(nil)
	b := busmemory.New(nil)
	return New(storage, nil, b, WithSyncPublish()), storage
}

// S4: committing a registered starter event mints a fresh sagaId with
// sagaVersion 0.
func TestCommitAssignsSagaStarter(t *testing.T) {
	store, _ := newTestStore(t)
	store.RegisterSagaStarters("orderPlaced")

	committed, err := store.Commit(context.Background(), message.EventStream{
		{Type: "orderPlaced", AggregateID: "o1", AggregateVersion: message.Ptr(uint64(1))},
	})
	require.NoError(t, err)
	require.Len(t, committed, 1)
	require.False(t, message.IsZero(committed[0].SagaID))
	require.NotNil(t, committed[0].SagaVersion)
	require.Equal(t, uint64(0), *committed[0].SagaVersion)
}

// Invariant 3: recommitting a starter event that already carries a sagaId
// fails.
func TestCommitRejectsAlreadyStartedSaga(t *testing.T) {
	store, _ := newTestStore(t)
	store.RegisterSagaStarters("orderPlaced")

	_, err := store.Commit(context.Background(), message.EventStream{
		{Type: "orderPlaced", AggregateID: "o1", AggregateVersion: message.Ptr(uint64(1)), SagaID: "already-set"},
	})
	require.ErrorIs(t, err, ErrSagaAlreadyStarted)
}

// Invariant 3 (distinctness): N starter commits yield N distinct sagaIds.
func TestCommitSagaStartersAreDistinct(t *testing.T) {
	store, _ := newTestStore(t)
	store.RegisterSagaStarters("orderPlaced")

	seen := make(map[any]bool)
	for i := 0; i < 5; i++ {
		committed, err := store.Commit(context.Background(), message.EventStream{
			{Type: "orderPlaced", AggregateID: "o1", AggregateVersion: message.Ptr(uint64(i + 1))},
		})
		require.NoError(t, err)
		sagaID := committed[0].SagaID
		require.False(t, seen[sagaID], "saga id %v reused across commits", sagaID)
		seen[sagaID] = true
	}
}

// Invariant 6: registering the same starter type twice leaves the set
// unchanged (no double-assignment, no error).
func TestRegisterSagaStartersIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	store.RegisterSagaStarters("orderPlaced")
	store.RegisterSagaStarters("orderPlaced")

	committed, err := store.Commit(context.Background(), message.EventStream{
		{Type: "orderPlaced", AggregateID: "o1", AggregateVersion: message.Ptr(uint64(1))},
	})
	require.NoError(t, err)
	require.NotNil(t, committed[0].SagaVersion)
	require.Equal(t, uint64(0), *committed[0].SagaVersion)
}

func TestCommitRejectsInvalidEvent(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Commit(context.Background(), message.EventStream{{Type: ""}})
	require.ErrorIs(t, err, ErrInvalidEvent)
}

func TestCommitRejectsMultipleSnapshots(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Commit(context.Background(), message.EventStream{
		{Type: message.SnapshotType, AggregateID: "a1"},
		{Type: message.SnapshotType, AggregateID: "a1"},
	})
	require.ErrorIs(t, err, ErrMultipleSnapshots)
}

func TestCommitRejectsSnapshotWithoutSnapshotStorage(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Commit(context.Background(), message.EventStream{
		{Type: message.SnapshotType, AggregateID: "a1"},
	})
	require.ErrorIs(t, err, ErrSnapshotsUnsupported)
}

// Commit ordering (invariant 4): subscribers observe events of one commit in
// input order, and only after commit has returned successfully, which
// WithSyncPublish guarantees deterministically for this test.
func TestCommitPublishesInInputOrder(t *testing.T) {
	store, _ := newTestStore(t)

	var observed []string
	_, err := store.On("stepA", func(ctx context.Context, e message.Event) error {
		observed = append(observed, e.Type)
		return nil
	})
	require.NoError(t, err)
	_, err = store.On("stepB", func(ctx context.Context, e message.Event) error {
		observed = append(observed, e.Type)
		return nil
	})
	require.NoError(t, err)

	_, err = store.Commit(context.Background(), message.EventStream{
		{Type: "stepA", AggregateID: "a1", AggregateVersion: message.Ptr(uint64(1))},
		{Type: "stepB", AggregateID: "a1", AggregateVersion: message.Ptr(uint64(2))},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"stepA", "stepB"}, observed)
}

// S5: once(filter) fires at most once, for the first matching event, and
// leaves no residual listener behind.
func TestOnceFiresAtMostOnceForMatchingEvent(t *testing.T) {
	store, _ := newTestStore(t)

	var calls int
	var got message.Event
	sub, err := store.Once([]string{"y"}, func(e message.Event) bool {
		n, _ := e.Payload.(int)
		return n == 7
	}, func(ctx context.Context, e message.Event) error {
		calls++
		got = e
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, sub)

	_, err = store.Commit(context.Background(), message.EventStream{{Type: "x", AggregateID: "a1", AggregateVersion: message.Ptr(uint64(1)), Payload: 3}})
	require.NoError(t, err)
	_, err = store.Commit(context.Background(), message.EventStream{{Type: "y", AggregateID: "a1", AggregateVersion: message.Ptr(uint64(2)), Payload: 7}})
	require.NoError(t, err)
	_, err = store.Commit(context.Background(), message.EventStream{{Type: "y", AggregateID: "a1", AggregateVersion: message.Ptr(uint64(3)), Payload: 7}})
	require.NoError(t, err)

	require.Equal(t, 1, calls)
	require.Equal(t, 7, got.Payload)
}

func TestOnceCancelBeforeMatchPreventsInvocation(t *testing.T) {
	store, _ := newTestStore(t)

	var calls int
	sub, err := store.Once([]string{"z"}, nil, func(ctx context.Context, e message.Event) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, sub.Cancel())

	_, err = store.Commit(context.Background(), message.EventStream{{Type: "z", AggregateID: "a1", AggregateVersion: message.Ptr(uint64(1))}})
	require.NoError(t, err)
	require.Equal(t, 0, calls)
}

func TestGetAggregateEventsPrependsSnapshot(t *testing.T) {
	storage := storagememory.New(nil)
	snapshots := storagememory.NewSnapshotStorage()
	store := New(storage, snapshots, busmemory.New(nil), WithSyncPublish())

	_, err := store.Commit(context.Background(), message.EventStream{
		{Type: "did", AggregateID: "a1", AggregateVersion: message.Ptr(uint64(1))},
		{Type: message.SnapshotType, AggregateID: "a1", AggregateVersion: message.Ptr(uint64(1)), Payload: "snap-state"},
	})
	require.NoError(t, err)

	_, err = store.Commit(context.Background(), message.EventStream{
		{Type: "did", AggregateID: "a1", AggregateVersion: message.Ptr(uint64(2))},
	})
	require.NoError(t, err)

	full, err := store.GetAggregateEvents(context.Background(), "a1")
	require.NoError(t, err)
	require.Len(t, full, 2)
	require.True(t, message.IsSnapshot(full[0]))
	require.Equal(t, "did", full[1].Type)
}

// S5: once([]string{"x","y"}, filter, h) fires on the first matching event
// of either type, then unsubscribes from both.
func TestOnceFiresOnFirstMatchAcrossMultipleTypes(t *testing.T) {
	store, _ := newTestStore(t)

	var calls int
	var got message.Event
	sub, err := store.Once([]string{"x", "y"}, func(e message.Event) bool {
		n, _ := e.Payload.(int)
		return n == 7
	}, func(ctx context.Context, e message.Event) error {
		calls++
		got = e
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, sub)

	_, err = store.Commit(context.Background(), message.EventStream{{Type: "x", AggregateID: "a1", AggregateVersion: message.Ptr(uint64(1)), Payload: 3}})
	require.NoError(t, err)
	_, err = store.Commit(context.Background(), message.EventStream{{Type: "y", AggregateID: "a1", AggregateVersion: message.Ptr(uint64(2)), Payload: 7}})
	require.NoError(t, err)
	// A later match on the OTHER subscribed type must not re-fire the
	// handler — both subscriptions were torn down after the first match.
	_, err = store.Commit(context.Background(), message.EventStream{{Type: "x", AggregateID: "a1", AggregateVersion: message.Ptr(uint64(3)), Payload: 7}})
	require.NoError(t, err)

	require.Equal(t, 1, calls)
	require.Equal(t, "y", got.Type)
	require.Equal(t, 7, got.Payload)
}

// §4.1.1 step 5 / §7: in synchronous publish mode, Commit awaits publish and
// surfaces a publish failure to its own caller.
func TestCommitSyncModeSurfacesPublishError(t *testing.T) {
	storage := storagememory.New(nil)
	publishErr := errors.New("broker unavailable")
	fb := &failingBus{Bus: busmemory.New(nil), err: publishErr}
	store := New(storage, nil, fb, WithSyncPublish())

	committed, err := store.Commit(context.Background(), message.EventStream{
		{Type: "did", AggregateID: "a1", AggregateVersion: message.Ptr(uint64(1))},
	})
	require.ErrorIs(t, err, ErrPublishFailure)
	require.ErrorContains(t, err, "broker unavailable")
	// The events were already durably committed before publish ran.
	require.Len(t, committed, 1)
	stored, storeErr := storage.AggregateEvents(context.Background(), "a1", 0)
	require.NoError(t, storeErr)
	require.Len(t, stored, 1)
}
