package aggregate

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreflux/eventcore/pkg/message"
)

// counter is a minimal Aggregate used to exercise replay (invariant 1) and
// snapshot restore (invariant 2) without pulling in a full domain example.
type counter struct {
	Root
	total int
}

func newCounter(id message.ID) Aggregate { return &counter{Root: NewRoot(id)} }

func (c *counter) Handle(cmd message.Command) (message.EventStream, error) {
	amount, _ := cmd.Payload.(int)
	return message.EventStream{{Type: "incremented", Payload: amount}}, nil
}

func (c *counter) Mutate(e message.Event) error {
	amount, _ := e.Payload.(int)
	c.total += amount
	c.Advance()
	return nil
}

func (c *counter) ShouldSnapshot() bool { return c.Version() != 0 && c.Version()%2 == 0 }

func (c *counter) MakeSnapshot() (any, error) { return c.total, nil }

func (c *counter) RestoreFromSnapshot(payload any) error {
	total, _ := payload.(int)
	c.total = total
	c.Advance()
	return nil
}

func TestLoadFromHistoryReplaysEveryEvent(t *testing.T) {
	c := newCounter("c1").(*counter)
	history := message.EventStream{
		{Type: "incremented", AggregateVersion: message.Ptr(uint64(1)), Payload: 2},
		{Type: "incremented", AggregateVersion: message.Ptr(uint64(2)), Payload: 3},
		{Type: "incremented", AggregateVersion: message.Ptr(uint64(3)), Payload: 5},
	}
	require.NoError(t, LoadFromHistory(c, history))
	require.Equal(t, uint64(3), c.Version())
	require.Equal(t, 10, c.total)
}

func TestLoadFromHistorySnapshotRoundTrip(t *testing.T) {
	full := newCounter("c1").(*counter)
	require.NoError(t, LoadFromHistory(full, message.EventStream{
		{Type: "incremented", AggregateVersion: message.Ptr(uint64(1)), Payload: 2},
		{Type: "incremented", AggregateVersion: message.Ptr(uint64(2)), Payload: 3},
		{Type: "incremented", AggregateVersion: message.Ptr(uint64(3)), Payload: 5},
	}))

	fromSnapshot := newCounter("c1").(*counter)
	require.NoError(t, LoadFromHistory(fromSnapshot, message.EventStream{
		{Type: message.SnapshotType, AggregateVersion: message.Ptr(uint64(2)), Payload: 5},
		{Type: "incremented", AggregateVersion: message.Ptr(uint64(3)), Payload: 5},
	}))

	require.Equal(t, full.Version(), fromSnapshot.Version())
	require.Equal(t, full.total, fromSnapshot.total)
}

func TestLoadFromHistorySnapshotWithoutRestorerFails(t *testing.T) {
	var agg Aggregate = &plainAggregate{Root: NewRoot("c2")}
	err := LoadFromHistory(agg, message.EventStream{{Type: message.SnapshotType}})
	require.Error(t, err)
}

type plainAggregate struct {
	Root
}

func (plainAggregate) Handle(message.Command) (message.EventStream, error) { return nil, nil }
func (plainAggregate) Mutate(message.Event) error                         { return nil }

func TestRegistryRegisterDuplicateCommandType(t *testing.T) {
	r := NewRegistry()
	f1 := FactoryFunc{NewFunc: newCounter, HandlesTypes: []string{"increment"}}
	f2 := FactoryFunc{NewFunc: newCounter, HandlesTypes: []string{"increment"}}

	require.NoError(t, r.Register(f1))
	err := r.Register(f2)
	require.Error(t, err)
	require.Contains(t, err.Error(), "increment")

	got, ok := r.FactoryFor("increment")
	require.True(t, ok)
	require.Equal(t, fmt.Sprintf("%T", f1), fmt.Sprintf("%T", got))
}

func TestRootSetIDIsOnceOnly(t *testing.T) {
	r := NewRoot(nil)
	r.SetID("first")
	r.SetID("second")
	require.Equal(t, message.ID("first"), r.ID())
}
