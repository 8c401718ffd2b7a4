package saga

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreflux/eventcore/pkg/message"
)

// creditSaga reacts to "debited" by sending a "credit" command to the
// payload's destination, and compensates a failed send by re-crediting the
// source aggregate — deliberately reading only from the trigger's payload in
// React/OnError, never from replayed state, matching the "React must not
// mutate state" contract.
type creditSaga struct {
	id      message.ID
	version uint64
	applied []string
}

func newCreditSaga(id message.ID) Saga { return &creditSaga{id: id} }

func (s *creditSaga) ID() message.ID  { return s.id }
func (s *creditSaga) Version() uint64 { return s.version }

func (s *creditSaga) Apply(e message.Event) error {
	s.applied = append(s.applied, e.Type)
	s.version++
	return nil
}

func (s *creditSaga) React(trigger message.Event) ([]message.Command, error) {
	dest, _ := trigger.Payload.(string)
	return []message.Command{{Type: "credit", AggregateID: dest}}, nil
}

func (s *creditSaga) OnError(trigger message.Event, dispatchErr error) ([]message.Command, error) {
	return []message.Command{{Type: "compensateCredit", AggregateID: trigger.AggregateID}}, nil
}

var creditSagaFactory = FactoryFunc{NewFunc: newCreditSaga, HandlesTypes: []string{"debited"}}

type fakeSagaStore struct {
	history message.EventStream
}

func (f *fakeSagaStore) GetSagaEventsBefore(ctx context.Context, sagaID message.ID, beforeVersion uint64) (message.EventStream, error) {
	var out message.EventStream
	for _, e := range f.history {
		if e.SagaVersion != nil && *e.SagaVersion < beforeVersion {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeSender struct {
	sent    []message.Command
	failFor string
}

func (f *fakeSender) Send(ctx context.Context, cmd message.Command) error {
	if cmd.Type == f.failFor {
		return errors.New("dispatch failed")
	}
	f.sent = append(f.sent, cmd)
	return nil
}

func TestHandleReplaysHistoryBeforeReacting(t *testing.T) {
	store := &fakeSagaStore{history: message.EventStream{
		{Type: "debited", SagaID: "s1", SagaVersion: message.Ptr(uint64(0))},
	}}
	sender := &fakeSender{}

	var built *creditSaga
	factory := FactoryFunc{
		NewFunc: func(id message.ID) Saga {
			built = &creditSaga{id: id}
			return built
		},
		HandlesTypes: []string{"debited"},
	}
	h := New(store, sender, factory, nil)

	trigger := message.Event{Type: "debited", AggregateID: "acc1", SagaID: "s1", SagaVersion: message.Ptr(uint64(1)), Payload: "acc2"}
	require.NoError(t, h.Handle(context.Background(), trigger))

	require.Equal(t, []string{"debited"}, built.applied, "the prior history event should have been replayed via Apply before React ran")
	require.Len(t, sender.sent, 1)
	require.Equal(t, "credit", sender.sent[0].Type)
	require.Equal(t, "acc2", sender.sent[0].AggregateID)
	require.Equal(t, "s1", sender.sent[0].SagaID)
}

func TestHandleRunsCompensationOnDispatchFailure(t *testing.T) {
	store := &fakeSagaStore{}
	sender := &fakeSender{failFor: "credit"}
	h := New(store, sender, creditSagaFactory, nil)

	trigger := message.Event{Type: "debited", AggregateID: "acc1", SagaID: "s1", SagaVersion: message.Ptr(uint64(0)), Payload: "acc2"}
	require.NoError(t, h.Handle(context.Background(), trigger))

	// The primary credit failed to send; only the compensating command
	// actually reached the sender's sent list.
	require.Len(t, sender.sent, 1)
	require.Equal(t, "compensateCredit", sender.sent[0].Type)
	require.Equal(t, "acc1", sender.sent[0].AggregateID)
	require.Equal(t, "s1", sender.sent[0].SagaID)
}

func TestHandleTreatsMissingSagaIDAsSagaStarting(t *testing.T) {
	store := &fakeSagaStore{history: message.EventStream{
		// Would be replayed if Handle mistakenly tried to load history for
		// a zero saga id; its presence here proves it never is.
		{Type: "debited", SagaID: "s1", SagaVersion: message.Ptr(uint64(0))},
	}}
	sender := &fakeSender{}

	var built *creditSaga
	factory := FactoryFunc{
		NewFunc: func(id message.ID) Saga {
			built = &creditSaga{id: id}
			return built
		},
		HandlesTypes: []string{"debited"},
	}
	h := New(store, sender, factory, nil)

	trigger := message.Event{Type: "debited", AggregateID: "acc1", Payload: "acc2"}
	require.NoError(t, h.Handle(context.Background(), trigger))

	require.Empty(t, built.applied, "a saga-starting trigger carries no saga id, so there is no history to replay")
	require.Len(t, sender.sent, 1)
	require.Equal(t, "credit", sender.sent[0].Type)
}

func TestHandleRequiresSagaVersion(t *testing.T) {
	h := New(&fakeSagaStore{}, &fakeSender{}, creditSagaFactory, nil)
	err := h.Handle(context.Background(), message.Event{Type: "debited", SagaID: "s1"})
	require.Error(t, err)
}
