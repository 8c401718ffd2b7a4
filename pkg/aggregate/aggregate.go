// Package aggregate defines the write-side contract for reconstructing and
// mutating an aggregate from its event stream: Aggregate itself, the
// optional snapshot-taking interfaces, and the Factory registry an
// AggregateCommandHandler uses to build an instance for a given command.
// Grounded in the teacher's pkg/eventsourcing.Aggregate /
// pkg/eventsourcing.AggregateRoot.
package aggregate

import (
	"fmt"

	"github.com/coreflux/eventcore/pkg/message"
)

// Aggregate is the write-side contract every domain aggregate implements.
// Handle decides what events a command produces without mutating state;
// Mutate applies a single historical or just-emitted event to update state.
// This command/event split (rather than a single "process" method) matches
// §4.3: "Handle validates a command against current state and returns the
// events it produces, without mutating state. Mutate applies a single event
// to update state and is the only place state changes."
type Aggregate interface {
	// ID returns the aggregate's identity, set once at creation.
	ID() message.ID

	// Version returns the aggregate version of the last event applied
	// (counting a restored snapshot's version), or 0 for a new aggregate.
	Version() uint64

	// Handle validates cmd against the aggregate's current state and
	// returns the events it produces. It must not call Mutate itself.
	Handle(cmd message.Command) (message.EventStream, error)

	// Mutate applies a single event, advancing Version by one.
	Mutate(e message.Event) error
}

// SnapshotTaker is implemented by aggregates that opt into periodic
// snapshotting. ShouldSnapshot is consulted after a command's produced
// events have been applied and before they are committed.
type SnapshotTaker interface {
	ShouldSnapshot() bool
}

// SnapshotMaker produces the payload embedded in a snapshot event.
type SnapshotMaker interface {
	MakeSnapshot() (any, error)
}

// SnapshotRestorer restores state from a snapshot event's payload, in lieu
// of replaying every event that preceded it.
type SnapshotRestorer interface {
	RestoreFromSnapshot(payload any) error
}

// Root is an embeddable base that implements the bookkeeping half of
// Aggregate (ID/Version tracking) so domain types only need to implement
// Handle and the state-mutation logic, matching the teacher's
// AggregateRoot/ApplyChange split.
type Root struct {
	id      message.ID
	version uint64
}

// NewRoot creates a Root identified by id, at version 0.
func NewRoot(id message.ID) Root {
	return Root{id: id}
}

// ID returns the aggregate's identity.
func (r *Root) ID() message.ID { return r.id }

// Version returns the current version.
func (r *Root) Version() uint64 { return r.version }

// Advance bumps the version by one; call this from Mutate after applying an
// event's payload to domain state.
func (r *Root) Advance() { r.version++ }

// SetID assigns the identity once, typically from a factory when the first
// command carries no aggregate id yet. It is a no-op once id is already set.
func (r *Root) SetID(id message.ID) {
	if message.IsZero(r.id) {
		r.id = id
	}
}

// Factory constructs a zero-value instance of T for replay, and reports
// which command types it handles. A single Factory is registered per
// aggregate type; AggregateCommandHandler uses Handles to route commands to
// it without a separate command-to-aggregate-type table, matching the
// design note's resolved "single factory-plus-Handles() shape" decision.
type Factory interface {
	// New returns a freshly constructed, version-0 aggregate for id.
	New(id message.ID) Aggregate

	// Handles reports the command types routed to this factory's
	// aggregates.
	Handles() []string
}

// FactoryFunc adapts a plain constructor function plus a static command
// list into a Factory.
type FactoryFunc struct {
	NewFunc      func(id message.ID) Aggregate
	HandlesTypes []string
}

// New implements Factory.
func (f FactoryFunc) New(id message.ID) Aggregate { return f.NewFunc(id) }

// Handles implements Factory.
func (f FactoryFunc) Handles() []string { return f.HandlesTypes }

// Registry indexes registered Factories by the command types they handle.
type Registry struct {
	byCommand map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byCommand: make(map[string]Factory)}
}

// Register associates every command type in f.Handles() with f. It is an
// error for two factories to claim the same command type.
func (r *Registry) Register(f Factory) error {
	for _, t := range f.Handles() {
		if existing, ok := r.byCommand[t]; ok {
			return fmt.Errorf("aggregate: command type %q already routed to a factory (%T)", t, existing)
		}
		r.byCommand[t] = f
	}
	return nil
}

// FactoryFor returns the factory registered for commandType, or false if
// none was registered.
func (r *Registry) FactoryFor(commandType string) (Factory, bool) {
	f, ok := r.byCommand[commandType]
	return f, ok
}

// LoadFromHistory replays history onto agg in order, restoring from a
// leading snapshot event when agg implements SnapshotRestorer. After a
// restore, an aggregate with an Advance method (such as one embedding Root)
// is advanced to the snapshot's AggregateVersion.
func LoadFromHistory(agg Aggregate, history message.EventStream) error {
	for _, e := range history {
		if message.IsSnapshot(e) {
			restorer, ok := agg.(SnapshotRestorer)
			if !ok {
				return fmt.Errorf("aggregate: %T does not support snapshot restore", agg)
			}
			if err := restorer.RestoreFromSnapshot(e.Payload); err != nil {
				return fmt.Errorf("aggregate: restore from snapshot: %w", err)
			}
			if adv, ok := agg.(interface{ Advance() }); ok && e.AggregateVersion != nil {
				for agg.Version() < *e.AggregateVersion {
					adv.Advance()
				}
			}
			continue
		}
		if err := agg.Mutate(e); err != nil {
			return fmt.Errorf("aggregate: replay event %q: %w", e.Type, err)
		}
	}
	return nil
}
