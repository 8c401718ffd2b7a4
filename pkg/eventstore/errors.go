package eventstore

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned for malformed calls: missing type,
	// missing required IDs, malformed filters. Raised synchronously.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidEvent is returned when an event fails structural validation
	// during commit. The whole commit fails; nothing is persisted.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrMultipleSnapshots is returned when a commit batch carries more
	// than one snapshot event.
	ErrMultipleSnapshots = errors.New("multiple snapshot events in one commit")

	// ErrSnapshotsUnsupported is returned when a commit carries a snapshot
	// but no SnapshotStorage was configured.
	ErrSnapshotsUnsupported = errors.New("snapshots unsupported: no snapshot storage configured")

	// ErrSagaAlreadyStarted is returned when a registered saga-starter
	// event arrives with a pre-populated SagaID.
	ErrSagaAlreadyStarted = errors.New("saga already started: starter event already carries a saga id")

	// ErrStorageFailure wraps an error surfaced by EventStorage or
	// SnapshotStorage.
	ErrStorageFailure = errors.New("storage failure")

	// ErrCommitPartialFailure is returned when durable persistence of
	// events and the snapshot did not both succeed.
	ErrCommitPartialFailure = errors.New("commit partially failed")

	// ErrPublishFailure is surfaced to the caller only in synchronous
	// publish mode.
	ErrPublishFailure = errors.New("publish failure")

	// ErrUnsupportedCapability is returned when an optional bus/storage
	// capability (queue, off, ...) is invoked against a backend that does
	// not implement it.
	ErrUnsupportedCapability = errors.New("unsupported capability")
)

// SnapshotContractViolationError is returned when an aggregate signals
// shouldTakeSnapshot but does not implement the snapshot-maker contract.
type SnapshotContractViolationError struct {
	AggregateType string
}

func (e *SnapshotContractViolationError) Error() string {
	return fmt.Sprintf("aggregate %s requested a snapshot but does not implement MakeSnapshot", e.AggregateType)
}

// ValidationError carries the field-level detail behind ErrInvalidEvent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", ErrInvalidEvent, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidEvent
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// UnsupportedCapabilityError names the missing capability.
type UnsupportedCapabilityError struct {
	Capability string
}

func (e *UnsupportedCapabilityError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUnsupportedCapability, e.Capability)
}

func (e *UnsupportedCapabilityError) Unwrap() error {
	return ErrUnsupportedCapability
}
