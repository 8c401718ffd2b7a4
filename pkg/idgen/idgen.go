// Package idgen provides the identifier generators EventStorage
// implementations delegate getNewId() to.
package idgen

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Generator mints fresh, never-reused identifiers.
type Generator interface {
	NewID() string
}

// ULIDGenerator produces lexicographically sortable identifiers. This is the
// default generator for aggregate and saga IDs: sortability lets a storage
// backend range-scan by creation order without a separate index.
type ULIDGenerator struct{}

// NewID returns a new ULID string.
func (ULIDGenerator) NewID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	ms := ulid.Timestamp(time.Now())
	id, err := ulid.New(ms, entropy)
	if err != nil {
		panic(err)
	}
	return id.String()
}

// UUIDGenerator produces random v4 UUIDs. Used where sortability doesn't
// matter and a well-known, widely interoperable format does — e.g. command
// IDs handed to external callers, or row keys in a SQL-backed store.
type UUIDGenerator struct{}

// NewID returns a new random UUID string.
func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}

// Default is the generator the storage backends (which EventStore.GetNewID
// delegates to) and the NATS bus use when none is configured.
var Default Generator = ULIDGenerator{}
