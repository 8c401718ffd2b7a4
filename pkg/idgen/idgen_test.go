package idgen

import (
	"testing"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
)

func TestULIDGeneratorProducesDistinctSortableIDs(t *testing.T) {
	g := ULIDGenerator{}
	a := g.NewID()
	b := g.NewID()

	require.NotEqual(t, a, b)
	_, err := ulid.Parse(a)
	require.NoError(t, err)
}

func TestUUIDGeneratorProducesDistinctValidUUIDs(t *testing.T) {
	g := UUIDGenerator{}
	a := g.NewID()
	b := g.NewID()

	require.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	require.NoError(t, err)
}

func TestDefaultIsULIDGenerator(t *testing.T) {
	_, ok := Default.(ULIDGenerator)
	require.True(t, ok)
}
