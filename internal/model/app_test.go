package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeOwners_DedupsAndSorts(t *testing.T) {
	owners := NormalizeOwners([]string{"bob", "alice", "bob", "", "carol"})
	require.Equal(t, []string{"alice", "bob", "carol"}, owners)
}
