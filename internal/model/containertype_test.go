package model

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContainerType_OrderIndex(t *testing.T) {
	types := []ContainerType{ContainerTypeInstance, ContainerTypeApplicationCompanion, ContainerTypeServiceCompanion, ContainerTypeReplica}
	sort.Slice(types, func(i, j int) bool { return types[i].Less(types[j]) })

	require.Equal(t, ContainerTypeApplicationCompanion, types[0])
	require.Equal(t, ContainerTypeServiceCompanion, types[1])
}

func TestContainerType_IsCompanion(t *testing.T) {
	require.True(t, ContainerTypeApplicationCompanion.IsCompanion())
	require.True(t, ContainerTypeServiceCompanion.IsCompanion())
	require.False(t, ContainerTypeInstance.IsCompanion())
	require.False(t, ContainerTypeReplica.IsCompanion())
}
