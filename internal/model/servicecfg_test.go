package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestServiceConfig_MergeWith_EnvLeftWins(t *testing.T) {
	left := ServiceConfig{
		Environment: EnvironmentSet{{Key: "A", Value: "left"}},
	}
	right := ServiceConfig{
		Environment: EnvironmentSet{{Key: "A", Value: "right"}, {Key: "B", Value: "right"}},
	}

	merged := left.MergeWith(right)
	a, ok := merged.Environment.Get("A")
	require.True(t, ok)
	require.Equal(t, "left", a.Value)

	b, ok := merged.Environment.Get("B")
	require.True(t, ok)
	require.Equal(t, "right", b.Value)
}

func TestServiceConfig_MergeWith_FilesUnion(t *testing.T) {
	left := ServiceConfig{Files: map[string]string{"/a": "left"}}
	right := ServiceConfig{Files: map[string]string{"/a": "right", "/b": "right"}}

	merged := left.MergeWith(right)
	require.Equal(t, "left", merged.Files["/a"])
	require.Equal(t, "right", merged.Files["/b"])
}

func TestServiceConfig_Clone_Independent(t *testing.T) {
	original := ServiceConfig{
		Environment: EnvironmentSet{{Key: "A", Value: "v"}},
		Files:       map[string]string{"/a": "x"},
	}
	clone := original.Clone()
	clone.Environment[0].Value = "mutated"
	clone.Files["/a"] = "mutated"

	require.Equal(t, "v", original.Environment[0].Value)
	require.Equal(t, "x", original.Files["/a"])
}
