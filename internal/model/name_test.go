package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewAppName_Valid(t *testing.T) {
	n, err := NewAppName("master")
	require.NoError(t, err)
	require.Equal(t, AppName("master"), n)
}

func TestNewAppName_AcceptsUnicode(t *testing.T) {
	n, err := NewAppName("Üß¥$Ω")
	require.NoError(t, err)
	require.Equal(t, AppName("Üß¥$Ω"), n)
}

func TestNewAppName_RejectsSlash(t *testing.T) {
	_, err := NewAppName("feature/login")
	require.Error(t, err)
}

func TestNewAppName_RejectsWhitespace(t *testing.T) {
	_, err := NewAppName("feature login")
	require.Error(t, err)
}

func TestNewAppName_RejectsTab(t *testing.T) {
	_, err := NewAppName("feature\tlogin")
	require.Error(t, err)
}
