package template

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEngine_Replace_SimpleVariable(t *testing.T) {
	e := New()
	result, err := e.Replace("hello {{ name }}", map[string]interface{}{"name": "world"})
	require.NoError(t, err)
	require.Equal(t, "hello world", result)
}

func TestEngine_Replace_DotNotation(t *testing.T) {
	e := New()
	ctx := map[string]interface{}{
		"service": map[string]interface{}{"name": "api"},
	}
	result, err := e.Replace("{{ service.name }}", ctx)
	require.NoError(t, err)
	require.Equal(t, "api", result)
}

func TestEngine_Replace_MissingVariable(t *testing.T) {
	e := New()
	_, err := e.Replace("{{ missing }}", map[string]interface{}{})
	require.Error(t, err)
}

