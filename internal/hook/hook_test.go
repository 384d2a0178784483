package hook

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeHook(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hook.js")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRunner_NilRunnerPassesThrough(t *testing.T) {
	var r *Runner
	result, err := r.Run("demo", []interface{}{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, []interface{}{"a", "b"}, result)
}

func TestLoadDeploymentHook_FiltersList(t *testing.T) {
	path := writeHook(t, `
function deploymentHook(appName, configs) {
  return configs.filter(function(c) { return c.serviceName !== "drop-me"; });
}
`)
	r, err := LoadDeploymentHook(path)
	require.NoError(t, err)
	require.NotNil(t, r)

	configs := []interface{}{
		map[string]interface{}{"serviceName": "keep-me"},
		map[string]interface{}{"serviceName": "drop-me"},
	}
	result, err := r.Run("demo", configs)
	require.NoError(t, err)
	require.Len(t, result, 1)
}

func TestLoadDeploymentHook_NonListReturnIsInvalid(t *testing.T) {
	path := writeHook(t, `function deploymentHook(appName, configs) { return "nope"; }`)
	r, err := LoadDeploymentHook(path)
	require.NoError(t, err)

	_, err = r.Run("demo", []interface{}{})
	require.Error(t, err)
}

func TestLoadDeploymentHook_ThrowIsInvalid(t *testing.T) {
	path := writeHook(t, `function deploymentHook(appName, configs) { throw new Error("boom"); }`)
	r, err := LoadDeploymentHook(path)
	require.NoError(t, err)

	_, err = r.Run("demo", []interface{}{})
	require.Error(t, err)
}

func TestLoadDeploymentHook_MissingFunctionIsInvalid(t *testing.T) {
	path := writeHook(t, `var notTheRightName = function() { return []; };`)
	r, err := LoadDeploymentHook(path)
	require.NoError(t, err)

	_, err = r.Run("demo", []interface{}{})
	require.Error(t, err)
}

func TestLoadDeploymentHook_MissingFileIsInvalid(t *testing.T) {
	_, err := LoadDeploymentHook(filepath.Join(t.TempDir(), "missing.js"))
	require.Error(t, err)
}

func TestLoadDeploymentHook_EmptyPathIsNil(t *testing.T) {
	r, err := LoadDeploymentHook("")
	require.NoError(t, err)
	require.Nil(t, r)
}
