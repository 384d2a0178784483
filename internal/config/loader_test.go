package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	require.Equal(t, RuntimeDocker, cfg.Runtime.Type)
}

func TestLoad_ParsesTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prevant.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[runtime]
type = "Kubernetes"

[containers]
memoryLimit = "2G"

[companions.httpd]
serviceName = "httpd"
type = "application"
image = "httpd:latest"
appSelector = ".+"

[apiAccess]
mode = "any"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, RuntimeKubernetes, cfg.Runtime.Type)
	require.Equal(t, "2G", cfg.Containers.MemoryLimit)
	require.Len(t, cfg.Companions, 1)
	companion := cfg.Companions["httpd"]
	require.True(t, companion.Matches("master"))
}

func TestLoad_InvalidRuntimeTypeFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[runtime]
type = "Nomad"
`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestResolveSecretFiles_ReadsTokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("s3cr3t\n"), 0o600))

	cfg := Default()
	cfg.Runtime.KubeTokenFile = path
	require.NoError(t, resolveSecretFiles(&cfg))
	require.Equal(t, "s3cr3t", cfg.Runtime.KubeToken)
}
