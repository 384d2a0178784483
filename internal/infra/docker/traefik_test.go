package docker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prevant-go/prevant/internal/model"
)

func TestTraefikWriter_WriteAndRemove(t *testing.T) {
	dir := t.TempDir()
	w := NewTraefikWriter(dir)

	image, err := model.ParseImage("nginx:alpine")
	require.NoError(t, err)

	services := []model.DeployableService{
		{ServiceConfig: model.ServiceConfig{ServiceName: "web", Image: image, Port: 80}},
	}

	require.NoError(t, w.Write("demo", services))

	path := filepath.Join(dir, "prevant-demo.yaml")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "demo-web")
	require.Contains(t, string(data), "http://prevant-demo-web:80")

	require.NoError(t, w.Remove("demo"))
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestTraefikWriter_RemoveMissingIsNoop(t *testing.T) {
	w := NewTraefikWriter(t.TempDir())
	require.NoError(t, w.Remove("does-not-exist"))
}
