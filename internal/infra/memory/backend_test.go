package memory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prevant-go/prevant/internal/infra"
	"github.com/prevant-go/prevant/internal/model"
	"github.com/stretchr/testify/require"
)

func TestBackend_DeployAndFetch(t *testing.T) {
	b := New()
	unit := infra.DeploymentUnit{
		AppName: "demo",
		Services: []model.DeployableService{
			{ServiceConfig: model.ServiceConfig{ServiceName: "nginx", Port: 80}},
		},
	}

	app, err := b.DeployServices(context.Background(), unit)
	require.NoError(t, err)
	require.Len(t, app.Services, 1)

	fetched, err := b.FetchApp(context.Background(), "demo")
	require.NoError(t, err)
	require.NotNil(t, fetched)
	require.Equal(t, "nginx", fetched.Services[0].ServiceName)
}

func TestBackend_DeployPreservesStartedAtWhenImageUnchanged(t *testing.T) {
	b := New()
	img, _ := model.ParseImage("nginx:1.0")
	unit := infra.DeploymentUnit{
		AppName:  "demo",
		Services: []model.DeployableService{{ServiceConfig: model.ServiceConfig{ServiceName: "nginx", Image: img}}},
	}

	first, err := b.DeployServices(context.Background(), unit)
	require.NoError(t, err)
	firstStart := first.Services[0].StartedAt

	second, err := b.DeployServices(context.Background(), unit)
	require.NoError(t, err)
	require.Equal(t, firstStart, second.Services[0].StartedAt)
}

func TestBackend_StopServicesRemovesApp(t *testing.T) {
	b := New()
	unit := infra.DeploymentUnit{AppName: "demo", Services: []model.DeployableService{{ServiceConfig: model.ServiceConfig{ServiceName: "nginx"}}}}
	_, err := b.DeployServices(context.Background(), unit)
	require.NoError(t, err)

	final, err := b.StopServices(context.Background(), "demo")
	require.NoError(t, err)
	require.Len(t, final.Services, 1)

	fetched, err := b.FetchApp(context.Background(), "demo")
	require.NoError(t, err)
	require.Nil(t, fetched)
}

func TestBackend_ChangeStatus(t *testing.T) {
	b := New()
	unit := infra.DeploymentUnit{AppName: "demo", Services: []model.DeployableService{{ServiceConfig: model.ServiceConfig{ServiceName: "nginx"}}}}
	_, err := b.DeployServices(context.Background(), unit)
	require.NoError(t, err)

	svc, err := b.ChangeStatus(context.Background(), "demo", "nginx", model.ServiceStatusPaused)
	require.NoError(t, err)
	require.NotNil(t, svc)
	require.Equal(t, model.ServiceStatusPaused, svc.Status)

	missing, err := b.ChangeStatus(context.Background(), "demo", "does-not-exist", model.ServiceStatusPaused)
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestBackend_GetLogsRespectsSinceAndLimit(t *testing.T) {
	b := New()
	base := time.Now()
	b.SeedLogs("demo", "nginx", []infra.LogLine{
		{Timestamp: base, Line: "one"},
		{Timestamp: base.Add(time.Second), Line: "two"},
		{Timestamp: base.Add(2 * time.Second), Line: "three"},
	})

	ch, err := b.GetLogs(context.Background(), "demo", "nginx", infra.LogOptions{Since: base, Limit: 1})
	require.NoError(t, err)

	var got []infra.LogLine
	for l := range ch {
		got = append(got, l)
	}
	require.Len(t, got, 1)
	require.Equal(t, "two", got[0].Line)
}

func TestBackend_HTTPForwarder(t *testing.T) {
	b := New()
	b.Handle("demo", "nginx", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/.well-known/host-meta.json", nil)
	resp, err := b.HTTPForwarder().Forward(context.Background(), "demo", "nginx", req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBackend_HTTPForwarder_NotRegisteredReturns404(t *testing.T) {
	b := New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp, err := b.HTTPForwarder().Forward(context.Background(), "demo", "missing", req)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
