package hostmeta

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prevant-go/prevant/internal/infra"
	"github.com/prevant-go/prevant/internal/infra/memory"
	"github.com/prevant-go/prevant/internal/model"
)

func seedRunningService(backend *memory.Backend, app model.AppName, serviceName string, startedAt time.Time) {
	unit := infra.DeploymentUnit{
		AppName: app,
		Services: []model.DeployableService{
			{ServiceConfig: model.ServiceConfig{ServiceName: serviceName}},
		},
	}
	_, err := backend.DeployServices(context.Background(), unit)
	if err != nil {
		panic(err)
	}
	app2, _ := backend.FetchApp(context.Background(), app)
	for i := range app2.Services {
		app2.Services[i].StartedAt = startedAt
	}
}

type jrdHandler struct {
	status int
	body   string
}

func (h jrdHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(h.status)
	if h.body != "" {
		fmt.Fprint(w, h.body)
	}
}

func TestCrawler_ProbesAndPublishesParseableMeta(t *testing.T) {
	backend := memory.New()
	seedRunningService(backend, "demo", "web", time.Now().Add(-time.Hour))
	backend.Handle("demo", "web", jrdHandler{
		status: http.StatusOK,
		body:   `{"properties":{"https://prevant.example.com/properties/version":"1.2.3"}}`,
	})

	cache := NewCache()
	crawler := NewCrawler(backend, cache, nil)
	crawler.started = time.Now().Add(-time.Hour)
	crawler.Tick(context.Background())

	app, err := backend.FetchApp(context.Background(), "demo")
	require.NoError(t, err)
	meta, ok := cache.Get("demo", app.Services[0].ID)
	require.True(t, ok)
	require.True(t, meta.Probed)
	require.False(t, meta.Empty)
	require.Equal(t, "1.2.3", meta.Version)
}

func TestCrawler_UnparseableBodyCachesEmpty(t *testing.T) {
	backend := memory.New()
	seedRunningService(backend, "demo", "web", time.Now().Add(-time.Hour))
	backend.Handle("demo", "web", jrdHandler{status: http.StatusOK, body: "not json"})

	cache := NewCache()
	crawler := NewCrawler(backend, cache, nil)
	crawler.started = time.Now().Add(-time.Hour)
	crawler.Tick(context.Background())

	app, _ := backend.FetchApp(context.Background(), "demo")
	meta, ok := cache.Get("demo", app.Services[0].ID)
	require.True(t, ok)
	require.True(t, meta.Probed)
	require.True(t, meta.Empty)
}

func TestCrawler_ErrorWithinStartupGraceLeavesAbsent(t *testing.T) {
	backend := memory.New()
	seedRunningService(backend, "demo", "web", time.Now())
	// No handler registered: forwarder returns 404, and both the service
	// and PREvant itself are brand new, so the entry must stay absent.

	cache := NewCache()
	crawler := NewCrawler(backend, cache, nil)
	crawler.Tick(context.Background())

	app, _ := backend.FetchApp(context.Background(), "demo")
	_, ok := cache.Get("demo", app.Services[0].ID)
	require.False(t, ok)
}

func TestCrawler_ErrorPastGraceCachesEmpty(t *testing.T) {
	backend := memory.New()
	seedRunningService(backend, "demo", "web", time.Now().Add(-10*time.Minute))

	cache := NewCache()
	crawler := NewCrawler(backend, cache, nil)
	crawler.started = time.Now().Add(-10 * time.Minute)
	crawler.Tick(context.Background())

	app, _ := backend.FetchApp(context.Background(), "demo")
	meta, ok := cache.Get("demo", app.Services[0].ID)
	require.True(t, ok)
	require.True(t, meta.Empty)
}

func TestCrawler_PurgesEntryWhenServiceRestarted(t *testing.T) {
	backend := memory.New()
	seedRunningService(backend, "demo", "web", time.Now().Add(-time.Hour))
	backend.Handle("demo", "web", jrdHandler{status: http.StatusOK, body: `{"properties":{}}`})

	cache := NewCache()
	crawler := NewCrawler(backend, cache, nil)
	crawler.started = time.Now().Add(-time.Hour)
	crawler.Tick(context.Background())

	app, _ := backend.FetchApp(context.Background(), "demo")
	serviceID := app.Services[0].ID
	_, ok := cache.Get("demo", serviceID)
	require.True(t, ok)

	// Simulate a restart: bump the cached entry's StartedAt beyond the
	// insertion timestamp by re-seeding with a fresh StartedAt.
	seedRunningService(backend, "demo", "web", time.Now().Add(time.Hour))
	crawler.Tick(context.Background())

	_, ok = cache.Get("demo", serviceID)
	require.False(t, ok, "stale entry for a restarted service must be purged")
}

func TestCrawler_PausedServiceIsPurged(t *testing.T) {
	backend := memory.New()
	seedRunningService(backend, "demo", "web", time.Now().Add(-time.Hour))
	backend.Handle("demo", "web", jrdHandler{status: http.StatusOK, body: `{"properties":{}}`})

	cache := NewCache()
	crawler := NewCrawler(backend, cache, nil)
	crawler.started = time.Now().Add(-time.Hour)
	crawler.Tick(context.Background())

	app, _ := backend.FetchApp(context.Background(), "demo")
	serviceID := app.Services[0].ID
	_, ok := cache.Get("demo", serviceID)
	require.True(t, ok)

	_, err := backend.ChangeStatus(context.Background(), "demo", "web", model.ServiceStatusPaused)
	require.NoError(t, err)
	crawler.Tick(context.Background())

	_, ok = cache.Get("demo", serviceID)
	require.False(t, ok)
}
