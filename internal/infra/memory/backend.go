// Package memory is an in-memory Backend implementation used by tests that
// exercise the orchestrator/builder without a real Docker or Kubernetes
// daemon, grounded on the teacher's mutex-guarded instance-map idiom
// (internal/serviceclass/types.go's ServiceInstanceState).
package memory

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/prevant-go/prevant/internal/infra"
	"github.com/prevant-go/prevant/internal/model"
)

// Backend is a thread-safe, process-local Backend. It never talks to a real
// container runtime: DeployServices simply records the requested state and
// marks every service Running.
type Backend struct {
	mu   sync.RWMutex
	apps map[model.AppName]model.App

	// logs holds canned log lines per (app, service) for GetLogs to
	// replay, set via SeedLogs for test fixtures.
	logs map[string][]infra.LogLine

	// handlers holds a fake per-(app,service) HTTP endpoint so tests can
	// exercise the host-meta crawler's probe path and HTTPForwarder
	// consumers without a real network listener.
	handlers map[string]http.Handler

	clock func() time.Time
}

// New returns an empty Backend.
func New() *Backend {
	return &Backend{
		apps:     make(map[model.AppName]model.App),
		logs:     make(map[string][]infra.LogLine),
		handlers: make(map[string]http.Handler),
		clock:    time.Now,
	}
}

// Handle registers a fake HTTP endpoint for (app, service), used by tests
// to simulate a service's .well-known/host-meta.json response.
func (b *Backend) Handle(app model.AppName, serviceName string, handler http.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[logKey(app, serviceName)] = handler
}

// SeedLogs installs canned log lines GetLogs will replay for (app, service).
func (b *Backend) SeedLogs(app model.AppName, service string, lines []infra.LogLine) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logs[logKey(app, service)] = lines
}

func logKey(app model.AppName, service string) string {
	return string(app) + "/" + service
}

func (b *Backend) FetchApps(_ context.Context) (map[model.AppName]model.App, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[model.AppName]model.App, len(b.apps))
	for k, v := range b.apps {
		out[k] = v
	}
	return out, nil
}

func (b *Backend) FetchApp(_ context.Context, name model.AppName) (*model.App, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	app, ok := b.apps[name]
	if !ok {
		return nil, nil
	}
	return &app, nil
}

func (b *Backend) DeployServices(_ context.Context, unit infra.DeploymentUnit) (model.App, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	existing := b.apps[unit.AppName]
	byName := make(map[string]model.Service, len(existing.Services))
	for _, svc := range existing.Services {
		byName[svc.ServiceName] = svc
	}

	now := b.clock()
	for _, ds := range unit.Services {
		started := now
		if prev, ok := byName[ds.ServiceName]; ok && prev.Config.Image.Equal(ds.Image) {
			started = prev.StartedAt
		}
		byName[ds.ServiceName] = model.Service{
			ID:            fmt.Sprintf("%s-%s", unit.AppName, ds.ServiceName),
			ServiceName:   ds.ServiceName,
			ContainerType: ds.ContainerType,
			Status:        model.ServiceStatusRunning,
			StartedAt:     started,
			Config:        ds.ServiceConfig,
			EndpointURL:   fmt.Sprintf("http://%s.%s.internal:%d", ds.ServiceName, unit.AppName, ds.Port),
		}
	}

	services := make([]model.Service, 0, len(byName))
	for _, svc := range byName {
		services = append(services, svc)
	}

	app := model.App{Name: unit.AppName, Services: services, Owners: existing.Owners}
	b.apps[unit.AppName] = app
	return app, nil
}

func (b *Backend) StopServices(_ context.Context, name model.AppName) (model.App, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	app := b.apps[name]
	delete(b.apps, name)
	return app, nil
}

func (b *Backend) ChangeStatus(_ context.Context, app model.AppName, serviceName string, status model.ServiceStatus) (*model.Service, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	a, ok := b.apps[app]
	if !ok {
		return nil, nil
	}
	for i, svc := range a.Services {
		if svc.ServiceName == serviceName {
			a.Services[i].Status = status
			b.apps[app] = a
			updated := a.Services[i]
			return &updated, nil
		}
	}
	return nil, nil
}

func (b *Backend) GetLogs(ctx context.Context, app model.AppName, serviceName string, opts infra.LogOptions) (<-chan infra.LogLine, error) {
	b.mu.RLock()
	lines := append([]infra.LogLine(nil), b.logs[logKey(app, serviceName)]...)
	b.mu.RUnlock()

	out := make(chan infra.LogLine, len(lines))
	go func() {
		defer close(out)
		delivered := 0
		for _, l := range lines {
			if !opts.Since.IsZero() && !l.Timestamp.After(opts.Since) {
				continue
			}
			select {
			case out <- l:
				delivered++
			case <-ctx.Done():
				return
			}
			if opts.Limit > 0 && delivered >= opts.Limit {
				return
			}
		}
	}()
	return out, nil
}

func (b *Backend) HTTPForwarder() infra.Forwarder { return memoryForwarder{backend: b} }

func (b *Backend) BaseTraefikIngressRoute(_ context.Context) (*infra.Route, error) {
	return &infra.Route{PathPrefix: "/"}, nil
}

// memoryForwarder implements infra.Forwarder by routing the request to a
// registered net/http.Handler per (app, service), set via Backend.Handle.
type memoryForwarder struct {
	backend *Backend
}

func (f memoryForwarder) Forward(ctx context.Context, app model.AppName, serviceName string, req *http.Request) (*http.Response, error) {
	f.backend.mu.RLock()
	handler := f.backend.handlers[logKey(app, serviceName)]
	f.backend.mu.RUnlock()
	if handler == nil {
		return &http.Response{StatusCode: http.StatusNotFound, Body: http.NoBody}, nil
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req.WithContext(ctx))
	return rec.Result(), nil
}
