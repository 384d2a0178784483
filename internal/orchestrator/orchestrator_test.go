package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prevant-go/prevant/internal/config"
	"github.com/prevant-go/prevant/internal/infra/memory"
	"github.com/prevant-go/prevant/internal/model"
	"github.com/prevant-go/prevant/internal/queue"
	"github.com/prevant-go/prevant/internal/template"
	"github.com/prevant-go/prevant/internal/unit"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *memory.Backend) {
	t.Helper()
	cfg := config.Default()
	backend := memory.New()
	q := queue.NewInMemory()
	builder := unit.New(backend, &cfg, template.New(), nil, nil)
	o := New(&cfg, backend, q, builder)
	return o, backend
}

func TestOrchestrator_CreateOrUpdateDeploysAndCompletes(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)
	defer o.Shutdown()

	id, err := o.CreateOrUpdate(context.Background(), "demo", model.CreateOrUpdatePayload{
		ServiceConfigs: []model.ServiceConfig{{ServiceName: "web"}},
		Owners:         []string{"alice"},
	})
	require.NoError(t, err)

	result, status, found := waitForDone(t, o, id)
	require.True(t, found)
	require.Equal(t, queue.StatusDone, status)
	require.NoError(t, result.Err)
	require.NotNil(t, result.App)
	require.Equal(t, model.AppName("demo"), result.App.Name)
	require.Len(t, result.App.Services, 1)
	require.Equal(t, []string{"alice"}, result.App.Owners)
}

func TestOrchestrator_DeleteTearsDownApp(t *testing.T) {
	o, backend := newTestOrchestrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)
	defer o.Shutdown()

	id, err := o.CreateOrUpdate(context.Background(), "demo", model.CreateOrUpdatePayload{
		ServiceConfigs: []model.ServiceConfig{{ServiceName: "web"}},
	})
	require.NoError(t, err)
	_, _, found := waitForDone(t, o, id)
	require.True(t, found)

	delID, err := o.Delete(context.Background(), "demo")
	require.NoError(t, err)
	_, _, found = waitForDone(t, o, delID)
	require.True(t, found)

	app, err := backend.FetchApp(context.Background(), "demo")
	require.NoError(t, err)
	require.Nil(t, app)
}

func TestOrchestrator_ChangeStatusNotifiesSubscribers(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)
	defer o.Shutdown()

	id, err := o.CreateOrUpdate(context.Background(), "demo", model.CreateOrUpdatePayload{
		ServiceConfigs: []model.ServiceConfig{{ServiceName: "web"}},
	})
	require.NoError(t, err)
	_, _, found := waitForDone(t, o, id)
	require.True(t, found)

	sub := o.Subscribe()
	// Drain the notification CreateOrUpdate's own completion may send after
	// Subscribe returns, since consumeLoop notifies after Complete.
	select {
	case <-sub:
	default:
	}

	_, err = o.ChangeStatus(context.Background(), "demo", "web", model.ServiceStatusPaused)
	require.NoError(t, err)

	select {
	case <-sub:
	case <-time.After(time.Second):
		t.Fatal("expected a change notification after ChangeStatus")
	}
}

func TestOrchestrator_ChangeStatusUnknownServiceReturnsNotFound(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	_, err := o.ChangeStatus(context.Background(), "demo", "missing", model.ServiceStatusPaused)
	require.Error(t, err)
}

func waitForDone(t *testing.T, o *Orchestrator, id string) (queue.Result, queue.Status, bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		result, status, found, err := o.TryWaitForTask(context.Background(), id, 50*time.Millisecond)
		require.NoError(t, err)
		if !found {
			return queue.Result{}, "", false
		}
		if status == queue.StatusDone {
			return *result, status, true
		}
	}
	t.Fatal("task never completed")
	return queue.Result{}, "", false
}
