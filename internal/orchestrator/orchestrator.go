// Package orchestrator wires the task queue, deployment unit builder, and
// infrastructure backend into the narrow facade the HTTP boundary drives.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prevant-go/prevant/internal/apperr"
	"github.com/prevant-go/prevant/internal/config"
	"github.com/prevant-go/prevant/internal/infra"
	"github.com/prevant-go/prevant/internal/metrics"
	"github.com/prevant-go/prevant/internal/model"
	"github.com/prevant-go/prevant/internal/queue"
	"github.com/prevant-go/prevant/internal/unit"
	"github.com/prevant-go/prevant/pkg/logging"
)

// Orchestrator is the single facade spec.md §2's control-flow line exposes:
// CreateOrUpdate, Delete, ChangeStatus, GetLogs, Apps. It owns the Config,
// Backend, Queue, and a list of app-set-change subscriber channels, mirroring
// the teacher's RWMutex-guarded subscriber-list shape.
type Orchestrator struct {
	Config  *config.Config
	Backend infra.Backend
	Queue   queue.Queue
	Builder *unit.Builder

	// Metrics, if set, receives reconcile-outcome and queue-depth
	// observations. Nil is valid: every Metrics call is a no-op then.
	Metrics *metrics.Registry

	mu          sync.RWMutex
	subscribers []chan<- struct{}

	cancel context.CancelFunc
}

// New constructs an Orchestrator from its collaborators. Start must be
// called to begin consuming queued tasks.
func New(cfg *config.Config, backend infra.Backend, q queue.Queue, builder *unit.Builder) *Orchestrator {
	return &Orchestrator{Config: cfg, Backend: backend, Queue: q, Builder: builder}
}

// Start launches the single consumer loop that pops eligible tasks, executes
// them, and reports completion. Call Shutdown to stop it.
func (o *Orchestrator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	go o.consumeLoop(ctx)
}

// Shutdown cancels the consumer loop and the queue, matching the teacher's
// single context.CancelFunc-held-by-the-orchestrator shutdown model.
func (o *Orchestrator) Shutdown() {
	if o.cancel != nil {
		o.cancel()
	}
	o.Queue.Shutdown()
}

func (o *Orchestrator) consumeLoop(ctx context.Context) {
	for {
		task, ok := o.Queue.Pop(ctx)
		if !ok {
			return
		}
		if depth, err := o.Queue.Depth(ctx); err == nil {
			o.Metrics.SetQueueDepth(depth)
		}
		result := o.execute(ctx, task)
		o.Metrics.ObserveReconcile(task.Payload.Kind.String(), result.Err)
		o.Queue.Complete(task, result)
		o.notifyChange()
	}
}

// execute runs one already-merged AppTask to completion against the
// backend, the one place the builder and backend are driven together.
func (o *Orchestrator) execute(ctx context.Context, task queue.Task) queue.Result {
	switch task.Payload.Kind {
	case model.TaskKindDelete:
		app, err := o.Backend.StopServices(ctx, task.AppName)
		if err != nil {
			return queue.Result{Err: err}
		}
		return queue.Result{App: &app}

	case model.TaskKindCreateOrUpdate:
		return o.executeCreateOrUpdate(ctx, task)

	case model.TaskKindBackUp, model.TaskKindRestore:
		// No backend in this implementation persists application state
		// beyond what DeployServices/StopServices already cover; backup
		// and restore are accepted by the queue (per spec.md's task
		// taxonomy) but have no reconcile action to perform here.
		logging.Warn("orchestrator", "%s task for %s has no backend action, completing as a no-op", task.Payload.Kind, task.AppName)
		app, err := o.Backend.FetchApp(ctx, task.AppName)
		if err != nil {
			return queue.Result{Err: err}
		}
		if app == nil {
			return queue.Result{Err: apperr.AppNotFound(task.AppName.String())}
		}
		return queue.Result{App: app}

	default:
		return queue.Result{Err: apperr.Infrastructure(errors.New("unrecognized task kind"), "executing task for %s", task.AppName)}
	}
}

func (o *Orchestrator) executeCreateOrUpdate(ctx context.Context, task queue.Task) queue.Result {
	payload := task.Payload.CreateOrUpdate

	deployables, _, err := o.Builder.Build(ctx, unit.BuildRequest{
		AppName:               task.AppName,
		ServiceConfigs:        payload.ServiceConfigs,
		ReplicateFrom:         payload.ReplicateFrom,
		UserDefinedParameters: payload.UserDefinedParameters,
	})
	if err != nil {
		return queue.Result{Err: err}
	}

	app, err := o.Backend.DeployServices(ctx, infra.DeploymentUnit{
		AppName:        task.AppName,
		Services:       deployables,
		StatusChangeID: task.StatusID,
		MemoryLimit:    o.Config.Containers.MemoryLimit,
	})
	if err != nil {
		return queue.Result{Err: err}
	}

	app.Owners = model.NormalizeOwners(append(append([]string{}, app.Owners...), payload.Owners...))
	if payload.UserDefinedParameters != nil {
		app.UserDefinedParameters = payload.UserDefinedParameters
	}
	return queue.Result{App: &app}
}

// CreateOrUpdate enqueues a create-or-update task and returns its status ID.
func (o *Orchestrator) CreateOrUpdate(ctx context.Context, app model.AppName, payload model.CreateOrUpdatePayload) (string, error) {
	return o.Queue.EnqueueCreateOrUpdate(ctx, app, payload)
}

// Delete enqueues a delete task and returns its status ID.
func (o *Orchestrator) Delete(ctx context.Context, app model.AppName) (string, error) {
	return o.Queue.EnqueueDelete(ctx, app)
}

// ChangeStatus pauses or resumes one service directly against the backend
// (not queued: spec.md §6 treats this as a synchronous state toggle).
func (o *Orchestrator) ChangeStatus(ctx context.Context, app model.AppName, serviceName string, status model.ServiceStatus) (*model.Service, error) {
	svc, err := o.Backend.ChangeStatus(ctx, app, serviceName, status)
	if err != nil {
		return nil, err
	}
	if svc == nil {
		return nil, apperr.AppNotFound(app.String())
	}
	o.notifyChange()
	return svc, nil
}

// GetLogs streams log lines for one service.
func (o *Orchestrator) GetLogs(ctx context.Context, app model.AppName, serviceName string, opts infra.LogOptions) (<-chan infra.LogLine, error) {
	return o.Backend.GetLogs(ctx, app, serviceName, opts)
}

// Apps enumerates every known application.
func (o *Orchestrator) Apps(ctx context.Context) (map[model.AppName]model.App, error) {
	return o.Backend.FetchApps(ctx)
}

// TryWaitForTask polls, or blocks up to timeout for, a previously enqueued
// task's completion.
func (o *Orchestrator) TryWaitForTask(ctx context.Context, statusID string, timeout time.Duration) (*queue.Result, queue.Status, bool, error) {
	return o.Queue.TryWaitForTask(ctx, statusID, timeout)
}

// Subscribe registers a channel that receives a (non-blocking, best-effort)
// signal whenever the observable app set changes, for the host-meta
// crawler's change-triggered tick.
func (o *Orchestrator) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	o.mu.Lock()
	o.subscribers = append(o.subscribers, ch)
	o.mu.Unlock()
	return ch
}

func (o *Orchestrator) notifyChange() {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, ch := range o.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
