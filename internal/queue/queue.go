// Package queue implements the task queue: per-app serialized, cross-app
// parallel scheduling of AppTask work, with merge-before-execution and a
// choice of in-memory or Postgres-persisted backends.
package queue

import (
	"context"
	"time"

	"github.com/prevant-go/prevant/internal/model"
)

// Status is a task's position in the New -> InProcess -> Done state machine.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
)

// Result is a completed task's outcome: exactly one of App or Err is set.
type Result struct {
	App *model.App
	Err error
}

// Task is one queue entry: the submitted AppTask plus scheduling metadata.
type Task struct {
	StatusID  string
	AppName   model.AppName
	Payload   model.AppTask
	CreatedAt time.Time
	Status    Status
}

// Queue is the capability spec.md §4.5 describes: producers enqueue work
// keyed by AppName, a single consumer loop (run by the orchestrator) pops
// the next eligible, already-merged task and reports its completion.
type Queue interface {
	EnqueueCreateOrUpdate(ctx context.Context, app model.AppName, payload model.CreateOrUpdatePayload) (string, error)
	EnqueueDelete(ctx context.Context, app model.AppName) (string, error)
	EnqueueBackUp(ctx context.Context, app model.AppName, payload interface{}) (string, error)
	EnqueueRestore(ctx context.Context, app model.AppName, payload interface{}) (string, error)

	// TryWaitForTask polls (and, if timeout > 0, blocks up to timeout for)
	// the named task's completion. found=false means the task is unknown,
	// either never submitted or already garbage collected.
	TryWaitForTask(ctx context.Context, statusID string, timeout time.Duration) (result *Result, status Status, found bool, err error)

	// Pop blocks until an eligible AppName has pending work, merges every
	// pending task for that AppName into one via AppTask.MergeWith, marks
	// it InProcess, and returns it. Pop returns ok=false once ctx is done;
	// the in-memory queue also returns ok=false after Shutdown when no
	// eligible task is left.
	Pop(ctx context.Context) (task Task, ok bool)

	// Complete reports a popped task's outcome and releases the AppName
	// for its next pending batch.
	Complete(task Task, result Result)

	// Depth reports the number of tasks currently queued (not yet popped),
	// for the queue-depth gauge internal/metrics exposes.
	Depth(ctx context.Context) (int, error)

	Shutdown()
}
