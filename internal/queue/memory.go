package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prevant-go/prevant/internal/model"
)

// pendingEntry is one not-yet-claimed task for an AppName, kept FIFO within
// its app's slice so entries[0] is always that app's oldest pending task.
type pendingEntry struct {
	task      model.AppTask
	createdAt time.Time
}

// record is the lifetime state of one submitted task, keyed by its
// original StatusID. When its task is merged into a later submission for
// the same app, aliasTo points callers at the survivor's record so a
// caller polling the original ID still observes the eventual outcome.
type record struct {
	task    Task
	result  *Result
	done    chan struct{}
	aliasTo string
}

// inMemoryQueue is a single-process Queue, grounded on the teacher's
// sync.Cond-based work queue and generalized from "dedup overwrite" to
// "merge via AppTask.MergeWith" and from one global FIFO to a per-app FIFO
// with a globally-oldest pick policy.
type inMemoryQueue struct {
	mu   sync.Mutex
	cond *sync.Cond

	pending    map[model.AppName][]pendingEntry
	processing map[model.AppName]bool
	records    map[string]*record

	shuttingDown bool
	clock        func() time.Time
}

// NewInMemory constructs an empty in-memory Queue.
func NewInMemory() Queue {
	q := &inMemoryQueue{
		pending:    make(map[model.AppName][]pendingEntry),
		processing: make(map[model.AppName]bool),
		records:    make(map[string]*record),
		clock:      time.Now,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *inMemoryQueue) EnqueueCreateOrUpdate(_ context.Context, app model.AppName, payload model.CreateOrUpdatePayload) (string, error) {
	return q.enqueue(app, func(id string) model.AppTask {
		return model.NewCreateOrUpdateTask(id, app, payload)
	})
}

func (q *inMemoryQueue) EnqueueDelete(_ context.Context, app model.AppName) (string, error) {
	return q.enqueue(app, func(id string) model.AppTask {
		return model.NewDeleteTask(id, app)
	})
}

func (q *inMemoryQueue) EnqueueBackUp(_ context.Context, app model.AppName, payload interface{}) (string, error) {
	return q.enqueue(app, func(id string) model.AppTask {
		return model.NewBackUpTask(id, app, payload)
	})
}

func (q *inMemoryQueue) EnqueueRestore(_ context.Context, app model.AppName, payload interface{}) (string, error) {
	return q.enqueue(app, func(id string) model.AppTask {
		return model.NewRestoreTask(id, app, payload)
	})
}

func (q *inMemoryQueue) enqueue(app model.AppName, build func(id string) model.AppTask) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shuttingDown {
		return "", errors.New("queue is shutting down")
	}

	id := uuid.NewString()
	task := build(id)
	now := q.clock()

	q.pending[app] = append(q.pending[app], pendingEntry{task: task, createdAt: now})
	q.records[id] = &record{
		task: Task{StatusID: id, AppName: app, Payload: task, CreatedAt: now, Status: StatusQueued},
		done: make(chan struct{}),
	}
	q.cond.Signal()
	return id, nil
}

func (q *inMemoryQueue) Pop(ctx context.Context) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if app, ok := q.pickEligibleLocked(); ok {
			return q.claimLocked(app), true
		}
		if q.shuttingDown {
			return Task{}, false
		}
		select {
		case <-ctx.Done():
			return Task{}, false
		default:
		}

		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				q.mu.Lock()
				q.cond.Broadcast()
				q.mu.Unlock()
			case <-done:
			}
		}()
		q.cond.Wait()
		close(done)

		select {
		case <-ctx.Done():
			return Task{}, false
		default:
		}
	}
}

// pickEligibleLocked implements the FIFO-across-apps pick policy: the
// AppName whose oldest pending task is globally oldest, skipping any app
// already InProcess.
func (q *inMemoryQueue) pickEligibleLocked() (model.AppName, bool) {
	var best model.AppName
	var bestTime time.Time
	found := false
	for app, entries := range q.pending {
		if len(entries) == 0 || q.processing[app] {
			continue
		}
		t := entries[0].createdAt
		if !found || t.Before(bestTime) {
			best, bestTime, found = app, t, true
		}
	}
	return best, found
}

// claimLocked merges every pending task for app into one via
// AppTask.MergeWith, marks the app InProcess, and points every merged-away
// task's record at the survivor so later polls still resolve.
func (q *inMemoryQueue) claimLocked(app model.AppName) Task {
	entries := q.pending[app]
	delete(q.pending, app)

	merged := entries[0].task
	for _, e := range entries[1:] {
		merged = merged.MergeWith(e.task)
	}
	q.processing[app] = true

	survivorID := merged.StatusID
	survivor := q.records[survivorID]
	survivor.task.Payload = merged
	survivor.task.Status = StatusRunning

	for _, e := range entries {
		if e.task.StatusID == survivorID {
			continue
		}
		if rec, ok := q.records[e.task.StatusID]; ok {
			rec.aliasTo = survivorID
		}
	}

	return survivor.task
}

func (q *inMemoryQueue) Complete(task Task, result Result) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.processing, task.AppName)
	if rec, ok := q.records[task.StatusID]; ok {
		rec.result = &result
		rec.task.Status = StatusDone
		close(rec.done)
	}
	q.cond.Broadcast()
}

func (q *inMemoryQueue) resolveLocked(statusID string) (*record, bool) {
	rec, ok := q.records[statusID]
	for ok && rec.aliasTo != "" {
		rec, ok = q.records[rec.aliasTo]
	}
	return rec, ok
}

func (q *inMemoryQueue) TryWaitForTask(ctx context.Context, statusID string, timeout time.Duration) (*Result, Status, bool, error) {
	q.mu.Lock()
	rec, ok := q.resolveLocked(statusID)
	if !ok {
		q.mu.Unlock()
		return nil, "", false, nil
	}
	if rec.task.Status == StatusDone || timeout <= 0 {
		result, status := rec.result, rec.task.Status
		q.mu.Unlock()
		return result, status, true, nil
	}
	done := rec.done
	q.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		q.mu.Lock()
		result, status := rec.result, rec.task.Status
		q.mu.Unlock()
		return result, status, true, nil
	case <-timer.C:
		q.mu.Lock()
		status := rec.task.Status
		q.mu.Unlock()
		return nil, status, true, nil
	case <-ctx.Done():
		return nil, rec.task.Status, true, ctx.Err()
	}
}

// GC removes Done records older than maxAge, mirroring the persistent
// backend's hourly sweep so a long-running process doesn't accumulate
// completed task records forever.
func (q *inMemoryQueue) GC(maxAge time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.clock().Add(-maxAge)
	for id, rec := range q.records {
		resolved, ok := q.resolveLocked(id)
		if ok && resolved.task.Status == StatusDone && rec.task.CreatedAt.Before(cutoff) {
			delete(q.records, id)
		}
	}
}

// Depth counts pending entries across every app, including apps currently
// InProcess (their next-in-line entries are still queued, just not yet
// poppable).
func (q *inMemoryQueue) Depth(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, entries := range q.pending {
		n += len(entries)
	}
	return n, nil
}

func (q *inMemoryQueue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shuttingDown = true
	q.cond.Broadcast()
}
