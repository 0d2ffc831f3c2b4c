package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"sceneforge/internal/events"
	"sceneforge/internal/logging"
	"sceneforge/internal/provider"
	"sceneforge/internal/store"
)

var (
	// ErrNoItems rejects a batch submitted without work.
	ErrNoItems = errors.New("job requires at least one item")
	// ErrInvalidType rejects job types the queue does not execute.
	ErrInvalidType = errors.New("unsupported job type")
	// ErrScriptBusy rejects a submission while the script already has an
	// active job. Callers cancel the running job explicitly if they want to
	// supersede it.
	ErrScriptBusy = errors.New("script already has an active job")
	// ErrClosed rejects operations after shutdown began.
	ErrClosed = errors.New("job queue is closed")
	// ErrNotFound indicates an unknown job id.
	ErrNotFound = errors.New("job not found")
)

// validJobTypes lists the batch families the queue runs. Speech generation is
// driven directly by pipeline steps and never goes through the queue.
var validJobTypes = map[provider.Kind]bool{
	provider.KindImage:          true,
	provider.KindCharacterImage: true,
	provider.KindVideo:          true,
}

type jobState struct {
	job       *Job
	cancelled bool
	done      chan struct{}
}

// Queue runs generation batches asynchronously. Each job gets a dedicated
// worker goroutine; a global semaphore bounds how many run concurrently, and
// at most one job per script is active at a time.
type Queue struct {
	logger   *slog.Logger
	provider provider.Provider
	store    *store.Store
	bus      *events.Bus

	runCtx    context.Context
	cancelRun context.CancelFunc
	sem       chan struct{}
	wg        sync.WaitGroup

	mu             sync.RWMutex
	jobs           map[string]*jobState
	order          []string
	activeByScript map[string]string
	closed         bool
}

// NewQueue constructs a queue executing at most maxConcurrent jobs at once.
func NewQueue(logger *slog.Logger, prov provider.Provider, st *store.Store, bus *events.Bus, maxConcurrent int) *Queue {
	if logger == nil {
		logger = logging.NewNop()
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		logger:         logging.WithComponent(logger, "jobqueue"),
		provider:       prov,
		store:          st,
		bus:            bus,
		runCtx:         ctx,
		cancelRun:      cancel,
		sem:            make(chan struct{}, maxConcurrent),
		jobs:           make(map[string]*jobState),
		activeByScript: make(map[string]string),
	}
}

// Submit registers a new batch and schedules it for execution. It returns the
// job id immediately; execution happens on a worker goroutine.
func (q *Queue) Submit(scriptID string, jobType provider.Kind, items []ItemSpec, params map[string]string) (*Job, error) {
	if scriptID == "" {
		return nil, errors.New("script id is required")
	}
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	if !validJobTypes[jobType] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidType, jobType)
	}

	job := &Job{
		ID:        uuid.NewString(),
		ScriptID:  scriptID,
		Type:      jobType,
		Status:    StatusPending,
		Progress:  Progress{Total: len(items)},
		Items:     make([]Item, len(items)),
		Params:    params,
		CreatedAt: time.Now().UTC(),
	}
	for i, spec := range items {
		job.Items[i] = Item{Index: i, SceneID: spec.SceneID, Prompt: spec.Prompt}
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrClosed
	}
	if activeID, ok := q.activeByScript[scriptID]; ok {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: job %s", ErrScriptBusy, activeID)
	}
	state := &jobState{job: job, done: make(chan struct{})}
	q.jobs[job.ID] = state
	q.order = append(q.order, job.ID)
	q.activeByScript[scriptID] = job.ID
	q.mu.Unlock()

	q.logger.Info("job submitted",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldScriptID, scriptID),
		logging.String("job_type", string(jobType)),
		logging.Int("items", len(items)))
	q.publish(events.TypeJobAdded, job.clone())

	q.wg.Add(1)
	go q.run(state)
	return job.clone(), nil
}

// Get returns a snapshot of one job.
func (q *Queue) Get(jobID string) (*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	state, ok := q.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return state.job.clone(), nil
}

// ListAll returns snapshots of every tracked job, most recent first.
func (q *Queue) ListAll() []*Job {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]*Job, 0, len(q.order))
	for i := len(q.order) - 1; i >= 0; i-- {
		if state, ok := q.jobs[q.order[i]]; ok {
			out = append(out, state.job.clone())
		}
	}
	return out
}

// ListByScript returns a script's jobs, most recent first.
func (q *Queue) ListByScript(scriptID string) []*Job {
	all := q.ListAll()
	out := all[:0]
	for _, job := range all {
		if job.ScriptID == scriptID {
			out = append(out, job)
		}
	}
	return out
}

// ActiveCount reports jobs that have not reached a terminal status.
func (q *Queue) ActiveCount() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	count := 0
	for _, state := range q.jobs {
		if !state.job.Status.IsTerminal() {
			count++
		}
	}
	return count
}

// Cancel requests cooperative cancellation of a job. The worker observes the
// flag between items; an in-flight provider call finishes first. Returns false
// when the job is unknown or already terminal.
func (q *Queue) Cancel(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	state, ok := q.jobs[jobID]
	if !ok || state.job.Status.IsTerminal() || state.cancelled {
		return false
	}
	state.cancelled = true
	q.logger.Info("job cancellation requested", logging.String(logging.FieldJobID, jobID))
	return true
}

// CancelByScript requests cancellation of every non-terminal job for a script
// and returns how many were flagged.
func (q *Queue) CancelByScript(scriptID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	count := 0
	for _, state := range q.jobs {
		if state.job.ScriptID != scriptID || state.job.Status.IsTerminal() || state.cancelled {
			continue
		}
		state.cancelled = true
		count++
	}
	if count > 0 {
		q.logger.Info("script jobs cancellation requested",
			logging.String(logging.FieldScriptID, scriptID),
			logging.Int("count", count))
	}
	return count
}

// ClearCompleted evicts terminal jobs from the registry and returns how many
// were removed.
func (q *Queue) ClearCompleted() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.order[:0]
	removed := 0
	for _, id := range q.order {
		state, ok := q.jobs[id]
		if !ok {
			continue
		}
		if state.job.Status.IsTerminal() {
			delete(q.jobs, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	q.order = kept
	return removed
}

// Wait blocks until the job reaches a terminal status or the context ends,
// then returns a final snapshot.
func (q *Queue) Wait(ctx context.Context, jobID string) (*Job, error) {
	q.mu.RLock()
	state, ok := q.jobs[jobID]
	q.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	select {
	case <-state.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	return state.job.clone(), nil
}

// Close stops the queue. Pending jobs are cancelled, in-flight provider calls
// are aborted through the run context, and Close returns once every worker
// has finished.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for _, state := range q.jobs {
		if !state.job.Status.IsTerminal() {
			state.cancelled = true
		}
	}
	q.mu.Unlock()

	q.cancelRun()
	q.wg.Wait()
}

func (q *Queue) publish(eventType events.Type, data any) {
	if q.bus != nil {
		q.bus.Publish(events.Event{Type: eventType, Data: data})
	}
}
