package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sceneforge/internal/events"
	"sceneforge/internal/jobs"
	"sceneforge/internal/logging"
	"sceneforge/internal/provider"
	"sceneforge/internal/store"
)

var (
	// ErrUnknownKind rejects project kinds without a step catalog.
	ErrUnknownKind = errors.New("unknown project kind")
	// ErrUnknownStep rejects focused runs naming steps outside the catalog.
	ErrUnknownStep = errors.New("step not in project catalog")
	// ErrProjectNotFound indicates the script has no project record.
	ErrProjectNotFound = errors.New("project not found")
	// ErrWorkflowNotFound indicates an unknown workflow id.
	ErrWorkflowNotFound = errors.New("workflow not found")
	// ErrScriptActive rejects starting a second run against a script whose
	// workflow is still executing in this process.
	ErrScriptActive = errors.New("script already has a running workflow")
)

// errCancelled marks a run stopped by an explicit cancel request.
var errCancelled = errors.New("workflow cancelled")

// Notifier receives terminal workflow outcomes.
type Notifier interface {
	NotifyWorkflowCompleted(ctx context.Context, scriptID, title string) error
	NotifyWorkflowFailed(ctx context.Context, scriptID, title, reason string) error
}

// CreateRequest describes a new pipeline run.
type CreateRequest struct {
	ScriptID     string
	Title        string
	Kind         store.ProjectKind
	ScenePrompts []string
}

// WorkflowEvent is the payload for workflowCompleted and workflowFailed.
type WorkflowEvent struct {
	WorkflowID string `json:"workflowId"`
	ScriptID   string `json:"scriptId"`
	Title      string `json:"title"`
	Error      string `json:"error,omitempty"`
}

type runState struct {
	cancelled bool
	jobID     string
}

// Orchestrator owns workflow execution. One goroutine per running workflow,
// at most one running workflow per script.
type Orchestrator struct {
	logger   *slog.Logger
	store    *store.Store
	queue    *jobs.Queue
	provider provider.Provider
	bus      *events.Bus
	notifier Notifier

	runCtx    context.Context
	cancelRun context.CancelFunc
	wg        sync.WaitGroup

	mu      sync.Mutex
	running map[string]*runState // workflow id -> state
	scripts map[string]string    // script id -> running workflow id
}

// NewOrchestrator constructs an orchestrator. notifier may be nil.
func NewOrchestrator(logger *slog.Logger, st *store.Store, queue *jobs.Queue, prov provider.Provider, bus *events.Bus, notifier Notifier) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		logger:    logging.WithComponent(logger, "pipeline"),
		store:     st,
		queue:     queue,
		provider:  prov,
		bus:       bus,
		notifier:  notifier,
		runCtx:    ctx,
		cancelRun: cancel,
		running:   make(map[string]*runState),
		scripts:   make(map[string]string),
	}
}

// Create persists a new project (when absent), its scenes, and a workflow with
// the full catalog for the kind, then begins asynchronous execution and
// returns immediately.
func (o *Orchestrator) Create(ctx context.Context, req CreateRequest) (*store.Workflow, error) {
	if _, ok := catalogs[req.Kind]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, req.Kind)
	}
	scriptID := strings.TrimSpace(req.ScriptID)
	if scriptID == "" {
		scriptID = uuid.NewString()
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "Untitled project"
	}

	project, err := o.store.CreateProject(ctx, scriptID, title, req.Kind)
	if err != nil {
		return nil, err
	}
	if len(req.ScenePrompts) > 0 {
		if _, err := o.store.CreateScenes(ctx, project.ScriptID, req.ScenePrompts); err != nil {
			return nil, err
		}
	}

	wf := &store.Workflow{
		ID:          uuid.NewString(),
		ScriptID:    project.ScriptID,
		Title:       title,
		ProjectKind: req.Kind,
		Steps:       newSteps(Catalog(req.Kind)),
		Status:      store.WorkflowPending,
	}
	return o.startWorkflow(ctx, wf, true)
}

// CreateFocused creates a workflow over a subset of the project's catalog,
// starting from the named step, targeting an existing project. Used for
// partial re-runs such as thumbnail-only regeneration.
func (o *Orchestrator) CreateFocused(ctx context.Context, scriptID, fromStep string) (*store.Workflow, error) {
	project, err := o.store.GetProject(ctx, scriptID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, scriptID)
	}
	catalog := Catalog(project.Kind)
	start := -1
	for i, name := range catalog {
		if name == fromStep {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, fmt.Errorf("%w: %s for kind %s", ErrUnknownStep, fromStep, project.Kind)
	}

	wf := &store.Workflow{
		ID:          uuid.NewString(),
		ScriptID:    project.ScriptID,
		Title:       project.Title,
		ProjectKind: project.Kind,
		Steps:       newSteps(catalog[start:]),
		Status:      store.WorkflowPending,
	}
	return o.startWorkflow(ctx, wf, true)
}

// Get returns the persisted workflow record.
func (o *Orchestrator) Get(ctx context.Context, workflowID string) (*store.Workflow, error) {
	wf, err := o.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}
	return wf, nil
}

// ListByScript returns a script's workflows, most recent first.
func (o *Orchestrator) ListByScript(ctx context.Context, scriptID string) ([]*store.Workflow, error) {
	return o.store.ListWorkflowsByScript(ctx, scriptID)
}

// Resume restarts pipeline execution for a script.
//
// A completed latest workflow is returned as-is without re-execution. A
// non-terminal workflow (interrupted by a crash or restart) re-executes under
// its own id from the first step that is not completed. A failed workflow
// spawns a new continuation workflow that keeps completed step results and
// retries from the first incomplete step. A script with no workflow history
// gets one synthesized from current project state.
func (o *Orchestrator) Resume(ctx context.Context, scriptID string) (*store.Workflow, error) {
	o.mu.Lock()
	if runningID, ok := o.scripts[scriptID]; ok {
		o.mu.Unlock()
		return o.Get(ctx, runningID)
	}
	o.mu.Unlock()

	latest, err := o.store.LatestWorkflowForScript(ctx, scriptID)
	if err != nil {
		return nil, err
	}

	switch {
	case latest == nil:
		return o.synthesize(ctx, scriptID)

	case latest.Status == store.WorkflowCompleted:
		return latest, nil

	case latest.Status == store.WorkflowFailed:
		continuation := &store.Workflow{
			ID:          uuid.NewString(),
			ScriptID:    latest.ScriptID,
			Title:       latest.Title,
			ProjectKind: latest.ProjectKind,
			Steps:       continuationSteps(latest.Steps),
			Status:      store.WorkflowPending,
		}
		continuation.CurrentStepIndex = firstIncomplete(continuation.Steps)
		return o.startWorkflow(ctx, continuation, true)

	default:
		// Interrupted mid-run. A step caught processing at crash time goes
		// back to pending and re-executes from its beginning.
		for i := range latest.Steps {
			if latest.Steps[i].Status == store.StepProcessing {
				latest.Steps[i].Status = store.StepPending
				latest.Steps[i].Progress = 0
			}
		}
		latest.CurrentStepIndex = firstIncomplete(latest.Steps)
		latest.Status = store.WorkflowPending
		return o.startWorkflow(ctx, latest, false)
	}
}

// Cancel requests cooperative cancellation of a running workflow and of any
// job its current step spawned. Returns false when the workflow is not
// running in this process.
func (o *Orchestrator) Cancel(workflowID string) bool {
	o.mu.Lock()
	state, ok := o.running[workflowID]
	if !ok {
		o.mu.Unlock()
		return false
	}
	state.cancelled = true
	jobID := state.jobID
	o.mu.Unlock()

	if jobID != "" {
		o.queue.Cancel(jobID)
	}
	o.logger.Info("workflow cancellation requested", logging.String(logging.FieldWorkflowID, workflowID))
	return true
}

// RunningCount reports workflows currently executing in this process.
func (o *Orchestrator) RunningCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.running)
}

// Close stops execution. Running workflows are interrupted and left
// non-terminal in the store, so Resume picks them up on the next start.
func (o *Orchestrator) Close() {
	o.cancelRun()
	o.wg.Wait()
}

// synthesize builds a workflow from the project's current artifacts, marking
// steps whose outputs already exist as completed.
func (o *Orchestrator) synthesize(ctx context.Context, scriptID string) (*store.Workflow, error) {
	project, err := o.store.GetProject(ctx, scriptID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, scriptID)
	}
	scenes, err := o.store.GetScenes(ctx, scriptID)
	if err != nil {
		return nil, err
	}

	steps := newSteps(Catalog(project.Kind))
	for i := range steps {
		if stepArtifactsPresent(steps[i].Name, project, scenes) {
			steps[i].Status = store.StepCompleted
			steps[i].Progress = 100
		} else {
			break
		}
	}

	wf := &store.Workflow{
		ID:               uuid.NewString(),
		ScriptID:         project.ScriptID,
		Title:            project.Title,
		ProjectKind:      project.Kind,
		Steps:            steps,
		CurrentStepIndex: firstIncomplete(steps),
		Status:           store.WorkflowPending,
	}
	return o.startWorkflow(ctx, wf, true)
}

// startWorkflow persists the record (insert or update) and launches the
// runner, registering the script as busy.
func (o *Orchestrator) startWorkflow(ctx context.Context, wf *store.Workflow, isNew bool) (*store.Workflow, error) {
	o.mu.Lock()
	if o.runCtx.Err() != nil {
		o.mu.Unlock()
		return nil, errors.New("orchestrator is closed")
	}
	if runningID, ok := o.scripts[wf.ScriptID]; ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: workflow %s", ErrScriptActive, runningID)
	}
	o.running[wf.ID] = &runState{}
	o.scripts[wf.ScriptID] = wf.ID
	o.mu.Unlock()

	var err error
	if isNew {
		err = o.store.CreateWorkflow(ctx, wf)
	} else {
		err = o.store.SaveWorkflow(ctx, wf)
	}
	if err != nil {
		o.release(wf)
		return nil, err
	}

	o.logger.Info("workflow started",
		logging.String(logging.FieldWorkflowID, wf.ID),
		logging.String(logging.FieldScriptID, wf.ScriptID),
		logging.String("project_kind", string(wf.ProjectKind)),
		logging.Int("steps", len(wf.Steps)))

	o.wg.Add(1)
	go o.run(wf)
	return cloneWorkflow(wf), nil
}

func (o *Orchestrator) release(wf *store.Workflow) {
	o.mu.Lock()
	delete(o.running, wf.ID)
	if o.scripts[wf.ScriptID] == wf.ID {
		delete(o.scripts, wf.ScriptID)
	}
	o.mu.Unlock()
}

func (o *Orchestrator) isCancelled(workflowID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	state, ok := o.running[workflowID]
	return ok && state.cancelled
}

func (o *Orchestrator) setActiveJob(workflowID, jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if state, ok := o.running[workflowID]; ok {
		state.jobID = jobID
	}
}

func (o *Orchestrator) publish(eventType events.Type, data any) {
	if o.bus != nil {
		o.bus.Publish(events.Event{Type: eventType, Data: data})
	}
}

func firstIncomplete(steps []store.Step) int {
	for i, step := range steps {
		if step.Status != store.StepCompleted {
			return i
		}
	}
	return len(steps)
}

// continuationSteps copies a failed run's steps, keeping completed results
// and resetting everything else to pending.
func continuationSteps(previous []store.Step) []store.Step {
	steps := make([]store.Step, len(previous))
	copy(steps, previous)
	for i := range steps {
		if steps[i].Status != store.StepCompleted {
			steps[i].Status = store.StepPending
			steps[i].Progress = 0
			steps[i].Error = ""
		}
	}
	return steps
}

// stepArtifactsPresent reports whether a step's outputs already exist, used
// when synthesizing a workflow for a script with no history.
func stepArtifactsPresent(name string, project *store.Project, scenes []*store.Scene) bool {
	switch name {
	case StepPrepareAudio, StepAnalyzeMusic:
		return project.AudioPath != ""
	case StepScenePrompts, StepParseDialogue:
		if len(scenes) == 0 {
			return false
		}
		for _, scene := range scenes {
			if scene.Prompt == "" {
				return false
			}
		}
		return true
	case StepImages, StepSceneImages, StepImagesWithCharacter:
		if len(scenes) == 0 {
			return false
		}
		for _, scene := range scenes {
			if scene.ImageURL == "" {
				return false
			}
		}
		return true
	case StepThumbnail:
		return project.ThumbnailURL != ""
	case StepExtractCharacters:
		for _, scene := range scenes {
			if scene.CharacterRefs != "" {
				return true
			}
		}
		return false
	case StepVideoPrompts:
		if len(scenes) == 0 {
			return false
		}
		for _, scene := range scenes {
			if scene.VideoPrompt == "" {
				return false
			}
		}
		return true
	case StepVoiceAudio:
		if len(scenes) == 0 {
			return false
		}
		for _, scene := range scenes {
			if scene.AudioURL == "" {
				return false
			}
		}
		return true
	case StepLipSync, StepAssembleVideo:
		return project.VideoURL != ""
	default:
		return false
	}
}

func cloneWorkflow(wf *store.Workflow) *store.Workflow {
	cp := *wf
	cp.Steps = make([]store.Step, len(wf.Steps))
	copy(cp.Steps, wf.Steps)
	if wf.CompletedAt != nil {
		ts := *wf.CompletedAt
		cp.CompletedAt = &ts
	}
	return &cp
}

func terminalTimestamp() *time.Time {
	now := time.Now().UTC()
	return &now
}
