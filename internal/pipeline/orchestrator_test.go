package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sceneforge/internal/events"
	"sceneforge/internal/jobs"
	"sceneforge/internal/provider"
	"sceneforge/internal/store"
	"sceneforge/internal/testsupport"
)

type stubProvider struct {
	mu       sync.Mutex
	calls    []provider.Request
	generate func(ctx context.Context, req provider.Request) (provider.Result, error)
}

func (s *stubProvider) Generate(ctx context.Context, req provider.Request) (provider.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()
	if s.generate != nil {
		return s.generate(ctx, req)
	}
	return provider.Result{URL: fmt.Sprintf("https://cdn.example/%s/%s", req.Kind, req.SceneID)}, nil
}

func (s *stubProvider) callsOfKind(kind provider.Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, call := range s.calls {
		if call.Kind == kind {
			count++
		}
	}
	return count
}

type fixture struct {
	store    *store.Store
	queue    *jobs.Queue
	bus      *events.Bus
	provider *stubProvider
	orch     *Orchestrator
}

func newFixture(t *testing.T, prov *stubProvider) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	bus := events.NewBus(64)
	t.Cleanup(bus.Close)
	queue := jobs.NewQueue(nil, prov, st, bus, 2)
	t.Cleanup(queue.Close)
	orch := NewOrchestrator(nil, st, queue, prov, bus, nil)
	t.Cleanup(orch.Close)
	return &fixture{store: st, queue: queue, bus: bus, provider: prov, orch: orch}
}

func waitForStatus(t *testing.T, st *store.Store, workflowID string, want store.WorkflowStatus) *store.Workflow {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		wf, err := st.GetWorkflow(context.Background(), workflowID)
		if err != nil {
			t.Fatalf("GetWorkflow: %v", err)
		}
		if wf != nil && wf.Status == want {
			return wf
		}
		time.Sleep(10 * time.Millisecond)
	}
	wf, _ := st.GetWorkflow(context.Background(), workflowID)
	t.Fatalf("workflow %s never reached %s, last: %+v", workflowID, want, wf)
	return nil
}

func waitForIdle(t *testing.T, orch *Orchestrator) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if orch.RunningCount() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("orchestrator never went idle")
}

func TestCreateRunsStandardCatalog(t *testing.T) {
	f := newFixture(t, &stubProvider{})

	wf, err := f.orch.Create(context.Background(), CreateRequest{
		ScriptID:     "script-1",
		Title:        "Ocean Documentary",
		Kind:         store.KindStandard,
		ScenePrompts: []string{"reef at dawn", "kelp forest", "open water"},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	final := waitForStatus(t, f.store, wf.ID, store.WorkflowCompleted)
	if len(final.Steps) != 4 {
		t.Fatalf("expected 4 steps, got %d", len(final.Steps))
	}
	for _, step := range final.Steps {
		if step.Status != store.StepCompleted || step.Progress != 100 {
			t.Fatalf("step %s not completed: %+v", step.Name, step)
		}
	}
	if final.CompletedAt == nil {
		t.Fatal("expected CompletedAt to be set")
	}

	project, err := f.store.GetProject(context.Background(), "script-1")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if project.AudioPath == "" || project.ThumbnailURL == "" {
		t.Fatalf("expected audio and thumbnail artifacts, got %+v", project)
	}
	scenes, err := f.store.GetScenes(context.Background(), "script-1")
	if err != nil {
		t.Fatalf("GetScenes: %v", err)
	}
	for _, scene := range scenes {
		if scene.ImageURL == "" {
			t.Fatalf("scene %d missing image url", scene.Position)
		}
	}
}

func TestStepFailureHaltsPipeline(t *testing.T) {
	prov := &stubProvider{
		generate: func(_ context.Context, req provider.Request) (provider.Result, error) {
			if req.Kind == provider.KindImage && req.SceneID != "" {
				return provider.Result{}, errors.New("image backend down")
			}
			return provider.Result{URL: "https://cdn.example/" + string(req.Kind)}, nil
		},
	}
	f := newFixture(t, prov)
	ch, cancel := f.bus.Subscribe()
	defer cancel()

	wf, err := f.orch.Create(context.Background(), CreateRequest{
		ScriptID:     "script-1",
		Title:        "Doomed Run",
		Kind:         store.KindStandard,
		ScenePrompts: []string{"one", "two"},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	final := waitForStatus(t, f.store, wf.ID, store.WorkflowFailed)
	wantStatuses := []store.StepStatus{
		store.StepCompleted, store.StepCompleted, store.StepFailed, store.StepPending,
	}
	for i, want := range wantStatuses {
		if final.Steps[i].Status != want {
			t.Fatalf("step %d: expected %s, got %s", i, want, final.Steps[i].Status)
		}
	}
	if final.Steps[2].Error == "" || final.ErrorMessage == "" {
		t.Fatal("expected failure to carry an error message")
	}

	failedEvents := 0
	timeout := time.After(5 * time.Second)
	for failedEvents == 0 {
		select {
		case evt := <-ch:
			if evt.Type == events.TypeWorkflowFailed {
				failedEvents++
			}
		case <-timeout:
			t.Fatal("never saw workflowFailed event")
		}
	}
drain:
	for {
		select {
		case evt := <-ch:
			if evt.Type == events.TypeWorkflowFailed {
				failedEvents++
			}
		default:
			break drain
		}
	}
	if failedEvents != 1 {
		t.Fatalf("expected exactly one workflowFailed event, got %d", failedEvents)
	}
}

func TestResumeCompletedWorkflowIsNoOp(t *testing.T) {
	f := newFixture(t, &stubProvider{})

	wf, err := f.orch.Create(context.Background(), CreateRequest{
		ScriptID:     "script-1",
		Title:        "Done Deal",
		Kind:         store.KindStandard,
		ScenePrompts: []string{"a"},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	waitForStatus(t, f.store, wf.ID, store.WorkflowCompleted)
	waitForIdle(t, f.orch)
	callsBefore := f.provider.callsOfKind(provider.KindSpeech)

	resumed, err := f.orch.Resume(context.Background(), "script-1")
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if resumed.ID != wf.ID {
		t.Fatalf("expected same workflow id %s, got %s", wf.ID, resumed.ID)
	}
	if resumed.Status != store.WorkflowCompleted {
		t.Fatalf("expected completed snapshot, got %s", resumed.Status)
	}
	if after := f.provider.callsOfKind(provider.KindSpeech); after != callsBefore {
		t.Fatal("resuming a completed workflow must not re-run steps")
	}
}

func TestResumeFailedWorkflowCreatesContinuation(t *testing.T) {
	var failImages atomic.Bool
	failImages.Store(true)
	prov := &stubProvider{}
	prov.generate = func(_ context.Context, req provider.Request) (provider.Result, error) {
		if failImages.Load() && req.Kind == provider.KindImage && req.SceneID != "" {
			return provider.Result{}, errors.New("image backend down")
		}
		return provider.Result{URL: fmt.Sprintf("https://cdn.example/%s/%s", req.Kind, req.SceneID)}, nil
	}
	f := newFixture(t, prov)

	wf, err := f.orch.Create(context.Background(), CreateRequest{
		ScriptID:     "script-1",
		Title:        "Second Chance",
		Kind:         store.KindStandard,
		ScenePrompts: []string{"a", "b"},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	waitForStatus(t, f.store, wf.ID, store.WorkflowFailed)
	waitForIdle(t, f.orch)

	failImages.Store(false)
	speechCalls := f.provider.callsOfKind(provider.KindSpeech)

	resumed, err := f.orch.Resume(context.Background(), "script-1")
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if resumed.ID == wf.ID {
		t.Fatal("failed workflow must spawn a new continuation id")
	}
	final := waitForStatus(t, f.store, resumed.ID, store.WorkflowCompleted)
	for _, step := range final.Steps {
		if step.Status != store.StepCompleted {
			t.Fatalf("step %s not completed after continuation: %+v", step.Name, step)
		}
	}
	if after := f.provider.callsOfKind(provider.KindSpeech); after != speechCalls {
		t.Fatal("completed prepare-audio step must not re-run in continuation")
	}

	original, err := f.store.GetWorkflow(context.Background(), wf.ID)
	if err != nil {
		t.Fatalf("GetWorkflow: %v", err)
	}
	if original.Status != store.WorkflowFailed {
		t.Fatal("terminal failed workflow must stay failed under its own id")
	}
}

func TestResumeInterruptedWorkflowReusesID(t *testing.T) {
	f := newFixture(t, &stubProvider{})
	testsupport.NewProject(t, f.store, "script-1", "Crashed Run", store.KindStandard, "a")

	// Simulate a workflow that was mid-step when the process died.
	steps := newSteps(Catalog(store.KindStandard))
	steps[0].Status = store.StepCompleted
	steps[0].Progress = 100
	steps[1].Status = store.StepProcessing
	crashed := &store.Workflow{
		ID:               "wf-crashed",
		ScriptID:         "script-1",
		Title:            "Crashed Run",
		ProjectKind:      store.KindStandard,
		Steps:            steps,
		CurrentStepIndex: 1,
		Status:           store.WorkflowProcessing,
	}
	if err := f.store.CreateWorkflow(context.Background(), crashed); err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}

	resumed, err := f.orch.Resume(context.Background(), "script-1")
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if resumed.ID != "wf-crashed" {
		t.Fatalf("interrupted workflow must resume under its own id, got %s", resumed.ID)
	}
	final := waitForStatus(t, f.store, "wf-crashed", store.WorkflowCompleted)
	for _, step := range final.Steps {
		if step.Status != store.StepCompleted {
			t.Fatalf("step %s not completed: %+v", step.Name, step)
		}
	}
	if f.provider.callsOfKind(provider.KindSpeech) != 0 {
		t.Fatal("completed prepare-audio step must not re-run on resume")
	}
}

func TestResumeSynthesizesFromProjectState(t *testing.T) {
	f := newFixture(t, &stubProvider{})
	testsupport.NewProject(t, f.store, "script-1", "Partial Project", store.KindStandard, "a", "b")

	audio := "https://cdn.example/audio"
	if err := f.store.UpdateProject(context.Background(), "script-1", store.ProjectPatch{AudioPath: &audio}); err != nil {
		t.Fatalf("UpdateProject: %v", err)
	}
	scenes, err := f.store.GetScenes(context.Background(), "script-1")
	if err != nil {
		t.Fatalf("GetScenes: %v", err)
	}
	for _, scene := range scenes {
		img := "https://cdn.example/img/" + scene.ID
		if err := f.store.UpdateScene(context.Background(), scene.ID, store.ScenePatch{ImageURL: &img}); err != nil {
			t.Fatalf("UpdateScene: %v", err)
		}
	}

	resumed, err := f.orch.Resume(context.Background(), "script-1")
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	final := waitForStatus(t, f.store, resumed.ID, store.WorkflowCompleted)

	wantStatuses := map[string]store.StepStatus{
		StepPrepareAudio: store.StepCompleted,
		StepScenePrompts: store.StepCompleted,
		StepImages:       store.StepCompleted,
		StepThumbnail:    store.StepCompleted,
	}
	for _, step := range final.Steps {
		if step.Status != wantStatuses[step.Name] {
			t.Fatalf("step %s: got %s", step.Name, step.Status)
		}
	}
	// Only the thumbnail was missing, so only one image call happens.
	if calls := f.provider.callsOfKind(provider.KindImage); calls != 1 {
		t.Fatalf("expected 1 image call for the missing thumbnail, got %d", calls)
	}
	if f.provider.callsOfKind(provider.KindSpeech) != 0 {
		t.Fatal("existing audio must not be regenerated")
	}
}

func TestCreateFocused(t *testing.T) {
	f := newFixture(t, &stubProvider{})
	testsupport.NewProject(t, f.store, "script-1", "Refresh Thumb", store.KindStandard, "a")

	if _, err := f.orch.CreateFocused(context.Background(), "script-1", "no-such-step"); !errors.Is(err, ErrUnknownStep) {
		t.Fatalf("expected ErrUnknownStep, got %v", err)
	}

	wf, err := f.orch.CreateFocused(context.Background(), "script-1", StepThumbnail)
	if err != nil {
		t.Fatalf("CreateFocused failed: %v", err)
	}
	if len(wf.Steps) != 1 || wf.Steps[0].Name != StepThumbnail {
		t.Fatalf("expected single thumbnail step, got %+v", wf.Steps)
	}
	waitForStatus(t, f.store, wf.ID, store.WorkflowCompleted)

	project, err := f.store.GetProject(context.Background(), "script-1")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if project.ThumbnailURL == "" {
		t.Fatal("expected thumbnail to be generated")
	}
}

func TestCancelWorkflowCancelsSpawnedJob(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	prov := &stubProvider{
		generate: func(ctx context.Context, req provider.Request) (provider.Result, error) {
			if req.Kind == provider.KindImage && req.SceneID != "" {
				select {
				case started <- struct{}{}:
				default:
				}
				select {
				case <-release:
				case <-ctx.Done():
					return provider.Result{}, ctx.Err()
				}
			}
			return provider.Result{URL: "https://cdn.example/" + req.SceneID}, nil
		},
	}
	f := newFixture(t, prov)

	wf, err := f.orch.Create(context.Background(), CreateRequest{
		ScriptID:     "script-1",
		Title:        "Cut Short",
		Kind:         store.KindStandard,
		ScenePrompts: []string{"a", "b", "c"},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	<-started

	if !f.orch.Cancel(wf.ID) {
		t.Fatal("Cancel should succeed for a running workflow")
	}
	close(release)

	final := waitForStatus(t, f.store, wf.ID, store.WorkflowFailed)
	if final.ErrorMessage != errCancelled.Error() {
		t.Fatalf("expected cancellation error, got %q", final.ErrorMessage)
	}
	jobList := f.queue.ListByScript("script-1")
	if len(jobList) == 0 {
		t.Fatal("expected a spawned job")
	}
	if jobList[0].Status != jobs.StatusCancelled {
		t.Fatalf("expected spawned job cancelled, got %s", jobList[0].Status)
	}
}

func TestStepTitle(t *testing.T) {
	if got := StepTitle(StepScenePrompts); got != "Generate Scene Prompts" {
		t.Fatalf("unexpected step title %q", got)
	}
}
