package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"sceneforge/internal/events"
	"sceneforge/internal/provider"
)

type stubProvider struct {
	mu       sync.Mutex
	requests []provider.Request
	generate func(ctx context.Context, req provider.Request) (provider.Result, error)
}

func (s *stubProvider) Generate(ctx context.Context, req provider.Request) (provider.Result, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.generate != nil {
		return s.generate(ctx, req)
	}
	return provider.Result{URL: "https://cdn.example/" + req.SceneID}, nil
}

func (s *stubProvider) recorded() []provider.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]provider.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

func specs(n int) []ItemSpec {
	items := make([]ItemSpec, n)
	for i := range items {
		items[i] = ItemSpec{SceneID: fmt.Sprintf("scene-%d", i), Prompt: fmt.Sprintf("prompt %d", i)}
	}
	return items
}

func waitForJob(t *testing.T, q *Queue, jobID string) *Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := q.Wait(ctx, jobID)
	if err != nil {
		t.Fatalf("Wait(%s) failed: %v", jobID, err)
	}
	return job
}

func TestSubmitValidation(t *testing.T) {
	q := NewQueue(nil, &stubProvider{}, nil, nil, 1)
	defer q.Close()

	if _, err := q.Submit("script-1", provider.KindImage, nil, nil); !errors.Is(err, ErrNoItems) {
		t.Fatalf("expected ErrNoItems, got %v", err)
	}
	if _, err := q.Submit("script-1", provider.KindSpeech, specs(1), nil); !errors.Is(err, ErrInvalidType) {
		t.Fatalf("expected ErrInvalidType for speech, got %v", err)
	}
	if _, err := q.Submit("", provider.KindImage, specs(1), nil); err == nil {
		t.Fatal("expected error for empty script id")
	}
}

func TestJobRunsItemsInOrder(t *testing.T) {
	stub := &stubProvider{}
	q := NewQueue(nil, stub, nil, nil, 2)
	defer q.Close()

	job, err := q.Submit("script-1", provider.KindImage, specs(3), nil)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	final := waitForJob(t, q, job.ID)

	if final.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", final.Status, final.Error)
	}
	if final.Progress.Completed != 3 || final.Progress.Total != 3 {
		t.Fatalf("unexpected progress %+v", final.Progress)
	}
	if final.CompletedAt == nil {
		t.Fatal("expected CompletedAt to be set")
	}
	requests := stub.recorded()
	if len(requests) != 3 {
		t.Fatalf("expected 3 provider calls, got %d", len(requests))
	}
	for i, req := range requests {
		if req.SceneID != fmt.Sprintf("scene-%d", i) {
			t.Fatalf("request %d out of order: %s", i, req.SceneID)
		}
	}
	for _, item := range final.Items {
		if !item.Succeeded() {
			t.Fatalf("item %d did not succeed: %+v", item.Index, item)
		}
	}
}

func TestItemFailureDoesNotFailBatch(t *testing.T) {
	stub := &stubProvider{
		generate: func(_ context.Context, req provider.Request) (provider.Result, error) {
			if req.SceneID == "scene-1" {
				return provider.Result{}, errors.New("backend rejected prompt")
			}
			return provider.Result{URL: "https://cdn.example/" + req.SceneID}, nil
		},
	}
	q := NewQueue(nil, stub, nil, nil, 1)
	defer q.Close()

	job, err := q.Submit("script-1", provider.KindImage, specs(3), nil)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	final := waitForJob(t, q, job.ID)

	if final.Status != StatusCompleted {
		t.Fatalf("expected completed despite item failure, got %s", final.Status)
	}
	if final.Progress.Completed != 3 {
		t.Fatalf("failed item should still count as processed, got %+v", final.Progress)
	}
	if final.Items[1].Error == "" || final.Items[1].ResultURL != "" {
		t.Fatalf("expected item 1 to carry the error, got %+v", final.Items[1])
	}
	if !final.Items[0].Succeeded() || !final.Items[2].Succeeded() {
		t.Fatal("expected surrounding items to succeed")
	}
}

func TestContinuityChainsPreviousResult(t *testing.T) {
	stub := &stubProvider{}
	q := NewQueue(nil, stub, nil, nil, 1)
	defer q.Close()

	job, err := q.Submit("script-1", provider.KindImage, specs(3), map[string]string{"continuity": "true"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitForJob(t, q, job.ID)

	requests := stub.recorded()
	if requests[0].ContinuityURL != "" {
		t.Fatalf("first request should have no continuity url, got %q", requests[0].ContinuityURL)
	}
	if requests[1].ContinuityURL != "https://cdn.example/scene-0" {
		t.Fatalf("unexpected continuity url on request 1: %q", requests[1].ContinuityURL)
	}
	if requests[2].ContinuityURL != "https://cdn.example/scene-1" {
		t.Fatalf("unexpected continuity url on request 2: %q", requests[2].ContinuityURL)
	}
}

func TestOneActiveJobPerScript(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 8)
	stub := &stubProvider{
		generate: func(ctx context.Context, req provider.Request) (provider.Result, error) {
			started <- struct{}{}
			select {
			case <-release:
			case <-ctx.Done():
				return provider.Result{}, ctx.Err()
			}
			return provider.Result{URL: "https://cdn.example/" + req.SceneID}, nil
		},
	}
	q := NewQueue(nil, stub, nil, nil, 4)
	defer q.Close()

	first, err := q.Submit("script-1", provider.KindImage, specs(1), nil)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	<-started

	if _, err := q.Submit("script-1", provider.KindImage, specs(1), nil); !errors.Is(err, ErrScriptBusy) {
		t.Fatalf("expected ErrScriptBusy, got %v", err)
	}
	if _, err := q.Submit("script-2", provider.KindImage, specs(1), nil); err != nil {
		t.Fatalf("different script should be accepted: %v", err)
	}

	close(release)
	waitForJob(t, q, first.ID)

	if _, err := q.Submit("script-1", provider.KindImage, specs(1), nil); err != nil {
		t.Fatalf("script should accept new work after job finished: %v", err)
	}
}

func TestCancelBetweenItems(t *testing.T) {
	firstDone := make(chan struct{})
	proceed := make(chan struct{})
	stub := &stubProvider{
		generate: func(_ context.Context, req provider.Request) (provider.Result, error) {
			if req.SceneID == "scene-0" {
				close(firstDone)
				<-proceed
			}
			return provider.Result{URL: "https://cdn.example/" + req.SceneID}, nil
		},
	}
	q := NewQueue(nil, stub, nil, nil, 1)
	defer q.Close()

	job, err := q.Submit("script-1", provider.KindImage, specs(3), nil)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	<-firstDone
	if !q.Cancel(job.ID) {
		t.Fatal("Cancel should succeed on a running job")
	}
	close(proceed)

	final := waitForJob(t, q, job.ID)
	if final.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", final.Status)
	}
	if final.Progress.Completed != 1 {
		t.Fatalf("expected exactly the in-flight item processed, got %+v", final.Progress)
	}
	if final.Items[1].ResultURL != "" || final.Items[2].ResultURL != "" {
		t.Fatal("remaining items must stay untouched after cancellation")
	}
	if q.Cancel(job.ID) {
		t.Fatal("Cancel on a terminal job should report false")
	}
}

func TestClearCompleted(t *testing.T) {
	q := NewQueue(nil, &stubProvider{}, nil, nil, 2)
	defer q.Close()

	job, err := q.Submit("script-1", provider.KindImage, specs(1), nil)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitForJob(t, q, job.ID)

	if removed := q.ClearCompleted(); removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := q.Get(job.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after clear, got %v", err)
	}
	if len(q.ListAll()) != 0 {
		t.Fatal("expected empty job list after clear")
	}
}

func TestListOrdering(t *testing.T) {
	q := NewQueue(nil, &stubProvider{}, nil, nil, 2)
	defer q.Close()

	first, _ := q.Submit("script-1", provider.KindImage, specs(1), nil)
	waitForJob(t, q, first.ID)
	second, _ := q.Submit("script-2", provider.KindVideo, specs(1), nil)
	waitForJob(t, q, second.ID)

	all := q.ListAll()
	if len(all) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(all))
	}
	if all[0].ID != second.ID {
		t.Fatal("expected most recent job first")
	}
	byScript := q.ListByScript("script-2")
	if len(byScript) != 1 || byScript[0].ID != second.ID {
		t.Fatalf("unexpected ListByScript result: %+v", byScript)
	}
}

func TestJobEvents(t *testing.T) {
	bus := events.NewBus(32)
	defer bus.Close()
	ch, cancel := bus.Subscribe()
	defer cancel()

	q := NewQueue(nil, &stubProvider{}, nil, bus, 1)
	defer q.Close()

	job, err := q.Submit("script-1", provider.KindImage, specs(2), nil)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitForJob(t, q, job.ID)

	var types []events.Type
	timeout := time.After(5 * time.Second)
	for len(types) < 6 {
		select {
		case evt := <-ch:
			types = append(types, evt.Type)
		case <-timeout:
			t.Fatalf("timed out collecting events, got %v", types)
		}
	}

	expected := []events.Type{
		events.TypeJobAdded,
		events.TypeJobUpdated,
		events.TypeJobProgress,
		events.TypeJobProgress,
		events.TypeJobUpdated,
		events.TypeJobCompleted,
	}
	for i, want := range expected {
		if types[i] != want {
			t.Fatalf("event %d: expected %s, got %s (all: %v)", i, want, types[i], types)
		}
	}
}

func TestCloseCancelsPendingJobs(t *testing.T) {
	started := make(chan struct{})
	stub := &stubProvider{
		generate: func(ctx context.Context, req provider.Request) (provider.Result, error) {
			close(started)
			<-ctx.Done()
			return provider.Result{}, ctx.Err()
		},
	}
	q := NewQueue(nil, stub, nil, nil, 1)

	running, err := q.Submit("script-1", provider.KindImage, specs(1), nil)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	<-started
	pending, err := q.Submit("script-2", provider.KindImage, specs(1), nil)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	q.Close()

	got, err := q.Get(running.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("expected running job cancelled on close, got %s", got.Status)
	}
	got, err = q.Get(pending.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("expected pending job cancelled on close, got %s", got.Status)
	}
	if _, err := q.Submit("script-3", provider.KindImage, specs(1), nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
}
