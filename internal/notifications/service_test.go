package notifications

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"sceneforge/internal/config"
)

type capturedRequest struct {
	title    string
	tags     string
	priority string
	body     string
}

func newCaptureServer(t *testing.T) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var mu sync.Mutex
	var captured []capturedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		captured = append(captured, capturedRequest{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		out := make([]capturedRequest, len(captured))
		copy(out, captured)
		return out
	}
}

func configWithTopic(topic string) *config.Config {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = topic
	return &cfg
}

func TestNoopWhenUnconfigured(t *testing.T) {
	cfg := config.Default()
	svc := NewService(&cfg)
	if err := svc.NotifyWorkflowCompleted(context.Background(), "script-1", "Title"); err != nil {
		t.Fatalf("noop service should never error: %v", err)
	}
	if err := svc.NotifyError(context.Background(), errors.New("boom"), "test"); err != nil {
		t.Fatalf("noop service should never error: %v", err)
	}
}

func TestWorkflowCompletedSendsNotification(t *testing.T) {
	server, captured := newCaptureServer(t)
	svc := NewService(configWithTopic(server.URL))

	if err := svc.NotifyWorkflowCompleted(context.Background(), "script-1", "Ocean Doc"); err != nil {
		t.Fatalf("NotifyWorkflowCompleted: %v", err)
	}
	requests := captured()
	if len(requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(requests))
	}
	req := requests[0]
	if req.title != "Sceneforge - Project Ready" {
		t.Fatalf("unexpected title %q", req.title)
	}
	if !strings.Contains(req.body, "Ocean Doc") || !strings.Contains(req.body, "script-1") {
		t.Fatalf("unexpected body %q", req.body)
	}
	if req.priority != "high" {
		t.Fatalf("expected high priority, got %q", req.priority)
	}
	if !strings.Contains(req.tags, "workflow") {
		t.Fatalf("unexpected tags %q", req.tags)
	}
}

func TestWorkflowFailedCarriesReason(t *testing.T) {
	server, captured := newCaptureServer(t)
	svc := NewService(configWithTopic(server.URL))

	if err := svc.NotifyWorkflowFailed(context.Background(), "script-1", "Doomed", "image backend down"); err != nil {
		t.Fatalf("NotifyWorkflowFailed: %v", err)
	}
	requests := captured()
	if len(requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(requests))
	}
	if !strings.Contains(requests[0].body, "image backend down") {
		t.Fatalf("expected reason in body, got %q", requests[0].body)
	}
}

func TestCategoryTogglesSuppressSends(t *testing.T) {
	server, captured := newCaptureServer(t)
	cfg := configWithTopic(server.URL)
	cfg.Notifications.Workflows = false
	cfg.Notifications.Jobs = false
	svc := NewService(cfg)

	if err := svc.NotifyWorkflowCompleted(context.Background(), "s", "t"); err != nil {
		t.Fatalf("NotifyWorkflowCompleted: %v", err)
	}
	if err := svc.NotifyJobCompleted(context.Background(), "s", "image", 3, 3); err != nil {
		t.Fatalf("NotifyJobCompleted: %v", err)
	}
	if got := len(captured()); got != 0 {
		t.Fatalf("expected no requests with categories disabled, got %d", got)
	}
}

func TestServerErrorSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "topic not found", http.StatusNotFound)
	}))
	t.Cleanup(server.Close)
	svc := NewService(configWithTopic(server.URL))

	err := svc.NotifyJobCompleted(context.Background(), "script-1", "image", 2, 3)
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected 404 error, got %v", err)
	}
}
