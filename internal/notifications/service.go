package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sceneforge/internal/config"
)

const userAgent = "Sceneforge-Go/0.1.0"

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	NotifyWorkflowCompleted(ctx context.Context, scriptID, title string) error
	NotifyWorkflowFailed(ctx context.Context, scriptID, title, reason string) error
	NotifyJobCompleted(ctx context.Context, scriptID, jobType string, succeeded, total int) error
	NotifyError(ctx context.Context, err error, contextLabel string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:  topic,
		client:    &http.Client{Timeout: timeout},
		workflows: cfg.Notifications.Workflows,
		jobs:      cfg.Notifications.Jobs,
		errors:    cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint  string
	client    *http.Client
	workflows bool
	jobs      bool
	errors    bool
}

func (n *ntfyService) NotifyWorkflowCompleted(ctx context.Context, scriptID, title string) error {
	if !n.workflows {
		return nil
	}
	title = strings.TrimSpace(title)
	data := payload{
		title:    "Sceneforge - Project Ready",
		message:  fmt.Sprintf("Generation complete: %s (%s)", title, scriptID),
		tags:     []string{"sceneforge", "workflow", "completed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyWorkflowFailed(ctx context.Context, scriptID, title, reason string) error {
	if !n.workflows {
		return nil
	}
	title = strings.TrimSpace(title)
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown"
	}
	data := payload{
		title:    "Sceneforge - Generation Failed",
		message:  fmt.Sprintf("%s (%s) failed: %s", title, scriptID, reason),
		tags:     []string{"sceneforge", "workflow", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobCompleted(ctx context.Context, scriptID, jobType string, succeeded, total int) error {
	if !n.jobs {
		return nil
	}
	var message string
	if succeeded == total {
		message = fmt.Sprintf("%s batch complete for %s: %d items", jobType, scriptID, total)
	} else {
		message = fmt.Sprintf("%s batch complete for %s: %d of %d items succeeded", jobType, scriptID, succeeded, total)
	}
	data := payload{
		title:   "Sceneforge - Batch Complete",
		message: message,
		tags:    []string{"sceneforge", "job", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Sceneforge - Error",
		message:  builder.String(),
		tags:     []string{"sceneforge", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Sceneforge - Test",
		message:  "Notification system test",
		tags:     []string{"sceneforge", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyWorkflowCompleted(context.Context, string, string) error { return nil }
func (noopService) NotifyWorkflowFailed(context.Context, string, string, string) error {
	return nil
}
func (noopService) NotifyJobCompleted(context.Context, string, string, int, int) error { return nil }
func (noopService) NotifyError(context.Context, error, string) error                   { return nil }
func (noopService) TestNotification(context.Context) error                             { return nil }
