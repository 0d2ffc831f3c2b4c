package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sceneforge/internal/jobs"
)

const defaultClientTimeout = 30 * time.Second

// Client talks to a running daemon over its HTTP API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient constructs a client for the daemon at bind (host:port or URL).
func NewClient(bind, token string) *Client {
	base := strings.TrimSpace(bind)
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: defaultClientTimeout},
	}
}

// Status fetches the daemon status summary.
func (c *Client) Status(ctx context.Context) (*DaemonStatus, error) {
	var status DaemonStatus
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ListJobs fetches every tracked job, most recent first.
func (c *Client) ListJobs(ctx context.Context) ([]*jobs.Job, error) {
	var list []*jobs.Job
	if err := c.do(ctx, http.MethodGet, "/api/jobs", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetJob fetches one job snapshot.
func (c *Client) GetJob(ctx context.Context, jobID string) (*jobs.Job, error) {
	var job jobs.Job
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+jobID, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// SubmitJob submits a generation batch for a script.
func (c *Client) SubmitJob(ctx context.Context, scriptID string, req SubmitJobRequest) (string, error) {
	var resp SubmitJobResponse
	if err := c.do(ctx, http.MethodPost, "/api/scripts/"+scriptID+"/jobs", req, &resp); err != nil {
		return "", err
	}
	return resp.JobID, nil
}

// CancelJob requests cancellation of one job.
func (c *Client) CancelJob(ctx context.Context, jobID string) (bool, error) {
	var resp CancelResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs/"+jobID+"/cancel", nil, &resp); err != nil {
		return false, err
	}
	return resp.Cancelled, nil
}

// CancelScript cancels every active job for a script.
func (c *Client) CancelScript(ctx context.Context, scriptID string) (int, error) {
	var resp CancelScriptResponse
	if err := c.do(ctx, http.MethodPost, "/api/scripts/"+scriptID+"/cancel", nil, &resp); err != nil {
		return 0, err
	}
	return resp.CancelledCount, nil
}

// ClearCompleted evicts terminal jobs from the daemon's registry.
func (c *Client) ClearCompleted(ctx context.Context) (int, error) {
	var resp ClearCompletedResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs/clear-completed", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Removed, nil
}

// CreateWorkflow starts a new pipeline run.
func (c *Client) CreateWorkflow(ctx context.Context, req CreateWorkflowRequest) (*CreateWorkflowResponse, error) {
	var resp CreateWorkflowResponse
	if err := c.do(ctx, http.MethodPost, "/api/workflows", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ResumeWorkflow restarts pipeline execution for a script.
func (c *Client) ResumeWorkflow(ctx context.Context, scriptID string) (*CreateWorkflowResponse, error) {
	var resp CreateWorkflowResponse
	if err := c.do(ctx, http.MethodPost, "/api/scripts/"+scriptID+"/workflows/resume", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetWorkflow fetches one workflow view.
func (c *Client) GetWorkflow(ctx context.Context, workflowID string) (*WorkflowView, error) {
	var view WorkflowView
	if err := c.do(ctx, http.MethodGet, "/api/workflows/"+workflowID, nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// ListWorkflows fetches a script's workflows, most recent first.
func (c *Client) ListWorkflows(ctx context.Context, scriptID string) ([]WorkflowView, error) {
	var views []WorkflowView
	if err := c.do(ctx, http.MethodGet, "/api/scripts/"+scriptID+"/workflows", nil, &views); err != nil {
		return nil, err
	}
	return views, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("daemon address is not configured")
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("daemon request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr ErrorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if unmarshalErr := json.Unmarshal(raw, &apiErr); unmarshalErr == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("daemon returned %d", resp.StatusCode)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
