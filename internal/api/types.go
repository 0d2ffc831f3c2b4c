package api

import (
	"time"

	"sceneforge/internal/pipeline"
	"sceneforge/internal/store"
)

// SubmitJobRequest is the body of POST /api/scripts/{scriptID}/jobs.
type SubmitJobRequest struct {
	JobType string            `json:"jobType"`
	Items   []SubmitJobItem   `json:"items"`
	Params  map[string]string `json:"params,omitempty"`
}

// SubmitJobItem is one unit of work in a submission.
type SubmitJobItem struct {
	SceneID string `json:"sceneId,omitempty"`
	Prompt  string `json:"prompt"`
}

// SubmitJobResponse acknowledges an accepted job.
type SubmitJobResponse struct {
	JobID string `json:"jobId"`
}

// CancelResponse reports the outcome of a single-job cancel request.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// CancelScriptResponse reports how many jobs a script-wide cancel reached.
type CancelScriptResponse struct {
	CancelledCount int `json:"cancelledCount"`
}

// ClearCompletedResponse reports how many terminal jobs were evicted.
type ClearCompletedResponse struct {
	Removed int `json:"removed"`
}

// CreateWorkflowRequest is the body of POST /api/workflows. When FocusStep is
// set, a focused workflow over the catalog tail starting at that step is
// created instead of a full run.
type CreateWorkflowRequest struct {
	ScriptID     string   `json:"scriptId,omitempty"`
	Title        string   `json:"title,omitempty"`
	ProjectKind  string   `json:"projectKind"`
	ScenePrompts []string `json:"scenePrompts,omitempty"`
	FocusStep    string   `json:"focusStep,omitempty"`
}

// CreateWorkflowResponse acknowledges an accepted workflow.
type CreateWorkflowResponse struct {
	WorkflowID string `json:"workflowId"`
	ScriptID   string `json:"scriptId"`
}

// StepView is the API rendering of one workflow step.
type StepView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Status      string `json:"status"`
	Progress    int    `json:"progress"`
	Error       string `json:"error,omitempty"`
}

// WorkflowView is the API rendering of a workflow record.
type WorkflowView struct {
	ID               string     `json:"id"`
	ScriptID         string     `json:"scriptId"`
	Title            string     `json:"title"`
	ProjectKind      string     `json:"projectKind"`
	Steps            []StepView `json:"steps"`
	CurrentStepIndex int        `json:"currentStepIndex"`
	Status           string     `json:"status"`
	Error            string     `json:"error,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	LastUpdated      time.Time  `json:"lastUpdated"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
}

// FromWorkflow converts a persisted workflow into its API view.
func FromWorkflow(wf *store.Workflow) WorkflowView {
	steps := make([]StepView, len(wf.Steps))
	for i, step := range wf.Steps {
		steps[i] = StepView{
			ID:          step.ID,
			Name:        step.Name,
			DisplayName: pipeline.StepTitle(step.Name),
			Status:      string(step.Status),
			Progress:    step.Progress,
			Error:       step.Error,
		}
	}
	return WorkflowView{
		ID:               wf.ID,
		ScriptID:         wf.ScriptID,
		Title:            wf.Title,
		ProjectKind:      string(wf.ProjectKind),
		Steps:            steps,
		CurrentStepIndex: wf.CurrentStepIndex,
		Status:           string(wf.Status),
		Error:            wf.ErrorMessage,
		CreatedAt:        wf.CreatedAt,
		LastUpdated:      wf.LastUpdated,
		CompletedAt:      wf.CompletedAt,
	}
}

// DaemonStatus is the payload of GET /api/status.
type DaemonStatus struct {
	Running          bool      `json:"running"`
	PID              int       `json:"pid"`
	DatabasePath     string    `json:"databasePath"`
	ActiveJobs       int       `json:"activeJobs"`
	RunningWorkflows int       `json:"runningWorkflows"`
	Subscribers      int       `json:"subscribers"`
	StartedAt        time.Time `json:"startedAt"`
}

// ErrorResponse is the JSON error body returned by every failing endpoint.
type ErrorResponse struct {
	Error string `json:"error"`
}
