package jobs

import (
	"time"

	"sceneforge/internal/provider"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Progress counts processed items. Completed never decreases and never
// exceeds Total; failed items still count as processed.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// ItemSpec describes one unit of work at submission time.
type ItemSpec struct {
	SceneID string `json:"sceneId,omitempty"`
	Prompt  string `json:"prompt"`
}

// Item is the tracked state of one unit of work inside a job.
type Item struct {
	Index     int    `json:"index"`
	SceneID   string `json:"sceneId,omitempty"`
	Prompt    string `json:"prompt"`
	ResultURL string `json:"resultUrl,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Succeeded reports whether the item produced an artifact.
func (i Item) Succeeded() bool {
	return i.ResultURL != "" && i.Error == ""
}

// Job is one asynchronous batch of generation work. Once a job reaches a
// terminal status it is immutable except for eviction by ClearCompleted.
type Job struct {
	ID          string            `json:"id"`
	ScriptID    string            `json:"scriptId"`
	Type        provider.Kind     `json:"jobType"`
	Status      Status            `json:"status"`
	Progress    Progress          `json:"progress"`
	Items       []Item            `json:"items"`
	Params      map[string]string `json:"params,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
	Error       string            `json:"error,omitempty"`
}

func (j *Job) clone() *Job {
	cp := *j
	cp.Items = make([]Item, len(j.Items))
	copy(cp.Items, j.Items)
	if j.Params != nil {
		cp.Params = make(map[string]string, len(j.Params))
		for k, v := range j.Params {
			cp.Params[k] = v
		}
	}
	if j.CompletedAt != nil {
		ts := *j.CompletedAt
		cp.CompletedAt = &ts
	}
	return &cp
}

// ProgressEvent is the payload published after each processed item.
type ProgressEvent struct {
	JobID    string   `json:"jobId"`
	ScriptID string   `json:"scriptId"`
	Progress Progress `json:"progress"`
	Item     Item     `json:"item"`
}
