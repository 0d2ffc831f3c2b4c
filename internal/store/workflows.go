package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// WorkflowStatus represents the lifecycle of a workflow.
type WorkflowStatus string

const (
	WorkflowPending    WorkflowStatus = "pending"
	WorkflowProcessing WorkflowStatus = "processing"
	WorkflowCompleted  WorkflowStatus = "completed"
	WorkflowFailed     WorkflowStatus = "failed"
)

// IsTerminal reports whether no further transitions are possible.
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed
}

// StepStatus represents the lifecycle of one workflow step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepProcessing StepStatus = "processing"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
)

// Step is one ordered unit of pipeline work.
type Step struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Status   StepStatus `json:"status"`
	Progress int        `json:"progress,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// Workflow is the durable record of one pipeline run over a script.
type Workflow struct {
	ID               string
	ScriptID         string
	Title            string
	ProjectKind      ProjectKind
	Steps            []Step
	CurrentStepIndex int
	Status           WorkflowStatus
	ErrorMessage     string
	CreatedAt        time.Time
	LastUpdated      time.Time
	CompletedAt      *time.Time
}

// stepsEnvelopeVersion guards the persisted step list against silent schema
// drift; decoding rejects versions it does not understand.
const stepsEnvelopeVersion = 1

// ErrStepsVersion indicates a persisted step list written by an incompatible version.
var ErrStepsVersion = errors.New("unsupported workflow steps version")

type stepsEnvelope struct {
	Version int    `json:"version"`
	Steps   []Step `json:"steps"`
}

func encodeSteps(steps []Step) (string, error) {
	raw, err := json.Marshal(stepsEnvelope{Version: stepsEnvelopeVersion, Steps: steps})
	if err != nil {
		return "", fmt.Errorf("marshal workflow steps: %w", err)
	}
	return string(raw), nil
}

func decodeSteps(raw string) ([]Step, error) {
	var envelope stepsEnvelope
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil, fmt.Errorf("unmarshal workflow steps: %w", err)
	}
	if envelope.Version != stepsEnvelopeVersion {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrStepsVersion, envelope.Version, stepsEnvelopeVersion)
	}
	return envelope.Steps, nil
}

// CreateWorkflow persists a new workflow record.
func (s *Store) CreateWorkflow(ctx context.Context, wf *Workflow) error {
	if wf == nil {
		return errors.New("workflow is nil")
	}
	if strings.TrimSpace(wf.ID) == "" {
		return errors.New("workflow id is required")
	}
	stepsJSON, err := encodeSteps(wf.Steps)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = now
	}
	wf.LastUpdated = now

	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO workflows (
            id, script_id, title, project_kind, steps_json, current_step,
            status, error_message, created_at, last_updated, completed_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID,
		wf.ScriptID,
		wf.Title,
		wf.ProjectKind,
		stepsJSON,
		wf.CurrentStepIndex,
		wf.Status,
		nullableString(wf.ErrorMessage),
		wf.CreatedAt.Format(time.RFC3339Nano),
		wf.LastUpdated.Format(time.RFC3339Nano),
		nullableTime(wf.CompletedAt),
	); err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

// SaveWorkflow persists the current state of an existing workflow. Every step
// transition goes through here before the next step begins.
func (s *Store) SaveWorkflow(ctx context.Context, wf *Workflow) error {
	if wf == nil {
		return errors.New("workflow is nil")
	}
	stepsJSON, err := encodeSteps(wf.Steps)
	if err != nil {
		return err
	}
	wf.LastUpdated = time.Now().UTC()

	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE workflows
         SET steps_json = ?, current_step = ?, status = ?, error_message = ?,
             last_updated = ?, completed_at = ?
         WHERE id = ?`,
		stepsJSON,
		wf.CurrentStepIndex,
		wf.Status,
		nullableString(wf.ErrorMessage),
		wf.LastUpdated.Format(time.RFC3339Nano),
		nullableTime(wf.CompletedAt),
		wf.ID,
	); err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	return nil
}

const workflowColumns = `id, script_id, title, project_kind, steps_json, current_step, status, error_message, created_at, last_updated, completed_at`

// GetWorkflow fetches a workflow by id. Returns nil when absent.
func (s *Store) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id)
	wf, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return wf, nil
}

// ListWorkflowsByScript returns a script's workflows, most recent first.
func (s *Store) ListWorkflowsByScript(ctx context.Context, scriptID string) ([]*Workflow, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE script_id = ? ORDER BY created_at DESC`,
		scriptID,
	)
	if err != nil {
		return nil, fmt.Errorf("query workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

// LatestWorkflowForScript returns the most recently created workflow for a
// script, or nil when the script has none.
func (s *Store) LatestWorkflowForScript(ctx context.Context, scriptID string) (*Workflow, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE script_id = ? ORDER BY created_at DESC LIMIT 1`,
		scriptID,
	)
	wf, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest workflow: %w", err)
	}
	return wf, nil
}

func scanWorkflow(row rowScanner) (*Workflow, error) {
	var (
		wf           Workflow
		kind         string
		stepsJSON    string
		status       string
		errorMessage sql.NullString
		createdAt    string
		lastUpdated  string
		completedAt  sql.NullString
	)
	if err := row.Scan(
		&wf.ID,
		&wf.ScriptID,
		&wf.Title,
		&kind,
		&stepsJSON,
		&wf.CurrentStepIndex,
		&status,
		&errorMessage,
		&createdAt,
		&lastUpdated,
		&completedAt,
	); err != nil {
		return nil, err
	}
	steps, err := decodeSteps(stepsJSON)
	if err != nil {
		return nil, err
	}
	wf.ProjectKind = ProjectKind(kind)
	wf.Steps = steps
	wf.Status = WorkflowStatus(status)
	wf.ErrorMessage = errorMessage.String
	wf.CreatedAt = parseTimestamp(createdAt)
	wf.LastUpdated = parseTimestamp(lastUpdated)
	if completedAt.Valid {
		ts := parseTimestamp(completedAt.String)
		wf.CompletedAt = &ts
	}
	return &wf, nil
}
