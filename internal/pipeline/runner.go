package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"sceneforge/internal/events"
	"sceneforge/internal/logging"
	"sceneforge/internal/store"
)

func (o *Orchestrator) run(wf *store.Workflow) {
	defer o.wg.Done()
	defer o.release(wf)

	log := o.logger.With(
		logging.String(logging.FieldWorkflowID, wf.ID),
		logging.String(logging.FieldScriptID, wf.ScriptID))

	for i := wf.CurrentStepIndex; i < len(wf.Steps); i++ {
		if o.runCtx.Err() != nil {
			// Shutdown. Leave the record non-terminal; Resume picks it up
			// after the next start.
			log.Info("workflow interrupted by shutdown",
				logging.Int("step_index", i))
			return
		}
		if o.isCancelled(wf.ID) {
			o.failWorkflow(wf, i, errCancelled, log)
			return
		}

		step := &wf.Steps[i]
		if step.Status == store.StepCompleted {
			wf.CurrentStepIndex = i + 1
			continue
		}

		step.Status = store.StepProcessing
		wf.Status = store.WorkflowProcessing
		wf.CurrentStepIndex = i
		if err := o.save(wf); err != nil {
			o.failWorkflow(wf, i, err, log)
			return
		}
		log.Info("step started", logging.String(logging.FieldStep, step.Name))

		err := o.executeStep(o.runCtx, wf, step)
		if err != nil && o.runCtx.Err() != nil && !errors.Is(err, errCancelled) {
			// The step was aborted by shutdown, not by its own fault. Reset
			// it so the next process re-executes it from the beginning.
			step.Status = store.StepPending
			step.Progress = 0
			wf.Status = store.WorkflowPending
			if saveErr := o.save(wf); saveErr != nil {
				log.Error("failed to persist interrupted step", logging.Error(saveErr))
			}
			log.Info("workflow interrupted by shutdown", logging.String(logging.FieldStep, step.Name))
			return
		}
		if err != nil {
			o.failWorkflow(wf, i, err, log)
			return
		}

		step.Status = store.StepCompleted
		step.Progress = 100
		wf.CurrentStepIndex = i + 1
		if err := o.save(wf); err != nil {
			o.failWorkflow(wf, i, err, log)
			return
		}
		log.Info("step completed", logging.String(logging.FieldStep, step.Name))
	}

	wf.Status = store.WorkflowCompleted
	wf.CompletedAt = terminalTimestamp()
	if err := o.save(wf); err != nil {
		log.Error("failed to persist workflow completion", logging.Error(err))
	}
	log.Info("workflow completed")

	o.publish(events.TypeWorkflowCompleted, WorkflowEvent{
		WorkflowID: wf.ID,
		ScriptID:   wf.ScriptID,
		Title:      wf.Title,
	})
	if o.notifier != nil {
		if err := o.notifier.NotifyWorkflowCompleted(context.Background(), wf.ScriptID, wf.Title); err != nil {
			log.Warn("completion notification failed", logging.Error(err))
		}
	}
}

// failWorkflow marks the step at index and the workflow failed, persists, and
// emits exactly one workflowFailed event. Later steps stay pending.
func (o *Orchestrator) failWorkflow(wf *store.Workflow, index int, cause error, log *slog.Logger) {
	step := &wf.Steps[index]
	if step.Status == store.StepProcessing {
		step.Status = store.StepFailed
		step.Error = cause.Error()
	}
	wf.Status = store.WorkflowFailed
	wf.ErrorMessage = cause.Error()
	wf.CompletedAt = terminalTimestamp()
	if err := o.save(wf); err != nil {
		log.Error("failed to persist workflow failure", logging.Error(err))
	}
	log.Error("workflow failed",
		logging.String(logging.FieldStep, wf.Steps[index].Name),
		logging.Error(cause))

	o.publish(events.TypeWorkflowFailed, WorkflowEvent{
		WorkflowID: wf.ID,
		ScriptID:   wf.ScriptID,
		Title:      wf.Title,
		Error:      cause.Error(),
	})
	if o.notifier != nil {
		if err := o.notifier.NotifyWorkflowFailed(context.Background(), wf.ScriptID, wf.Title, cause.Error()); err != nil {
			log.Warn("failure notification failed", logging.Error(err))
		}
	}
}

func (o *Orchestrator) save(wf *store.Workflow) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return o.store.SaveWorkflow(ctx, wf)
}
