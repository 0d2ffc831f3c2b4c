package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sceneforge/internal/events"
	"sceneforge/internal/logging"
	"sceneforge/internal/provider"
	"sceneforge/internal/store"
)

// continuityParam enables chaining: each item's request carries the previous
// successful item's artifact URL so the backend can keep visual continuity.
const continuityParam = "continuity"

func (q *Queue) run(state *jobState) {
	defer q.wg.Done()
	defer close(state.done)

	jobID := state.job.ID
	scriptID := state.job.ScriptID
	log := q.logger.With(
		logging.String(logging.FieldJobID, jobID),
		logging.String(logging.FieldScriptID, scriptID))

	defer func() {
		if r := recover(); r != nil {
			q.finishFailed(state, fmt.Sprintf("job worker panic: %v", r))
			log.Error("job worker panicked", logging.Any("panic", r))
		}
	}()

	select {
	case q.sem <- struct{}{}:
		defer func() { <-q.sem }()
	case <-q.runCtx.Done():
		q.finishCancelled(state)
		return
	}

	if q.isCancelled(state) {
		q.finishCancelled(state)
		return
	}

	q.setStatus(state, StatusProcessing)
	log.Info("job processing started", logging.Int("items", state.job.Progress.Total))

	continuity := state.job.Params[continuityParam] == "true"
	previousURL := ""

	for i := range state.job.Items {
		if q.isCancelled(state) || q.runCtx.Err() != nil {
			q.finishCancelled(state)
			return
		}

		item := q.itemSnapshot(state, i)
		req := provider.Request{
			ScriptID: scriptID,
			SceneID:  item.SceneID,
			Kind:     state.job.Type,
			Prompt:   item.Prompt,
			Params:   state.job.Params,
		}
		if continuity {
			req.ContinuityURL = previousURL
		}

		result, err := q.provider.Generate(q.runCtx, req)
		if err != nil && (errors.Is(err, context.Canceled) || q.runCtx.Err() != nil) {
			// Shutdown aborted the in-flight call; the item was not
			// processed, so it stays untouched.
			q.finishCancelled(state)
			return
		}

		item = q.recordItem(state, i, result.URL, err)
		q.persistItem(item, state.job.Type)
		q.publish(events.TypeJobProgress, ProgressEvent{
			JobID:    jobID,
			ScriptID: scriptID,
			Progress: q.progressSnapshot(state),
			Item:     item,
		})

		if err != nil {
			log.Warn("job item failed",
				logging.Int("item", i),
				logging.Error(err))
		} else {
			previousURL = result.URL
		}
	}

	if q.isCancelled(state) {
		q.finishCancelled(state)
		return
	}
	q.finishCompleted(state)
	log.Info("job completed", logging.Int("items", state.job.Progress.Total))
}

func (q *Queue) isCancelled(state *jobState) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return state.cancelled
}

func (q *Queue) setStatus(state *jobState, status Status) {
	q.mu.Lock()
	state.job.Status = status
	snapshot := state.job.clone()
	q.mu.Unlock()
	q.publish(events.TypeJobUpdated, snapshot)
}

func (q *Queue) itemSnapshot(state *jobState, index int) Item {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return state.job.Items[index]
}

func (q *Queue) progressSnapshot(state *jobState) Progress {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return state.job.Progress
}

// recordItem stores one item's outcome and advances progress. A failed item
// still counts as processed; the batch carries on with the remaining items.
func (q *Queue) recordItem(state *jobState, index int, url string, genErr error) Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	item := &state.job.Items[index]
	if genErr != nil {
		item.Error = genErr.Error()
	} else {
		item.ResultURL = url
	}
	state.job.Progress.Completed++
	return *item
}

// persistItem writes the item outcome onto its scene record so artifacts
// survive a restart. Persistence failures are logged, not fatal to the batch.
func (q *Queue) persistItem(item Item, kind provider.Kind) {
	if q.store == nil || item.SceneID == "" {
		return
	}

	var patch store.ScenePatch
	if item.Error != "" {
		patch.ErrorMessage = &item.Error
	} else {
		switch kind {
		case provider.KindVideo:
			patch.VideoURL = &item.ResultURL
		case provider.KindCharacterImage:
			patch.CharacterRefs = &item.ResultURL
		default:
			patch.ImageURL = &item.ResultURL
		}
		empty := ""
		patch.ErrorMessage = &empty
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := q.store.UpdateScene(ctx, item.SceneID, patch); err != nil {
		q.logger.Warn("failed to persist item result",
			logging.String("scene_id", item.SceneID),
			logging.Error(err))
	}
}

func (q *Queue) finishCompleted(state *jobState) {
	q.finish(state, StatusCompleted, "")
}

func (q *Queue) finishCancelled(state *jobState) {
	q.finish(state, StatusCancelled, "")
	q.logger.Info("job cancelled",
		logging.String(logging.FieldJobID, state.job.ID),
		logging.Int("processed", state.job.Progress.Completed))
}

// finishFailed marks the whole batch failed. Reserved for faults before or
// outside item processing; a single item error never fails the batch.
func (q *Queue) finishFailed(state *jobState, message string) {
	q.finish(state, StatusFailed, message)
}

func (q *Queue) finish(state *jobState, status Status, message string) {
	q.mu.Lock()
	if state.job.Status.IsTerminal() {
		q.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	state.job.Status = status
	state.job.CompletedAt = &now
	state.job.Error = message
	if q.activeByScript[state.job.ScriptID] == state.job.ID {
		delete(q.activeByScript, state.job.ScriptID)
	}
	snapshot := state.job.clone()
	q.mu.Unlock()

	q.publish(events.TypeJobUpdated, snapshot)
	switch status {
	case StatusCompleted:
		q.publish(events.TypeJobCompleted, snapshot)
	case StatusFailed:
		q.publish(events.TypeJobFailed, snapshot)
	}
}
