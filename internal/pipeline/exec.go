package pipeline

import (
	"context"
	"errors"
	"fmt"

	"sceneforge/internal/jobs"
	"sceneforge/internal/provider"
	"sceneforge/internal/store"
)

func (o *Orchestrator) executeStep(ctx context.Context, wf *store.Workflow, step *store.Step) error {
	switch step.Name {
	case StepPrepareAudio:
		return o.prepareAudio(ctx, wf)
	case StepScenePrompts:
		return o.generateScenePrompts(ctx, wf)
	case StepImages:
		return o.generateImages(ctx, wf, nil)
	case StepThumbnail:
		return o.generateThumbnail(ctx, wf)
	case StepAnalyzeMusic:
		return o.analyzeMusicAudio(ctx, wf)
	case StepExtractCharacters:
		return o.extractCharacters(ctx, wf)
	case StepImagesWithCharacter:
		return o.generateImages(ctx, wf, map[string]string{"use_characters": "true"})
	case StepVideoPrompts:
		return o.generateVideoPrompts(ctx, wf)
	case StepParseDialogue:
		return o.parseDialogue(ctx, wf)
	case StepSceneImages:
		return o.generateImages(ctx, wf, nil)
	case StepVoiceAudio:
		return o.generateVoiceAudio(ctx, wf)
	case StepLipSync:
		return o.generateLipSync(ctx, wf)
	case StepAssembleVideo:
		return o.assembleFinalVideo(ctx, wf)
	default:
		return fmt.Errorf("no executor for step %s", step.Name)
	}
}

// runJob delegates batch work to the job queue and waits for its terminal
// state. The spawned job is tracked so a workflow cancel reaches it.
func (o *Orchestrator) runJob(ctx context.Context, wf *store.Workflow, kind provider.Kind, items []jobs.ItemSpec, params map[string]string) error {
	job, err := o.queue.Submit(wf.ScriptID, kind, items, params)
	if err != nil {
		return fmt.Errorf("submit %s job: %w", kind, err)
	}
	o.setActiveJob(wf.ID, job.ID)
	defer o.setActiveJob(wf.ID, "")

	final, err := o.queue.Wait(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("wait for %s job: %w", kind, err)
	}

	switch final.Status {
	case jobs.StatusCancelled:
		return errCancelled
	case jobs.StatusFailed:
		return fmt.Errorf("%s job failed: %s", kind, final.Error)
	}

	succeeded := 0
	for _, item := range final.Items {
		if item.Succeeded() {
			succeeded++
		}
	}
	if succeeded == 0 {
		return fmt.Errorf("%s job produced no artifacts", kind)
	}
	return nil
}

func (o *Orchestrator) generate(ctx context.Context, req provider.Request) (provider.Result, error) {
	if o.provider == nil {
		return provider.Result{}, errors.New("no generation provider configured")
	}
	return o.provider.Generate(ctx, req)
}

func (o *Orchestrator) loadScenes(ctx context.Context, scriptID string) ([]*store.Scene, error) {
	scenes, err := o.store.GetScenes(ctx, scriptID)
	if err != nil {
		return nil, err
	}
	if len(scenes) == 0 {
		return nil, errors.New("project has no scenes")
	}
	return scenes, nil
}

func (o *Orchestrator) prepareAudio(ctx context.Context, wf *store.Workflow) error {
	result, err := o.generate(ctx, provider.Request{
		ScriptID: wf.ScriptID,
		Kind:     provider.KindSpeech,
		Prompt:   "Narration for " + wf.Title,
	})
	if err != nil {
		return fmt.Errorf("generate narration audio: %w", err)
	}
	if err := o.store.UpdateProject(ctx, wf.ScriptID, store.ProjectPatch{AudioPath: &result.URL}); err != nil {
		return fmt.Errorf("persist narration audio: %w", err)
	}
	return nil
}

// generateScenePrompts fills in any scene missing a prompt. Prompts supplied
// at creation time are kept as-is.
func (o *Orchestrator) generateScenePrompts(ctx context.Context, wf *store.Workflow) error {
	scenes, err := o.loadScenes(ctx, wf.ScriptID)
	if err != nil {
		return err
	}
	for _, scene := range scenes {
		if scene.Prompt != "" {
			continue
		}
		prompt := fmt.Sprintf("%s, scene %d", wf.Title, scene.Position+1)
		if err := o.store.UpdateScene(ctx, scene.ID, store.ScenePatch{Prompt: &prompt}); err != nil {
			return fmt.Errorf("persist scene prompt: %w", err)
		}
	}
	return nil
}

// generateImages runs one image per scene through the job queue in strict
// scene order with continuity chaining. Scenes that already have an image are
// skipped, which makes resumed and continuation runs cheap.
func (o *Orchestrator) generateImages(ctx context.Context, wf *store.Workflow, extraParams map[string]string) error {
	scenes, err := o.loadScenes(ctx, wf.ScriptID)
	if err != nil {
		return err
	}
	var items []jobs.ItemSpec
	for _, scene := range scenes {
		if scene.ImageURL != "" {
			continue
		}
		items = append(items, jobs.ItemSpec{SceneID: scene.ID, Prompt: scene.Prompt})
	}
	if len(items) == 0 {
		return nil
	}
	params := map[string]string{"continuity": "true"}
	for k, v := range extraParams {
		params[k] = v
	}
	return o.runJob(ctx, wf, provider.KindImage, items, params)
}

func (o *Orchestrator) generateThumbnail(ctx context.Context, wf *store.Workflow) error {
	result, err := o.generate(ctx, provider.Request{
		ScriptID: wf.ScriptID,
		Kind:     provider.KindImage,
		Prompt:   "Cover thumbnail for " + wf.Title,
	})
	if err != nil {
		return fmt.Errorf("generate thumbnail: %w", err)
	}
	if err := o.store.UpdateProject(ctx, wf.ScriptID, store.ProjectPatch{ThumbnailURL: &result.URL}); err != nil {
		return fmt.Errorf("persist thumbnail: %w", err)
	}
	return nil
}

// analyzeMusicAudio gates the music-video pipeline on the uploaded track.
func (o *Orchestrator) analyzeMusicAudio(ctx context.Context, wf *store.Workflow) error {
	project, err := o.store.GetProject(ctx, wf.ScriptID)
	if err != nil {
		return err
	}
	if project == nil {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, wf.ScriptID)
	}
	if project.AudioPath == "" {
		return errors.New("no music audio on project; upload a track before analysis")
	}
	status := "analyzed"
	if err := o.store.UpdateProject(ctx, wf.ScriptID, store.ProjectPatch{Status: &status}); err != nil {
		return fmt.Errorf("persist analysis status: %w", err)
	}
	return nil
}

func (o *Orchestrator) extractCharacters(ctx context.Context, wf *store.Workflow) error {
	scenes, err := o.loadScenes(ctx, wf.ScriptID)
	if err != nil {
		return err
	}
	var items []jobs.ItemSpec
	for _, scene := range scenes {
		if scene.CharacterRefs != "" {
			continue
		}
		items = append(items, jobs.ItemSpec{
			SceneID: scene.ID,
			Prompt:  "Character reference sheet for: " + scene.Prompt,
		})
	}
	if len(items) == 0 {
		return nil
	}
	return o.runJob(ctx, wf, provider.KindCharacterImage, items, nil)
}

func (o *Orchestrator) generateVideoPrompts(ctx context.Context, wf *store.Workflow) error {
	scenes, err := o.loadScenes(ctx, wf.ScriptID)
	if err != nil {
		return err
	}
	for _, scene := range scenes {
		if scene.VideoPrompt != "" {
			continue
		}
		videoPrompt := "Camera motion and transitions for: " + scene.Prompt
		if err := o.store.UpdateScene(ctx, scene.ID, store.ScenePatch{VideoPrompt: &videoPrompt}); err != nil {
			return fmt.Errorf("persist video prompt: %w", err)
		}
	}
	return nil
}

// parseDialogue validates that the animation script produced usable scene
// lines before any generation begins.
func (o *Orchestrator) parseDialogue(ctx context.Context, wf *store.Workflow) error {
	scenes, err := o.loadScenes(ctx, wf.ScriptID)
	if err != nil {
		return err
	}
	for _, scene := range scenes {
		if scene.Prompt == "" {
			return fmt.Errorf("scene %d has no dialogue line", scene.Position+1)
		}
	}
	return nil
}

// generateVoiceAudio produces per-scene speech directly through the provider;
// speech never goes through the job queue.
func (o *Orchestrator) generateVoiceAudio(ctx context.Context, wf *store.Workflow) error {
	scenes, err := o.loadScenes(ctx, wf.ScriptID)
	if err != nil {
		return err
	}
	for _, scene := range scenes {
		if scene.AudioURL != "" {
			continue
		}
		if o.isCancelled(wf.ID) {
			return errCancelled
		}
		result, err := o.generate(ctx, provider.Request{
			ScriptID: wf.ScriptID,
			SceneID:  scene.ID,
			Kind:     provider.KindSpeech,
			Prompt:   scene.Prompt,
		})
		if err != nil {
			return fmt.Errorf("generate voice for scene %d: %w", scene.Position+1, err)
		}
		if err := o.store.UpdateScene(ctx, scene.ID, store.ScenePatch{AudioURL: &result.URL}); err != nil {
			return fmt.Errorf("persist scene audio: %w", err)
		}
	}
	return nil
}

func (o *Orchestrator) generateLipSync(ctx context.Context, wf *store.Workflow) error {
	scenes, err := o.loadScenes(ctx, wf.ScriptID)
	if err != nil {
		return err
	}
	var items []jobs.ItemSpec
	for _, scene := range scenes {
		if scene.VideoURL != "" {
			continue
		}
		if scene.ImageURL == "" || scene.AudioURL == "" {
			return fmt.Errorf("scene %d is missing image or audio for lip sync", scene.Position+1)
		}
		items = append(items, jobs.ItemSpec{SceneID: scene.ID, Prompt: scene.Prompt})
	}
	if len(items) == 0 {
		return nil
	}
	return o.runJob(ctx, wf, provider.KindVideo, items, map[string]string{"lip_sync": "true"})
}

func (o *Orchestrator) assembleFinalVideo(ctx context.Context, wf *store.Workflow) error {
	result, err := o.generate(ctx, provider.Request{
		ScriptID: wf.ScriptID,
		Kind:     provider.KindVideo,
		Prompt:   "Assemble final cut of " + wf.Title,
	})
	if err != nil {
		return fmt.Errorf("assemble final video: %w", err)
	}
	status := "completed"
	if err := o.store.UpdateProject(ctx, wf.ScriptID, store.ProjectPatch{
		VideoURL: &result.URL,
		Status:   &status,
	}); err != nil {
		return fmt.Errorf("persist final video: %w", err)
	}
	return nil
}
