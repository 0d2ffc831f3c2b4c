package pipeline

import (
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"sceneforge/internal/store"
)

// Step names shared across catalogs.
const (
	StepPrepareAudio        = "prepare-audio"
	StepScenePrompts        = "generate-scene-prompts"
	StepImages              = "generate-images"
	StepThumbnail           = "generate-thumbnail"
	StepAnalyzeMusic        = "analyze-music-audio"
	StepExtractCharacters   = "extract-characters"
	StepImagesWithCharacter = "generate-images-with-characters"
	StepVideoPrompts        = "generate-video-prompts"
	StepParseDialogue       = "parse-dialogue"
	StepSceneImages         = "generate-scene-images"
	StepVoiceAudio          = "generate-voice-audio"
	StepLipSync             = "generate-lip-sync"
	StepAssembleVideo       = "assemble-final-video"
)

var catalogs = map[store.ProjectKind][]string{
	store.KindStandard: {
		StepPrepareAudio,
		StepScenePrompts,
		StepImages,
		StepThumbnail,
	},
	store.KindMusicVideo: {
		StepAnalyzeMusic,
		StepExtractCharacters,
		StepScenePrompts,
		StepImagesWithCharacter,
		StepVideoPrompts,
	},
	store.KindAnimation: {
		StepParseDialogue,
		StepSceneImages,
		StepVoiceAudio,
		StepLipSync,
		StepAssembleVideo,
	},
}

// Catalog returns the ordered step names for a project kind.
func Catalog(kind store.ProjectKind) []string {
	names := catalogs[kind]
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// KnownStep reports whether name belongs to the kind's catalog.
func KnownStep(kind store.ProjectKind, name string) bool {
	for _, candidate := range catalogs[kind] {
		if candidate == name {
			return true
		}
	}
	return false
}

func newSteps(names []string) []store.Step {
	steps := make([]store.Step, len(names))
	for i, name := range names {
		steps[i] = store.Step{
			ID:     uuid.NewString(),
			Name:   name,
			Status: store.StepPending,
		}
	}
	return steps
}

var stepTitleCaser = cases.Title(language.English)

// StepTitle renders a catalog step name for humans,
// e.g. "generate-scene-prompts" becomes "Generate Scene Prompts".
func StepTitle(name string) string {
	return stepTitleCaser.String(strings.ReplaceAll(name, "-", " "))
}
