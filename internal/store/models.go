package store

import (
	"strings"
	"time"
)

// ProjectKind selects the step catalog a project's pipeline runs.
type ProjectKind string

const (
	KindStandard   ProjectKind = "standard"
	KindMusicVideo ProjectKind = "music-video"
	KindAnimation  ProjectKind = "animation"
)

// ParseProjectKind converts a string into a known ProjectKind.
func ParseProjectKind(value string) (ProjectKind, bool) {
	normalized := ProjectKind(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case KindStandard, KindMusicVideo, KindAnimation:
		return normalized, true
	default:
		return "", false
	}
}

// Project represents one content project keyed by its script id.
type Project struct {
	ScriptID     string
	Title        string
	Kind         ProjectKind
	Status       string
	AudioPath    string
	ThumbnailURL string
	VideoURL     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Scene is one unit of generated content, ordered by position within a project.
type Scene struct {
	ID            string
	ScriptID      string
	Position      int
	Prompt        string
	VideoPrompt   string
	ImageURL      string
	VideoURL      string
	AudioURL      string
	CharacterRefs string
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ProjectPatch describes a partial project update; nil fields are untouched.
type ProjectPatch struct {
	Title        *string
	Status       *string
	AudioPath    *string
	ThumbnailURL *string
	VideoURL     *string
}

// ScenePatch describes a partial scene update; nil fields are untouched.
type ScenePatch struct {
	Prompt        *string
	VideoPrompt   *string
	ImageURL      *string
	VideoURL      *string
	AudioURL      *string
	CharacterRefs *string
	ErrorMessage  *string
}
