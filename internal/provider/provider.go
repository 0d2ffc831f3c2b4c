// Package provider defines the contract for remote generation backends and a
// default HTTP implementation. Each call generates exactly one artifact; every
// failure is surfaced per call so batch processing can isolate it.
package provider

import (
	"context"
	"strings"
)

// Kind selects the artifact family a request produces.
type Kind string

const (
	KindImage          Kind = "image"
	KindCharacterImage Kind = "character-image"
	KindVideo          Kind = "video"
	KindSpeech         Kind = "speech"
)

// ParseKind converts a string into a known Kind.
func ParseKind(value string) (Kind, bool) {
	normalized := Kind(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case KindImage, KindCharacterImage, KindVideo, KindSpeech:
		return normalized, true
	default:
		return "", false
	}
}

// Request describes one generation call.
type Request struct {
	ScriptID string
	SceneID  string
	Kind     Kind
	Prompt   string
	// ContinuityURL points at the previous item's artifact when the batch
	// runs in continuity mode; empty for independent items.
	ContinuityURL string
	Params        map[string]string
}

// Result carries the produced artifact location.
type Result struct {
	URL string
}

// Provider performs one generation call per request.
type Provider interface {
	Generate(ctx context.Context, req Request) (Result, error)
}
