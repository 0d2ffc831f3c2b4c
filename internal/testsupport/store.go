package testsupport

import (
	"context"
	"testing"

	"sceneforge/internal/config"
	"sceneforge/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewProject creates a project with scenes for tests using the provided store.
func NewProject(t testing.TB, st *store.Store, scriptID, title string, kind store.ProjectKind, prompts ...string) *store.Project {
	t.Helper()

	project, err := st.CreateProject(context.Background(), scriptID, title, kind)
	if err != nil {
		t.Fatalf("store.CreateProject: %v", err)
	}
	if len(prompts) > 0 {
		if _, err := st.CreateScenes(context.Background(), scriptID, prompts); err != nil {
			t.Fatalf("store.CreateScenes: %v", err)
		}
	}
	return project
}
