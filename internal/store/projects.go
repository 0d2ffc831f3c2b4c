package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CreateProject inserts a project record. It is a no-op when the script id
// already has one, so workflow creation stays idempotent for existing projects.
func (s *Store) CreateProject(ctx context.Context, scriptID, title string, kind ProjectKind) (*Project, error) {
	if strings.TrimSpace(scriptID) == "" {
		return nil, errors.New("script id is required")
	}
	existing, err := s.GetProject(ctx, scriptID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO projects (script_id, title, kind, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		scriptID,
		title,
		kind,
		"draft",
		timestamp,
		timestamp,
	); err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}
	return s.GetProject(ctx, scriptID)
}

const projectColumns = `script_id, title, kind, status, audio_path, thumbnail_url, video_url, created_at, updated_at`

// GetProject fetches a project by script id. Returns nil when absent.
func (s *Store) GetProject(ctx context.Context, scriptID string) (*Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE script_id = ?`, scriptID)
	project, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return project, nil
}

// UpdateProject applies a partial update to a project record.
func (s *Store) UpdateProject(ctx context.Context, scriptID string, patch ProjectPatch) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC().Format(time.RFC3339Nano)}

	appendSet := func(column string, value *string) {
		if value != nil {
			sets = append(sets, column+" = ?")
			args = append(args, nullableString(*value))
		}
	}
	appendSet("title", patch.Title)
	appendSet("status", patch.Status)
	appendSet("audio_path", patch.AudioPath)
	appendSet("thumbnail_url", patch.ThumbnailURL)
	appendSet("video_url", patch.VideoURL)

	args = append(args, scriptID)
	query := `UPDATE projects SET ` + strings.Join(sets, ", ") + ` WHERE script_id = ?`
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("project %s not found", scriptID)
	}
	return nil
}

// CreateScenes inserts scenes for a project, assigning ids and positions
// following the current maximum.
func (s *Store) CreateScenes(ctx context.Context, scriptID string, prompts []string) ([]*Scene, error) {
	if len(prompts) == 0 {
		return nil, errors.New("at least one scene is required")
	}

	var maxPosition sql.NullInt64
	if err := s.db.QueryRowContext(
		ctx,
		`SELECT MAX(position) FROM scenes WHERE script_id = ?`,
		scriptID,
	).Scan(&maxPosition); err != nil {
		return nil, fmt.Errorf("read scene positions: %w", err)
	}
	next := 0
	if maxPosition.Valid {
		next = int(maxPosition.Int64) + 1
	}

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	created := make([]*Scene, 0, len(prompts))
	for i, prompt := range prompts {
		id := uuid.NewString()
		if err := s.execWithoutResultRetry(
			ctx,
			`INSERT INTO scenes (id, script_id, position, prompt, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?)`,
			id,
			scriptID,
			next+i,
			nullableString(prompt),
			timestamp,
			timestamp,
		); err != nil {
			return nil, fmt.Errorf("insert scene: %w", err)
		}
		scene, err := s.GetScene(ctx, id)
		if err != nil {
			return nil, err
		}
		created = append(created, scene)
	}
	return created, nil
}

const sceneColumns = `id, script_id, position, prompt, video_prompt, image_url, video_url, audio_url, character_refs, error_message, created_at, updated_at`

// GetScene fetches one scene by id. Returns nil when absent.
func (s *Store) GetScene(ctx context.Context, id string) (*Scene, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sceneColumns+` FROM scenes WHERE id = ?`, id)
	scene, err := scanScene(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scene: %w", err)
	}
	return scene, nil
}

// GetScenes returns a project's scenes ordered by position.
func (s *Store) GetScenes(ctx context.Context, scriptID string) ([]*Scene, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+sceneColumns+` FROM scenes WHERE script_id = ? ORDER BY position`,
		scriptID,
	)
	if err != nil {
		return nil, fmt.Errorf("query scenes: %w", err)
	}
	defer rows.Close()

	var scenes []*Scene
	for rows.Next() {
		scene, err := scanScene(rows)
		if err != nil {
			return nil, err
		}
		scenes = append(scenes, scene)
	}
	return scenes, rows.Err()
}

// UpdateScene applies a partial update to one scene.
func (s *Store) UpdateScene(ctx context.Context, id string, patch ScenePatch) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC().Format(time.RFC3339Nano)}

	appendSet := func(column string, value *string) {
		if value != nil {
			sets = append(sets, column+" = ?")
			args = append(args, nullableString(*value))
		}
	}
	appendSet("prompt", patch.Prompt)
	appendSet("video_prompt", patch.VideoPrompt)
	appendSet("image_url", patch.ImageURL)
	appendSet("video_url", patch.VideoURL)
	appendSet("audio_url", patch.AudioURL)
	appendSet("character_refs", patch.CharacterRefs)
	appendSet("error_message", patch.ErrorMessage)

	args = append(args, id)
	query := `UPDATE scenes SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update scene: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("scene %s not found", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*Project, error) {
	var (
		project            Project
		kind               string
		audioPath          sql.NullString
		thumbnailURL       sql.NullString
		videoURL           sql.NullString
		createdAt, updated string
	)
	if err := row.Scan(
		&project.ScriptID,
		&project.Title,
		&kind,
		&project.Status,
		&audioPath,
		&thumbnailURL,
		&videoURL,
		&createdAt,
		&updated,
	); err != nil {
		return nil, err
	}
	project.Kind = ProjectKind(kind)
	project.AudioPath = audioPath.String
	project.ThumbnailURL = thumbnailURL.String
	project.VideoURL = videoURL.String
	project.CreatedAt = parseTimestamp(createdAt)
	project.UpdatedAt = parseTimestamp(updated)
	return &project, nil
}

func scanScene(row rowScanner) (*Scene, error) {
	var (
		scene              Scene
		prompt             sql.NullString
		videoPrompt        sql.NullString
		imageURL           sql.NullString
		videoURL           sql.NullString
		audioURL           sql.NullString
		characterRefs      sql.NullString
		errorMessage       sql.NullString
		createdAt, updated string
	)
	if err := row.Scan(
		&scene.ID,
		&scene.ScriptID,
		&scene.Position,
		&prompt,
		&videoPrompt,
		&imageURL,
		&videoURL,
		&audioURL,
		&characterRefs,
		&errorMessage,
		&createdAt,
		&updated,
	); err != nil {
		return nil, err
	}
	scene.Prompt = prompt.String
	scene.VideoPrompt = videoPrompt.String
	scene.ImageURL = imageURL.String
	scene.VideoURL = videoURL.String
	scene.AudioURL = audioURL.String
	scene.CharacterRefs = characterRefs.String
	scene.ErrorMessage = errorMessage.String
	scene.CreatedAt = parseTimestamp(createdAt)
	scene.UpdatedAt = parseTimestamp(updated)
	return &scene, nil
}

func parseTimestamp(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return ts
}
