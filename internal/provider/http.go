package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sceneforge/internal/config"
)

const userAgent = "sceneforge/0.1.0"

// ErrNotConfigured is returned when no endpoint exists for the requested kind.
var ErrNotConfigured = errors.New("provider not configured")

type endpoint struct {
	url    string
	apiKey string
	model  string
	client *http.Client
}

// HTTPProvider dispatches generation calls to remote backends over JSON HTTP.
type HTTPProvider struct {
	endpoints map[Kind]endpoint
}

// NewHTTPProvider builds a provider from the configured backends. Kinds
// without an endpoint fail with ErrNotConfigured at call time.
func NewHTTPProvider(cfg *config.Config) *HTTPProvider {
	endpoints := make(map[Kind]endpoint)
	add := func(kind Kind, pc config.Provider) {
		if strings.TrimSpace(pc.Endpoint) == "" {
			return
		}
		endpoints[kind] = endpoint{
			url:    pc.Endpoint,
			apiKey: pc.APIKey,
			model:  pc.Model,
			client: &http.Client{Timeout: time.Duration(pc.TimeoutSeconds) * time.Second},
		}
	}
	add(KindImage, cfg.Providers.Image)
	add(KindSpeech, cfg.Providers.Speech)
	add(KindVideo, cfg.Providers.Video)
	// Character references are produced by the image backend.
	if ep, ok := endpoints[KindImage]; ok {
		endpoints[KindCharacterImage] = ep
	}
	return &HTTPProvider{endpoints: endpoints}
}

type generateRequest struct {
	ScriptID      string            `json:"script_id"`
	SceneID       string            `json:"scene_id,omitempty"`
	Kind          string            `json:"kind"`
	Prompt        string            `json:"prompt"`
	ContinuityURL string            `json:"continuity_url,omitempty"`
	Model         string            `json:"model,omitempty"`
	Params        map[string]string `json:"params,omitempty"`
}

type generateResponse struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// Generate performs one generation call against the backend for req.Kind.
func (p *HTTPProvider) Generate(ctx context.Context, req Request) (Result, error) {
	ep, ok := p.endpoints[req.Kind]
	if !ok {
		return Result{}, fmt.Errorf("%w: kind %s", ErrNotConfigured, req.Kind)
	}

	payload := generateRequest{
		ScriptID:      req.ScriptID,
		SceneID:       req.SceneID,
		Kind:          string(req.Kind),
		Prompt:        req.Prompt,
		ContinuityURL: req.ContinuityURL,
		Model:         ep.model,
		Params:        req.Params,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("marshal generation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build generation request: %w", err)
	}
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("Content-Type", "application/json")
	if ep.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+ep.apiKey)
	}

	resp, err := ep.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("call %s backend: %w", req.Kind, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("read %s backend response: %w", req.Kind, err)
	}

	if resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("%s backend returned %d: %s", req.Kind, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var decoded generateResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Result{}, fmt.Errorf("decode %s backend response: %w", req.Kind, err)
	}
	if decoded.Error != "" {
		return Result{}, fmt.Errorf("%s backend error: %s", req.Kind, decoded.Error)
	}
	if strings.TrimSpace(decoded.URL) == "" {
		return Result{}, fmt.Errorf("%s backend returned no artifact url", req.Kind)
	}
	return Result{URL: decoded.URL}, nil
}

var _ Provider = (*HTTPProvider)(nil)
