package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"sceneforge/internal/config"
	"sceneforge/internal/events"
	"sceneforge/internal/jobs"
	"sceneforge/internal/logging"
	"sceneforge/internal/pipeline"
	"sceneforge/internal/provider"
	"sceneforge/internal/store"
)

// Server exposes the daemon control API over HTTP.
type Server struct {
	logger *slog.Logger
	bind   string
	token  string

	queue *jobs.Queue
	orch  *pipeline.Orchestrator
	store *store.Store
	bus   *events.Bus

	startedAt time.Time
	listener  net.Listener
	server    *http.Server
}

// NewServer wires the HTTP control surface over the daemon's components.
func NewServer(cfg *config.Config, logger *slog.Logger, queue *jobs.Queue, orch *pipeline.Orchestrator, st *store.Store, bus *events.Bus) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		logger:    logging.WithComponent(logger, "api-server"),
		bind:      strings.TrimSpace(cfg.Paths.APIBind),
		token:     strings.TrimSpace(cfg.Paths.APIToken),
		queue:     queue,
		orch:      orch,
		store:     st,
		bus:       bus,
		startedAt: time.Now().UTC(),
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID, middleware.Recoverer)
	if s.token != "" {
		router.Use(s.requireToken)
	}

	router.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/events", s.handleEvents)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Post("/clear-completed", s.handleClearCompleted)
			r.Get("/{jobID}", s.handleGetJob)
			r.Post("/{jobID}/cancel", s.handleCancelJob)
		})

		r.Route("/workflows", func(r chi.Router) {
			r.Post("/", s.handleCreateWorkflow)
			r.Get("/{workflowID}", s.handleGetWorkflow)
		})

		r.Route("/scripts/{scriptID}", func(r chi.Router) {
			r.Post("/jobs", s.handleSubmitJob)
			r.Get("/jobs", s.handleListScriptJobs)
			r.Post("/cancel", s.handleCancelScript)
			r.Get("/workflows", s.handleListWorkflows)
			r.Post("/workflows/resume", s.handleResumeWorkflow)
		})
	})

	s.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Start binds the listener and begins serving until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if s.bind == "" {
		return errors.New("api bind address is empty")
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Stop shuts the server down, waiting briefly for in-flight requests.
func (s *Server) Stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// Addr returns the bound listener address, empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header != "Bearer "+s.token {
			s.writeError(w, http.StatusUnauthorized, "invalid or missing API token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := DaemonStatus{
		Running:          true,
		PID:              os.Getpid(),
		ActiveJobs:       s.queue.ActiveCount(),
		RunningWorkflows: s.orch.RunningCount(),
		Subscribers:      s.bus.SubscriberCount(),
		StartedAt:        s.startedAt,
	}
	if s.store != nil {
		status.DatabasePath = s.store.Path()
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	scriptID := chi.URLParam(r, "scriptID")

	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	kind, ok := provider.ParseKind(req.JobType)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "unknown job type: "+req.JobType)
		return
	}
	items := make([]jobs.ItemSpec, len(req.Items))
	for i, item := range req.Items {
		items[i] = jobs.ItemSpec{SceneID: item.SceneID, Prompt: item.Prompt}
	}

	job, err := s.queue.Submit(scriptID, kind, items, req.Params)
	switch {
	case errors.Is(err, jobs.ErrScriptBusy):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, jobs.ErrNoItems), errors.Is(err, jobs.ErrInvalidType):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, SubmitJobResponse{JobID: job.ID})
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.queue.ListAll())
}

func (s *Server) handleListScriptJobs(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.queue.ListByScript(chi.URLParam(r, "scriptID")))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.Get(chi.URLParam(r, "jobID"))
	if errors.Is(err, jobs.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	cancelled := s.queue.Cancel(chi.URLParam(r, "jobID"))
	s.writeJSON(w, http.StatusOK, CancelResponse{Cancelled: cancelled})
}

func (s *Server) handleCancelScript(w http.ResponseWriter, r *http.Request) {
	count := s.queue.CancelByScript(chi.URLParam(r, "scriptID"))
	s.writeJSON(w, http.StatusOK, CancelScriptResponse{CancelledCount: count})
}

func (s *Server) handleClearCompleted(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, ClearCompletedResponse{Removed: s.queue.ClearCompleted()})
}

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var (
		wf  *store.Workflow
		err error
	)
	if req.FocusStep != "" {
		wf, err = s.orch.CreateFocused(r.Context(), req.ScriptID, req.FocusStep)
	} else {
		kind, ok := store.ParseProjectKind(req.ProjectKind)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "unknown project kind: "+req.ProjectKind)
			return
		}
		wf, err = s.orch.Create(r.Context(), pipeline.CreateRequest{
			ScriptID:     req.ScriptID,
			Title:        req.Title,
			Kind:         kind,
			ScenePrompts: req.ScenePrompts,
		})
	}

	switch {
	case errors.Is(err, pipeline.ErrScriptActive):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, pipeline.ErrProjectNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, pipeline.ErrUnknownStep), errors.Is(err, pipeline.ErrUnknownKind):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, CreateWorkflowResponse{WorkflowID: wf.ID, ScriptID: wf.ScriptID})
}

func (s *Server) handleResumeWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.orch.Resume(r.Context(), chi.URLParam(r, "scriptID"))
	switch {
	case errors.Is(err, pipeline.ErrProjectNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, pipeline.ErrScriptActive):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, CreateWorkflowResponse{WorkflowID: wf.ID, ScriptID: wf.ScriptID})
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.orch.Get(r.Context(), chi.URLParam(r, "workflowID"))
	if errors.Is(err, pipeline.ErrWorkflowNotFound) {
		s.writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, FromWorkflow(wf))
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := s.orch.ListByScript(r.Context(), chi.URLParam(r, "scriptID"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]WorkflowView, len(workflows))
	for i, wf := range workflows {
		views[i] = FromWorkflow(wf)
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
