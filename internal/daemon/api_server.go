package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"minutes/internal/api"
	"minutes/internal/config"
	"minutes/internal/jobs"
	"minutes/internal/logging"
	"minutes/internal/services"
)

// UserHeader carries the caller's user id on every /v1 request.
const UserHeader = "X-User-ID"

type statusSource interface {
	Status(ctx context.Context) Status
	DatabaseHealth(ctx context.Context) (jobs.DatabaseHealth, error)
}

type apiServer struct {
	bind   string
	logger *slog.Logger
	svc    *api.Service
	status statusSource
	router chi.Router
	poll   time.Duration

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, svc *api.Service, status statusSource, logger *slog.Logger) *apiServer {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &apiServer{
		bind:   strings.TrimSpace(cfg.Paths.APIBind),
		logger: logging.NewComponentLogger(logger, "api-server"),
		svc:    svc,
		status: status,
		poll:   api.DefaultSubscribeInterval,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(cfg.Paths.APIToken))
		r.Get("/status", s.handleStatus)
		r.Route("/v1", func(r chi.Router) {
			r.Use(userMiddleware)
			r.Get("/templates", s.handleTemplates)
			r.Post("/jobs", s.handleCreateJob)
			r.Get("/jobs", s.handleListJobs)
			r.Route("/jobs/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetJob)
				r.Delete("/", s.handleRemoveJob)
				r.Post("/cancel", s.handleCancelJob)
				r.Post("/retry", s.handleRetryJob)
				r.Get("/transcript", s.handleArtifact(api.ArtifactTranscript, "text/plain; charset=utf-8"))
				r.Get("/minutes", s.handleArtifact(api.ArtifactMinutes, "text/markdown; charset=utf-8"))
				r.Get("/export.docx", s.handleExportDocx)
				r.Get("/transcript.docx", s.handleExportTranscriptDocx)
				r.Get("/ws", s.handleSubscribe)
				r.Post("/publications", s.handleRequestPublication)
				r.Get("/publications", s.handleListPublications)
			})
			r.Post("/publications/{id}/retry", s.handleRetryPublication)
		})
	})
	s.router = r

	// Uploads and WebSocket feeds are long-lived, so only headers and idle
	// connections are bounded.
	s.server = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		return errors.New("api listen: paths.api_bind is empty")
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.server.BaseContext = func(net.Listener) context.Context { return ctx }
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "api server error", "api_server_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check paths.api_bind"),
			)
		}
	}()

	s.logger.Info("api server listening",
		logging.String(logging.FieldEventType, "api_listening"),
		logging.String("address", listener.Addr().String()),
	)
	return nil
}

func (s *apiServer) stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("api server shutdown incomplete", logging.Error(err))
	}
	s.mu.Lock()
	s.listener = nil
	s.mu.Unlock()
}

// Addr returns the listening address, or the configured bind before start.
func (s *apiServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.bind
}

func (s *apiServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := middleware.GetReqID(r.Context())
		r = r.WithContext(services.WithRequestID(r.Context(), reqID))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		level := slog.LevelDebug
		if ww.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "http request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Duration("duration", time.Since(started)),
			logging.String(logging.FieldCorrelationID, reqID),
		)
	})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.status.DatabaseHealth(r.Context())
	resp := api.FromDatabaseHealth(health)
	if err != nil && resp.Error == "" {
		resp.Error = err.Error()
		resp.Status = "degraded"
	}
	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, resp)
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.status.Status(r.Context())
	deps := make([]api.DependencyStatus, len(status.Dependencies))
	for i, dep := range status.Dependencies {
		deps[i] = api.DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		}
	}
	checks := make([]api.CheckView, len(status.Checks))
	for i, check := range status.Checks {
		checks[i] = api.CheckView{Name: check.Name, Passed: check.Passed, Optional: check.Optional, Detail: check.Detail}
	}
	payload := api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		DatabasePath: status.DatabasePath,
		LockFilePath: status.LockFilePath,
		Workflow:     api.FromStatusSummary(status.Workflow),
		Dependencies: deps,
		Checks:       checks,
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) handleTemplates(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, api.TemplateListResponse{Templates: api.FromTemplates(s.svc.Templates())})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

// writeError maps err to a status code and the shared error body.
func (s *apiServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(r.Context(), s.logger), "request failed", "api_request_failed",
			logging.String("path", r.URL.Path),
			logging.Error(err),
			logging.String(logging.FieldErrorKind, services.Kind(err)),
		)
	}
	s.writeJSON(w, code, api.FromError(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, jobs.ErrRetryLimit):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, services.ErrConfiguration):
		return http.StatusServiceUnavailable
	case errors.Is(err, services.ErrPublication):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
