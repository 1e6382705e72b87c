package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/huntr-cli/internal/config"
	"github.com/xkilldash9x/huntr-cli/internal/session"
	"github.com/xkilldash9x/huntr-cli/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SessionController is the control-plane surface the server exposes over
// HTTP. *session.Registry satisfies it.
type SessionController interface {
	Start(id string, params session.StartParams) error
	Stop(id string) error
	Pause(id string) error
	Resume(id string) error
	StatusOf(id string) (session.Info, error)
	All() []session.Info
	Hub() *session.ActivityHub
}

// ApplicationLister is the read side of the persistence layer.
type ApplicationLister interface {
	ListApplications(ctx context.Context, userID string, limit int) ([]store.Application, error)
}

// Server is the HTTP control surface: session lifecycle, observer polling,
// and application history.
type Server struct {
	logger   *zap.Logger
	cfg      config.ServerConfig
	registry SessionController
	apps     ApplicationLister

	httpServer *http.Server
}

// NewServer wires the router. apps may be nil when no database is configured;
// the applications endpoint then reports 503.
func NewServer(logger *zap.Logger, cfg config.ServerConfig, registry SessionController, apps ApplicationLister) *Server {
	s := &Server{
		logger:   logger.Named("api"),
		cfg:      cfg,
		registry: registry,
		apps:     apps,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.bearerAuth)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.handleListSessions)
			r.Route("/{id}", func(r chi.Router) {
				r.Post("/start", s.handleStart)
				r.Post("/stop", s.handleStop)
				r.Post("/pause", s.handlePause)
				r.Post("/resume", s.handleResume)
				r.Get("/status", s.handleStatus)
				r.Post("/observer", s.handleObserverRegister)
				r.Delete("/observer", s.handleObserverUnregister)
				r.Get("/activity", s.handleActivityDrain)
			})
		})

		r.Get("/applications", s.handleListApplications)
	})

	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run serves until the context is cancelled, then drains connections within
// the configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Control surface listening", zap.String("addr", s.cfg.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("Control surface shutting down")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// -- Handlers --

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var params session.StartParams
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if err := s.registry.Start(id, params); err != nil {
		s.respondControlError(w, err)
		return
	}
	s.respond(w, http.StatusAccepted, map[string]string{"id": id, "status": "starting"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.registry.Stop(id)
	switch {
	case errors.Is(err, session.ErrStopTimeout):
		// Teardown keeps running in the background; the session is gone from
		// the registry either way.
		s.respond(w, http.StatusAccepted, map[string]string{"id": id, "status": "stopping"})
	case err != nil:
		s.respondControlError(w, err)
	default:
		s.respond(w, http.StatusOK, map[string]string{"id": id, "status": "stopped"})
	}
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.registry.Pause(id); err != nil {
		s.respondControlError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"id": id, "status": "pausing"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.registry.Resume(id); err != nil {
		s.respondControlError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"id": id, "status": "running"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	info, err := s.registry.StatusOf(chi.URLParam(r, "id"))
	if err != nil {
		s.respondControlError(w, err)
		return
	}
	s.respond(w, http.StatusOK, info)
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, s.registry.All())
}

func (s *Server) handleObserverRegister(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.registry.Hub().Register(id)
	s.respond(w, http.StatusOK, map[string]string{"id": id, "observing": "true"})
}

func (s *Server) handleObserverUnregister(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.registry.Hub().Unregister(id)
	s.respond(w, http.StatusOK, map[string]string{"id": id, "observing": "false"})
}

func (s *Server) handleActivityDrain(w http.ResponseWriter, r *http.Request) {
	entries := s.registry.Hub().Drain(chi.URLParam(r, "id"))
	if entries == nil {
		entries = []session.Entry{}
	}
	s.respond(w, http.StatusOK, entries)
}

func (s *Server) handleListApplications(w http.ResponseWriter, r *http.Request) {
	if s.apps == nil {
		s.respondError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}

	userID := r.URL.Query().Get("userId")
	if userID == "" {
		s.respondError(w, http.StatusBadRequest, "userId query parameter is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	apps, err := s.apps.ListApplications(r.Context(), userID, limit)
	if err != nil {
		s.logger.Error("Failed to list applications", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to list applications")
		return
	}
	if apps == nil {
		apps = []store.Application{}
	}
	s.respond(w, http.StatusOK, apps)
}

// -- Responses --

func (s *Server) respond(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respond(w, status, map[string]string{"error": msg})
}

// respondControlError maps registry errors onto HTTP statuses.
func (s *Server) respondControlError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrAlreadyRunning):
		s.respondError(w, http.StatusConflict, err.Error())
	default:
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}
