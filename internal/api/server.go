package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pistonhq/piston/internal/auth"
	"github.com/pistonhq/piston/internal/config"
	"github.com/pistonhq/piston/internal/engine"
	"github.com/pistonhq/piston/internal/events"
	"github.com/pistonhq/piston/internal/task"
)

// Executor runs a plugin action. The engine dispatcher satisfies this.
type Executor interface {
	Execute(ctx context.Context, plugin, action string, payload any) (any, error)
}

// PluginRegistry is the read surface of the engine registry.
type PluginRegistry interface {
	List() []engine.Info
	Count() int
}

// TaskStore is the task persistence surface the API needs.
type TaskStore interface {
	Create(ctx context.Context, req task.CreateRequest) (*task.Task, error)
	Get(ctx context.Context, id string) (*task.Task, error)
	List(ctx context.Context) ([]*task.Task, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error
	Requeue(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	Runs(ctx context.Context, taskID string, limit int) ([]*task.Run, error)
}

// Server is the HTTP API server.
type Server struct {
	config    config.APIConfig
	executor  Executor
	registry  PluginRegistry
	tasks     TaskStore
	bus       *events.Bus
	issuer    *auth.TokenIssuer
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates the API server. issuer may be nil when no JWT secret is
// configured, which disables the login endpoint.
func New(cfg config.APIConfig, executor Executor, registry PluginRegistry, tasks TaskStore, bus *events.Bus, issuer *auth.TokenIssuer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:    cfg,
		executor:  executor,
		registry:  registry,
		tasks:     tasks,
		bus:       bus,
		issuer:    issuer,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Minute, // long enough for slow external plugins and SSE
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.With(s.requireScopes("execute")).Post("/execute", s.handleExecute)
			r.With(s.requireScopes("plugins:ro")).Get("/plugins", s.handleListPlugins)
			r.With(s.requireScopes("events:ro")).Get("/events", s.handleEvents)

			r.Route("/tasks", func(r chi.Router) {
				r.With(s.requireScopes("tasks:ro")).Get("/", s.handleListTasks)
				r.With(s.requireScopes("tasks:rw")).Post("/", s.handleCreateTask)
				r.With(s.requireScopes("tasks:ro")).Get("/{taskID}", s.handleGetTask)
				r.With(s.requireScopes("tasks:rw")).Delete("/{taskID}", s.handleDeleteTask)
				r.With(s.requireScopes("tasks:rw")).Put("/{taskID}/enabled", s.handleSetTaskEnabled)
				r.With(s.requireScopes("tasks:rw")).Post("/{taskID}/run", s.handleRunTask)
				r.With(s.requireScopes("tasks:ro")).Get("/{taskID}/runs", s.handleListTaskRuns)
			})
		})
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// authMiddleware accepts either a configured API key or a session token
// minted by /api/v1/login.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.ExtractBearerToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		principal, ok := auth.AuthenticateKey(token, s.config.Auth.Keys)
		if !ok && s.issuer != nil {
			if p, err := s.issuer.Verify(token); err == nil {
				principal, ok = p, true
			}
		}
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

func (s *Server) requireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, _ := auth.PrincipalFromContext(r.Context())
			if !auth.HasAnyScope(principal, scopes...) {
				s.writeError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
