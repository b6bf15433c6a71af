package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Server is the HTTP API.
type Server struct {
	cfg        *Config
	client     *GitHubClient
	app        *App
	scanner    *Scanner
	dispatcher *Dispatcher
	auth       *CallerAuth
	store      *Store
	webhook    *WebhookHandler
	metrics    *Metrics
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	// Empty list means same-origin only (no CORS).
	if len(s.cfg.Server.AllowedOrigins) > 0 {
		s.logger.Info("enabling CORS", zap.Strings("allowed_origins", s.cfg.Server.AllowedOrigins))
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.Server.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT"},
			AllowedHeaders:   []string{"Content-Type"},
			AllowCredentials: true,
		}))
	}

	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		requestLogger(s.logger),
		s.metrics.Instrument,
		middleware.Recoverer,
		middleware.Timeout(60*time.Second),
	)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/repositories/github_repositories", s.handleRepositories)
		r.Get("/workflows/github_workflows", scanHandler(s, "workflows", s.scanner.Workflows))
		r.Get("/infrastructure/github_infrastructure", scanHandler(s, "infrastructure", s.scanner.Infrastructure))
		r.Get("/containers/github_containers", scanHandler(s, "containers", s.scanner.Containers))
		r.Get("/status/github_status", s.handleGitHubStatus)

		r.Post("/workflows/save", saveHandler(s, workflowSaveTarget))
		r.Post("/infrastructure/save", saveHandler(s, infrastructureSaveTarget))
		r.Post("/containers/save", saveHandler(s, containerSaveTarget))

		r.Route("/github", func(r chi.Router) {
			r.Get("/workflows", s.handleActionsGet)
			r.With(rateLimit(s.limiter)).Post("/workflows", s.handleActionsPost)

			r.Method(http.MethodPost, "/webhook", s.webhook)
			r.Get("/webhook", s.webhook.Health)

			r.Get("/app/installations", s.handleListInstallations)
			r.Post("/app/callback", s.handleInstallCallback)
			r.Post("/disconnect", s.handleDisconnect)

			r.Get("/contents", s.handleContentsGet)
			r.Put("/contents", s.handleContentsPut)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", s.handleListNotifications)
			r.Get("/unread", s.handleUnreadCount)
			r.Post("/mark-all-read", s.handleMarkAllRead)
			r.Post("/{id}/read", s.handleMarkRead)
		})
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("starting server", zap.String("addr", s.cfg.Server.ListenAddr))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}
