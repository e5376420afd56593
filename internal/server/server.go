// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects storage, services,
// handlers, middleware, and routes, and decides:
// - Which URL patterns map to which handler functions
// - What middleware runs on which routes
// - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
// main.go loads config.Config and the logger, then server.New creates:
//
//	sqlite.DB ─┬─ UserDB     ─┬─ AuthService, UserService, StatsService
//	           └─ ResourceDB ─┼─ ResourceService, RatingService, recommend.Engine
//	storage.Local ────────────┘
//	events.Bus → Consumer goroutine
//
// This is the "composition root" pattern: all dependencies are wired in one
// place, rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/college-resources/internal/auth"
	"github.com/sakif/college-resources/internal/config"
	"github.com/sakif/college-resources/internal/events"
	"github.com/sakif/college-resources/internal/handler"
	"github.com/sakif/college-resources/internal/middleware"
	"github.com/sakif/college-resources/internal/recommend"
	sqliteRepo "github.com/sakif/college-resources/internal/repository/sqlite"
	"github.com/sakif/college-resources/internal/service"
	"github.com/sakif/college-resources/internal/storage"
)

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection and the event bus. Close releases
// both; Start calls it during graceful shutdown.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
	bus    *events.Bus

	stopConsumer context.CancelFunc
	consumerDone chan struct{}
}

// New wires every dependency and registers the routes.
//
// IMPORT ALIAS:
// repository/sqlite is imported as `sqliteRepo` to avoid confusion with
// the sqlite driver package.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	files, err := storage.NewLocal(cfg.Storage.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("opening upload dir: %w", err)
	}

	db, err := sqliteRepo.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// First-admin bootstrap: self-registration only creates students.
	if err := service.NewUserService(db.Users(), logger).PromoteAdmins(context.Background(), cfg.Auth.AdminEmails); err != nil {
		db.Close()
		return nil, fmt.Errorf("promoting configured admins: %w", err)
	}

	bus := events.New(cfg.Events.Buffer, logger)

	// The consumer gets its own context so Close can stop it without
	// depending on whoever called New.
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	msgs, err := bus.Subscribe(consumerCtx)
	if err != nil {
		stopConsumer()
		bus.Close()
		db.Close()
		return nil, fmt.Errorf("subscribing consumer: %w", err)
	}

	s := &Server{
		router:       chi.NewRouter(),
		config:       cfg,
		logger:       logger,
		db:           db,
		bus:          bus,
		stopConsumer: stopConsumer,
		consumerDone: make(chan struct{}),
	}

	go func() {
		defer close(s.consumerDone)
		events.NewConsumer(logger).Run(consumerCtx, msgs)
	}()

	s.setupRoutes(tokens, files)
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// MIDDLEWARE ORDER MATTERS:
// Middleware executes in the order it's added:
// 1. RequestID: assigns unique ID to each request (for tracing)
// 2. RealIP: extracts real client IP from proxy headers
// 3. Logger: logs each request with timing info
// 4. Metrics: per-route request counts and latency
// 5. Recoverer: catches panics and returns 500 instead of crashing
// 6. CORS: answers preflights before any auth runs
func (s *Server) setupRoutes(tokens *auth.TokenService, files *storage.Local) {
	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Metrics)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// === DEPENDENCY CHAIN ===
	// The handler never touches the database directly.
	// The service never touches HTTP.
	users := s.db.Users()
	resources := s.db.Resources()

	authService := service.NewAuthService(users, tokens, auth.NewPasswordService(), s.logger)
	userService := service.NewUserService(users, s.logger)
	statsService := service.NewStatsService(users, resources, s.logger)
	resourceService := service.NewResourceService(resources, files, s.bus, s.logger)
	ratingService := service.NewRatingService(resources, s.bus, s.logger)
	recommender := recommend.NewEngine(resources, s.logger)

	authHandler := handler.NewAuthHandler(authService, tokens.TTL(), s.config.Server.SecureCookies, s.logger)
	resourceHandler := handler.NewResourceHandler(resourceService, recommender, s.config.Server.MaxUploadBytes, s.logger)
	ratingHandler := handler.NewRatingHandler(ratingService, s.logger)
	adminHandler := handler.NewAdminHandler(userService, statsService, resourceService, s.logger)

	requireAuth := auth.RequireAuth(tokens)
	requireAdmin := auth.RequireAdmin(users)

	// === Operational Routes ===
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	// === Uploaded Files ===
	// GET /uploads/1700000000123.pdf → {UploadDir}/1700000000123.pdf
	fileServer := http.FileServer(http.Dir(files.Dir()))
	s.router.Handle(storage.URLPrefix+"*", http.StripPrefix(storage.URLPrefix, noDirListing(fileServer)))

	// === API Routes ===
	s.router.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				if limit := s.config.Server.AuthRateLimit; limit > 0 {
					r.Use(httprate.LimitByIP(limit, time.Minute))
				}
				r.Post("/register", authHandler.HandleRegister)
				r.Post("/login", authHandler.HandleLogin)
			})
			r.Post("/logout", authHandler.HandleLogout)
			r.With(requireAuth).Get("/me", authHandler.HandleMe)
		})

		r.Route("/resources", func(r chi.Router) {
			// Public reads. OptionalAuth only adds the caller to the context.
			r.Group(func(r chi.Router) {
				r.Use(auth.OptionalAuth(tokens))
				r.Get("/", resourceHandler.HandleList)
				r.Get("/top-rated", resourceHandler.HandleTopRated)
				r.Get("/most-downloaded", resourceHandler.HandleMostDownloaded)
				r.Get("/{id}", resourceHandler.HandleGet)
				r.Get("/{id}/view", resourceHandler.HandleView)
				r.Get("/{id}/download", resourceHandler.HandleDownload)
			})

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Post("/upload", resourceHandler.HandleUpload)
				r.Get("/recommendations", resourceHandler.HandleRecommendations)
				r.Get("/my-uploads", resourceHandler.HandleMyUploads)
				r.Delete("/my/{id}", resourceHandler.HandleDeleteOwn)
				r.With(requireAdmin).Delete("/{id}", resourceHandler.HandleDeleteAny)
			})
		})

		r.With(requireAuth).Post("/rating/{id}/rate", ratingHandler.HandleRate)

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAuth)

			// Student-facing endpoints that live under /admin for
			// compatibility with the existing frontend.
			r.Get("/student-stats", adminHandler.HandleStudentStats)
			r.Delete("/student/resources/{id}", resourceHandler.HandleDeleteOwn)

			r.Group(func(r chi.Router) {
				r.Use(requireAdmin)
				r.Get("/users", adminHandler.HandleListUsers)
				r.Put("/users/{id}/role", adminHandler.HandleChangeRole)
				r.Put("/users/{id}/status", adminHandler.HandleChangeStatus)
				r.Get("/stats", adminHandler.HandleStats)
				r.Get("/resources", adminHandler.HandleResources)
				r.Delete("/resources/{id}", resourceHandler.HandleDeleteAny)
			})
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// noDirListing answers 404 for directory paths so the upload dir can't be browsed.
func noDirListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (ShutdownTimeout)
// 3. Close the event bus and the database (flushes WAL, releases file lock)
func (s *Server) Start(ctx context.Context) error {
	defer s.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		// Uploads and downloads of large documents need more than a few seconds.
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Server.Port)),
			slog.String("database", s.config.Database.Path),
			slog.String("uploads", s.config.Storage.UploadDir),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}
	return nil
}

// Close stops the event consumer and releases the bus and the database.
// It is safe to call more than once.
func (s *Server) Close() error {
	if s.stopConsumer == nil {
		return nil
	}
	s.bus.Close()
	s.stopConsumer()
	<-s.consumerDone
	s.stopConsumer = nil
	return s.db.Close()
}
