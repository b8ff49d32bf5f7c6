// Package server provides the HTTP server and routing for Scout.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/scout/internal/clients/broker"
	"github.com/aristath/scout/internal/config"
	"github.com/aristath/scout/internal/database"
	"github.com/aristath/scout/internal/events"
	"github.com/aristath/scout/internal/modules/resolution"
	resolutionhandlers "github.com/aristath/scout/internal/modules/resolution/handlers"
	"github.com/aristath/scout/internal/modules/universe"
	universehandlers "github.com/aristath/scout/internal/modules/universe/handlers"
)

// Config holds server configuration.
type Config struct {
	Log          zerolog.Logger
	Config       *config.Config
	UniverseDB   *database.DB
	CacheDB      *database.DB
	Pool         *broker.Pool
	EventManager *events.Manager

	ResolutionService *resolution.Service
	ResolutionCache   *resolution.Cache
	UniverseService   *universe.Service
}

// Server represents the HTTP server.
type Server struct {
	router     *chi.Mux
	server     *http.Server
	log        zerolog.Logger
	cfg        *config.Config
	universeDB *database.DB
	cacheDB    *database.DB
	pool       *broker.Pool

	systemHandlers *SystemHandlers
	eventsStream   *EventsStreamHandler
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		log:        cfg.Log.With().Str("component", "server").Logger(),
		cfg:        cfg.Config,
		universeDB: cfg.UniverseDB,
		cacheDB:    cfg.CacheDB,
		pool:       cfg.Pool,
	}

	s.systemHandlers = NewSystemHandlers(cfg.Log, cfg.Config.DataDir, cfg.UniverseDB, cfg.CacheDB, cfg.Pool)
	s.eventsStream = NewEventsStreamHandler(cfg.EventManager.Bus(), cfg.Log)

	resolutionHandlers := resolutionhandlers.NewHandlers(
		cfg.ResolutionService,
		cfg.ResolutionCache,
		cfg.Pool,
		cfg.UniverseService,
		cfg.EventManager,
		cfg.Log,
	)
	universeHandlers := universehandlers.NewHandlers(cfg.UniverseService, cfg.Log)

	s.setupMiddleware(cfg.Config.DevMode, cfg.Config.CORSOrigins)
	s.setupRoutes(resolutionHandlers, universeHandlers)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// setupMiddleware configures the middleware stack.
func (s *Server) setupMiddleware(devMode bool, corsOrigins []string) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes.
func (s *Server) setupRoutes(resolutionHandlers *resolutionhandlers.Handlers, universeHandlers *universehandlers.Handlers) {
	s.router.Get("/health", s.systemHandlers.HandleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// Clients hold the websocket stream open indefinitely, so it is
		// mounted before the request timeout applies.
		r.Get("/events/stream", s.eventsStream.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Route("/system", func(r chi.Router) {
				r.Get("/status", s.systemHandlers.HandleSystemStatus)
				r.Get("/database/stats", s.systemHandlers.HandleDatabaseStats)
				r.Get("/disk", s.systemHandlers.HandleDiskUsage)
			})

			r.Route("/resolution", func(r chi.Router) {
				r.Post("/run", resolutionHandlers.HandleTriggerRun)
				r.Get("/last-run", resolutionHandlers.HandleLastRun)
				r.Route("/cache", func(r chi.Router) {
					r.Get("/stats", resolutionHandlers.HandleCacheStats)
					r.Post("/clear", resolutionHandlers.HandleClearCache)
				})
				r.Get("/pool", resolutionHandlers.HandlePoolStatus)
			})

			r.Route("/universe", func(r chi.Router) {
				r.Get("/", universeHandlers.HandleList)
				r.Post("/import", universeHandlers.HandleImport)
				r.Route("/{ticker}", func(r chi.Router) {
					r.Get("/", universeHandlers.HandleGet)
					r.Put("/active", universeHandlers.HandleSetActive)
					r.Delete("/", universeHandlers.HandleDelete)
				})
			})
		})
	})
}

// loggingMiddleware logs each request at debug level.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

// Start begins listening for HTTP requests. Blocks until shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("HTTP server shutting down")
	return s.server.Shutdown(ctx)
}

// Router exposes the chi router for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}
