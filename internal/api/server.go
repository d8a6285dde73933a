package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"videocacher/internal/cache"
	"videocacher/internal/metrics"
	"videocacher/internal/ytdl"
	"videocacher/pkg/models"
)

var (
	ErrServerAlreadyRunning = errors.New("server is already running")
	ErrServerNotRunning     = errors.New("server is not running")
)

// Resolver is what the gateway needs from the identity resolver
type Resolver interface {
	Classify(ctx context.Context, rawURL string, avPro bool) (*models.VideoInfo, bool)
	ResolveDirectURL(ctx context.Context, info *models.VideoInfo, avPro bool) (string, bool)
	ResolveFullMetadata(ctx context.Context, rawURL string) string
	RedirectURL(ctx context.Context, rawURL string) string
	Prefetch(ctx context.Context, rawURL string) error
}

// Queue accepts background downloads
type Queue interface {
	Enqueue(info models.VideoInfo) bool
	GetQueueLength() int
}

// Deps are the services the HTTP surface is built on
type Deps struct {
	Config   *models.Config
	Cache    *cache.Store
	Resolver Resolver
	Queue    Queue
	Cookies  *ytdl.CookieJar
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Version  string
}

// Server represents the HTTP server
type Server struct {
	config   *models.Config
	cache    *cache.Store
	resolver Resolver
	queue    Queue
	cookies  *ytdl.CookieJar
	metrics  *metrics.Metrics
	logger   *slog.Logger
	version  string

	// sleep waits out the configured response delay; replaced in tests
	sleep func(ctx context.Context, d time.Duration)

	router   *chi.Mux
	server   *http.Server
	listener net.Listener
	running  bool
	mu       sync.RWMutex
}

// NewServer creates a new HTTP server
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:   deps.Config,
		cache:    deps.Cache,
		resolver: deps.Resolver,
		queue:    deps.Queue,
		cookies:  deps.Cookies,
		metrics:  deps.Metrics,
		logger:   logger.With("component", "gateway"),
		version:  deps.Version,
		sleep:    sleepContext,
		router:   chi.NewRouter(),
	}

	s.setupRoutes()

	return s
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.With(middleware.Timeout(5*time.Minute)).Get("/getvideo", s.handleGetVideo)
		r.Post("/youtube-cookies", s.handleYouTubeCookies)

		r.Route("/cache", func(r chi.Router) {
			r.Get("/", s.handleListCache)
			r.Delete("/", s.handleClearCache)
			r.Delete("/{fileName}", s.handleDeleteCacheEntry)
		})
	})
	s.router.Post("/youtube-cookies", s.handleYouTubeCookies)
	s.router.Handle("/metrics", s.metrics.Handler())

	// Static file serving (cache directory)
	fileServer := http.FileServer(http.Dir(s.cache.GetCachePath()))
	s.router.Handle("/*", fileServer)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrServerAlreadyRunning
	}

	addr := s.GetAddr()

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	s.listener = listener
	// No write timeout: cached videos are streamed from this server.
	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.server = httpServer
	s.running = true

	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", "error", err)
		}
	}()

	s.logger.Info("listening", "addr", listener.Addr().String(), "base_url", s.config.WebServerURL)
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ErrServerNotRunning
	}

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.running = false
	s.server = nil
	s.listener = nil

	return nil
}

// IsRunning returns whether the server is currently running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// GetAddr returns the server address
func (s *Server) GetAddr() string {
	return fmt.Sprintf("127.0.0.1:%d", s.config.WebServerPort)
}

// GetActualAddr returns the actual listening address (useful when port is 0)
func (s *Server) GetActualAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}

	return s.GetAddr()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	queueLength := 0
	if s.queue != nil {
		queueLength = s.queue.GetQueueLength()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"running":     s.IsRunning(),
		"cacheSize":   s.cache.GetSize(),
		"cacheCount":  len(s.cache.ListEntries()),
		"queueLength": queueLength,
		"version":     s.version,
	})
}

func (s *Server) handleListCache(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.ListEntries())
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := s.cache.Clear(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.logger.Info("cache cleared")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteCacheEntry(w http.ResponseWriter, r *http.Request) {
	fileName := chi.URLParam(r, "fileName")

	err := s.cache.DeleteEntry(fileName)
	switch {
	case errors.Is(err, cache.ErrEntryNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		s.logger.Info("cache entry deleted", "file", fileName)
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
