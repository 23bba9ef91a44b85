package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"

	"github.com/franckalain/freshness/internal/analysis"
	"github.com/franckalain/freshness/internal/logger"
	"github.com/franckalain/freshness/internal/models"
	"github.com/franckalain/freshness/internal/produce"
)

const shutdownTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the shell is served to a local browser
	},
}

// Backend is the prediction service as seen by the shell
type Backend interface {
	analysis.Analyzer
	Items(ctx context.Context) ([]models.Item, error)
}

// Options configures the shell
type Options struct {
	StaticDir      string
	Timeout        time.Duration
	MaxImageBytes  int64
	AllowedOrigins []string
}

// Server is the local application shell: static UI, a JSON API and one
// analysis session per WebSocket connection
type Server struct {
	backend  Backend
	opts     Options
	log      logger.Logger
	sessions sync.Map // session id -> *session
	closing  *atomic.Bool
}

func New(backend Backend, opts Options, log logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	return &Server{
		backend: backend,
		opts:    opts,
		log:     log,
		closing: atomic.NewBool(false),
	}
}

// Handler returns the shell's routes
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/api/catalog", s.handleCatalog)
	r.Get("/ws", s.handleWebSocket)

	if s.opts.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.opts.StaticDir)))
	}
	return r
}

// Run serves on addr until ctx is canceled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof(ctx, "Starting server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Infof(ctx, "Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	s.closeSessions()
	return srv.Shutdown(shutdownCtx)
}

// closeSessions closes every websocket; hijacked connections are not tracked by http.Server
func (s *Server) closeSessions() {
	s.closing.Store(true)
	s.sessions.Range(func(_, value interface{}) bool {
		value.(*session).close()
		return true
	})
}

// Sessions returns the number of connected sessions
func (s *Server) Sessions() int {
	n := 0
	s.sessions.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.HealthResponse{Status: "healthy", Message: "Freshness client is running"})
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.ItemsResponse{Items: catalogItems()})
}

func catalogItems() []models.Item {
	types := produce.Catalog()
	items := make([]models.Item, 0, len(types))
	for _, t := range types {
		items = append(items, models.Item{Value: t.Value, Label: t.Label})
	}
	return items
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
