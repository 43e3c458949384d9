// Package api exposes the agent, the task store and the workflows over HTTP
// and a websocket channel.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/xaenox/chief-of-staff/internal/models"
	"github.com/xaenox/chief-of-staff/internal/notify"
	"github.com/xaenox/chief-of-staff/internal/search"
	"github.com/xaenox/chief-of-staff/internal/storage"
)

// Session runs chat turns for a user.
type Session interface {
	HandleChat(ctx context.Context, userID, content string) *models.ChatMessage
	ListTasks(ctx context.Context, userID string) ([]*models.Task, error)
}

type Searcher interface {
	Search(ctx context.Context, userID, query string, topK int) ([]search.Match, error)
}

// WorkflowStarter launches a named workflow in the background.
type WorkflowStarter interface {
	Start(ctx context.Context, userID, name string)
}

type Server struct {
	session     Session
	store       storage.Storage
	searcher    Searcher
	workflows   WorkflowStarter
	broadcaster *notify.Broadcaster
	logger      *zap.Logger
	upgrader    websocket.Upgrader
	server      *http.Server
}

// NewServer wires the HTTP surface. searcher may be nil, in which case search
// returns no results.
func NewServer(session Session, store storage.Storage, searcher Searcher, workflows WorkflowStarter, broadcaster *notify.Broadcaster, logger *zap.Logger) *Server {
	return &Server{
		session:     session,
		store:       store,
		searcher:    searcher,
		workflows:   workflows,
		broadcaster: broadcaster,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

var corsMethods = []string{
	http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions,
}

// Handler returns the full router with CORS applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		requestLogger(s.logger),
		recoverer(s.logger),
		answerOptions,
	)

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", s.handleChat)

		r.Get("/tasks", s.handleListTasks)
		r.Post("/tasks", s.handleCreateTask)
		r.Patch("/tasks/{id}", s.handleUpdateTask)
		r.Delete("/tasks/{id}", s.handleDeleteTask)

		r.Get("/projects", s.handleListProjects)
		r.Post("/projects", s.handleCreateProject)
		r.Patch("/projects/{id}", s.handleUpdateProject)
		r.Delete("/projects/{id}", s.handleArchiveProject)

		r.Get("/profile", s.handleGetProfile)
		r.Post("/profile", s.handleUpdateProfile)
		r.Get("/profile/schedule", s.handleGetSchedule)

		r.Post("/search", s.handleSearch)
		r.Post("/workflows", s.handleStartWorkflow)

		r.Get("/ws", s.handleWebsocket)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	})

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: corsMethods,
		AllowedHeaders: []string{"*"},
	}).Handler(r)
}

// ListenAndServe blocks until ctx is cancelled or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context, host, port string) error {
	addr := net.JoinHostPort(host, port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", addr))
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}
