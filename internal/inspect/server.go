// Package inspect exposes read-only snapshots of the task collection
// over HTTP for dashboards and debugging. It serves reads only, so it
// can never bypass the store's mutation lock.
package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"github.com/taskpool/taskpool/internal/task"
	"github.com/taskpool/taskpool/pkg/cerr"
	"github.com/taskpool/taskpool/pkg/clog"
)

type Server struct {
	coord  *task.Coordinator
	host   string
	port   string
	server *http.Server
}

func NewServer(coord *task.Coordinator, host, port string) *Server {
	return &Server{
		coord: coord,
		host:  host,
		port:  port,
	}
}

// Handler returns the HTTP handler, exposed separately for tests.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(clog.SlogChiMiddleware())
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Route("/api", func(r chi.Router) {
		r.Get("/summary", s.handleSummary)
		r.Get("/tasks", s.handleList)
		r.Get("/tasks/{id}", s.handleGet)
		r.Get("/tasks/{id}/children", s.handleChildren)
	})
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler(r)
}

// ListenAndServe starts the server. The context is the base context of
// all requests; cancelling it does not stop the listener, use Shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.host, s.port)
	slog.Info("starting inspect server", "addr", addr)
	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// taskPayload adds the task's identifier to its wire representation.
type taskPayload struct {
	ID string `json:"id"`
	*task.Task
}

func taskPayloads(tasks []*task.Task) []taskPayload {
	payloads := make([]taskPayload, 0, len(tasks))
	for _, t := range tasks {
		payloads = append(payloads, taskPayload{ID: t.ID, Task: t})
	}
	return payloads
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.coord.Summary()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, summary)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var status task.Status
	if q := r.URL.Query().Get("status"); q != "" {
		parsed, err := task.ParseStatus(q)
		if err != nil {
			writeError(w, r, cerr.NewError(cerr.InvalidArgument, err.Error(), err))
			return
		}
		status = parsed
	}
	tasks, err := s.coord.List(r.URL.Query().Get("type"), status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, taskPayloads(tasks))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := s.coord.Get(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if t == nil {
		writeError(w, r, cerr.NewError(cerr.NotFound, "task not found", nil))
		return
	}
	writeJSON(w, r, taskPayload{ID: t.ID, Task: t})
}

func (s *Server) handleChildren(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.coord.Children(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, taskPayloads(tasks))
}

type httpError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, response any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		clog.AddError(r.Context(), err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	clog.AddError(r.Context(), err)
	var cErr *cerr.Error
	if !errors.As(err, &cErr) {
		cErr = cerr.NewError(cerr.Unknown, "unknown error", err)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(cErr.Code.HTTPCode())
	_ = json.NewEncoder(w).Encode(httpError{Code: cErr.Code.String(), Message: cErr.Msg})
}
