// Package server provides the local HTTP control surface the UI layer uses
// to start the backend, exit the app and watch the startup trace.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/activation"
	"golang.org/x/net/websocket"

	"github.com/mbrock/hostshim/internal/host"
	"github.com/mbrock/hostshim/internal/launch"
	"github.com/mbrock/hostshim/internal/trace"
)

// Server is the HTTP control server.
type Server struct {
	ctl    host.Controller
	hub    *trace.Hub
	logger *slog.Logger
	mux    *http.ServeMux
	server *http.Server
}

// New creates a new control server for ctl. hub may be nil, in which case
// /events only closes.
func New(ctl host.Controller, hub *trace.Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		ctl:    ctl,
		hub:    hub,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.registerRoutes()
	s.server = &http.Server{Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /backend/start", s.handleStartBackend)
	s.mux.HandleFunc("POST /app/exit", s.handleExitApp)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /events", websocket.Handler(s.handleEvents))
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.mux }

// Serve starts the server on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.server.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// GetListener returns a listener based on environment: a socket passed by
// systemd socket activation, else a unix socket at socketPath, else TCP on
// addr.
func GetListener(socketPath, addr string) (net.Listener, error) {
	lns, err := activation.Listeners()
	if err != nil {
		return nil, fmt.Errorf("socket activation: %w", err)
	}
	for _, ln := range lns {
		if ln != nil {
			return ln, nil
		}
	}
	if socketPath != "" {
		if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating socket dir: %w", err)
		}
		os.Remove(socketPath) // stale socket from a previous run
		return net.Listen("unix", socketPath)
	}
	return net.Listen("tcp", addr)
}

func wantsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// startResponse is the JSON form of a start reply.
type startResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
}

func (s *Server) handleStartBackend(w http.ResponseWriter, r *http.Request) {
	msg, err := s.ctl.StartBackend(r.Context())
	resp := startResponse{OK: err == nil, Message: msg}
	code := http.StatusOK
	if err != nil {
		code = http.StatusInternalServerError
		resp.Message = err.Error()
		var le *launch.Error
		if errors.As(err, &le) {
			resp.Message = launch.Result{Err: le}.String()
			resp.Stage = string(le.Stage)
		}
	}

	if wantsJSON(r) {
		writeJSON(w, code, resp)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	fmt.Fprintln(w, resp.Message)
}

func (s *Server) handleExitApp(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintln(w, "exiting")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	// ExitApp blocks until the server has shut down.
	go s.ctl.ExitApp()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	v := newStatusView(r.Context(), s.ctl.Status(), s.recent())
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, v)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statusPage(v).Render(r.Context(), w); err != nil {
		s.logger.Warn("rendering status page", "error", err)
	}
}

func (s *Server) recent() []trace.Entry {
	if s.hub == nil {
		return nil
	}
	return s.hub.Recent()
}

// Event is the wire form of a trace entry on /events.
type Event struct {
	Time    time.Time         `json:"time"`
	Attempt string            `json:"attempt"`
	Stage   string            `json:"stage"`
	Status  string            `json:"status"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func toEvent(e trace.Entry) Event {
	return Event{
		Time:    e.Time,
		Attempt: e.Attempt,
		Stage:   e.Stage,
		Status:  e.Status,
		Message: e.Message,
		Fields:  e.Fields,
	}
}

// handleEvents replays the remembered trace and then streams new entries
// until the client goes away.
func (s *Server) handleEvents(ws *websocket.Conn) {
	defer ws.Close()
	if s.hub == nil {
		return
	}

	ctx, cancel := context.WithCancel(ws.Request().Context())
	defer cancel()
	entries := s.hub.Subscribe(ctx)

	// The client never sends anything useful; a failed read means it left.
	go func() {
		defer cancel()
		var msg string
		for websocket.Message.Receive(ws, &msg) == nil {
		}
	}()

	for _, e := range s.hub.Recent() {
		if err := websocket.JSON.Send(ws, toEvent(e)); err != nil {
			return
		}
	}
	for e := range entries {
		if err := websocket.JSON.Send(ws, toEvent(e)); err != nil {
			return
		}
	}
}
