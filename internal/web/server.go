// Package web provides an HTTP status and command server for the motor-valve daemon.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/sweeney/motor-valve/internal/controller"
	"github.com/sweeney/motor-valve/internal/status"
)

// Submitter hands a command to the run loop without blocking. It returns
// false when the command queue is full.
type Submitter func(cmd controller.Command) bool

// Server serves the status page and valve command endpoints over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	submit     Submitter
}

// New creates a Server that reads state from tracker and sends commands to
// submit. A nil submit makes the server read-only.
func New(addr string, tracker *status.Tracker, submit Submitter) *Server {
	s := &Server{tracker: tracker, submit: submit}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.routes(),
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.html", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.json", s.handleJSON).Methods(http.MethodGet)
	r.HandleFunc("/valves/{name}", s.handleValve).Methods(http.MethodGet)
	r.HandleFunc("/valves/{name}/angle/{angle}", s.handleAngle).Methods(http.MethodPost)
	r.HandleFunc("/valves/{name}/{action}", s.handleAction).Methods(http.MethodPost)
	return r
}

// Handler returns the router. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleValve(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	v, ok := s.tracker.Snapshot().Valve(name)
	if !ok {
		writeError(w, http.StatusNotFound, controller.ErrUnknownValve, name)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatValveJSON(v))
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	action, err := controller.ParseAction(vars["action"])
	if err == nil && action == controller.ActionAngle {
		err = controller.ErrBadAngle
	}
	if err != nil {
		s.tracker.RecordCommand(false)
		writeError(w, http.StatusBadRequest, err, vars["action"])
		return
	}
	s.enqueue(w, r, controller.Command{Valve: vars["name"], Action: action, Source: "http"})
}

func (s *Server) handleAngle(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	angle, err := controller.ParseAngle(vars["angle"])
	if err != nil {
		s.tracker.RecordCommand(false)
		writeError(w, http.StatusBadRequest, err, vars["angle"])
		return
	}
	s.enqueue(w, r, controller.Command{Valve: vars["name"], Action: controller.ActionAngle, Angle: angle, Source: "http"})
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, cmd controller.Command) {
	if _, ok := s.tracker.Snapshot().Valve(cmd.Valve); !ok {
		s.tracker.RecordCommand(false)
		writeError(w, http.StatusNotFound, controller.ErrUnknownValve, cmd.Valve)
		return
	}
	if s.submit == nil || !s.submit(cmd) {
		s.tracker.RecordCommand(false)
		writeError(w, http.StatusServiceUnavailable, errQueueFull, cmd.String())
		return
	}

	// Forms on the index page expect to land back on it.
	if strings.Contains(r.Header.Get("Accept"), "text/html") {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusAccepted, commandResponse{Accepted: cmd.String()})
}

var errQueueFull = errors.New("command queue full")

type commandResponse struct {
	Accepted string `json:"accepted,omitempty"`
	Error    string `json:"error,omitempty"`
}

func writeError(w http.ResponseWriter, code int, err error, subject string) {
	msg := err.Error()
	if subject != "" && !strings.Contains(msg, subject) {
		msg += ": " + subject
	}
	writeJSON(w, code, commandResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
