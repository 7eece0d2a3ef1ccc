// Package web provides the HTTP surface of the controller: a status page,
// the status JSON, Prometheus metrics, and a command endpoint that accepts
// the same envelope as the MQTT command topic.
package web

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nkepah/greenhouse-controller/internal/mqtt"
	"github.com/nkepah/greenhouse-controller/internal/telemetry"
)

// maxCommandBody bounds the POST body read on /api/command.
const maxCommandBody = 1 << 20

// Server serves the controller status and command API over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *telemetry.Tracker
	execute    func(mqtt.Command) error
}

// New creates a Server that reads state from the tracker, exposes the
// gatherer on /metrics, and forwards commands to execute.
func New(addr string, tracker *telemetry.Tracker, gatherer prometheus.Gatherer, execute func(mqtt.Command) error) *Server {
	s := &Server{tracker: tracker, execute: execute}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/status.json", s.handleJSON)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/api/command", s.handleCommand)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
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
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(telemetry.FormatJSON(snap))
}

// handleCommand accepts the MQTT command envelope over POST and runs it
// through the same dispatcher as the command topic.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody))
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}
	cmd, err := mqtt.ParseCommand(body)
	if err != nil {
		writeResult(w, http.StatusBadRequest, false, err.Error())
		return
	}
	if err := s.execute(cmd); err != nil {
		writeResult(w, http.StatusInternalServerError, false, err.Error())
		return
	}
	writeResult(w, http.StatusOK, true, "")
}

// CommandResult is the JSON response of /api/command.
type CommandResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func writeResult(w http.ResponseWriter, code int, ok bool, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(CommandResult{OK: ok, Error: msg})
}
