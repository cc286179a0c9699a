// Package server is the thin HTTP status surface spec §1 calls out as an
// out-of-core-scope adapter: health/version, a job list/detail API, a
// queue-depth dashboard chart, and a WebSocket push feed of job/slice
// lifecycle events. Generalized from cmd/vire-server/main.go's mux and
// internal/services/jobmanager/websocket.go's hub.
package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/bobmcallan/rocketd/internal/common"
	"github.com/bobmcallan/rocketd/internal/interfaces"
)

// Server builds the HTTP mux for rocketd's status surface.
type Server struct {
	Store  interfaces.Store
	Logger *common.Logger
	Hub    *Hub

	version, build, commit string
}

// New constructs a Server. version/build/commit are reported by
// /api/version, mirroring the teacher's common.GetVersion/GetBuild/GetGitCommit.
func New(store interfaces.Store, logger *common.Logger, hub *Hub, version, build, commit string) *Server {
	return &Server{Store: store, Logger: logger, Hub: hub, version: version, build: build, commit: commit}
}

// Mux builds the HTTP handler tree.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api/jobs", s.handleJobList)
	mux.HandleFunc("/api/jobs/", s.handleJobDetail)
	mux.HandleFunc("/api/dashboard.png", s.handleDashboard)
	mux.HandleFunc("/ws", s.Hub.ServeWS)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"version": s.version,
		"build":   s.build,
		"commit":  s.commit,
	})
}

func (s *Server) handleJobList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jobs, err := s.Store.Jobs().List(r.Context(), 100)
	if err != nil {
		s.Logger.Warn().Err(err).Msg("list jobs failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jobs)
}

func (s *Server) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if id == "" {
		http.Error(w, "missing job id", http.StatusBadRequest)
		return
	}
	job, err := s.Store.Jobs().Find(r.Context(), id)
	if err != nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	png, err := renderQueueDepthChart(r.Context(), s.Store.Jobs())
	if err != nil {
		s.Logger.Warn().Err(err).Msg("render dashboard failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}
