package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cwbudde/millifluidic/internal/change"
	"github.com/cwbudde/millifluidic/internal/pipeline"
	"github.com/cwbudde/millifluidic/internal/store"
)

// Server represents the HTTP server
type Server struct {
	jobManager *JobManager
	store      store.Store // may be nil; finished runs are then kept in memory only
	defaults   store.RunConfig
	addr       string
	server     *http.Server
}

// NewServer creates a new HTTP server
func NewServer(addr string, runStore store.Store) *Server {
	return &Server{
		jobManager: NewJobManager(),
		store:      runStore,
		defaults:   store.DefaultRunConfig(),
		addr:       addr,
	}
}

// SetRunDefaults replaces the settings applied to fields a submitted run
// leaves out.
func (s *Server) SetRunDefaults(defaults store.RunConfig) {
	s.defaults = defaults
}

// Handler returns the routed and wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	// Register API routes
	mux.HandleFunc("/api/v1/runs", s.handleRuns)
	mux.HandleFunc("/api/v1/runs/", s.handleRunsWithID)

	// Wrap with middleware
	return s.loggingMiddleware(s.corsMiddleware(mux))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	slog.Info("Starting HTTP server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown cancels unfinished jobs and gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")
	s.jobManager.CancelAll()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"running": len(s.jobManager.GetRunningJobs()),
	})
}

// handleRuns handles /api/v1/runs
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateJob(w, r)
	case http.MethodGet:
		s.handleListJobs(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRunsWithID handles /api/v1/runs/:id/*
func (s *Server) handleRunsWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Run ID required", http.StatusBadRequest)
		return
	}

	jobID := parts[0]

	if len(parts) == 1 && r.Method == http.MethodDelete {
		s.handleCancelJob(w, r, jobID)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Route based on subpath
	if len(parts) == 1 || parts[1] == "status" {
		s.handleGetJobStatus(w, r, jobID)
	} else if parts[1] == "changemap.png" {
		s.handleGetChangeMap(w, r, jobID)
	} else if parts[1] == "areas" {
		s.handleGetAreas(w, r, jobID)
	} else if parts[1] == "trace" {
		s.handleGetTrace(w, r, jobID)
	} else if parts[1] == "stream" {
		s.handleJobStream(w, r, jobID)
	} else {
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// handleCreateJob handles POST /api/v1/runs
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	config := s.defaults
	config.Crop = nil
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	if err := config.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := config.Options(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	job := s.jobManager.CreateJob(config)

	ctx, cancel := context.WithCancel(context.Background())
	s.jobManager.UpdateJob(job.ID, func(j *Job) {
		j.cancel = cancel
	})

	// Start worker in background
	go func() {
		defer cancel()
		runJob(ctx, s.jobManager, s.store, job.ID)
	}()

	writeJSON(w, http.StatusCreated, job)
}

// handleListJobs handles GET /api/v1/runs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("source") == "store" {
		if s.store == nil {
			http.Error(w, "No store configured", http.StatusNotFound)
			return
		}
		infos, err := s.store.ListRuns()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, infos)
		return
	}

	writeJSON(w, http.StatusOK, s.jobManager.ListJobs())
}

// handleCancelJob handles DELETE /api/v1/runs/:id
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if _, exists := s.jobManager.GetJob(jobID); !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if !s.jobManager.CancelJob(jobID) {
		http.Error(w, "Job is not running", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleGetJobStatus handles GET /api/v1/runs/:id/status
func (s *Server) handleGetJobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		s.handleStoredManifest(w, jobID)
		return
	}

	var elapsed time.Duration
	if job.EndTime != nil {
		elapsed = job.EndTime.Sub(job.StartTime)
	} else {
		elapsed = time.Since(job.StartTime)
	}

	rate := float64(0)
	if elapsed.Seconds() > 0 {
		rate = float64(job.Done) / elapsed.Seconds()
	}

	response := map[string]interface{}{
		"id":            job.ID,
		"state":         job.State,
		"stage":         job.Stage,
		"config":        job.Config,
		"done":          job.Done,
		"total":         job.Total,
		"area":          job.Area,
		"skipped":       job.Skipped,
		"saved":         job.Saved,
		"elapsed":       elapsed.Seconds(),
		"recordsPerSec": rate,
		"startTime":     job.StartTime,
		"endTime":       job.EndTime,
		"error":         job.Error,
	}

	writeJSON(w, http.StatusOK, response)
}

// handleStoredManifest answers status requests for runs that only exist in the store
func (s *Server) handleStoredManifest(w http.ResponseWriter, runID string) {
	if s.store == nil {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	manifest, err := s.store.LoadManifest(runID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, manifest)
}

// handleGetChangeMap handles GET /api/v1/runs/:id/changemap.png
func (s *Server) handleGetChangeMap(w http.ResponseWriter, r *http.Request, jobID string) {
	var cm *change.Map

	if job, exists := s.jobManager.GetJob(jobID); exists {
		if job.result == nil {
			http.Error(w, "No results yet", http.StatusNotFound)
			return
		}
		cm = job.result.ChangeMap
	} else {
		loaded, ok := s.loadStored(w, jobID, func(st store.Store) (any, error) { return st.LoadChangeMap(jobID) })
		if !ok {
			return
		}
		cm = loaded.(*change.Map)
	}

	writePNG(w, store.RenderChangeMap(cm))
}

// handleGetAreas handles GET /api/v1/runs/:id/areas
func (s *Server) handleGetAreas(w http.ResponseWriter, r *http.Request, jobID string) {
	if job, exists := s.jobManager.GetJob(jobID); exists {
		if job.result == nil {
			http.Error(w, "No results yet", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, job.result.Areas)
		return
	}

	loaded, ok := s.loadStored(w, jobID, func(st store.Store) (any, error) { return st.LoadAreaSeries(jobID) })
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, loaded.([]pipeline.AreaSample))
}

// handleGetTrace handles GET /api/v1/runs/:id/trace. Running jobs flush
// every entry, so the trace can be read while the run is in progress.
func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request, jobID string) {
	fs, ok := s.store.(*store.FSStore)
	if !ok {
		http.Error(w, "No trace available", http.StatusNotFound)
		return
	}

	reader, err := store.NewTraceReader(fs.BaseDir(), jobID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Trace not found", http.StatusNotFound)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer reader.Close()

	entries, err := reader.ReadAll()
	if err != nil {
		slog.Error("Failed to read trace", "run_id", jobID, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// loadStored runs load against the store and writes the HTTP error when it fails.
func (s *Server) loadStored(w http.ResponseWriter, runID string, load func(store.Store) (any, error)) (any, bool) {
	if s.store == nil {
		http.Error(w, "Job not found", http.StatusNotFound)
		return nil, false
	}
	v, err := load(s.store)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Job not found", http.StatusNotFound)
		return nil, false
	} else if err != nil {
		slog.Error("Failed to load stored run", "run_id", runID, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	return v, true
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
