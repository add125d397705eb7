package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"watchpost.core/internal/core/domain"
	"watchpost.core/internal/core/services"
)

type Server struct {
	router     *chi.Mux
	jobService *services.JobService
	aggregator *services.Aggregator
	healthSvc  *services.HealthService
	hub        *Hub
}

func NewServer(jobService *services.JobService, aggregator *services.Aggregator, healthSvc *services.HealthService, hub *Hub) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		jobService: jobService,
		aggregator: aggregator,
		healthSvc:  healthSvc,
		hub:        hub,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(MetricsMiddleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Metrics endpoint
	s.router.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		MetricsHandler().ServeHTTP(w, r)
	})

	// Kubernetes probes
	s.router.Get("/health/live", s.handleLiveness)
	s.router.Get("/health/ready", s.handleReadiness)

	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/health/detailed", s.handleDetailedHealth)
	s.router.Get("/api/ws", s.handleWS)

	s.router.Get("/api/snapshot", s.handleSnapshot)
	s.router.Route("/api/telemetry/intervals", func(r chi.Router) {
		r.Get("/", s.handleGetIntervals)
		r.Put("/", s.handleSetIntervals)
	})

	s.router.Route("/api/jobs", func(r chi.Router) {
		r.Post("/", s.handleCreateJob)
		r.Get("/", s.handleListJobs)
		r.Get("/{id}", s.handleGetJob)
		r.Post("/{id}/cancel", s.handleCancelJob)
	})
}

func (s *Server) Run(addr string) error {
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := s.healthSvc.SimpleHealthCheck(r.Context())
	w.WriteHeader(code)
	w.Write([]byte(status))
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	// Liveness probe - just check if server is running
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	status, code := s.healthSvc.SimpleHealthCheck(r.Context())
	w.WriteHeader(code)
	w.Write([]byte(status))
}

func (s *Server) handleDetailedHealth(w http.ResponseWriter, r *http.Request) {
	report := s.healthSvc.CheckHealth(r.Context())

	statusCode := http.StatusOK
	if report.Status == services.HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(report)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ServeWs(s.hub, w, r)
}

// handleSnapshot serves the latest published snapshot for pull access, e.g.
// a shell that just attached and cannot wait for the next tick.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.aggregator.Latest()
	if !ok {
		http.Error(w, `{"error": "no snapshot published yet"}`, http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

func (s *Server) handleGetIntervals(w http.ResponseWriter, r *http.Request) {
	intervals := s.aggregator.Intervals()
	out := make(map[string]int64, len(intervals))
	for name, d := range intervals {
		out[name] = d.Milliseconds()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// handleSetIntervals hot-adjusts per-adapter sampling intervals, keyed by
// adapter name with values in milliseconds.
func (s *Server) handleSetIntervals(w http.ResponseWriter, r *http.Request) {
	var req map[string]int64
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid JSON", "details": "`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}
	for name, ms := range req {
		if ms <= 0 {
			http.Error(w, `{"error": "Validation failed", "details": "interval for `+name+` must be positive"}`, http.StatusBadRequest)
			return
		}
		if err := s.aggregator.SetAdapterInterval(name, time.Duration(ms)*time.Millisecond); err != nil {
			http.Error(w, `{"error": "Validation failed", "details": "`+err.Error()+`"}`, http.StatusBadRequest)
			return
		}
	}
	s.handleGetIntervals(w, r)
}

type CreateJobRequest struct {
	Kind   string `json:"kind"`
	Target string `json:"target"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid JSON", "details": "`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}

	req.Target = strings.TrimSpace(req.Target)
	if req.Target == "" {
		http.Error(w, `{"error": "Validation failed", "details": "target is required"}`, http.StatusBadRequest)
		return
	}
	if len(req.Target) > 4096 {
		http.Error(w, `{"error": "Validation failed", "details": "target exceeds maximum length"}`, http.StatusBadRequest)
		return
	}

	status, err := s.jobService.Submit(r.Context(), domain.JobKind(req.Kind), req.Target)
	if err != nil {
		code := http.StatusInternalServerError
		switch {
		case errors.Is(err, domain.ErrUnknownKind):
			code = http.StatusBadRequest
		case errors.Is(err, domain.ErrPoolSaturated):
			code = http.StatusServiceUnavailable
		}
		http.Error(w, `{"error": "Failed to submit job", "details": "`+err.Error()+`"}`, code)
		return
	}

	s.hub.Broadcast(Message{
		Type:    "job_update",
		Payload: status,
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(status)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.jobService.List())
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status, err := s.jobService.Status(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.jobService.Cancel(id); err != nil {
		code := http.StatusBadRequest
		switch {
		case errors.Is(err, domain.ErrUnknownJob):
			code = http.StatusNotFound
		case errors.Is(err, domain.ErrNotCancellable):
			code = http.StatusConflict
		}
		http.Error(w, err.Error(), code)
		return
	}

	s.hub.Broadcast(Message{
		Type:    "job_update",
		Payload: map[string]string{"job_id": id, "state": "cancelled"},
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "cancelled", "job_id": id})
}
