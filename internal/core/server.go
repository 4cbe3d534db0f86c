// Package core provides the diagnostic HTTP surface for the transitpulse
// engine: a chi router exposing the published read-only values (position,
// snapshot, plan, supervisor state), the destination/tracking commands, and
// health/metrics endpoints. Cross-cutting concerns (recovery, request IDs,
// logging, metrics) are applied before requests reach the handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"transitpulse/internal/config"
	"transitpulse/internal/metrics"
	"transitpulse/internal/types"
)

// EngineAPI is the engine surface the HTTP layer consumes.
type EngineAPI interface {
	StartTracking(ctx context.Context) error
	StopTracking()
	SetDestination(ctx context.Context, stopID string) (types.TripPlan, error)
	ClearDestination()

	Position() (types.Position, types.TrackerState, bool)
	Snapshot() (types.TransitSnapshot, types.FeedStatus)
	Plan() (types.TripPlan, bool)
	Tasks() []types.LegTask
	SupervisorState() types.SupervisorState
}

// Server encapsulates the HTTP dependencies, allowing injection in tests.
type Server struct {
	Config  *config.Config
	Engine  EngineAPI
	Logger  *slog.Logger
	Metrics *metrics.Collector

	router *chi.Mux
}

// NewServer prepares the server for route mounting. It fails fast on missing
// dependencies; the caller mounts routes afterwards so tests can customize
// registration.
func NewServer(cfg *config.Config, eng EngineAPI, logger *slog.Logger, collector *metrics.Collector) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if eng == nil {
		return nil, fmt.Errorf("engine must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:  cfg,
		Engine:  eng,
		Logger:  logger,
		Metrics: collector,
		router:  chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// MountRoutes registers the middleware chain and all endpoints. Middleware
// order: panic recovery outermost, then request ID so logging and metrics can
// correlate.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.Logger))
	s.router.Use(s.MetricsMiddleware)

	s.router.Get("/health", s.HandleHealth)
	if s.Metrics != nil {
		s.router.Method(http.MethodGet, s.Config.Server.MetricsPath, s.Metrics.Handler())
	}

	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/position", s.HandlePosition)
		r.Get("/snapshot", s.HandleSnapshot)
		r.Get("/plan", s.HandlePlan)
		r.Get("/tasks", s.HandleTasks)
		r.Get("/supervisor", s.HandleSupervisor)

		r.Post("/destination", s.HandleSetDestination)
		r.Delete("/destination", s.HandleClearDestination)
		r.Post("/tracking", s.HandleTracking)
	})
}

// healthResponse is the JSON body for GET /health.
type healthResponse struct {
	Status     string                   `json:"status"`
	Components map[types.Component]bool `json:"components,omitempty"`
}

// HandleHealth reports the supervisor's per-component health flags. The
// endpoint returns 200 while every audited component is healthy and 503
// otherwise, so ordinary liveness probes surface engine degradation.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.Engine.SupervisorState()

	healthy := true
	for _, ok := range state.Health {
		if !ok {
			healthy = false
			break
		}
	}

	resp := healthResponse{Status: "healthy", Components: state.Health}
	status := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	JSON(w, r, status, resp)
}

// positionResponse is the JSON body for GET /v1/position.
type positionResponse struct {
	State    types.TrackerState `json:"state"`
	Position *types.Position    `json:"position,omitempty"`
}

// HandlePosition returns the tracker state and, when one exists, the last
// accepted position.
func (s *Server) HandlePosition(w http.ResponseWriter, r *http.Request) {
	pos, state, ok := s.Engine.Position()
	resp := positionResponse{State: state}
	if ok {
		resp.Position = &pos
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: resp})
}

// snapshotResponse is the JSON body for GET /v1/snapshot.
type snapshotResponse struct {
	Snapshot types.TransitSnapshot `json:"snapshot"`
	Status   types.FeedStatus      `json:"status"`
}

// HandleSnapshot returns the latest transit snapshot and feed status.
func (s *Server) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, status := s.Engine.Snapshot()
	JSON(w, r, http.StatusOK, APIResponse{Data: snapshotResponse{Snapshot: snap, Status: status}})
}

// HandlePlan returns the current trip plan with its embedded transfer
// evaluation, or 404 when no destination is set.
func (s *Server) HandlePlan(w http.ResponseWriter, r *http.Request) {
	plan, ok := s.Engine.Plan()
	if !ok {
		Error(w, r, types.NewAppError(types.ErrCodeNotFoundPlan,
			"no active trip plan; set a destination first", nil))
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: plan})
}

// HandleTasks returns the leg tasks derived from the current plan.
func (s *Server) HandleTasks(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, APIResponse{Data: s.Engine.Tasks()})
}

// HandleSupervisor returns the supervisor state for diagnostic display.
func (s *Server) HandleSupervisor(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, APIResponse{Data: s.Engine.SupervisorState()})
}

// setDestinationRequest is the JSON body for POST /v1/destination.
type setDestinationRequest struct {
	StopID string `json:"stop_id"`
}

// HandleSetDestination sets the destination and returns the computed plan.
func (s *Server) HandleSetDestination(w http.ResponseWriter, r *http.Request) {
	var req setDestinationRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, r, err)
		return
	}
	if req.StopID == "" {
		Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
			"stop_id is required", nil))
		return
	}

	plan, err := s.Engine.SetDestination(r.Context(), req.StopID)
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusCreated, APIResponse{Data: plan})
}

// HandleClearDestination clears the destination and destroys the plan.
func (s *Server) HandleClearDestination(w http.ResponseWriter, r *http.Request) {
	s.Engine.ClearDestination()
	w.WriteHeader(http.StatusNoContent)
}

// trackingRequest is the JSON body for POST /v1/tracking.
type trackingRequest struct {
	Enabled bool `json:"enabled"`
}

// HandleTracking starts or stops position acquisition.
func (s *Server) HandleTracking(w http.ResponseWriter, r *http.Request) {
	var req trackingRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, r, err)
		return
	}

	if !req.Enabled {
		s.Engine.StopTracking()
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := s.Engine.StartTracking(r.Context()); err != nil {
		Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
