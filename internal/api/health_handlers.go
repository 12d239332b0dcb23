package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/listenupapp/fen/internal/watcher"
)

func (s *Server) registerHealthRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "healthCheck",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns daemon health with per-component checks",
		Tags:        []string{"Health"},
	}, s.handleHealthCheck)
}

// ComponentHealth describes the health of a single component.
type ComponentHealth struct {
	Status  string `json:"status" doc:"Component status: healthy, degraded, or unhealthy"`
	Message string `json:"message,omitempty" doc:"Additional status information"`
}

// HealthResponse contains health check data in API responses.
type HealthResponse struct {
	Status     string                     `json:"status" doc:"Overall status: healthy, degraded, or unhealthy"`
	Uptime     string                     `json:"uptime" doc:"Time since the daemon started"`
	Components map[string]ComponentHealth `json:"components" doc:"Individual component statuses"`
}

// HealthOutput wraps the health response for Huma.
type HealthOutput struct {
	Body HealthResponse
}

func (s *Server) handleHealthCheck(_ context.Context, _ *struct{}) (*HealthOutput, error) {
	watches := s.checkWatches()

	return &HealthOutput{
		Body: HealthResponse{
			Status:     watches.Status,
			Uptime:     time.Since(s.started).Round(time.Second).String(),
			Components: map[string]ComponentHealth{"watches": watches},
		},
	}, nil
}

// checkWatches reports degraded while any watched path is unreachable.
func (s *Server) checkWatches() ComponentHealth {
	if s.watches == nil {
		return ComponentHealth{Status: "degraded", Message: "watch registry not configured"}
	}

	engines := s.watches.Engines()
	unavailable := 0
	for _, e := range engines {
		if e.State == watcher.StatePending || e.State == watcher.StateDisabled {
			unavailable++
		}
	}

	switch {
	case len(engines) == 0:
		return ComponentHealth{Status: "healthy", Message: "no watched paths"}
	case unavailable > 0:
		return ComponentHealth{
			Status:  "degraded",
			Message: strconv.Itoa(unavailable) + " of " + strconv.Itoa(len(engines)) + " watched paths unavailable",
		}
	default:
		return ComponentHealth{Status: "healthy", Message: strconv.Itoa(len(engines)) + " watched paths"}
	}
}
