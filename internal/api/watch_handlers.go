package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	domainerrors "github.com/listenupapp/fen/internal/errors"
	"github.com/listenupapp/fen/internal/watcher"
)

func (s *Server) registerWatchRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listWatches",
		Method:      http.MethodGet,
		Path:        "/api/v1/watches",
		Summary:     "List watches",
		Description: "Returns every watched path with its engine state",
		Tags:        []string{"Watches"},
	}, s.handleListWatches)

	huma.Register(s.api, huma.Operation{
		OperationID: "getWatch",
		Method:      http.MethodGet,
		Path:        "/api/v1/watches/{id}",
		Summary:     "Get watch",
		Description: "Returns one watch engine by id",
		Tags:        []string{"Watches"},
	}, s.handleGetWatch)
}

// WatchResponse describes one watch engine.
type WatchResponse struct {
	ID            string    `json:"id" doc:"Engine id"`
	Path          string    `json:"path" doc:"Watched path"`
	State         string    `json:"state" doc:"pending, enabled, disabled, or disposed"`
	Volatile      bool      `json:"volatile" doc:"Whether the path can disappear at run time"`
	Subscriptions int       `json:"subscriptions" doc:"Number of attached subscriptions"`
	CreatedAt     time.Time `json:"createdAt" doc:"When the engine was created"`
}

// ListWatchesInput filters the watch list.
type ListWatchesInput struct {
	State string `query:"state" doc:"Only return engines in this state"`
}

// ListWatchesOutput wraps the watch list for Huma.
type ListWatchesOutput struct {
	Body struct {
		Watches []WatchResponse `json:"watches"`
		Total   int             `json:"total"`
	}
}

// GetWatchInput selects one engine.
type GetWatchInput struct {
	ID string `path:"id" doc:"Engine id"`
}

// GetWatchOutput wraps one watch for Huma.
type GetWatchOutput struct {
	Body WatchResponse
}

var knownStates = map[string]bool{
	watcher.StatePending.String():  true,
	watcher.StateEnabled.String():  true,
	watcher.StateDisabled.String(): true,
	watcher.StateDisposed.String(): true,
}

func (s *Server) handleListWatches(_ context.Context, input *ListWatchesInput) (*ListWatchesOutput, error) {
	if input.State != "" && !knownStates[input.State] {
		return nil, domainerrors.InvalidWatchRequestf("unknown state %q", input.State)
	}

	out := &ListWatchesOutput{}
	out.Body.Watches = []WatchResponse{}
	for _, info := range s.engines() {
		if input.State != "" && info.State.String() != input.State {
			continue
		}
		out.Body.Watches = append(out.Body.Watches, toWatchResponse(info))
	}
	out.Body.Total = len(out.Body.Watches)
	return out, nil
}

func (s *Server) handleGetWatch(_ context.Context, input *GetWatchInput) (*GetWatchOutput, error) {
	for _, info := range s.engines() {
		if info.ID == input.ID {
			return &GetWatchOutput{Body: toWatchResponse(info)}, nil
		}
	}
	return nil, domainerrors.NotFoundf("watch %s not found", input.ID)
}

func (s *Server) engines() []watcher.EngineInfo {
	if s.watches == nil {
		return nil
	}
	return s.watches.Engines()
}

func toWatchResponse(info watcher.EngineInfo) WatchResponse {
	return WatchResponse{
		ID:            info.ID,
		Path:          info.Path,
		State:         info.State.String(),
		Volatile:      info.Volatile,
		Subscriptions: info.Subscriptions,
		CreatedAt:     info.Created,
	}
}
