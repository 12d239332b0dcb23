package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/listenupapp/fen/internal/logger"
	"github.com/listenupapp/fen/internal/metrics"
	"github.com/listenupapp/fen/internal/sse"
)

// EventStreamHandle wraps the SSE manager with its context for lifecycle management.
type EventStreamHandle struct {
	*sse.Manager
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *EventStreamHandle) Shutdown() error {
	h.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Manager.Shutdown(ctx)
}

// ProvideEventStream provides the manager that fans consolidated file
// events out to SSE clients.
func ProvideEventStream(i do.Injector) (*EventStreamHandle, error) {
	log := do.MustInvoke[*logger.Logger](i)
	m := do.MustInvoke[*metrics.Metrics](i)

	manager := sse.NewManager(log.WithComponent("sse").Logger, m)

	// Start in background
	ctx, cancel := context.WithCancel(context.Background())
	go manager.Start(ctx)

	log.Info("Event stream started")

	return &EventStreamHandle{
		Manager: manager,
		cancel:  cancel,
	}, nil
}
