package providers

import (
	"context"
	"errors"
	"net/http"

	"github.com/samber/do/v2"

	"github.com/listenupapp/fen/internal/api"
	"github.com/listenupapp/fen/internal/config"
	"github.com/listenupapp/fen/internal/logger"
	"github.com/listenupapp/fen/internal/metrics"
	"github.com/listenupapp/fen/internal/sse"
)

// HTTPServerHandle wraps http.Server with Shutdownable. Server is nil when
// the status API is disabled.
type HTTPServerHandle struct {
	*http.Server
}

// Shutdown implements do.Shutdownable.
func (h *HTTPServerHandle) Shutdown() error {
	if h.Server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Server.Shutdown(ctx)
}

// ProvideHTTPServer provides the status API server.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if !cfg.Server.Enabled {
		log.Info("Status API disabled by configuration")
		return &HTTPServerHandle{}, nil
	}

	registry := do.MustInvoke[*RegistryHandle](i)
	m := do.MustInvoke[*metrics.Metrics](i)
	stream := do.MustInvoke[*EventStreamHandle](i)

	apiLog := log.WithComponent("api").Logger
	handler := api.NewServer(registry.Registry, m, apiLog, api.Config{
		Version:        version(),
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	handler.HandleEvents(sse.NewHandler(stream.Manager, apiLog))

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start in background
	go func() {
		log.Info("Status API starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Status API error", "error", err)
		}
	}()

	return &HTTPServerHandle{Server: srv}, nil
}
