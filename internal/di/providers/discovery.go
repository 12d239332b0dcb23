package providers

import (
	"strconv"

	"github.com/samber/do/v2"

	"github.com/listenupapp/fen/internal/config"
	"github.com/listenupapp/fen/internal/discovery"
	"github.com/listenupapp/fen/internal/logger"
)

// AdvertiserHandle wraps the mDNS advertiser with shutdown capability.
type AdvertiserHandle struct {
	*discovery.Advertiser
}

// Shutdown implements do.Shutdownable.
func (h *AdvertiserHandle) Shutdown() error {
	h.Stop()
	return nil
}

// ProvideAdvertiser announces the status API when it is enabled, bound to a
// reachable address and advertising is switched on. Failing to announce is
// logged and otherwise ignored.
func ProvideAdvertiser(i do.Injector) (*AdvertiserHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	handle := &AdvertiserHandle{Advertiser: discovery.NewAdvertiser(log.WithComponent("discovery").Logger)}
	if !cfg.Server.Enabled || !cfg.Server.Advertise {
		return handle, nil
	}
	if !discovery.Announceable(cfg.Server.Host) {
		log.Warn("Not announcing a status API bound to loopback", "host", cfg.Server.Host)
		return handle, nil
	}

	// The server must be listening before it is announced.
	_ = do.MustInvoke[*HTTPServerHandle](i)
	watches := do.MustInvoke[*WatchListHandle](i)

	port, err := strconv.Atoi(cfg.Server.Port)
	if err != nil {
		log.Warn("Not announcing status API", "port", cfg.Server.Port, "error", err)
		return handle, nil
	}

	if err := handle.Start(discovery.Info{
		Port:    port,
		Version: version(),
		Watches: len(watches.Subscriptions),
	}); err != nil {
		log.Warn("mDNS announcement failed", "error", err)
	}

	return handle, nil
}
