package watcher

import (
	"context"
	"log/slog"
	"net"
	"os"
	"time"

	"golang.org/x/net/idna"
	"golang.org/x/sync/singleflight"
)

// DefaultProbeTimeout bounds the host lookup done before touching a network path.
const DefaultProbeTimeout = 2 * time.Second

// Prober answers the two questions the engine asks about its path.
type Prober interface {
	// Volatile reports whether the path can disappear at run time
	// (network shares, removable or unknown media).
	Volatile(path string) bool

	// Available reports whether the path can be watched right now.
	Available(ctx context.Context, path string) bool
}

// Resolver looks up host names. *net.Resolver satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// OSProber probes the local file system and name resolution.
type OSProber struct {
	logger   *slog.Logger
	resolver Resolver
	timeout  time.Duration
	lookups  singleflight.Group
	stat     func(string) (os.FileInfo, error)
}

// NewOSProber creates a prober. A nil resolver uses net.DefaultResolver and
// a zero timeout uses DefaultProbeTimeout.
func NewOSProber(logger *slog.Logger, resolver Resolver, timeout time.Duration) *OSProber {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OSProber{
		logger:   logger,
		resolver: resolver,
		timeout:  timeout,
		stat:     os.Stat,
	}
}

// Volatile classifies path once. Network paths are always volatile;
// local paths are volatile unless they live on a fixed drive.
func (p *OSProber) Volatile(path string) bool {
	if isNetworkPath(path) {
		return true
	}
	return !fixedDrive(path)
}

// Available checks that path exists. For network paths the host name is
// resolved first so an unreachable server fails fast instead of stalling
// in the file system call.
func (p *OSProber) Available(ctx context.Context, path string) bool {
	if isNetworkPath(path) && !p.hostReachable(ctx, networkHost(path)) {
		return false
	}
	_, err := p.stat(path)
	return err == nil
}

func (p *OSProber) hostReachable(ctx context.Context, host string) bool {
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		p.logger.Debug("invalid host name", "host", host, "error", err)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	// Engines sharing a server probe it once per round.
	_, err, _ = p.lookups.Do(ascii, func() (any, error) {
		return p.resolver.LookupHost(ctx, ascii)
	})
	if err != nil {
		p.logger.Debug("host lookup failed", "host", ascii, "error", err)
		return false
	}
	return true
}
