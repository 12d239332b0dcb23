// Package discovery announces the status API on the local network by
// registering an mDNS service with the Avahi daemon.
package discovery

import (
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/holoplot/go-avahi"
)

const (
	// ServiceType is the mDNS service type announced for the status API.
	ServiceType = "_fen._tcp"

	// APIVersion is advertised in the TXT record.
	APIVersion = "v1"
)

// Info describes the announced instance. Watches is the number of
// configured watch paths.
type Info struct {
	Port    int
	Version string
	Watches int
}

// Advertiser publishes one service entry through Avahi over the system bus.
type Advertiser struct {
	logger *slog.Logger

	mu     sync.Mutex
	server *avahi.Server
	group  *avahi.EntryGroup
}

// NewAdvertiser creates an Advertiser. Nothing is announced until Start.
func NewAdvertiser(logger *slog.Logger) *Advertiser {
	return &Advertiser{logger: logger}
}

// Start announces the service, replacing any earlier announcement.
// Errors are usually environmental (no system bus or no avahi-daemon, as
// in most containers) and callers treat them as non-fatal.
func (a *Advertiser) Start(info Info) error {
	if info.Port <= 0 || info.Port > 65535 {
		return fmt.Errorf("invalid port %d", info.Port)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()

	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("connect system bus: %w", err)
	}

	server, err := avahi.ServerNew(conn)
	if err != nil {
		return fmt.Errorf("connect avahi: %w", err)
	}

	name, err := server.GetHostName()
	if err != nil {
		server.Close()
		return fmt.Errorf("avahi host name: %w", err)
	}
	fqdn, err := server.GetHostNameFqdn()
	if err != nil {
		server.Close()
		return fmt.Errorf("avahi host fqdn: %w", err)
	}

	group, err := server.EntryGroupNew()
	if err != nil {
		server.Close()
		return fmt.Errorf("create entry group: %w", err)
	}

	err = group.AddService(avahi.InterfaceUnspec, avahi.ProtoUnspec, 0,
		"fen on "+name, ServiceType, "local", fqdn, uint16(info.Port), TXTRecords(info))
	if err == nil {
		err = group.Commit()
	}
	if err != nil {
		server.EntryGroupFree(group)
		server.Close()
		return fmt.Errorf("publish %s: %w", ServiceType, err)
	}

	a.server, a.group = server, group
	a.logger.Info("status API announced", "service", ServiceType, "host", fqdn, "port", info.Port)
	return nil
}

// Stop withdraws the announcement. It is safe to call when not started.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopLocked() {
		a.logger.Info("status API announcement withdrawn")
	}
}

// Active reports whether an announcement is published.
func (a *Advertiser) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.group != nil
}

func (a *Advertiser) stopLocked() bool {
	if a.server == nil {
		return false
	}
	if a.group != nil {
		a.server.EntryGroupFree(a.group)
	}
	a.server.Close()
	a.server, a.group = nil, nil
	return true
}

// TXTRecords builds the TXT record for info, keys in sorted order.
func TXTRecords(info Info) [][]byte {
	kv := map[string]string{
		"api":     APIVersion,
		"version": info.Version,
		"watches": strconv.Itoa(info.Watches),
	}
	keys := make([]string, 0, len(kv))
	for k, v := range kv {
		if v != "" {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	txt := make([][]byte, 0, len(keys))
	for _, k := range keys {
		txt = append(txt, []byte(k+"="+kv[k]))
	}
	return txt
}

// Announceable reports whether a status API bound to host can be reached
// from other machines. Loopback binds are not worth announcing.
func Announceable(host string) bool {
	switch host {
	case "", "0.0.0.0", "::":
		return true
	case "localhost":
		return false
	}
	ip := net.ParseIP(host)
	return ip == nil || !ip.IsLoopback()
}
