package sse

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/listenupapp/fen/internal/id"
)

const (
	defaultHeartbeat  = 30 * time.Second
	defaultBacklog    = 256
	clientBufferSize  = 100
	pendingEventLimit = 1000
)

// Recorder receives stream statistics. *metrics.Metrics implements it.
type Recorder interface {
	StreamClientsChanged(delta int)
	StreamEventDropped()
}

type nopRecorder struct{}

func (nopRecorder) StreamClientsChanged(int) {}
func (nopRecorder) StreamEventDropped()      {}

// Client is one connected stream reader. EventChan and Done are closed on
// disconnect. Watch limits delivery to one watch path; empty means every
// watch.
type Client struct {
	ConnectedAt time.Time
	EventChan   chan Event
	Done        chan struct{}
	ID          string
	Watch       string
}

func (c *Client) wants(ev Event) bool {
	return c.Watch == "" || ev.Watch == "" || c.Watch == ev.Watch
}

// Manager fans queued events out to connected clients. Every event gets
// a sequence number and the most recent ones are kept so a reconnecting
// client can resume from the last id it saw.
type Manager struct {
	logger    *slog.Logger
	recorder  Recorder
	heartbeat time.Duration

	queue   chan Event
	running sync.WaitGroup

	mu      sync.RWMutex
	clients map[string]*Client
	seq     uint64
	backlog []Event
	next    int // ring position of the next backlog write
	full    bool

	closeMu sync.RWMutex
	closed  bool
}

// NewManager creates a Manager. rec may be nil.
func NewManager(logger *slog.Logger, rec Recorder) *Manager {
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Manager{
		logger:    logger,
		recorder:  rec,
		heartbeat: defaultHeartbeat,
		queue:     make(chan Event, pendingEventLimit),
		clients:   make(map[string]*Client),
		backlog:   make([]Event, defaultBacklog),
	}
}

// Start runs the fan-out loop until ctx is done or the manager is shut
// down. Run it in its own goroutine.
func (m *Manager) Start(ctx context.Context) {
	m.running.Add(1)
	defer m.running.Done()

	ticker := time.NewTicker(m.heartbeat)
	defer ticker.Stop()

	m.logger.Info("event stream running", "heartbeat", m.heartbeat)
	for {
		select {
		case ev, ok := <-m.queue:
			if !ok {
				return
			}
			m.publish(ev)
		case <-ticker.C:
			m.deliver(NewHeartbeatEvent())
		case <-ctx.Done():
			m.disconnectAll()
			return
		}
	}
}

// Shutdown stops accepting events, publishes what is already queued and
// disconnects every client.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.closeMu.Lock()
	if m.closed {
		m.closeMu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.closeMu.Unlock()

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for ev := range m.queue {
			m.publish(ev)
		}
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		m.logger.Warn("event stream drain timed out")
	}

	m.running.Wait()
	m.disconnectAll()
	m.logger.Info("event stream stopped")
	return nil
}

// Emit queues ev for publishing. It never blocks: when the queue is full,
// or the manager is shut down, the event is dropped.
func (m *Manager) Emit(ev Event) {
	m.closeMu.RLock()
	defer m.closeMu.RUnlock()
	if m.closed {
		return
	}

	select {
	case m.queue <- ev:
	default:
		m.recorder.StreamEventDropped()
		m.logger.Error("event stream queue full, dropping event", "type", string(ev.Type), "watch", ev.Watch)
	}
}

// Connect registers a client. watch limits it to one watch path. When
// lastID is non-zero, retained events newer than lastID are replayed
// into the client's channel first.
func (m *Manager) Connect(watch string, lastID uint64) (*Client, error) {
	clientID, err := id.Generate(id.PrefixClient)
	if err != nil {
		return nil, err
	}

	c := &Client{
		ID:          clientID,
		Watch:       watch,
		EventChan:   make(chan Event, clientBufferSize),
		Done:        make(chan struct{}),
		ConnectedAt: time.Now(),
	}

	m.mu.Lock()
	replayed := 0
	if lastID > 0 {
		for _, ev := range m.retained() {
			if ev.ID <= lastID || !c.wants(ev) {
				continue
			}
			select {
			case c.EventChan <- ev:
				replayed++
			default:
			}
		}
	}
	m.clients[c.ID] = c
	total := len(m.clients)
	m.mu.Unlock()

	m.recorder.StreamClientsChanged(1)
	m.logger.Info("stream client connected",
		"client_id", c.ID, "watch", watch, "replayed", replayed, "clients", total)
	return c, nil
}

// Disconnect removes a client. Unknown ids are ignored.
func (m *Manager) Disconnect(clientID string) {
	m.mu.Lock()
	c, ok := m.clients[clientID]
	if ok {
		delete(m.clients, clientID)
	}
	total := len(m.clients)
	m.mu.Unlock()

	if !ok {
		return
	}
	closeClient(c)
	m.recorder.StreamClientsChanged(-1)
	m.logger.Info("stream client disconnected",
		"client_id", clientID, "connected_for", time.Since(c.ConnectedAt), "clients", total)
}

// ClientCount returns the number of connected clients.
func (m *Manager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// publish numbers ev, retains it and delivers it.
func (m *Manager) publish(ev Event) {
	m.mu.Lock()
	m.seq++
	ev.ID = m.seq
	m.backlog[m.next] = ev
	m.next = (m.next + 1) % len(m.backlog)
	if m.next == 0 {
		m.full = true
	}
	m.mu.Unlock()

	m.deliver(ev)
}

// deliver hands ev to every interested client without blocking. Slow
// clients miss the event.
func (m *Manager) deliver(ev Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sent, skipped := 0, 0
	for _, c := range m.clients {
		if !c.wants(ev) {
			continue
		}
		select {
		case c.EventChan <- ev:
			sent++
		default:
			skipped++
			m.recorder.StreamEventDropped()
			m.logger.Warn("stream client too slow, event dropped",
				"client_id", c.ID, "type", string(ev.Type))
		}
	}

	if ev.Type != EventHeartbeat {
		m.logger.Debug("event published",
			"id", ev.ID, "type", string(ev.Type), "sent", sent, "skipped", skipped)
	}
}

// retained returns the backlog oldest first. Callers hold m.mu.
func (m *Manager) retained() []Event {
	if !m.full {
		return m.backlog[:m.next]
	}
	out := make([]Event, 0, len(m.backlog))
	out = append(out, m.backlog[m.next:]...)
	return append(out, m.backlog[:m.next]...)
}

func (m *Manager) disconnectAll() {
	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[string]*Client)
	m.mu.Unlock()

	for _, c := range clients {
		closeClient(c)
	}
	if n := len(clients); n > 0 {
		m.recorder.StreamClientsChanged(-n)
		m.logger.Info("stream clients disconnected", "count", n)
	}
}

func closeClient(c *Client) {
	close(c.Done)
	close(c.EventChan)
}
