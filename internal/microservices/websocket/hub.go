package websocket

import (
	"log/slog"
	"sync"
	"time"

	"opendavinci/internal/microservices/supercomponent"
	"opendavinci/internal/timesource"
)

// Hub fans registry changes out to every connected client. Membership and
// broadcasting all go through the Run goroutine.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan []byte
	register   chan registration
	unregister chan *Client
	quit       chan struct{}
	stopOnce   sync.Once

	mu     sync.RWMutex
	clock  timesource.Clock
	logger *slog.Logger
}

type registration struct {
	client  *Client
	initial []byte
}

// NewHub creates a stopped hub; call Run to start it.
func NewHub(clock timesource.Clock, logger *slog.Logger) *Hub {
	if clock == nil {
		clock = timesource.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, 256),
		register:   make(chan registration),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		clock:      clock,
		logger:     logger.With("component", "ws_hub"),
	}
}

func (h *Hub) Run() {
	h.logger.Info("ws_hub_started")
	defer h.logger.Info("ws_hub_stopped")

	for {
		select {
		case reg := <-h.register:
			if reg.initial != nil {
				reg.client.send <- reg.initial
			}
			h.mu.Lock()
			h.clients[reg.client] = struct{}{}
			h.mu.Unlock()
			h.logger.Debug("ws_client_registered", "client_id", reg.client.ID)

		case c := <-h.unregister:
			h.drop(c)
			h.logger.Debug("ws_client_unregistered", "client_id", c.ID)

		case message := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					// slow consumer
					delete(h.clients, c)
					close(c.send)
					h.logger.Warn("ws_client_dropped", "client_id", c.ID)
				}
			}
			h.mu.Unlock()

		case <-h.quit:
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) drop(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Stop ends Run and closes every client. Safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

// Register adds c. initial, when non-nil, is queued to c ahead of any
// broadcast. It returns false once the hub is stopped.
func (h *Hub) Register(c *Client, initial []byte) bool {
	select {
	case h.register <- registration{client: c, initial: initial}:
		return true
	case <-h.quit:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

// Broadcast queues message for every client. A full queue drops it.
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("ws_broadcast_full")
	}
}

// ModuleChanged publishes a registry change to all clients.
func (h *Hub) ModuleChanged(ev supercomponent.ModuleEvent) {
	b, err := NewModuleEvent(ev, h.now()).ToJSON()
	if err != nil {
		h.logger.Error("ws_event_marshal_failed", "module", ev.Info.Key, "error", err)
		return
	}
	h.Broadcast(b)
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) now() time.Time {
	return h.clock.Now().Time()
}
