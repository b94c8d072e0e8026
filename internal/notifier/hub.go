package notifier

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cassiomorais/callbacks/internal/infrastructure/observability"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Message is the frame written to websocket subscribers.
type Message struct {
	Event string          `json:"event"`
	Group string          `json:"group"`
	Data  json.RawMessage `json:"data"`
}

// Hub is the process-local registry of websocket subscribers, keyed by group.
type Hub struct {
	mu      sync.RWMutex
	groups  map[string]map[*Client]struct{}
	clients map[*Client][]string

	sendBuffer   int
	pingInterval time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewHub(sendBuffer int, pingInterval time.Duration, metrics *observability.Metrics, logger zerolog.Logger) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	if pingInterval <= 0 {
		pingInterval = 54 * time.Second
	}
	return &Hub{
		groups:       make(map[string]map[*Client]struct{}),
		clients:      make(map[*Client][]string),
		sendBuffer:   sendBuffer,
		pingInterval: pingInterval,
		metrics:      metrics,
		logger:       observability.Component(logger, "hub"),
	}
}

// Serve registers conn under groups and pumps frames until the peer goes
// away. It blocks for the lifetime of the connection.
func (h *Hub) Serve(conn *websocket.Conn, groups []string) {
	c := newClient(h, conn)
	h.Join(c, groups...)
	go c.writePump()
	c.readPump()
	h.Leave(c)
}

// Join adds c to each group.
func (h *Hub) Join(c *Client, groups ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		h.clients[c] = nil
		if h.metrics != nil {
			h.metrics.WSClients.Inc()
		}
	}
	for _, g := range groups {
		members, ok := h.groups[g]
		if !ok {
			members = make(map[*Client]struct{})
			h.groups[g] = members
		}
		if _, dup := members[c]; dup {
			continue
		}
		members[c] = struct{}{}
		h.clients[c] = append(h.clients[c], g)
	}
	h.logger.Debug().Strs("groups", h.clients[c]).Msg("subscriber joined")
}

// Leave removes c from every group and closes its send queue. Calling it
// twice is harmless.
func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(c)
}

func (h *Hub) remove(c *Client) {
	groups, ok := h.clients[c]
	if !ok {
		return
	}
	for _, g := range groups {
		members := h.groups[g]
		delete(members, c)
		if len(members) == 0 {
			delete(h.groups, g)
		}
	}
	delete(h.clients, c)
	close(c.send)
	if h.metrics != nil {
		h.metrics.WSClients.Dec()
	}
	h.logger.Debug().Strs("groups", groups).Msg("subscriber left")
}

// Publish writes the event to every subscriber of group. Subscribers whose
// queue is full are disconnected.
func (h *Hub) Publish(ctx context.Context, group, event string, payload []byte) error {
	frame, err := json.Marshal(Message{Event: event, Group: group, Data: payload})
	if err != nil {
		return err
	}

	var slow []*Client
	h.mu.RLock()
	for c := range h.groups[group] {
		select {
		case c.send <- frame:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	if len(slow) > 0 {
		h.mu.Lock()
		for _, c := range slow {
			h.remove(c)
		}
		h.mu.Unlock()
		h.logger.Warn().Str("group", group).Int("dropped", len(slow)).Msg("dropped slow subscribers")
	}
	return nil
}

// Subscribers returns the number of clients in group.
func (h *Hub) Subscribers(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.remove(c)
	}
}
