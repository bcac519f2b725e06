package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"lanlink/internal/core/domain"
)

var (
	ErrNotConnected   = errors.New("peer not connected")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Envelope is the wire form of every message on the event channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeEvent(event domain.Event) ([]byte, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", event.Name, err)
	}
	return json.Marshal(Envelope{Event: event.Name, Data: data})
}

// client is one live connection. send is never closed; done signals the
// write pump to stop.
type client struct {
	id   domain.PeerID
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(id domain.PeerID, buffer int) *client {
	return &client{
		id:   id,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *client) enqueue(msg []byte) error {
	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Hub tracks live connections and implements ports.Notifier and
// ports.RosterSink on top of them.
type Hub struct {
	clients map[domain.PeerID]*client
	mu      sync.RWMutex

	logger *zap.SugaredLogger
}

// NewHub returns an empty hub. It delivers service notifications and
// roster updates to live connections.
func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		clients: make(map[domain.PeerID]*client),
		logger:  logger,
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	old := h.clients[c.id]
	h.clients[c.id] = c
	h.mu.Unlock()

	if old != nil && old != c {
		old.close()
	}
}

// remove drops c only if it is still the registered connection for its id.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if cur, ok := h.clients[c.id]; ok && cur == c {
		delete(h.clients, c.id)
	}
	h.mu.Unlock()
	c.close()
}

func (h *Hub) get(id domain.PeerID) (*client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[id]
	return c, ok
}

func (h *Hub) snapshot() []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

// Notify queues event for a single peer without blocking.
func (h *Hub) Notify(ctx context.Context, peerID domain.PeerID, event domain.Event) error {
	c, ok := h.get(peerID)
	if !ok {
		return ErrNotConnected
	}
	msg, err := encodeEvent(event)
	if err != nil {
		return err
	}
	if err := c.enqueue(msg); err != nil {
		return fmt.Errorf("notify %s: %w", peerID, err)
	}
	return nil
}

// PublishRoster sends every client the roster without its own entry.
func (h *Hub) PublishRoster(ctx context.Context, roster []domain.PeerSummary) {
	for _, c := range h.snapshot() {
		users := make([]domain.PeerSummary, 0, len(roster))
		for _, p := range roster {
			if p.ID != c.id {
				users = append(users, p)
			}
		}
		msg, err := encodeEvent(domain.Event{
			Name: domain.EventOnlineUsersList,
			Data: map[string]interface{}{"users": users},
		})
		if err != nil {
			h.logger.Errorw("failed to encode roster", "error", err)
			return
		}
		if err := c.enqueue(msg); err != nil {
			h.logger.Debugw("roster dropped", "peer_id", c.id, "error", err)
		}
	}
}

// Disconnect closes the connection of id, if any. The connection's own
// cleanup runs once its pumps exit.
func (h *Hub) Disconnect(id domain.PeerID) bool {
	c, ok := h.get(id)
	if ok {
		c.close()
	}
	return ok
}

func (h *Hub) IsPeerConnected(id domain.PeerID) bool {
	_, ok := h.get(id)
	return ok
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll stops every connection, used on shutdown.
func (h *Hub) CloseAll() {
	for _, c := range h.snapshot() {
		c.close()
	}
}
