package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"lanlink/internal/core/domain"
	"lanlink/internal/core/ports"
	"lanlink/pkg/logger"
	"lanlink/pkg/utils"
)

// ConnectionMetrics is the transport's view of the metrics collector.
type ConnectionMetrics interface {
	RecordConnectionOpened()
	RecordConnectionClosed()
	RecordEvent(event string)
}

type nopConnectionMetrics struct{}

func (nopConnectionMetrics) RecordConnectionOpened() {}
func (nopConnectionMetrics) RecordConnectionClosed() {}
func (nopConnectionMetrics) RecordEvent(string)      {}

// ServerConfig tunes keepalive, limits and the greeting sent to clients.
type ServerConfig struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
	SendBufferSize int

	// Zero disables the per-connection limiter.
	MessagesPerSecond float64
	Burst             int
	// Zero means unlimited.
	MaxConnections int

	AllowedOrigins []string
	ICEServers     []webrtc.ICEServer
}

// DefaultServerConfig pings every 25s and drops peers silent for 60s.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		PingInterval:   25 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 1 << 20,
		SendBufferSize: 64,
		AllowedOrigins: []string{"*"},
	}
}

// WebSocketServer runs the event channel: one read and one write goroutine
// per connection, with events dispatched to the services.
type WebSocketServer struct {
	hub         *Hub
	presence    ports.PresenceService
	negotiation ports.NegotiationService
	relay       ports.SignalingRelay
	metrics     ConnectionMetrics

	cfg      ServerConfig
	upgrader websocket.Upgrader
	slots    *semaphore.Weighted
	handlers map[string]eventHandler

	wg      sync.WaitGroup
	closing atomic.Bool

	logger *zap.SugaredLogger
}

// NewWebSocketServer wires the transport to the services. hub must be the
// same Notifier and RosterSink the services were built with.
func NewWebSocketServer(
	hub *Hub,
	presence ports.PresenceService,
	negotiation ports.NegotiationService,
	relay ports.SignalingRelay,
	metrics ConnectionMetrics,
	cfg ServerConfig,
	logger *zap.SugaredLogger,
) *WebSocketServer {
	def := DefaultServerConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PongTimeout <= cfg.PingInterval {
		cfg.PongTimeout = cfg.PingInterval * 2
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = def.SendBufferSize
	}
	if metrics == nil {
		metrics = nopConnectionMetrics{}
	}

	s := &WebSocketServer{
		hub:         hub,
		presence:    presence,
		negotiation: negotiation,
		relay:       relay,
		metrics:     metrics,
		cfg:         cfg,
		logger:      logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	if cfg.MaxConnections > 0 {
		s.slots = semaphore.NewWeighted(int64(cfg.MaxConnections))
	}
	s.handlers = s.routes()
	return s
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	// Same host is always fine.
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// Handle serves the event channel from a gin route.
func (s *WebSocketServer) Handle(c *gin.Context) {
	s.serve(c.Writer, c.Request, c.ClientIP())
}

func (s *WebSocketServer) serve(w http.ResponseWriter, r *http.Request, address string) {
	if s.closing.Load() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	if s.slots != nil {
		if !s.slots.TryAcquire(1) {
			http.Error(w, "too many connections", http.StatusServiceUnavailable)
			return
		}
		defer s.slots.Release(1)
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "remote", address, "error", err)
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	id := domain.PeerID(utils.NewConnectionID())
	ctx := logger.WithPeerID(context.Background(), string(id))

	c, err := s.connect(ctx, id, address)
	if err != nil {
		s.logger.Errorw("failed to register peer", "peer_id", id, "error", err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "registration failed"),
			time.Now().Add(s.cfg.WriteTimeout))
		conn.Close()
		return
	}
	s.metrics.RecordConnectionOpened()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.writePump(conn, c)
	}()
	s.readPump(ctx, conn, c)

	s.disconnect(ctx, c)
}

// connect registers the peer and queues its greeting ahead of any other
// traffic.
func (s *WebSocketServer) connect(ctx context.Context, id domain.PeerID, address string) (*client, error) {
	peer, evicted, err := s.presence.Register(ctx, id, address)
	if err != nil {
		return nil, err
	}
	for _, old := range evicted {
		if s.hub.Disconnect(old.ID) {
			s.logger.Infow("closed connection superseded by address", "peer_id", old.ID, "address", address)
		}
	}

	c := newClient(id, s.cfg.SendBufferSize)
	greeting, err := encodeEvent(domain.Event{
		Name: domain.EventConnectionEstablished,
		Data: map[string]interface{}{
			"sid":        peer.ID,
			"ip":         peer.Address,
			"username":   peer.DisplayName,
			"iceServers": s.iceServers(),
		},
	})
	if err != nil {
		return nil, err
	}
	c.enqueue(greeting)
	s.hub.add(c)

	roster, err := s.presence.Snapshot(ctx, id)
	if err == nil {
		s.hub.Notify(ctx, id, domain.Event{
			Name: domain.EventOnlineUsersList,
			Data: map[string]interface{}{"users": roster},
		})
	}

	s.logger.Infow("peer connected", "peer_id", id, "address", address, "username", peer.DisplayName)
	return c, nil
}

func (s *WebSocketServer) iceServers() []webrtc.ICEServer {
	if s.cfg.ICEServers == nil {
		return []webrtc.ICEServer{}
	}
	return s.cfg.ICEServers
}

func (s *WebSocketServer) readPump(ctx context.Context, conn *websocket.Conn, c *client) {
	conn.SetReadLimit(s.cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	var limiter *rate.Limiter
	if s.cfg.MessagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.Burst)
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.logger.Infow("error reading message from peer", "peer_id", c.id, "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

		if limiter != nil && !limiter.Allow() {
			s.reply(ctx, c.id, domain.EventError, "rate limit exceeded")
			continue
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			s.reply(ctx, c.id, domain.EventError, "malformed message")
			continue
		}
		s.dispatch(ctx, c.id, env)
	}
}

func (s *WebSocketServer) writePump(conn *websocket.Conn, c *client) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.logger.Debugw("write failed", "peer_id", c.id, "error", err)
				c.close()
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Debugw("error sending ping", "peer_id", c.id, "error", err)
				c.close()
				return
			}

		case <-c.done:
			s.drain(conn, c)
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.cfg.WriteTimeout))
			return
		}
	}
}

// drain flushes whatever was queued before the connection was closed.
func (s *WebSocketServer) drain(conn *websocket.Conn, c *client) {
	for {
		select {
		case msg := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

// disconnect resolves the peer's requests and calls before it leaves the
// registry, so partners are told while the peer is still resolvable.
func (s *WebSocketServer) disconnect(ctx context.Context, c *client) {
	s.hub.remove(c)
	s.metrics.RecordConnectionClosed()

	if err := s.negotiation.PeerDisconnected(ctx, c.id); err != nil {
		s.logger.Warnw("failed to clean up negotiation state", "peer_id", c.id, "error", err)
	}
	if _, err := s.presence.Unregister(ctx, c.id); err != nil && !errors.Is(err, domain.ErrPeerNotFound) {
		s.logger.Warnw("failed to unregister peer", "peer_id", c.id, "error", err)
	}

	s.logger.Infow("peer disconnected", "peer_id", c.id)
}

// reply sends an {"error": message} payload under event.
func (s *WebSocketServer) reply(ctx context.Context, id domain.PeerID, event, message string) {
	err := s.hub.Notify(ctx, id, domain.Event{
		Name: event,
		Data: map[string]interface{}{"error": message},
	})
	if err != nil {
		s.logger.Debugw("failed to send error", "peer_id", id, "event", event, "error", err)
	}
}

// HealthCheck reports whether the event channel accepts connections.
func (s *WebSocketServer) HealthCheck(ctx context.Context) error {
	if s.closing.Load() {
		return errors.New("websocket server shutting down")
	}
	return nil
}

// ConnectionCount returns the number of open connections.
func (s *WebSocketServer) ConnectionCount() int {
	return s.hub.Count()
}

func (s *WebSocketServer) IsPeerConnected(id domain.PeerID) bool {
	return s.hub.IsPeerConnected(id)
}

// Shutdown closes every connection and waits for their cleanup.
func (s *WebSocketServer) Shutdown(ctx context.Context) error {
	s.closing.Store(true)
	s.hub.CloseAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
