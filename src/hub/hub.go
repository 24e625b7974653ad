// Package hub owns the set of live chat WebSocket connections. It enforces
// network-origin policy, connection limits, and authentication on accept,
// probes liveness with heartbeats, and routes chat frames between
// connections.
package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sidedesk/chat-relay/src/metrics"
	"github.com/sidedesk/chat-relay/src/types"
)

// Accept errors.
var (
	ErrAddressNotAllowed = errors.New("remote address outside the local network")
	ErrServerFull        = errors.New("connection limit reached")
)

// Options configure the connection registry.
type Options struct {
	MaxConnections    int
	RequireAuth       bool
	HeartbeatInterval time.Duration
	ConnectionTimeout time.Duration
	SessionKeyPrefix  string
}

// Hub is the connection registry and message router.
type Hub struct {
	opts    Options
	metrics *metrics.Collector
	logger  zerolog.Logger

	mu      sync.RWMutex
	clients map[string]*Client

	unregister chan *Client
	done       chan struct{}
}

// New creates a Hub. Call Run in a goroutine to start the heartbeat and
// teardown loop.
func New(opts Options, m *metrics.Collector, logger zerolog.Logger) *Hub {
	return &Hub{
		opts:       opts,
		metrics:    m,
		logger:     logger.With().Str("component", "hub").Logger(),
		clients:    make(map[string]*Client),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

// Run drives heartbeats, idle teardown, and unregistration. Call in a
// goroutine.
func (h *Hub) Run() {
	ticker := time.NewTicker(h.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case c := <-h.unregister:
			h.removeClient(c)
		case <-ticker.C:
			h.heartbeat()
		case <-h.done:
			h.closeAll()
			return
		}
	}
}

// Stop halts the hub loop and closes every connection.
func (h *Hub) Stop() {
	close(h.done)
}

// Accept validates and registers a new connection. Policy violations close
// the socket with code 1008 and return an error; the connection is never
// tracked. When authentication is not required the connection is
// auto-authenticated, though it stays unaddressable until an auth frame
// names a username.
func (h *Hub) Accept(conn types.Conn, remoteAddr string) (*Client, error) {
	if !isLocalAddress(remoteAddr) {
		h.logger.Warn().Str("remote_addr", remoteAddr).Msg("rejected non-local connection")
		_ = conn.CloseWithStatus(types.ClosePolicyViolation, "remote address not permitted")
		_ = conn.Close()
		return nil, ErrAddressNotAllowed
	}

	c := newClient(uuid.NewString(), conn, h, remoteAddr)
	if !h.opts.RequireAuth {
		c.setAuthenticated()
	}

	h.mu.Lock()
	if len(h.clients) >= h.opts.MaxConnections {
		h.mu.Unlock()
		h.logger.Warn().Str("remote_addr", remoteAddr).Msg("rejected connection, server full")
		_ = conn.CloseWithStatus(types.ClosePolicyViolation, "connection limit reached")
		_ = conn.Close()
		return nil, ErrServerFull
	}
	h.clients[c.ID] = c
	active := len(h.clients)
	h.mu.Unlock()

	h.metrics.RecordConnect(active)
	h.logger.Info().
		Str("client_id", c.ID).
		Str("remote_addr", remoteAddr).
		Int("active", active).
		Msg("client connected")

	c.deliver(types.Welcome{
		Type:                types.TypeWelcome,
		ServerTime:          time.Now(),
		NeedsAuthentication: h.opts.RequireAuth,
		SessionKeyPrefix:    h.opts.SessionKeyPrefix,
		ClientID:            c.ID,
	})
	return c, nil
}

// Disconnect force-closes a connection, typically on behalf of an admin
// command. The caller is responsible for auditing the action.
func (h *Hub) Disconnect(id, reason string) bool {
	h.mu.RLock()
	c, ok := h.clients[id]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	h.logger.Info().Str("client_id", id).Str("reason", reason).Msg("forced disconnect")
	_ = c.conn.CloseWithStatus(types.CloseNormal, reason)
	h.removeClient(c)
	return true
}

// removeClient drops a connection from the registry and tears it down.
// Idempotent; both the read pump and administrative paths land here.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)
	active := len(h.clients)
	h.mu.Unlock()

	wasVisible := c.Authenticated() && c.Username() != ""
	c.markClosed()
	_ = c.conn.Close()

	h.metrics.RecordDisconnect(active, time.Since(c.connectedAt))
	h.logger.Info().
		Str("client_id", c.ID).
		Int("active", active).
		Msg("client disconnected")

	if wasVisible {
		h.broadcastUserList()
	}
}

// heartbeat sends a probe to every open connection and closes the ones idle
// past the configured timeout.
func (h *Hub) heartbeat() {
	now := time.Now()
	frame := types.Heartbeat{Type: types.TypeHeartbeat, Timestamp: now}

	for _, c := range h.snapshot() {
		if now.Sub(c.LastActivity()) > h.opts.ConnectionTimeout {
			h.logger.Info().Str("client_id", c.ID).Msg("closing idle connection")
			_ = c.conn.CloseWithStatus(types.CloseGoingAway, "connection timeout")
			h.removeClient(c)
			continue
		}
		c.deliver(frame)
	}
}

func (h *Hub) closeAll() {
	for _, c := range h.snapshot() {
		_ = c.conn.CloseWithStatus(types.CloseGoingAway, "server shutting down")
		h.removeClient(c)
	}
}

// snapshot copies the live client set so sends happen outside the lock.
func (h *Hub) snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

// broadcastUserList pushes the authenticated user set to every
// authenticated connection.
func (h *Hub) broadcastUserList() {
	users := make([]types.UserInfo, 0)
	clients := h.snapshot()
	for _, c := range clients {
		if c.Authenticated() && c.Username() != "" {
			users = append(users, types.UserInfo{
				Username:       c.Username(),
				ID:             c.ID,
				ConnectionTime: c.connectedAt,
			})
		}
	}
	frame := types.UserList{Type: types.TypeUserList, Users: users}
	for _, c := range clients {
		if c.Authenticated() {
			c.deliver(frame)
		}
	}
}
