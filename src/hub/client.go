package hub

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/sidedesk/chat-relay/src/types"
)

// Client wraps one chat WebSocket connection tracked by the registry.
type Client struct {
	ID          string
	conn        types.Conn
	hub         *Hub
	send        chan any
	remoteAddr  string
	connectedAt time.Time

	mu            sync.RWMutex
	username      string
	authenticated bool
	lastActivity  time.Time
	closed        bool
	done          chan struct{}
}

func newClient(id string, conn types.Conn, h *Hub, remoteAddr string) *Client {
	now := time.Now()
	return &Client{
		ID:           id,
		conn:         conn,
		hub:          h,
		send:         make(chan any, 256),
		remoteAddr:   remoteAddr,
		connectedAt:  now,
		lastActivity: now,
		done:         make(chan struct{}),
	}
}

// Info returns registry metadata about this connection.
func (c *Client) Info() types.ClientInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return types.ClientInfo{
		ID:             c.ID,
		RemoteAddress:  c.remoteAddr,
		Username:       c.username,
		Authenticated:  c.authenticated,
		ConnectedAt:    c.connectedAt,
		LastActivityAt: c.lastActivity,
	}
}

// Username returns the claimed username, empty until an auth frame names one.
func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

// Authenticated reports whether the connection may send chat frames.
func (c *Client) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

// LastActivity returns the time of the most recent inbound frame.
func (c *Client) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

func (c *Client) setIdentity(username string) {
	c.mu.Lock()
	c.username = username
	c.authenticated = true
	c.mu.Unlock()
}

func (c *Client) setAuthenticated() {
	c.mu.Lock()
	c.authenticated = true
	c.mu.Unlock()
}

// touch refreshes the activity timestamp; every inbound frame counts.
func (c *Client) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// markClosed stops the write pump. Idempotent.
func (c *Client) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}

// deliver queues a frame without blocking. A full buffer or closed client
// drops the frame (fire-and-forget).
func (c *Client) deliver(frame any) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) sendError(message string) {
	c.deliver(types.ErrorFrame{Type: types.TypeError, Message: message})
}

// ReadPump reads frames from the socket until it closes, then unregisters
// the client.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	for {
		raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.touch()
		c.handleFrame(raw)
	}
}

// handleFrame dispatches one inbound frame. Malformed or unauthorized
// frames produce a one-shot error reply; the connection stays open.
func (c *Client) handleFrame(raw []byte) {
	var env types.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.sendError("invalid message format")
		return
	}

	switch env.Type {
	case types.TypeAuth:
		var frame types.Auth
		if err := json.Unmarshal(raw, &frame); err != nil || strings.TrimSpace(frame.Username) == "" {
			c.sendError("auth requires a username")
			return
		}
		c.setIdentity(strings.TrimSpace(frame.Username))
		c.deliver(types.AuthResponse{Type: types.TypeAuthResponse, Success: true})
		c.hub.logger.Info().
			Str("client_id", c.ID).
			Str("username", c.Username()).
			Msg("client authenticated")
		c.hub.broadcastUserList()

	case types.TypeChat:
		if !c.Authenticated() {
			c.sendError("authentication required")
			return
		}
		var frame types.Chat
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.sendError("invalid message format")
			return
		}
		frame.Sender = c.Username()
		if err := c.hub.Route(frame, c); err != nil {
			c.sendError(err.Error())
		}

	case types.TypeHeartbeat:
		c.deliver(types.Heartbeat{Type: types.TypeHeartbeatResponse, Timestamp: time.Now()})

	case types.TypeHeartbeatResponse:
		// Activity already recorded by touch.

	default:
		c.sendError("unknown message type")
	}
}

// WritePump writes queued frames to the socket until the client closes.
func (c *Client) WritePump() {
	defer func() { _ = c.conn.Close() }()

	for {
		select {
		case frame := <-c.send:
			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
