package admin

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sidedesk/chat-relay/src/audit"
	"github.com/sidedesk/chat-relay/src/hub"
	"github.com/sidedesk/chat-relay/src/metrics"
	"github.com/sidedesk/chat-relay/src/types"
)

// Command names accepted on the admin channel.
const (
	CommandGetMetrics       = "get_metrics"
	CommandDisconnectClient = "disconnect_client"
	CommandSendMessage      = "send_message"
)

// Command is one inbound admin frame.
type Command struct {
	Command     string     `json:"command"`
	ClientID    string     `json:"clientId,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	Recipients  Recipients `json:"recipients,omitempty"`
	Text        string     `json:"text,omitempty"`
	MessageType string     `json:"messageType,omitempty"`
}

// Recipients is either the string "all" or a list of client ids.
type Recipients struct {
	All bool
	IDs []string
}

func (r *Recipients) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if s == "all" {
			r.All = true
		} else if s != "" {
			r.IDs = []string{s}
		}
		return nil
	}
	return json.Unmarshal(b, &r.IDs)
}

type serverStatusFrame struct {
	Type    string           `json:"type"`
	Current metrics.Snapshot `json:"current"`
	Totals  metrics.Totals   `json:"totals"`
}

type metricsFrame struct {
	Type    string           `json:"type"`
	Current metrics.Snapshot `json:"current"`
	History metrics.History  `json:"history"`
	Totals  metrics.Totals   `json:"totals"`
}

type clientsFrame struct {
	Type    string             `json:"type"`
	Clients []types.ClientInfo `json:"clients"`
}

// Channel is the privileged WebSocket surface for administrators. Every
// connection is gated by a validated session; commands execute against the
// registry and router and are unconditionally audited.
type Channel struct {
	hub     *hub.Hub
	metrics *metrics.Collector
	auth    *Service
	audit   *audit.Log
	logger  zerolog.Logger

	pushInterval time.Duration

	mu    sync.Mutex
	conns map[*adminConn]struct{}
	done  chan struct{}
}

// adminConn is one open admin WebSocket.
type adminConn struct {
	conn     types.Conn
	username string
	send     chan any

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func (a *adminConn) deliver(frame any) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}
	select {
	case a.send <- frame:
		return true
	default:
		return false
	}
}

func (a *adminConn) close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.closed {
		a.closed = true
		close(a.done)
	}
}

func (a *adminConn) writePump() {
	defer func() { _ = a.conn.Close() }()
	for {
		select {
		case frame := <-a.send:
			if err := a.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-a.done:
			return
		}
	}
}

// NewChannel wires the admin channel. pushInterval controls the periodic
// metrics push to open dashboards.
func NewChannel(h *hub.Hub, m *metrics.Collector, auth *Service, log *audit.Log, pushInterval time.Duration, logger zerolog.Logger) *Channel {
	return &Channel{
		hub:          h,
		metrics:      m,
		auth:         auth,
		audit:        log,
		logger:       logger.With().Str("component", "admin-channel").Logger(),
		pushInterval: pushInterval,
		conns:        make(map[*adminConn]struct{}),
		done:         make(chan struct{}),
	}
}

// Start launches the periodic metrics push loop.
func (ch *Channel) Start() {
	go func() {
		ticker := time.NewTicker(ch.pushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ch.broadcast(ch.metricsSnapshot())
			case <-ch.done:
				return
			}
		}
	}()
}

// Stop halts the push loop and closes all admin connections.
func (ch *Channel) Stop() {
	close(ch.done)
	ch.mu.Lock()
	conns := make([]*adminConn, 0, len(ch.conns))
	for a := range ch.conns {
		conns = append(conns, a)
	}
	ch.conns = make(map[*adminConn]struct{})
	ch.mu.Unlock()
	for _, a := range conns {
		a.close()
		_ = a.conn.Close()
	}
}

// HandleConn serves one admin WebSocket. The session token comes from the
// connecting request's cookie; an invalid session closes the socket with a
// policy-violation code before any data is exchanged.
func (ch *Channel) HandleConn(conn types.Conn, remoteAddr, token string) {
	sess, err := ch.auth.Validate(token, remoteAddr)
	if err != nil {
		_ = conn.CloseWithStatus(types.ClosePolicyViolation, "invalid session")
		_ = conn.Close()
		return
	}

	a := &adminConn{
		conn:     conn,
		username: sess.Username,
		send:     make(chan any, 64),
		done:     make(chan struct{}),
	}

	ch.mu.Lock()
	ch.conns[a] = struct{}{}
	ch.mu.Unlock()
	ch.logger.Info().Str("username", a.username).Str("remote_addr", remoteAddr).Msg("admin channel opened")

	defer func() {
		ch.mu.Lock()
		delete(ch.conns, a)
		ch.mu.Unlock()
		a.close()
		_ = conn.Close()
		ch.logger.Info().Str("username", a.username).Msg("admin channel closed")
	}()

	go a.writePump()

	// Initial state push: current metrics plus the live connection list.
	a.deliver(serverStatusFrame{
		Type:    types.TypeServerStatus,
		Current: ch.metrics.Current(),
		Totals:  ch.metrics.Totals(),
	})
	a.deliver(clientsFrame{Type: types.TypeClients, Clients: ch.hub.Clients()})

	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd Command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			a.deliver(types.ErrorFrame{Type: types.TypeError, Message: "invalid command format"})
			continue
		}
		ch.execute(a, cmd)
	}
}

// execute runs one admin command, audits it, and refreshes dashboards when
// the connection list may have changed.
func (ch *Channel) execute(a *adminConn, cmd Command) {
	switch cmd.Command {
	case CommandGetMetrics:
		ch.audit.Append(a.username, audit.ActionGetMetrics, nil)
		a.deliver(ch.metricsSnapshot())

	case CommandDisconnectClient:
		reason := cmd.Reason
		if reason == "" {
			reason = "disconnected by administrator"
		}
		found := ch.hub.Disconnect(cmd.ClientID, reason)
		ch.audit.Append(a.username, audit.ActionDisconnectClient, map[string]any{
			"clientId": cmd.ClientID,
			"reason":   reason,
			"found":    found,
		})
		ch.BroadcastClients()

	case CommandSendMessage:
		frameType := cmd.MessageType
		if frameType == "" {
			frameType = types.TypeChat
		}
		frame := types.Chat{
			Type:      frameType,
			ID:        uuid.NewString(),
			Sender:    a.username,
			Text:      cmd.Text,
			Timestamp: time.Now(),
		}
		var sent int
		if cmd.Recipients.All {
			sent = ch.hub.BroadcastFrame(frame)
		} else {
			sent = ch.hub.SendToClients(cmd.Recipients.IDs, frame)
		}
		ch.audit.Append(a.username, audit.ActionSendMessage, map[string]any{
			"recipients":  cmd.Recipients.IDs,
			"all":         cmd.Recipients.All,
			"messageType": frameType,
			"delivered":   sent,
		})

	default:
		a.deliver(types.ErrorFrame{Type: types.TypeError, Message: "unknown command"})
	}
}

// BroadcastClients pushes the current connection list to all open admin
// channels.
func (ch *Channel) BroadcastClients() {
	ch.broadcast(clientsFrame{Type: types.TypeClients, Clients: ch.hub.Clients()})
}

func (ch *Channel) metricsSnapshot() metricsFrame {
	return metricsFrame{
		Type:    types.TypeMetrics,
		Current: ch.metrics.Current(),
		History: ch.metrics.History(),
		Totals:  ch.metrics.Totals(),
	}
}

func (ch *Channel) broadcast(frame any) {
	ch.mu.Lock()
	conns := make([]*adminConn, 0, len(ch.conns))
	for a := range ch.conns {
		conns = append(conns, a)
	}
	ch.mu.Unlock()
	for _, a := range conns {
		a.deliver(frame)
	}
}

// ConnCount returns the number of open admin channels.
func (ch *Channel) ConnCount() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.conns)
}
