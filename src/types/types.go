package types

import "time"

// Frame type strings used by the chat WebSocket protocol.
const (
	TypeWelcome           = "welcome"
	TypeAuth              = "auth"
	TypeAuthResponse      = "auth_response"
	TypeChat              = "chat"
	TypeHeartbeat         = "heartbeat"
	TypeHeartbeatResponse = "heartbeat_response"
	TypeUserList          = "user_list"
	TypeError             = "error"
)

// Admin channel frame type strings.
const (
	TypeServerStatus = "server_status"
	TypeMetrics      = "metrics"
	TypeClients      = "clients"
)

// WebSocket close codes used by the relay.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	ClosePolicyViolation = 1008
)

// Envelope carries only the frame type, used to dispatch inbound frames.
type Envelope struct {
	Type string `json:"type"`
}

// Welcome is pushed to a client immediately after its connection is accepted.
type Welcome struct {
	Type                string    `json:"type"`
	ServerTime          time.Time `json:"serverTime"`
	NeedsAuthentication bool      `json:"needsAuthentication"`
	SessionKeyPrefix    string    `json:"sessionKeyPrefix"`
	ClientID            string    `json:"clientId"`
}

// Auth is sent by a client to claim a username.
type Auth struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

// AuthResponse acknowledges an auth frame.
type AuthResponse struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
}

// Chat is a relayed chat message. Recipient is a username, or empty /
// "broadcast" for delivery to everyone.
type Chat struct {
	Type           string    `json:"type"`
	ID             string    `json:"id,omitempty"`
	Sender         string    `json:"sender"`
	Text           string    `json:"text"`
	Recipient      string    `json:"recipient,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Heartbeat is the periodic liveness probe; clients answer with
// heartbeat_response (any inbound frame counts as activity).
type Heartbeat struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// UserList announces the currently authenticated users.
type UserList struct {
	Type  string     `json:"type"`
	Users []UserInfo `json:"users"`
}

// UserInfo is one entry of a user_list frame.
type UserInfo struct {
	Username       string    `json:"username"`
	ID             string    `json:"id"`
	ConnectionTime time.Time `json:"connectionTime"`
}

// ErrorFrame is a one-shot error reply; the connection stays open.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ClientInfo holds registry metadata about a connected chat client,
// as exposed to the admin control plane.
type ClientInfo struct {
	ID             string    `json:"id"`
	RemoteAddress  string    `json:"remoteAddress"`
	Username       string    `json:"username,omitempty"`
	Authenticated  bool      `json:"authenticated"`
	ConnectedAt    time.Time `json:"connectedAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	WriteJSON(v any) error
	ReadMessage() ([]byte, error)
	CloseWithStatus(code int, reason string) error
	Close() error
}
