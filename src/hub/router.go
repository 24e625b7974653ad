package hub

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/sidedesk/chat-relay/src/types"
)

// RecipientBroadcast addresses a message to every authenticated connection.
const RecipientBroadcast = "broadcast"

// ErrInvalidMessage rejects chat frames missing a sender or text.
var ErrInvalidMessage = errors.New("message requires a sender and text")

// Route relays one chat message. A named recipient receives the message on
// every authenticated connection claiming that username (usernames are not
// unique) and the sender gets exactly one echo; with no matching connection
// the message is silently dropped. An empty or "broadcast" recipient
// delivers to every authenticated connection except the sender. Delivery is
// at-most-once and fire-and-forget.
func (h *Hub) Route(msg types.Chat, sender *Client) error {
	if msg.Sender == "" || msg.Text == "" {
		return ErrInvalidMessage
	}
	msg.Type = types.TypeChat
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Timestamp = time.Now()
	h.metrics.RecordMessage()

	if msg.Recipient != "" && msg.Recipient != RecipientBroadcast {
		delivered := 0
		for _, c := range h.snapshot() {
			if c == sender || !c.Authenticated() || c.Username() != msg.Recipient {
				continue
			}
			if c.deliver(msg) {
				delivered++
			} else {
				h.logger.Warn().Str("client_id", c.ID).Msg("send buffer full, dropping")
			}
		}
		sender.deliver(msg)
		if delivered == 0 {
			h.logger.Debug().
				Str("recipient", msg.Recipient).
				Str("message_id", msg.ID).
				Msg("no recipient connection, message dropped")
		}
		return nil
	}

	for _, c := range h.snapshot() {
		if c == sender || !c.Authenticated() {
			continue
		}
		if !c.deliver(msg) {
			h.logger.Warn().Str("client_id", c.ID).Msg("send buffer full, dropping")
		}
	}
	return nil
}

// SendToClients delivers a frame to specific connection ids regardless of
// authentication state, returning the number of connections reached.
func (h *Hub) SendToClients(ids []string, frame any) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(ids))
	for _, id := range ids {
		if c, ok := h.clients[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if c.deliver(frame) {
			sent++
		}
	}
	return sent
}

// BroadcastFrame delivers a frame to every open connection, returning the
// number reached.
func (h *Hub) BroadcastFrame(frame any) int {
	sent := 0
	for _, c := range h.snapshot() {
		if c.deliver(frame) {
			sent++
		}
	}
	return sent
}
