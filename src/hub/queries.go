package hub

import (
	"sort"

	"github.com/sidedesk/chat-relay/src/types"
)

// ClientCount returns the number of live connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Clients returns a snapshot of all live connections, ordered by connect
// time, for the admin control plane.
func (h *Hub) Clients() []types.ClientInfo {
	clients := h.snapshot()
	out := make([]types.ClientInfo, 0, len(clients))
	for _, c := range clients {
		out = append(out, c.Info())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// ClientInfo returns one connection's metadata, or false when the id is not
// live.
func (h *Hub) ClientInfo(id string) (types.ClientInfo, bool) {
	h.mu.RLock()
	c, ok := h.clients[id]
	h.mu.RUnlock()
	if !ok {
		return types.ClientInfo{}, false
	}
	return c.Info(), true
}
