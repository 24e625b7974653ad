package admin

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidedesk/chat-relay/src/hub"
	"github.com/sidedesk/chat-relay/src/metrics"
	"github.com/sidedesk/chat-relay/src/types"
)

// mockConn implements types.Conn; inbound frames are scripted through a
// channel and outbound frames are recorded.
type mockConn struct {
	inbound chan []byte

	mu          sync.Mutex
	frames      []any
	closed      bool
	closeCode   int
	closeReason string
}

func newMockConn() *mockConn {
	return &mockConn{inbound: make(chan []byte, 16)}
}

func (m *mockConn) WriteJSON(v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("connection closed")
	}
	m.frames = append(m.frames, v)
	return nil
}

func (m *mockConn) ReadMessage() ([]byte, error) {
	raw, ok := <-m.inbound
	if !ok {
		return nil, errors.New("connection closed")
	}
	return raw, nil
}

func (m *mockConn) CloseWithStatus(code int, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCode = code
	m.closeReason = reason
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConn) send(raw string) { m.inbound <- []byte(raw) }

func (m *mockConn) hangup() { close(m.inbound) }

func (m *mockConn) snapshot() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]any, len(m.frames))
	copy(out, m.frames)
	return out
}

type channelFixture struct {
	hub     *hub.Hub
	channel *Channel
	auth    *Service
	token   string
}

func newChannelFixture(t *testing.T) *channelFixture {
	t.Helper()
	m := metrics.New(time.Second, 16, zerolog.Nop())
	h := hub.New(hub.Options{
		MaxConnections:    16,
		RequireAuth:       true,
		HeartbeatInterval: time.Hour,
		ConnectionTimeout: time.Hour,
	}, m, zerolog.Nop())
	go h.Run()
	t.Cleanup(h.Stop)

	auth, log := newTestService(t, Options{})
	sess, err := auth.Login("admin", "secret", "127.0.0.1:55000")
	require.NoError(t, err)

	ch := NewChannel(h, m, auth, log, time.Hour, zerolog.Nop())
	return &channelFixture{hub: h, channel: ch, auth: auth, token: sess.Token}
}

// open serves one admin connection in the background and waits for the
// initial state push before returning.
func (f *channelFixture) open(t *testing.T) *mockConn {
	t.Helper()
	conn := newMockConn()
	go f.channel.HandleConn(conn, "127.0.0.1:55001", f.token)
	require.Eventually(t, func() bool {
		return len(conn.snapshot()) >= 2
	}, 2*time.Second, 10*time.Millisecond, "initial push not delivered")
	t.Cleanup(conn.hangup)
	return conn
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 10*time.Millisecond, msg)
}

func TestHandleConnRejectsInvalidSession(t *testing.T) {
	f := newChannelFixture(t)

	conn := newMockConn()
	f.channel.HandleConn(conn, "127.0.0.1:55001", "bogus-token")

	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.True(t, conn.closed)
	assert.Equal(t, types.ClosePolicyViolation, conn.closeCode)
	assert.Equal(t, "invalid session", conn.closeReason)
	assert.Equal(t, 0, f.channel.ConnCount())
}

func TestHandleConnPushesInitialState(t *testing.T) {
	f := newChannelFixture(t)
	conn := f.open(t)

	frames := conn.snapshot()
	status, ok := frames[0].(serverStatusFrame)
	require.True(t, ok, "first frame is server_status")
	assert.Equal(t, types.TypeServerStatus, status.Type)

	clients, ok := frames[1].(clientsFrame)
	require.True(t, ok, "second frame is clients")
	assert.Equal(t, types.TypeClients, clients.Type)
	assert.Empty(t, clients.Clients)
	assert.Equal(t, 1, f.channel.ConnCount())
}

func TestGetMetricsCommand(t *testing.T) {
	f := newChannelFixture(t)
	conn := f.open(t)

	conn.send(`{"command":"get_metrics"}`)

	eventually(t, func() bool {
		for _, frame := range conn.snapshot() {
			if m, ok := frame.(metricsFrame); ok {
				return m.Type == types.TypeMetrics
			}
		}
		return false
	}, "metrics frame not delivered")
}

func TestUnknownCommandProducesError(t *testing.T) {
	f := newChannelFixture(t)
	conn := f.open(t)

	conn.send(`{"command":"reboot"}`)

	eventually(t, func() bool {
		for _, frame := range conn.snapshot() {
			if e, ok := frame.(types.ErrorFrame); ok {
				return e.Message == "unknown command"
			}
		}
		return false
	}, "error frame not delivered")
}

func TestMalformedCommandProducesError(t *testing.T) {
	f := newChannelFixture(t)
	conn := f.open(t)

	conn.send(`{not json`)

	eventually(t, func() bool {
		for _, frame := range conn.snapshot() {
			if e, ok := frame.(types.ErrorFrame); ok {
				return e.Message == "invalid command format"
			}
		}
		return false
	}, "error frame not delivered")
}

func TestDisconnectClientCommand(t *testing.T) {
	f := newChannelFixture(t)

	chatConn := newMockConn()
	client, err := f.hub.Accept(chatConn, "127.0.0.1:51000")
	require.NoError(t, err)
	go client.WritePump()

	conn := f.open(t)
	conn.send(`{"command":"disconnect_client","clientId":"` + client.ID + `","reason":"spam"}`)

	eventually(t, func() bool { return f.hub.ClientCount() == 0 }, "client not disconnected")
	chatConn.mu.Lock()
	assert.Equal(t, types.CloseNormal, chatConn.closeCode)
	assert.Equal(t, "spam", chatConn.closeReason)
	chatConn.mu.Unlock()

	// Open dashboards get a refreshed connection list.
	eventually(t, func() bool {
		frames := conn.snapshot()
		for i := len(frames) - 1; i >= 0; i-- {
			if c, ok := frames[i].(clientsFrame); ok {
				return len(c.Clients) == 0
			}
		}
		return false
	}, "clients refresh not delivered")
}

func TestDisconnectUnknownClientIsNoOp(t *testing.T) {
	f := newChannelFixture(t)
	conn := f.open(t)

	conn.send(`{"command":"disconnect_client","clientId":"missing"}`)

	// The command is a no-op against the registry but still refreshes lists.
	eventually(t, func() bool {
		return len(conn.snapshot()) >= 3
	}, "clients refresh not delivered")
	assert.Equal(t, 0, f.hub.ClientCount())
}

func TestSendMessageToAll(t *testing.T) {
	f := newChannelFixture(t)

	chatConn := newMockConn()
	client, err := f.hub.Accept(chatConn, "127.0.0.1:51000")
	require.NoError(t, err)
	go client.WritePump()

	conn := f.open(t)
	conn.send(`{"command":"send_message","recipients":"all","text":"maintenance at noon"}`)

	eventually(t, func() bool {
		for _, frame := range chatConn.snapshot() {
			if c, ok := frame.(types.Chat); ok {
				return c.Text == "maintenance at noon" && c.Sender == "admin"
			}
		}
		return false
	}, "admin message not delivered")
}

func TestSendMessageToSpecificClients(t *testing.T) {
	f := newChannelFixture(t)

	targetConn := newMockConn()
	target, err := f.hub.Accept(targetConn, "127.0.0.1:51000")
	require.NoError(t, err)
	go target.WritePump()

	otherConn := newMockConn()
	other, err := f.hub.Accept(otherConn, "127.0.0.1:51001")
	require.NoError(t, err)
	go other.WritePump()

	conn := f.open(t)
	conn.send(`{"command":"send_message","recipients":["` + target.ID + `"],"text":"hello"}`)

	eventually(t, func() bool {
		for _, frame := range targetConn.snapshot() {
			if c, ok := frame.(types.Chat); ok {
				return c.Text == "hello"
			}
		}
		return false
	}, "targeted message not delivered")

	time.Sleep(50 * time.Millisecond)
	for _, frame := range otherConn.snapshot() {
		_, isChat := frame.(types.Chat)
		assert.False(t, isChat, "untargeted client must not receive the message")
	}
}

func TestStopClosesAdminConnections(t *testing.T) {
	f := newChannelFixture(t)
	conn := f.open(t)

	f.channel.Stop()
	assert.Equal(t, 0, f.channel.ConnCount())
	eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return conn.closed
	}, "admin socket not closed")
}

func TestRecipientsUnmarshal(t *testing.T) {
	var cmd Command
	require.NoError(t, json.Unmarshal([]byte(`{"command":"send_message","recipients":"all"}`), &cmd))
	assert.True(t, cmd.Recipients.All)

	cmd = Command{}
	require.NoError(t, json.Unmarshal([]byte(`{"command":"send_message","recipients":"abc"}`), &cmd))
	assert.False(t, cmd.Recipients.All)
	assert.Equal(t, []string{"abc"}, cmd.Recipients.IDs)

	cmd = Command{}
	require.NoError(t, json.Unmarshal([]byte(`{"command":"send_message","recipients":["a","b"]}`), &cmd))
	assert.Equal(t, []string{"a", "b"}, cmd.Recipients.IDs)
}
