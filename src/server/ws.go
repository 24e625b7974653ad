package server

import (
	"strings"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/valyala/fasthttp"

	"github.com/sidedesk/chat-relay/src/types"
)

// Network-origin policy is enforced on the remote address at accept time,
// so browser origins are not restricted here.
var upgrader = websocket.FastHTTPUpgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(_ *fasthttp.RequestCtx) bool { return true },
}

// handleChatSocket upgrades a chat client connection and hands it to the
// registry.
func (s *Server) handleChatSocket(ctx *fasthttp.RequestCtx) {
	if !isUpgrade(ctx) {
		writeUpgradeRequired(ctx)
		return
	}
	remote := ctx.RemoteAddr().String()
	err := upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		client, err := s.Hub.Accept(&wsConn{conn: conn}, remote)
		if err != nil {
			return
		}
		go client.WritePump()
		client.ReadPump()
	})
	if err != nil {
		s.logger.Error().Err(err).Str("remote_addr", remote).Msg("chat upgrade failed")
	}
}

// handleAdminSocket upgrades an admin connection. The session token is read
// from the request cookie; the control channel validates it before any data
// flows.
func (s *Server) handleAdminSocket(ctx *fasthttp.RequestCtx) {
	if !isUpgrade(ctx) {
		writeUpgradeRequired(ctx)
		return
	}
	remote := ctx.RemoteAddr().String()
	token := string(ctx.Request.Header.Cookie(sessionCookie))
	err := upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		s.Channel.HandleConn(&wsConn{conn: conn}, remote, token)
	})
	if err != nil {
		s.logger.Error().Err(err).Str("remote_addr", remote).Msg("admin upgrade failed")
	}
}

func isUpgrade(ctx *fasthttp.RequestCtx) bool {
	return strings.EqualFold(string(ctx.Request.Header.Peek("Upgrade")), "websocket")
}

func writeUpgradeRequired(ctx *fasthttp.RequestCtx) {
	ctx.SetStatusCode(fasthttp.StatusUpgradeRequired)
	ctx.SetContentType("application/json")
	ctx.SetBodyString(`{"error":"upgrade_required","message":"WebSocket upgrade required"}`)
}

// wsConn wraps fasthttp/websocket.Conn to satisfy types.Conn.
type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) WriteJSON(v any) error {
	return w.conn.WriteJSON(v)
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	_, p, err := w.conn.ReadMessage()
	return p, err
}

func (w *wsConn) CloseWithStatus(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	return w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func (w *wsConn) Close() error {
	return w.conn.Close()
}

var _ types.Conn = (*wsConn)(nil)
