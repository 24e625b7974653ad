// Package server binds the relay's network surface: the chat WebSocket, the
// admin WebSocket, and the admin HTTP API. HTTP routes run on Fiber; the
// WebSocket upgrades are registered at the fasthttp level since Fiber v3
// does not expose the raw request context.
package server

import (
	"fmt"
	"net"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/sidedesk/chat-relay/config"
	"github.com/sidedesk/chat-relay/src/admin"
	"github.com/sidedesk/chat-relay/src/audit"
	"github.com/sidedesk/chat-relay/src/hub"
	"github.com/sidedesk/chat-relay/src/metrics"
)

const sessionCookie = "relay_session"

// Deps bundles the collaborators the server routes against.
type Deps struct {
	Config     config.Config
	AdminCfg   config.AdminConfig
	Store      *config.Store
	AdminStore *config.Store
	Hub        *hub.Hub
	Channel    *admin.Channel
	Auth       *admin.Service
	Metrics    *metrics.Collector
	Audit      *audit.Log
	Logger     zerolog.Logger
}

// Server owns the fasthttp listener and the Fiber app.
type Server struct {
	Deps
	app    *fiber.App
	srv    *fasthttp.Server
	logger zerolog.Logger
}

// New builds the server and registers all routes.
func New(deps Deps) *Server {
	s := &Server{
		Deps:   deps,
		logger: deps.Logger.With().Str("component", "server").Logger(),
	}
	s.app = fiber.New()
	s.routes()
	s.srv = &fasthttp.Server{
		Handler:     s.handler(),
		Name:        "chat-relay",
		Concurrency: 4096,
	}
	return s
}

// handler dispatches WebSocket paths to the upgraders and everything else
// to the Fiber app.
func (s *Server) handler() fasthttp.RequestHandler {
	appHandler := s.app.Handler()
	return func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/ws":
			s.handleChatSocket(ctx)
		case "/admin/ws":
			s.handleAdminSocket(ctx)
		default:
			appHandler(ctx)
		}
	}
}

// Start binds the listen address and serves until Shutdown. A bind failure
// is the only fatal startup condition and is returned to the caller.
func (s *Server) Start() error {
	addr := s.Config.Server.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}
	s.logger.Info().Str("addr", addr).Msg("listening")
	return s.srv.Serve(ln)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown() error {
	return s.srv.Shutdown()
}
