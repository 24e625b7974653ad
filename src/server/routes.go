package server

import (
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/static"
	"github.com/google/uuid"

	"github.com/sidedesk/chat-relay/config"
	"github.com/sidedesk/chat-relay/src/admin"
	"github.com/sidedesk/chat-relay/src/audit"
	"github.com/sidedesk/chat-relay/src/types"
)

func (s *Server) routes() {
	s.app.Get("/healthz", s.handleHealth)

	s.app.Get("/admin/login", s.handleLoginPage)
	s.app.Post("/admin/login", s.handleLogin)
	s.app.Get("/admin/logout", s.handleLogout)
	s.app.Get("/admin", s.requirePage, s.handleDashboard)
	s.app.Use("/admin/assets", static.New(s.Config.Server.AssetsDir))

	api := s.app.Group("/admin/api", s.requireSession)
	api.Get("/metrics", s.handleMetrics)
	api.Get("/users", s.handleUsers)
	api.Post("/users", s.handleDisconnectUser)
	api.Get("/messages", s.handleMessageStats)
	api.Post("/messages", s.handleSendMessage)
	api.Get("/channels", s.handleChannels)
	api.Get("/logs", s.handleLogs)
	api.Post("/logs", s.handleLogExport)
	api.Get("/settings", s.handleGetSettings)
	api.Post("/settings", s.handleSetSettings)
}

// requireSession gates the JSON API on a valid admin session cookie.
func (s *Server) requireSession(c fiber.Ctx) error {
	token := c.Cookies(sessionCookie)
	if token == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "authentication required"})
	}
	sess, err := s.Auth.Validate(token, c.IP())
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid session"})
	}
	c.Locals("admin_username", sess.Username)
	return c.Next()
}

// requirePage gates HTML pages, redirecting to the login form instead of
// answering 401.
func (s *Server) requirePage(c fiber.Ctx) error {
	token := c.Cookies(sessionCookie)
	if token != "" {
		if _, err := s.Auth.Validate(token, c.IP()); err == nil {
			return c.Next()
		}
	}
	return c.Redirect().To("/admin/login")
}

func adminUsername(c fiber.Ctx) string {
	if v, ok := c.Locals("admin_username").(string); ok {
		return v
	}
	return ""
}

func (s *Server) handleHealth(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"clients": s.Hub.ClientCount(),
	})
}

func (s *Server) handleLoginPage(c fiber.Ctx) error {
	return c.SendFile(filepath.Join(s.Config.Server.AssetsDir, "login.html"))
}

func (s *Server) handleDashboard(c fiber.Ctx) error {
	return c.SendFile(filepath.Join(s.Config.Server.AssetsDir, "dashboard.html"))
}

func (s *Server) handleLogin(c fiber.Ctx) error {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	sess, err := s.Auth.Login(req.Username, req.Password, c.IP())
	switch {
	case errors.Is(err, admin.ErrLockedOut):
		return c.Status(fiber.StatusLocked).JSON(fiber.Map{"error": "too many failed attempts"})
	case err != nil:
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid credentials"})
	}

	c.Cookie(&fiber.Cookie{
		Name:     sessionCookie,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HTTPOnly: true,
		SameSite: "Strict",
	})
	return c.JSON(fiber.Map{
		"success":   true,
		"username":  sess.Username,
		"expiresAt": sess.ExpiresAt,
	})
}

func (s *Server) handleLogout(c fiber.Ctx) error {
	if token := c.Cookies(sessionCookie); token != "" {
		s.Auth.Logout(token)
	}
	c.ClearCookie(sessionCookie)
	return c.Redirect().To("/admin/login")
}

func (s *Server) handleMetrics(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"current": s.Metrics.Current(),
		"history": s.Metrics.History(),
		"totals":  s.Metrics.Totals(),
	})
}

func (s *Server) handleUsers(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"clients": s.Hub.Clients()})
}

// handleDisconnectUser force-closes one chat connection on behalf of the
// acting admin.
func (s *Server) handleDisconnectUser(c fiber.Ctx) error {
	var req struct {
		ClientID string `json:"clientId"`
		Reason   string `json:"reason"`
	}
	if err := c.Bind().Body(&req); err != nil || req.ClientID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "clientId required"})
	}
	if req.Reason == "" {
		req.Reason = "disconnected by administrator"
	}

	found := s.Hub.Disconnect(req.ClientID, req.Reason)
	s.Audit.Append(adminUsername(c), audit.ActionDisconnectClient, map[string]any{
		"clientId": req.ClientID,
		"reason":   req.Reason,
		"found":    found,
	})
	s.Channel.BroadcastClients()

	if !found {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "client not found"})
	}
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleMessageStats(c fiber.Ctx) error {
	totals := s.Metrics.Totals()
	return c.JSON(fiber.Map{
		"totalMessages": totals.TotalMessages,
		"messagesToday": totals.MessagesToday,
	})
}

// handleSendMessage pushes an administrative message to all or selected
// connections.
func (s *Server) handleSendMessage(c fiber.Ctx) error {
	var req struct {
		Recipients  admin.Recipients `json:"recipients"`
		Text        string           `json:"text"`
		MessageType string           `json:"messageType"`
	}
	if err := c.Bind().Body(&req); err != nil || req.Text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "text required"})
	}
	frameType := req.MessageType
	if frameType == "" {
		frameType = types.TypeChat
	}

	frame := types.Chat{
		Type:      frameType,
		ID:        uuid.NewString(),
		Sender:    adminUsername(c),
		Text:      req.Text,
		Timestamp: time.Now(),
	}
	var sent int
	if req.Recipients.All {
		sent = s.Hub.BroadcastFrame(frame)
	} else {
		sent = s.Hub.SendToClients(req.Recipients.IDs, frame)
	}
	s.Audit.Append(adminUsername(c), audit.ActionSendMessage, map[string]any{
		"recipients":  req.Recipients.IDs,
		"all":         req.Recipients.All,
		"messageType": frameType,
		"delivered":   sent,
	})
	return c.JSON(fiber.Map{"delivered": sent})
}

func (s *Server) handleChannels(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"chat":  fiber.Map{"endpoint": "/ws", "clients": s.Hub.ClientCount()},
		"admin": fiber.Map{"endpoint": "/admin/ws", "connections": s.Channel.ConnCount()},
	})
}

func (s *Server) handleLogs(c fiber.Ctx) error {
	date := c.Query("date", time.Now().Format("2006-01-02"))
	limit, _ := strconv.Atoi(c.Query("limit", "100"))
	offset, _ := strconv.Atoi(c.Query("offset", "0"))

	entries, err := s.Audit.Query(date, audit.Filter{
		Username: c.Query("username"),
		Action:   c.Query("action"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"date": date, "entries": entries})
}

func (s *Server) handleLogExport(c fiber.Ctx) error {
	var req struct {
		Date     string `json:"date"`
		Format   string `json:"format"`
		Username string `json:"username"`
		Action   string `json:"action"`
	}
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Date == "" {
		req.Date = time.Now().Format("2006-01-02")
	}
	if req.Format == "" {
		req.Format = audit.FormatJSON
	}

	data, err := s.Audit.Export(req.Date, req.Format, audit.Filter{
		Username: req.Username,
		Action:   req.Action,
	})
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	contentType := "application/json"
	if req.Format == audit.FormatCSV {
		contentType = "text/csv"
	}
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="audit_`+req.Date+"."+req.Format+`"`)
	return c.Send(data)
}

func (s *Server) handleGetSettings(c fiber.Ctx) error {
	adminView := s.AdminStore.Snapshot()
	delete(adminView, "passwordHash")
	return c.JSON(fiber.Map{
		"server": s.Store.Snapshot(),
		"admin":  adminView,
	})
}

// handleSetSettings writes one dotted-path value into the server or admin
// configuration file. A body carrying "password" instead rotates the admin
// password hash. Changes take effect on the next start.
func (s *Server) handleSetSettings(c fiber.Ctx) error {
	var req struct {
		Path     string `json:"path"`
		Value    any    `json:"value"`
		Password string `json:"password"`
	}
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if req.Password != "" {
		hash, err := config.HashPassword(req.Password)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "hashing failed"})
		}
		if err := s.AdminStore.Set("passwordHash", hash); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		s.Audit.Append(adminUsername(c), audit.ActionPasswordChanged, nil)
		return c.JSON(fiber.Map{"success": true})
	}

	if req.Path == "" || req.Path == "passwordHash" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid settings path"})
	}

	store := s.Store
	path := req.Path
	if rest, ok := strings.CutPrefix(path, "admin."); ok {
		store, path = s.AdminStore, rest
		if path == "passwordHash" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid settings path"})
		}
	}
	if err := store.Set(path, req.Value); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	s.Audit.Append(adminUsername(c), audit.ActionSettingsChanged, map[string]any{
		"path":  req.Path,
		"value": req.Value,
	})
	return c.JSON(fiber.Map{"success": true})
}
