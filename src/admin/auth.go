// Package admin implements the privileged control plane: credential checks
// with per-address lockout, session lifecycle, and the admin WebSocket
// channel that streams live state and accepts commands.
package admin

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sidedesk/chat-relay/config"
	"github.com/sidedesk/chat-relay/src/audit"
)

// Authentication errors.
var (
	ErrLockedOut          = errors.New("too many failed login attempts")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidSession     = errors.New("invalid or expired session")
)

const sweepInterval = time.Minute

// Session is one logged-in administrator.
type Session struct {
	Token          string    `json:"-"`
	Username       string    `json:"username"`
	RemoteAddr     string    `json:"remoteAddr"`
	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// Options configure the auth service.
type Options struct {
	Username          string
	PasswordHash      string
	SessionDuration   time.Duration
	IdleTimeout       time.Duration
	MaxFailedAttempts int
	PinSessionIP      bool
}

// Service issues and validates admin sessions and tracks failed login
// attempts per remote address.
type Service struct {
	opts   Options
	audit  *audit.Log
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	failures map[string]int

	done chan struct{}
}

// NewService creates the auth service. Call Start to begin the expiry sweep.
func NewService(opts Options, log *audit.Log, logger zerolog.Logger) *Service {
	return &Service{
		opts:     opts,
		audit:    log,
		logger:   logger.With().Str("component", "admin-auth").Logger(),
		sessions: make(map[string]*Session),
		failures: make(map[string]int),
		done:     make(chan struct{}),
	}
}

// Start launches the periodic sweep that evicts sessions past absolute
// expiry even when never revalidated.
func (s *Service) Start() {
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.done:
				return
			}
		}
	}()
}

// Stop halts the expiry sweep.
func (s *Service) Stop() {
	close(s.done)
}

// Login checks credentials and issues a session. An address with
// MaxFailedAttempts recorded failures is rejected outright, even with
// correct credentials, until the counter is explicitly reset.
func (s *Service) Login(username, password, remoteAddr string) (Session, error) {
	addr := hostOnly(remoteAddr)

	s.mu.Lock()
	locked := s.failures[addr] >= s.opts.MaxFailedAttempts
	s.mu.Unlock()
	if locked {
		s.logger.Warn().Str("remote_addr", addr).Msg("login rejected, address locked out")
		s.audit.Append(username, audit.ActionLoginLocked, map[string]any{"remoteAddress": addr})
		return Session{}, ErrLockedOut
	}

	if username != s.opts.Username || !config.CheckPassword(s.opts.PasswordHash, password) {
		s.mu.Lock()
		s.failures[addr]++
		attempts := s.failures[addr]
		s.mu.Unlock()
		s.logger.Warn().
			Str("remote_addr", addr).
			Int("attempts", attempts).
			Msg("login failed")
		s.audit.Append(username, audit.ActionLoginFailed, map[string]any{
			"remoteAddress": addr,
			"attempts":      attempts,
		})
		return Session{}, ErrInvalidCredentials
	}

	now := time.Now()
	sess := &Session{
		Token:          newToken(),
		Username:       username,
		RemoteAddr:     addr,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.opts.SessionDuration),
		LastActivityAt: now,
	}

	s.mu.Lock()
	delete(s.failures, addr)
	s.sessions[sess.Token] = sess
	s.mu.Unlock()

	s.logger.Info().Str("username", username).Str("remote_addr", addr).Msg("admin logged in")
	s.audit.Append(username, audit.ActionLogin, map[string]any{"remoteAddress": addr})
	return *sess, nil
}

// Validate checks a session token. A session is invalid when unknown, past
// its absolute expiry, or idle longer than the idle timeout; with IP
// pinning enabled a remote address mismatch also invalidates. Success
// refreshes the sliding activity window.
func (s *Service) Validate(token, remoteAddr string) (Session, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return Session{}, ErrInvalidSession
	}
	if now.After(sess.ExpiresAt) {
		delete(s.sessions, token)
		return Session{}, ErrInvalidSession
	}
	if now.Sub(sess.LastActivityAt) > s.opts.IdleTimeout {
		delete(s.sessions, token)
		return Session{}, ErrInvalidSession
	}
	if s.opts.PinSessionIP && hostOnly(remoteAddr) != sess.RemoteAddr {
		return Session{}, ErrInvalidSession
	}
	sess.LastActivityAt = now
	return *sess, nil
}

// Logout removes the session.
func (s *Service) Logout(token string) {
	s.mu.Lock()
	sess, ok := s.sessions[token]
	if ok {
		delete(s.sessions, token)
	}
	s.mu.Unlock()

	if ok {
		s.logger.Info().Str("username", sess.Username).Msg("admin logged out")
		s.audit.Append(sess.Username, audit.ActionLogout, nil)
	}
}

// ResetFailures clears the lockout counter for an address.
func (s *Service) ResetFailures(remoteAddr string) {
	s.mu.Lock()
	delete(s.failures, hostOnly(remoteAddr))
	s.mu.Unlock()
}

// SessionCount returns the number of live sessions.
func (s *Service) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// sweep evicts sessions past absolute expiry, bounding memory growth.
func (s *Service) sweep() {
	now := time.Now()
	s.mu.Lock()
	for token, sess := range s.sessions {
		if now.After(sess.ExpiresAt) {
			delete(s.sessions, token)
		}
	}
	s.mu.Unlock()
}

// newToken returns an opaque random session token.
func newToken() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// hostOnly strips the port from host:port addresses.
func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
