// Package config loads and persists the relay's JSON configuration files.
// A file is deep-merged over built-in defaults at load time and decoded
// into a typed structure; the dotted-path accessors back the settings API.
package config

import (
	"fmt"
	"time"
)

// Config is the chat server configuration (config.json).
type Config struct {
	Server  ServerConfig `json:"server"`
	Logging LogConfig    `json:"logging"`
}

// ServerConfig holds listener and connection policy settings.
type ServerConfig struct {
	Host                     string `json:"host"`
	Port                     int    `json:"port"`
	MaxConnections           int    `json:"maxConnections"`
	RequireAuth              bool   `json:"requireAuth"`
	HeartbeatIntervalSeconds int    `json:"heartbeatIntervalSeconds"`
	ConnectionTimeoutSeconds int    `json:"connectionTimeoutSeconds"`
	SessionKeyPrefix         string `json:"sessionKeyPrefix"`
	AssetsDir                string `json:"assetsDir"`
}

// LogConfig holds operational logging settings.
type LogConfig struct {
	Level string `json:"level"`
	Dir   string `json:"dir"`
}

// AdminConfig is the admin control plane configuration (admin-config.json).
type AdminConfig struct {
	Username               string      `json:"username"`
	PasswordHash           string      `json:"passwordHash"`
	SessionDurationMinutes int         `json:"sessionDurationMinutes"`
	IdleTimeoutMinutes     int         `json:"idleTimeoutMinutes"`
	MaxFailedAttempts      int         `json:"maxFailedAttempts"`
	PinSessionIP           bool        `json:"pinSessionIp"`
	Audit                  AuditConfig `json:"audit"`
}

// AuditConfig controls the persisted action trail.
type AuditConfig struct {
	Enabled         bool `json:"enabled"`
	LogAdminActions bool `json:"logAdminActions"`
	RetentionDays   int  `json:"retentionDays"`
}

// Default returns the built-in chat server configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:                     "0.0.0.0",
			Port:                     8790,
			MaxConnections:           100,
			RequireAuth:              true,
			HeartbeatIntervalSeconds: 30,
			ConnectionTimeoutSeconds: 120,
			SessionKeyPrefix:         "sidedesk",
			AssetsDir:                "./assets",
		},
		Logging: LogConfig{
			Level: "info",
			Dir:   "./logs",
		},
	}
}

// DefaultAdmin returns the built-in admin configuration. The password hash
// is empty, which makes every login attempt fail until one is set with
// `chat-relay set-password`.
func DefaultAdmin() AdminConfig {
	return AdminConfig{
		Username:               "admin",
		SessionDurationMinutes: 60,
		IdleTimeoutMinutes:     15,
		MaxFailedAttempts:      5,
		Audit: AuditConfig{
			Enabled:         true,
			LogAdminActions: true,
			RetentionDays:   30,
		},
	}
}

// Validate checks the merged configuration once at load time.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.MaxConnections <= 0 {
		return fmt.Errorf("server.maxConnections must be positive, got %d", c.Server.MaxConnections)
	}
	if c.Server.HeartbeatIntervalSeconds <= 0 {
		return fmt.Errorf("server.heartbeatIntervalSeconds must be positive, got %d", c.Server.HeartbeatIntervalSeconds)
	}
	if c.Server.ConnectionTimeoutSeconds <= 0 {
		return fmt.Errorf("server.connectionTimeoutSeconds must be positive, got %d", c.Server.ConnectionTimeoutSeconds)
	}
	return nil
}

// Validate checks the merged admin configuration.
func (c *AdminConfig) Validate() error {
	if c.Username == "" {
		return fmt.Errorf("username must not be empty")
	}
	if c.SessionDurationMinutes <= 0 {
		return fmt.Errorf("sessionDurationMinutes must be positive, got %d", c.SessionDurationMinutes)
	}
	if c.IdleTimeoutMinutes <= 0 {
		return fmt.Errorf("idleTimeoutMinutes must be positive, got %d", c.IdleTimeoutMinutes)
	}
	if c.MaxFailedAttempts <= 0 {
		return fmt.Errorf("maxFailedAttempts must be positive, got %d", c.MaxFailedAttempts)
	}
	if c.Audit.RetentionDays < 0 {
		return fmt.Errorf("audit.retentionDays must not be negative, got %d", c.Audit.RetentionDays)
	}
	return nil
}

// Addr returns the host:port listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// HeartbeatInterval returns the heartbeat period as a duration.
func (c ServerConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

// ConnectionTimeout returns the idle cutoff as a duration.
func (c ServerConfig) ConnectionTimeout() time.Duration {
	return time.Duration(c.ConnectionTimeoutSeconds) * time.Second
}

// SessionDuration returns the absolute admin session lifetime.
func (c AdminConfig) SessionDuration() time.Duration {
	return time.Duration(c.SessionDurationMinutes) * time.Minute
}

// IdleTimeout returns the sliding admin session inactivity cutoff.
func (c AdminConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMinutes) * time.Minute
}
