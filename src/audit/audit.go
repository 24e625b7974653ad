// Package audit persists the append-only administrative action trail as
// day-partitioned JSON-lines files. Appends flow through a single writer
// goroutine so concurrent callers never interleave partial lines; writing
// is best-effort and never fails the caller.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Action names recorded by the control plane.
const (
	ActionLogin            = "login"
	ActionLoginFailed      = "login_failed"
	ActionLoginLocked      = "login_locked"
	ActionLogout           = "logout"
	ActionGetMetrics       = "get_metrics"
	ActionDisconnectClient = "disconnect_client"
	ActionSendMessage      = "send_message"
	ActionSettingsChanged  = "settings_changed"
	ActionPasswordChanged  = "password_changed"
)

const fileLayout = "2006-01-02"

// Entry is one immutable audit record.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Username  string         `json:"username"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
}

// Options control which actors get recorded and how long files are kept.
type Options struct {
	Enabled         bool
	LogAdminActions bool
	AdminUsername   string
	RetentionDays   int
}

// Log is the append-only, day-partitioned action log.
type Log struct {
	dir     string
	opts    Options
	logger  zerolog.Logger
	entries chan Entry
	done    chan struct{}
	stopped chan struct{}
}

// New creates the log directory and starts the writer goroutine.
func New(dir string, opts Options, logger zerolog.Logger) (*Log, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	l := &Log{
		dir:     dir,
		opts:    opts,
		logger:  logger.With().Str("component", "audit").Logger(),
		entries: make(chan Entry, 256),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go l.writeLoop()
	return l, nil
}

// Append queues one entry. It is a no-op when action logging is disabled, or
// when the actor is the administrative account and admin-action logging is
// specifically disabled. A full queue drops the entry rather than blocking.
func (l *Log) Append(username, action string, details map[string]any) {
	if !l.opts.Enabled {
		return
	}
	if username == l.opts.AdminUsername && !l.opts.LogAdminActions {
		return
	}
	e := Entry{
		Timestamp: time.Now(),
		Username:  username,
		Action:    action,
		Details:   details,
	}
	select {
	case l.entries <- e:
	default:
		l.logger.Warn().Str("action", action).Msg("audit queue full, entry dropped")
	}
}

// Close drains pending entries and stops the writer goroutine.
func (l *Log) Close() {
	close(l.done)
	<-l.stopped
}

func (l *Log) writeLoop() {
	defer close(l.stopped)

	var (
		day  string
		file *os.File
	)
	defer func() {
		if file != nil {
			_ = file.Close()
		}
	}()

	write := func(e Entry) {
		d := e.Timestamp.Format(fileLayout)
		if file == nil || d != day {
			if file != nil {
				_ = file.Close()
			}
			f, err := os.OpenFile(l.fileFor(d), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
			if err != nil {
				l.logger.Error().Err(err).Msg("open audit file")
				file = nil
				return
			}
			file, day = f, d
		}
		line, err := json.Marshal(e)
		if err != nil {
			l.logger.Error().Err(err).Msg("encode audit entry")
			return
		}
		if _, err := file.Write(append(line, '\n')); err != nil {
			l.logger.Error().Err(err).Msg("append audit entry")
		}
	}

	for {
		select {
		case e := <-l.entries:
			write(e)
		case <-l.done:
			for {
				select {
				case e := <-l.entries:
					write(e)
				default:
					return
				}
			}
		}
	}
}

// fileFor returns the path of the day file for a YYYY-MM-DD date.
func (l *Log) fileFor(date string) string {
	return filepath.Join(l.dir, "admin_"+date+".log")
}
