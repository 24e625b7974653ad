// Package logging configures the operational zerolog logger. Log lines go
// to stderr and, when a directory is configured, to a day-partitioned JSON
// file (chat_server_YYYY-MM-DD.log). File logging is best-effort; a write
// failure never affects the caller.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// New builds the root logger. dir may be empty to log to stderr only.
func New(dir, level string) (zerolog.Logger, io.Closer) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var w io.Writer = os.Stderr
	var closer io.Closer
	if dir != "" {
		dw := &dailyWriter{dir: dir, prefix: "chat_server_"}
		w = zerolog.MultiLevelWriter(os.Stderr, dw)
		closer = dw
	}
	logger := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return logger, closer
}

// dailyWriter appends to one file per calendar day, rolling at the first
// write past local midnight.
type dailyWriter struct {
	dir    string
	prefix string

	mu   sync.Mutex
	day  string
	file *os.File
}

func (w *dailyWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	day := time.Now().Format("2006-01-02")
	if w.file == nil || day != w.day {
		if w.file != nil {
			_ = w.file.Close()
			w.file = nil
		}
		if err := os.MkdirAll(w.dir, 0o750); err != nil {
			return len(p), nil
		}
		path := filepath.Join(w.dir, w.prefix+day+".log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return len(p), nil
		}
		w.file, w.day = f, day
	}
	if _, err := w.file.Write(p); err != nil {
		return len(p), nil
	}
	return len(p), nil
}

func (w *dailyWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		err := w.file.Close()
		w.file = nil
		return err
	}
	return nil
}
