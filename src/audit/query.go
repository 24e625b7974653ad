package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Filter narrows a day query. Zero values match everything; Limit 0 means
// no limit.
type Filter struct {
	Username string
	Action   string
	Limit    int
	Offset   int
}

// Query reads a single day's entries (date as YYYY-MM-DD), silently skipping
// malformed lines, and returns the filtered page ordered newest first.
func (l *Log) Query(date string, f Filter) ([]Entry, error) {
	if _, err := time.Parse(fileLayout, date); err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}

	file, err := os.Open(l.fileFor(date))
	if os.IsNotExist(err) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		if f.Username != "" && e.Username != f.Username {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	// File order is oldest first; reverse for newest first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	if f.Offset > 0 {
		if f.Offset >= len(entries) {
			return []Entry{}, nil
		}
		entries = entries[f.Offset:]
	}
	if f.Limit > 0 && len(entries) > f.Limit {
		entries = entries[:f.Limit]
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

// RetentionSweep deletes day files older than the configured retention
// window, judged by the date encoded in the filename. It returns the number
// of files removed. A RetentionDays of zero disables the sweep.
func (l *Log) RetentionSweep() (int, error) {
	if l.opts.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -l.opts.RetentionDays)

	dirents, err := os.ReadDir(l.dir)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, de := range dirents {
		name := de.Name()
		if !strings.HasPrefix(name, "admin_") || !strings.HasSuffix(name, ".log") {
			continue
		}
		date := strings.TrimSuffix(strings.TrimPrefix(name, "admin_"), ".log")
		day, err := time.Parse(fileLayout, date)
		if err != nil {
			continue
		}
		if !day.Before(cutoff) {
			continue
		}
		if err := os.Remove(l.fileFor(date)); err != nil {
			l.logger.Error().Err(err).Str("file", name).Msg("retention delete failed")
			continue
		}
		removed++
	}
	if removed > 0 {
		l.logger.Info().Int("removed", removed).Msg("audit retention sweep")
	}
	return removed, nil
}
