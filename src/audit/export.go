package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Export materializes a filtered day's entries as JSON or CSV.
func (l *Log) Export(date, format string, f Filter) ([]byte, error) {
	entries, err := l.Query(date, f)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatJSON:
		return json.MarshalIndent(entries, "", "  ")
	case FormatCSV:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		if err := w.Write([]string{"timestamp", "username", "action", "details"}); err != nil {
			return nil, err
		}
		for _, e := range entries {
			details := ""
			if e.Details != nil {
				raw, err := json.Marshal(e.Details)
				if err == nil {
					details = string(raw)
				}
			}
			record := []string{
				e.Timestamp.Format(time.RFC3339),
				e.Username,
				e.Action,
				details,
			}
			if err := w.Write(record); err != nil {
				return nil, err
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}
