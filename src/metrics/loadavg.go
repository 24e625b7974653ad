package metrics

import (
	"os"
	"strconv"
	"strings"
)

// loadAverages reads the OS 1/5/15-minute load averages. On platforms
// without /proc/loadavg it returns zeros.
func loadAverages() [3]float64 {
	var out [3]float64
	raw, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return out
	}
	fields := strings.Fields(string(raw))
	for i := 0; i < 3 && i < len(fields); i++ {
		if v, err := strconv.ParseFloat(fields[i], 64); err == nil {
			out[i] = v
		}
	}
	return out
}
