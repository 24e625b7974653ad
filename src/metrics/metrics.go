// Package metrics samples connection, message, and resource counters into
// bounded history buffers and maintains running totals for the admin
// control plane.
package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultHistoryLength caps each history ring buffer.
const DefaultHistoryLength = 360

// Point is one sampled value.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Snapshot is the state captured at one sampling tick.
type Snapshot struct {
	Timestamp         time.Time  `json:"timestamp"`
	ActiveConnections int        `json:"activeConnections"`
	MessageRate       int64      `json:"messageRate"`
	MemoryBytes       uint64     `json:"memoryBytes"`
	CPULoad           [3]float64 `json:"cpuLoad"`
}

// History holds the four parallel ring buffers.
type History struct {
	Connections []Point `json:"connections"`
	Messages    []Point `json:"messages"`
	Memory      []Point `json:"memory"`
	CPU         []Point `json:"cpu"`
}

// Totals are the running cumulative counters.
type Totals struct {
	TotalConnections   int64   `json:"totalConnections"`
	Disconnections     int64   `json:"disconnections"`
	PeakConnections    int     `json:"peakConnections"`
	TotalMessages      int64   `json:"totalMessages"`
	MessagesToday      int64   `json:"messagesToday"`
	MeanSessionSeconds float64 `json:"meanSessionSeconds"`
	UptimeSeconds      float64 `json:"uptimeSeconds"`
}

// Collector samples on a fixed interval. ActiveFn is queried for the live
// connection count at each tick.
type Collector struct {
	mu       sync.Mutex
	interval time.Duration
	active   func() int
	logger   zerolog.Logger

	connections ring
	messages    ring
	memory      ring
	cpu         ring

	startedAt        time.Time
	totalMessages    int64
	lastSampleTotal  int64
	messagesToday    int64
	totalConnections int64
	disconnections   int64
	activeCount      int
	peak             int
	meanSession      float64
	closedSessions   int64

	cron *cron.Cron
	done chan struct{}
}

// New creates a collector with the given sampling interval and per-buffer
// history cap.
func New(interval time.Duration, historyLength int, logger zerolog.Logger) *Collector {
	if historyLength <= 0 {
		historyLength = DefaultHistoryLength
	}
	return &Collector{
		interval:    interval,
		logger:      logger.With().Str("component", "metrics").Logger(),
		connections: ring{cap: historyLength},
		messages:    ring{cap: historyLength},
		memory:      ring{cap: historyLength},
		cpu:         ring{cap: historyLength},
		startedAt:   time.Now(),
		done:        make(chan struct{}),
	}
}

// Start begins the sampling loop and schedules the local-midnight reset of
// the messages-today counter.
func (c *Collector) Start(activeFn func() int) {
	c.mu.Lock()
	c.active = activeFn
	c.mu.Unlock()

	c.cron = cron.New()
	// Fires at every local midnight; cron handles the rescheduling.
	_, _ = c.cron.AddFunc("0 0 * * *", c.resetDaily)
	c.cron.Start()

	go c.sampleLoop()
}

// Stop halts the sampling loop and the midnight job.
func (c *Collector) Stop() {
	close(c.done)
	if c.cron != nil {
		c.cron.Stop()
	}
}

func (c *Collector) sampleLoop() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sample()
		case <-c.done:
			return
		}
	}
}

// sample appends one snapshot to each ring buffer.
func (c *Collector) sample() {
	snap := c.capture()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.connections.push(Point{snap.Timestamp, float64(snap.ActiveConnections)})
	c.messages.push(Point{snap.Timestamp, float64(snap.MessageRate)})
	c.memory.push(Point{snap.Timestamp, float64(snap.MemoryBytes)})
	c.cpu.push(Point{snap.Timestamp, snap.CPULoad[0]})
}

// capture builds a snapshot and advances the message-rate baseline.
func (c *Collector) capture() Snapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	c.mu.Lock()
	defer c.mu.Unlock()

	rate := c.totalMessages - c.lastSampleTotal
	c.lastSampleTotal = c.totalMessages

	active := 0
	if c.active != nil {
		active = c.active()
	}
	c.activeCount = active

	return Snapshot{
		Timestamp:         time.Now(),
		ActiveConnections: active,
		MessageRate:       rate,
		MemoryBytes:       ms.Alloc,
		CPULoad:           loadAverages(),
	}
}

// Current captures a snapshot without recording it into the history.
func (c *Collector) Current() Snapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	c.mu.Lock()
	defer c.mu.Unlock()

	active := 0
	if c.active != nil {
		active = c.active()
	}
	return Snapshot{
		Timestamp:         time.Now(),
		ActiveConnections: active,
		MessageRate:       c.totalMessages - c.lastSampleTotal,
		MemoryBytes:       ms.Alloc,
		CPULoad:           loadAverages(),
	}
}

// RecordMessage counts one routed chat message.
func (c *Collector) RecordMessage() {
	c.mu.Lock()
	c.totalMessages++
	c.messagesToday++
	c.mu.Unlock()
}

// RecordConnect counts a new connection and tracks the concurrent peak.
func (c *Collector) RecordConnect(active int) {
	c.mu.Lock()
	c.totalConnections++
	c.activeCount = active
	if active > c.peak {
		c.peak = active
	}
	c.mu.Unlock()
}

// RecordDisconnect counts a closed connection and folds its session length
// into the incrementally-updated mean.
func (c *Collector) RecordDisconnect(active int, sessionDuration time.Duration) {
	c.mu.Lock()
	c.disconnections++
	c.activeCount = active
	c.closedSessions++
	c.meanSession += (sessionDuration.Seconds() - c.meanSession) / float64(c.closedSessions)
	c.mu.Unlock()
}

// History returns copies of the four ring buffers.
func (c *Collector) History() History {
	c.mu.Lock()
	defer c.mu.Unlock()
	return History{
		Connections: c.connections.snapshot(),
		Messages:    c.messages.snapshot(),
		Memory:      c.memory.snapshot(),
		CPU:         c.cpu.snapshot(),
	}
}

// Totals returns the running cumulative counters.
func (c *Collector) Totals() Totals {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Totals{
		TotalConnections:   c.totalConnections,
		Disconnections:     c.disconnections,
		PeakConnections:    c.peak,
		TotalMessages:      c.totalMessages,
		MessagesToday:      c.messagesToday,
		MeanSessionSeconds: c.meanSession,
		UptimeSeconds:      time.Since(c.startedAt).Seconds(),
	}
}

// resetDaily zeroes the messages-today counter at local midnight.
func (c *Collector) resetDaily() {
	c.mu.Lock()
	c.messagesToday = 0
	c.mu.Unlock()
	c.logger.Info().Msg("daily message counter reset")
}

// ring is a fixed-capacity history buffer; the oldest point is evicted on
// overflow.
type ring struct {
	points []Point
	cap    int
}

func (r *ring) push(p Point) {
	if len(r.points) == r.cap {
		copy(r.points, r.points[1:])
		r.points[len(r.points)-1] = p
		return
	}
	r.points = append(r.points, p)
}

func (r *ring) snapshot() []Point {
	out := make([]Point, len(r.points))
	copy(out, r.points)
	return out
}
