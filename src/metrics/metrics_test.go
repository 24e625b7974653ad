package metrics

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingNeverExceedsCap(t *testing.T) {
	c := New(time.Second, 5, zerolog.Nop())
	c.active = func() int { return 2 }

	for i := 0; i < 20; i++ {
		c.RecordMessage()
		c.sample()
	}

	h := c.History()
	assert.Len(t, h.Connections, 5)
	assert.Len(t, h.Messages, 5)
	assert.Len(t, h.Memory, 5)
	assert.Len(t, h.CPU, 5)
}

func TestRingEvictsOldestFirst(t *testing.T) {
	r := ring{cap: 3}
	base := time.Now()
	for i := 0; i < 5; i++ {
		r.push(Point{Timestamp: base.Add(time.Duration(i) * time.Second), Value: float64(i)})
	}
	points := r.snapshot()
	require.Len(t, points, 3)
	assert.Equal(t, float64(2), points[0].Value)
	assert.Equal(t, float64(4), points[2].Value)
}

func TestMessageRateIsDeltaSinceLastSample(t *testing.T) {
	c := New(time.Second, 10, zerolog.Nop())

	c.RecordMessage()
	c.RecordMessage()
	c.RecordMessage()
	c.sample()

	h := c.History()
	require.Len(t, h.Messages, 1)
	assert.Equal(t, float64(3), h.Messages[0].Value)

	c.RecordMessage()
	c.sample()
	h = c.History()
	assert.Equal(t, float64(1), h.Messages[1].Value, "rate resets each sample")
}

func TestCumulativeCounters(t *testing.T) {
	c := New(time.Second, 10, zerolog.Nop())

	c.RecordConnect(1)
	c.RecordConnect(2)
	c.RecordConnect(3)
	c.RecordDisconnect(2, 2*time.Second)
	c.RecordDisconnect(1, 4*time.Second)

	totals := c.Totals()
	assert.EqualValues(t, 3, totals.TotalConnections)
	assert.EqualValues(t, 2, totals.Disconnections)
	assert.Equal(t, 3, totals.PeakConnections)
	assert.InDelta(t, 3.0, totals.MeanSessionSeconds, 0.001)
}

func TestDailyReset(t *testing.T) {
	c := New(time.Second, 10, zerolog.Nop())

	c.RecordMessage()
	c.RecordMessage()
	assert.EqualValues(t, 2, c.Totals().MessagesToday)

	c.resetDaily()
	totals := c.Totals()
	assert.EqualValues(t, 0, totals.MessagesToday)
	assert.EqualValues(t, 2, totals.TotalMessages, "lifetime counter survives the reset")
}
