// Package level computes RMS and peak amplitude from the live PCM
// stream for level metering and silence display.
package level

import (
	"math"
	"sync"
	"time"
)

// DefaultInterval caps level emission at roughly 13 Hz.
const DefaultInterval = 80 * time.Millisecond

// Level is one metering sample. RMS and Peak are normalized to [0, 1]
// relative to full scale.
type Level struct {
	RMS  float64   `json:"rms"`
	Peak float64   `json:"peak"`
	At   time.Time `json:"at"`
}

// Meter accumulates s16le PCM and emits a Level at most once per
// interval. Feed is called from the capture path, so emission is
// rate-limited rather than timer-driven.
type Meter struct {
	interval time.Duration
	emit     func(Level)

	mu       sync.Mutex
	sumSq    float64
	peak     float64
	count    int
	lastEmit time.Time
}

// NewMeter builds a meter emitting through emit. Zero interval selects
// DefaultInterval.
func NewMeter(interval time.Duration, emit func(Level)) *Meter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Meter{interval: interval, emit: emit}
}

// Feed accumulates one PCM chunk and emits when the interval elapsed.
func (m *Meter) Feed(chunk []byte) {
	m.mu.Lock()
	for i := 0; i+1 < len(chunk); i += 2 {
		v := float64(int16(uint16(chunk[i])|uint16(chunk[i+1])<<8)) / 32768.0
		m.sumSq += v * v
		if a := math.Abs(v); a > m.peak {
			m.peak = a
		}
		m.count++
	}
	now := time.Now()
	if m.count == 0 || now.Sub(m.lastEmit) < m.interval {
		m.mu.Unlock()
		return
	}
	lvl := Level{
		RMS:  math.Sqrt(m.sumSq / float64(m.count)),
		Peak: m.peak,
		At:   now,
	}
	m.sumSq, m.peak, m.count = 0, 0, 0
	m.lastEmit = now
	emit := m.emit
	m.mu.Unlock()

	if emit != nil {
		emit(lvl)
	}
}

// Reset clears accumulated state between sessions.
func (m *Meter) Reset() {
	m.mu.Lock()
	m.sumSq, m.peak, m.count = 0, 0, 0
	m.lastEmit = time.Time{}
	m.mu.Unlock()
}
