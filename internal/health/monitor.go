// Package health watches byte arrival on the capture path and raises
// events when data stalls. Either capture source counts as alive:
// bytes from the microphone or the system loopback both feed the same
// timestamp.
package health

import (
	"log/slog"
	"sync"
	"time"
)

// Status of the capture data flow.
type Status string

const (
	StatusHealthy Status = "healthy"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// Event codes.
const (
	CodeNoAudioData     = "NO_AUDIO_DATA"
	CodeDataInterrupted = "AUDIO_DATA_INTERRUPTED"
	CodeWriteError      = "WRITE_ERROR"
	CodeProcessExited   = "PROCESS_EXITED"
	CodeHealthy         = "OK"
)

// Defaults for the periodic check.
const (
	DefaultCheckInterval  = 5 * time.Second
	DefaultStallThreshold = 10 * time.Second
)

// Event is emitted when the health status changes.
type Event struct {
	Status  Status    `json:"status"`
	Code    string    `json:"code"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Snapshot is the current health view; recomputed on demand, not
// persisted.
type Snapshot struct {
	Status             Status `json:"status"`
	LastDataAgeMs      int64  `json:"last_data_age_ms"`
	TotalBytesReceived int64  `json:"total_bytes_received"`
}

// Monitor runs a fixed-interval stall check while a recording is
// active. Checks are no-ops while paused or stopped.
type Monitor struct {
	interval  time.Duration
	threshold time.Duration
	emit      func(Event)

	mu        sync.Mutex
	active    bool
	paused    bool
	startedAt time.Time
	lastData  time.Time
	total     int64
	last      Status

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewMonitor builds a monitor emitting status-change events through
// emit. Zero durations select the defaults.
func NewMonitor(interval, threshold time.Duration, emit func(Event)) *Monitor {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	if threshold <= 0 {
		threshold = DefaultStallThreshold
	}
	return &Monitor{
		interval:  interval,
		threshold: threshold,
		emit:      emit,
	}
}

// Start resets counters and begins periodic checks.
func (m *Monitor) Start() {
	m.mu.Lock()
	m.active = true
	m.paused = false
	m.startedAt = time.Now()
	m.lastData = time.Time{}
	m.total = 0
	m.last = StatusHealthy
	m.stop = make(chan struct{})
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop()
}

// Stop halts checking and resets counters.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	m.active = false
	close(m.stop)
	m.mu.Unlock()
	m.wg.Wait()
}

// SetPaused suspends stall evaluation while the session is paused.
func (m *Monitor) SetPaused(paused bool) {
	m.mu.Lock()
	m.paused = paused
	if !paused {
		// Data legitimately stopped during the pause; restart the
		// stall clock rather than firing immediately on resume.
		m.lastData = time.Now()
	}
	m.mu.Unlock()
}

// Note records n bytes arriving from any capture source.
func (m *Monitor) Note(n int) {
	m.mu.Lock()
	m.total += int64(n)
	m.lastData = time.Now()
	m.mu.Unlock()
}

// Snapshot returns the current health view.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := Snapshot{Status: m.evaluateLocked(time.Now()), TotalBytesReceived: m.total}
	if !m.lastData.IsZero() {
		snap.LastDataAgeMs = time.Since(m.lastData).Milliseconds()
	}
	return snap
}

func (m *Monitor) loop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			m.check(now)
		}
	}
}

func (m *Monitor) check(now time.Time) {
	m.mu.Lock()
	if !m.active || m.paused {
		m.mu.Unlock()
		return
	}
	status := m.evaluateLocked(now)
	changed := status != m.last
	m.last = status
	total := m.total
	var age time.Duration
	if !m.lastData.IsZero() {
		age = now.Sub(m.lastData)
	}
	m.mu.Unlock()

	if !changed || m.emit == nil {
		return
	}
	ev := Event{Status: status, At: now}
	switch status {
	case StatusError:
		ev.Code = CodeNoAudioData
		ev.Message = "no audio data received since recording started"
	case StatusWarning:
		ev.Code = CodeDataInterrupted
		ev.Message = "audio data stopped arriving " + age.Truncate(time.Second).String() + " ago"
	default:
		ev.Code = CodeHealthy
	}
	slog.Debug("audio health changed", "status", status, "code", ev.Code, "total_bytes", total)
	m.emit(ev)
}

// evaluateLocked applies the stall rules: never-arrived data past the
// threshold is an error, interrupted data past the threshold is a
// warning, anything else is healthy.
func (m *Monitor) evaluateLocked(now time.Time) Status {
	if !m.active {
		return StatusHealthy
	}
	if m.lastData.IsZero() {
		if now.Sub(m.startedAt) >= m.threshold {
			return StatusError
		}
		return StatusHealthy
	}
	if now.Sub(m.lastData) >= m.threshold {
		return StatusWarning
	}
	return StatusHealthy
}
