package health

import (
	"sync"
	"testing"
	"time"
)

func TestEvaluateStallRules(t *testing.T) {
	m := NewMonitor(time.Hour, 10*time.Second, nil)
	m.mu.Lock()
	m.active = true
	m.startedAt = time.Now().Add(-30 * time.Second)
	m.mu.Unlock()

	tests := []struct {
		name     string
		lastData time.Time
		want     Status
	}{
		{"no data ever, past threshold", time.Time{}, StatusError},
		{"fresh data", time.Now(), StatusHealthy},
		{"data stopped past threshold", time.Now().Add(-15 * time.Second), StatusWarning},
		{"data stopped within threshold", time.Now().Add(-3 * time.Second), StatusHealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m.mu.Lock()
			m.lastData = tt.lastData
			got := m.evaluateLocked(time.Now())
			m.mu.Unlock()
			if got != tt.want {
				t.Errorf("status = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNoteRecoversFromStall(t *testing.T) {
	m := NewMonitor(time.Hour, 10*time.Second, nil)
	m.mu.Lock()
	m.active = true
	m.startedAt = time.Now().Add(-30 * time.Second)
	m.mu.Unlock()

	if got := m.Snapshot().Status; got != StatusError {
		t.Fatalf("status before any data = %s, want %s", got, StatusError)
	}
	m.Note(4096)
	snap := m.Snapshot()
	if snap.Status != StatusHealthy {
		t.Errorf("status after data = %s, want %s", snap.Status, StatusHealthy)
	}
	if snap.TotalBytesReceived != 4096 {
		t.Errorf("total bytes = %d, want 4096", snap.TotalBytesReceived)
	}
}

func TestMonitorEmitsOnStatusChangeOnly(t *testing.T) {
	var mu sync.Mutex
	var events []Event
	m := NewMonitor(time.Hour, time.Millisecond, func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	m.Start()
	defer m.Stop()

	// Past the threshold with no data: first check errors, repeated
	// checks stay silent.
	time.Sleep(5 * time.Millisecond)
	now := time.Now()
	m.check(now)
	m.check(now.Add(time.Second))
	m.check(now.Add(2 * time.Second))

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Code != CodeNoAudioData {
		t.Errorf("code = %s, want %s", events[0].Code, CodeNoAudioData)
	}
	if events[0].Status != StatusError {
		t.Errorf("status = %s, want %s", events[0].Status, StatusError)
	}
}

func TestMonitorPausedChecksAreNoops(t *testing.T) {
	var mu sync.Mutex
	var events []Event
	m := NewMonitor(time.Hour, time.Millisecond, func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	m.Start()
	defer m.Stop()
	m.SetPaused(true)

	time.Sleep(5 * time.Millisecond)
	m.check(time.Now())

	mu.Lock()
	n := len(events)
	mu.Unlock()
	if n != 0 {
		t.Fatalf("got %d events while paused, want 0", n)
	}
}

func TestStopThenStartResetsCounters(t *testing.T) {
	m := NewMonitor(time.Hour, 10*time.Second, nil)
	m.Start()
	m.Note(1000)
	m.Stop()
	m.Start()
	defer m.Stop()
	if got := m.Snapshot().TotalBytesReceived; got != 0 {
		t.Errorf("total after restart = %d, want 0", got)
	}
}
