package session

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Sidecar is the <recording>.meta.yaml written next to the WAV on
// stop, so downstream transcription jobs get session context without
// parsing the audio.
type Sidecar struct {
	SessionID       string    `yaml:"session_id"`
	File            string    `yaml:"file"`
	StartedAt       time.Time `yaml:"started_at"`
	DurationSeconds float64   `yaml:"duration_seconds"`
	PausedSeconds   float64   `yaml:"paused_seconds"`
	SampleRate      int       `yaml:"sample_rate"`
	Channels        int       `yaml:"channels"`
	SystemCapture   bool      `yaml:"system_capture"`
	Warnings        []string  `yaml:"warnings,omitempty"`
}

func writeSidecar(sess *activeSession, duration time.Duration) error {
	format := sess.mixer.Format()
	meta := Sidecar{
		SessionID:       sess.id,
		File:            sess.filePath,
		StartedAt:       sess.startedAt,
		DurationSeconds: duration.Seconds(),
		PausedSeconds:   sess.pausedTotal.Seconds(),
		SampleRate:      format.SampleRate,
		Channels:        format.Channels,
		SystemCapture:   sess.sys != nil,
		Warnings:        sess.warnings,
	}
	data, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal sidecar: %w", err)
	}
	return os.WriteFile(sess.filePath+".meta.yaml", data, 0o644)
}
