package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flowrecap.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Audio.SampleRate != 0 {
		t.Errorf("SampleRate = %d, want 0 (auto)", cfg.Audio.SampleRate)
	}
	if cfg.Audio.Channels != 1 {
		t.Errorf("Channels = %d, want 1", cfg.Audio.Channels)
	}
	if cfg.Recorder.StopGrace != 100*time.Millisecond {
		t.Errorf("StopGrace = %s, want 100ms", cfg.Recorder.StopGrace)
	}
	if cfg.Health.CheckInterval != 5*time.Second || cfg.Health.StallThreshold != 10*time.Second {
		t.Errorf("health defaults = %s/%s, want 5s/10s",
			cfg.Health.CheckInterval, cfg.Health.StallThreshold)
	}
	if cfg.Output.FlushThreshold != 32*1024 {
		t.Errorf("FlushThreshold = %d, want 32768", cfg.Output.FlushThreshold)
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := writeConfig(t, `
audio:
  sample_rate: 48000
  microphone_device: "USB Mic"
  system_audio_device: "BlackHole 2ch"
output:
  directory: /tmp/recordings
recorder:
  stop_grace: 250ms
server:
  port: 9000
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Audio.SampleRate != 48000 {
		t.Errorf("SampleRate = %d, want 48000", cfg.Audio.SampleRate)
	}
	if cfg.Audio.MicrophoneDevice != "USB Mic" {
		t.Errorf("MicrophoneDevice = %q", cfg.Audio.MicrophoneDevice)
	}
	if cfg.Recorder.StopGrace != 250*time.Millisecond {
		t.Errorf("StopGrace = %s, want 250ms", cfg.Recorder.StopGrace)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Server.Port)
	}
	// Unspecified sections keep defaults.
	if cfg.Health.StallThreshold != 10*time.Second {
		t.Errorf("StallThreshold = %s, want default 10s", cfg.Health.StallThreshold)
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	path := writeConfig(t, "output:\n  directory: ~/captures\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	home, _ := os.UserHomeDir()
	if cfg.Output.Directory != filepath.Join(home, "captures") {
		t.Errorf("Directory = %q, want under %q", cfg.Output.Directory, home)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"sample rate too low", func(c *Config) { c.Audio.SampleRate = 4000 }, "sample_rate"},
		{"sample rate too high", func(c *Config) { c.Audio.SampleRate = 400000 }, "sample_rate"},
		{"zero channels", func(c *Config) { c.Audio.Channels = 0 }, "channels"},
		{"too many channels", func(c *Config) { c.Audio.Channels = 6 }, "channels"},
		{"empty output dir", func(c *Config) { c.Output.Directory = "" }, "directory"},
		{"tiny flush threshold", func(c *Config) { c.Output.FlushThreshold = 100 }, "flush_threshold"},
		{"empty binary", func(c *Config) { c.Recorder.Binary = "" }, "binary"},
		{"negative grace", func(c *Config) { c.Recorder.StopGrace = -time.Second }, "stop_grace"},
		{"stall below interval", func(c *Config) { c.Health.StallThreshold = time.Second }, "stall_threshold"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate accepted invalid config")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDefaultRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowrecap.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}
	// The template must round-trip through Load.
	if _, err := Load(path); err != nil {
		t.Errorf("generated default config does not load: %v", err)
	}
	if err := WriteDefault(path); err == nil {
		t.Error("WriteDefault overwrote an existing file")
	}
}
