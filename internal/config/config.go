// Package config loads and validates the recording configuration from
// a YAML file, environment variables (FLOWRECAP_ prefix) and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Audio    AudioConfig    `mapstructure:"audio" yaml:"audio"`
	Output   OutputConfig   `mapstructure:"output" yaml:"output"`
	Recorder RecorderConfig `mapstructure:"recorder" yaml:"recorder"`
	Health   HealthConfig   `mapstructure:"health" yaml:"health"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
}

type AudioConfig struct {
	// SampleRate 0 means auto: detect the device's native rate, fall
	// back to a per-device-class default when detection is inconclusive.
	SampleRate        int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels          int    `mapstructure:"channels" yaml:"channels"`
	MicrophoneDevice  string `mapstructure:"microphone_device" yaml:"microphone_device"`
	SystemAudioDevice string `mapstructure:"system_audio_device" yaml:"system_audio_device"`
	CaptureSystem     bool   `mapstructure:"capture_system" yaml:"capture_system"`
}

type OutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
	// FlushThreshold is how many bytes accumulate between WAV header
	// patches.
	FlushThreshold int `mapstructure:"flush_threshold" yaml:"flush_threshold"`
}

type RecorderConfig struct {
	Binary    string        `mapstructure:"binary" yaml:"binary"`
	StopGrace time.Duration `mapstructure:"stop_grace" yaml:"stop_grace"`
}

type HealthConfig struct {
	CheckInterval  time.Duration `mapstructure:"check_interval" yaml:"check_interval"`
	StallThreshold time.Duration `mapstructure:"stall_threshold" yaml:"stall_threshold"`
}

type ServerConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
}

func defaults() Config {
	return Config{
		Audio: AudioConfig{
			SampleRate:        0, // auto
			Channels:          1,
			MicrophoneDevice:  "default",
			SystemAudioDevice: "",
			CaptureSystem:     true,
		},
		Output: OutputConfig{
			Directory:      filepath.Join(os.Getenv("HOME"), "Audio", "FlowRecap"),
			FlushThreshold: 32 * 1024,
		},
		Recorder: RecorderConfig{
			Binary:    "ffmpeg",
			StopGrace: 100 * time.Millisecond,
		},
		Health: HealthConfig{
			CheckInterval:  5 * time.Second,
			StallThreshold: 10 * time.Second,
		},
		Server: ServerConfig{
			Port: 8721,
		},
	}
}

// DefaultPath is where Load looks when no explicit file is given.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "flowrecap.yaml")
}

// Load reads configFile (or the default path when empty), layering
// file values and FLOWRECAP_* environment variables over the
// defaults. A missing file is not an error; defaults apply.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	def := defaults()
	v.SetDefault("audio.sample_rate", def.Audio.SampleRate)
	v.SetDefault("audio.channels", def.Audio.Channels)
	v.SetDefault("audio.microphone_device", def.Audio.MicrophoneDevice)
	v.SetDefault("audio.system_audio_device", def.Audio.SystemAudioDevice)
	v.SetDefault("audio.capture_system", def.Audio.CaptureSystem)
	v.SetDefault("output.directory", def.Output.Directory)
	v.SetDefault("output.flush_threshold", def.Output.FlushThreshold)
	v.SetDefault("recorder.binary", def.Recorder.Binary)
	v.SetDefault("recorder.stop_grace", def.Recorder.StopGrace)
	v.SetDefault("health.check_interval", def.Health.CheckInterval)
	v.SetDefault("health.stall_threshold", def.Health.StallThreshold)
	v.SetDefault("server.port", def.Server.Port)

	v.SetEnvPrefix("FLOWRECAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile == "" {
		configFile = DefaultPath()
	}
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, fmt.Errorf("read config file %s: %w", configFile, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.Output.Directory = expandPath(cfg.Output.Directory)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate rejects values the recording pipeline cannot work with.
func (c *Config) Validate() error {
	if c.Audio.SampleRate < 0 || (c.Audio.SampleRate > 0 && c.Audio.SampleRate < 8000) || c.Audio.SampleRate > 192000 {
		return fmt.Errorf("audio.sample_rate must be 0 (auto) or between 8000 and 192000, got %d", c.Audio.SampleRate)
	}
	if c.Audio.Channels < 1 || c.Audio.Channels > 2 {
		return fmt.Errorf("audio.channels must be 1 or 2, got %d", c.Audio.Channels)
	}
	if c.Output.Directory == "" {
		return fmt.Errorf("output.directory is required")
	}
	if c.Output.FlushThreshold < 4096 {
		return fmt.Errorf("output.flush_threshold must be at least 4096 bytes, got %d", c.Output.FlushThreshold)
	}
	if c.Recorder.Binary == "" {
		return fmt.Errorf("recorder.binary is required")
	}
	if c.Recorder.StopGrace <= 0 {
		return fmt.Errorf("recorder.stop_grace must be positive, got %s", c.Recorder.StopGrace)
	}
	if c.Health.CheckInterval <= 0 {
		return fmt.Errorf("health.check_interval must be positive, got %s", c.Health.CheckInterval)
	}
	if c.Health.StallThreshold < c.Health.CheckInterval {
		return fmt.Errorf("health.stall_threshold (%s) must be at least health.check_interval (%s)",
			c.Health.StallThreshold, c.Health.CheckInterval)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	return nil
}

// WriteDefault creates a commented starter config at path. Refuses to
// overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, []byte(defaultTemplate), 0o644)
}

const defaultTemplate = `# flowrecap configuration
audio:
  # 0 = auto: use the device's native rate, or a sensible default
  # when detection is inconclusive.
  sample_rate: 0
  channels: 1
  # Device name, substring, or "default".
  microphone_device: default
  # Loopback/monitor device for system audio (e.g. BlackHole on macOS,
  # a .monitor source on PulseAudio). Empty = pick automatically.
  system_audio_device: ""
  capture_system: true

output:
  directory: ~/Audio/FlowRecap
  flush_threshold: 32768

recorder:
  binary: ffmpeg
  stop_grace: 100ms

health:
  check_interval: 5s
  stall_threshold: 10s

server:
  port: 8721
`

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
