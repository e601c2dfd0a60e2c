//go:build linux

package capture

import (
	"strconv"

	"github.com/ziadeh/flowrecap/internal/wav"
)

// buildCaptureArgs assembles the ffmpeg invocation for a PulseAudio or
// PipeWire source, emitting raw s16le PCM on stdout.
func buildCaptureArgs(deviceID string, format wav.Format) []string {
	input := deviceID
	if input == "" {
		input = "default"
	}
	return []string{
		"-hide_banner",
		"-loglevel", recorderLogLevel(),
		"-f", "pulse",
		"-i", input,
		"-ac", strconv.Itoa(format.Channels),
		"-ar", strconv.Itoa(format.SampleRate),
		"-f", "s16le",
		"pipe:1",
	}
}
