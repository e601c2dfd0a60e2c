//go:build darwin

package capture

import (
	"strconv"

	"github.com/ziadeh/flowrecap/internal/wav"
)

// buildCaptureArgs assembles the ffmpeg invocation for an AVFoundation
// audio device, emitting raw s16le PCM on stdout. AVFoundation
// addresses audio devices as ":<index>"; ":default" selects the
// system default input.
func buildCaptureArgs(deviceID string, format wav.Format) []string {
	input := ":default"
	if deviceID != "" {
		input = ":" + deviceID
	}
	return []string{
		"-hide_banner",
		"-loglevel", recorderLogLevel(),
		"-f", "avfoundation",
		"-i", input,
		"-ac", strconv.Itoa(format.Channels),
		"-ar", strconv.Itoa(format.SampleRate),
		"-f", "s16le",
		"pipe:1",
	}
}
