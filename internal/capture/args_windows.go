//go:build windows

package capture

import (
	"strconv"

	"github.com/ziadeh/flowrecap/internal/wav"
)

// buildCaptureArgs assembles the ffmpeg invocation for a DirectShow
// audio device, emitting raw s16le PCM on stdout. DirectShow has no
// default-device sentinel, so an empty deviceID falls back to the
// stereo-mix style "default" alias some drivers expose; configuring an
// explicit device name is recommended on Windows.
func buildCaptureArgs(deviceID string, format wav.Format) []string {
	input := deviceID
	if input == "" {
		input = "default"
	}
	return []string{
		"-hide_banner",
		"-loglevel", recorderLogLevel(),
		"-f", "dshow",
		"-i", "audio=" + input,
		"-ac", strconv.Itoa(format.Channels),
		"-ar", strconv.Itoa(format.SampleRate),
		"-f", "s16le",
		"pipe:1",
	}
}
