//go:build darwin

package device

import (
	"os/exec"
	"regexp"
	"strings"
)

// avfoundationLister enumerates macOS capture devices by parsing the
// device listing ffmpeg prints on stderr. AVFoundation only exposes
// capture devices and no rate metadata, so NativeRate stays 0
// (inconclusive) and output-only detection falls back to the name
// heuristic.
type avfoundationLister struct{}

func newSystemLister() Lister { return avfoundationLister{} }

// Matches lines like: [AVFoundation indev @ 0x...] [0] MacBook Pro Microphone
var avDeviceRe = regexp.MustCompile(`\[AVFoundation[^\]]*\]\s*\[(\d+)\]\s+(.+)`)

func (avfoundationLister) List() ([]Device, error) {
	// ffmpeg exits non-zero after listing; the output is still valid.
	out, _ := exec.Command("ffmpeg", "-hide_banner",
		"-f", "avfoundation", "-list_devices", "true", "-i", "").CombinedOutput()

	var devices []Device
	inAudio := false
	for _, line := range strings.Split(string(out), "\n") {
		if strings.Contains(line, "AVFoundation audio devices") {
			inAudio = true
			continue
		}
		if strings.Contains(line, "AVFoundation video devices") {
			inAudio = false
			continue
		}
		if !inAudio {
			continue
		}
		if m := avDeviceRe.FindStringSubmatch(line); m != nil {
			devices = append(devices, Device{
				ID:   m[1],
				Name: strings.TrimSpace(m[2]),
			})
		}
	}
	return devices, nil
}
