//go:build windows

package device

import (
	"os/exec"
	"regexp"
	"strings"
)

// dshowLister enumerates Windows capture devices from ffmpeg's
// DirectShow device listing. Rate metadata is not exposed, so
// NativeRate stays 0 and the fallback-rate policy applies.
type dshowLister struct{}

func newSystemLister() Lister { return dshowLister{} }

// FFmpeg output format varies across versions; filter on the "(audio)"
// suffix instead of section headers. Matches lines like:
// [dshow @ 0x...] "Microphone (Realtek)" (audio)
var dshowDeviceRe = regexp.MustCompile(`\[dshow[^\]]*\]\s*"([^"]+)"\s*\(audio\)`)

func (dshowLister) List() ([]Device, error) {
	// ffmpeg exits non-zero after listing; the output is still valid.
	out, _ := exec.Command("ffmpeg", "-hide_banner",
		"-f", "dshow", "-list_devices", "true", "-i", "dummy").CombinedOutput()

	var devices []Device
	for _, line := range strings.Split(string(out), "\n") {
		if m := dshowDeviceRe.FindStringSubmatch(line); m != nil {
			name := strings.TrimSpace(m[1])
			devices = append(devices, Device{ID: name, Name: name})
		}
	}
	return devices, nil
}
