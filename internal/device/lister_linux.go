//go:build linux

package device

import (
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// pulseLister enumerates PulseAudio/PipeWire devices via pactl.
// Sources are capturable; sinks are listed too, flagged output-only,
// so a sink name configured as a capture device is detected instead of
// silently producing no audio.
type pulseLister struct{}

func newSystemLister() Lister { return pulseLister{} }

// pactl short format: ID<TAB>NAME<TAB>DRIVER<TAB>SAMPLE_SPEC<TAB>STATE
// where SAMPLE_SPEC looks like "s16le 2ch 44100Hz".
var sampleSpecRe = regexp.MustCompile(`(\d+)ch\s+(\d+)Hz`)

func (pulseLister) List() ([]Device, error) {
	sources, err := pactlShort("sources")
	if err != nil {
		return nil, err
	}
	devices := parsePactlShort(sources, false)

	// Sink enumeration is best-effort; capture still works without it.
	if sinks, err := pactlShort("sinks"); err == nil {
		devices = append(devices, parsePactlShort(sinks, true)...)
	}
	return devices, nil
}

func pactlShort(kind string) (string, error) {
	out, err := exec.Command("pactl", "list", "short", kind).Output()
	if err != nil {
		return "", fmt.Errorf("pactl list short %s: %w", kind, err)
	}
	return string(out), nil
}

func parsePactlShort(out string, outputOnly bool) []Device {
	var devices []Device
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Split(strings.TrimSpace(line), "\t")
		if len(fields) < 4 {
			continue
		}
		d := Device{
			ID:         fields[0],
			Name:       fields[1],
			OutputOnly: outputOnly,
		}
		if m := sampleSpecRe.FindStringSubmatch(fields[3]); m != nil {
			d.Channels, _ = strconv.Atoi(m[1])
			d.NativeRate, _ = strconv.Atoi(m[2])
		}
		devices = append(devices, d)
	}
	return devices
}
