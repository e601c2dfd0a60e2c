// Package device validates configured audio device names against the
// OS device list and detects native sample rates. All failures degrade
// to "unknown" so recording can proceed on the system default.
package device

import (
	"fmt"
	"log/slog"
	"strings"
)

// DefaultSentinel in a config means "use the system default device".
const DefaultSentinel = "default"

// Fallback rates for when native-rate detection is inconclusive.
// VirtualDeviceFallbackRate is a documented heuristic, not a verified
// capability: virtual-cable and aggregate devices in the wild almost
// always run at 48 kHz, and writing a 44.1 kHz header against a 48 kHz
// capture yields audibly wrong playback speed.
const (
	VirtualDeviceFallbackRate = 48000
	MicrophoneFallbackRate    = 44100
)

// Device is one entry in the OS audio device list.
type Device struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Channels   int    `json:"channels,omitempty"`
	NativeRate int    `json:"native_rate,omitempty"` // 0 when unknown
	OutputOnly bool   `json:"output_only,omitempty"`
}

// Lister enumerates audio devices. Platform implementations shell out
// to pactl/arecord/ffmpeg; tests inject a fake.
type Lister interface {
	List() ([]Device, error)
}

// Resolution is the outcome of resolving a configured device name. A
// nil Device means "system default".
type Resolution struct {
	Device  *Device
	Warning string
}

// Resolver resolves configured device names. The platform lister is
// injected at construction, selected once at startup.
type Resolver struct {
	lister Lister
}

// NewResolver builds a resolver. A nil lister selects the platform
// implementation.
func NewResolver(lister Lister) *Resolver {
	if lister == nil {
		lister = newSystemLister()
	}
	return &Resolver{lister: lister}
}

// List returns the current OS capture/output device list.
func (r *Resolver) List() ([]Device, error) {
	return r.lister.List()
}

// Resolve maps a configured name to a concrete device. Unset names and
// the default sentinel resolve to the system default; a name missing
// from the device list degrades to the default with a warning rather
// than failing.
func (r *Resolver) Resolve(name string) Resolution {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, DefaultSentinel) {
		return Resolution{}
	}

	devices, err := r.lister.List()
	if err != nil {
		slog.Warn("device enumeration failed, using system default", "device", name, "error", err)
		return Resolution{Warning: fmt.Sprintf("could not enumerate audio devices (%v); using system default", err)}
	}
	for i := range devices {
		if deviceMatches(devices[i], name) {
			return Resolution{Device: &devices[i]}
		}
	}
	slog.Warn("configured audio device not found, using system default", "device", name)
	return Resolution{Warning: fmt.Sprintf("audio device %q not found; using system default", name)}
}

// DetectNativeRate probes the device's native sample rate. Returns 0
// when detection is inconclusive; it never fails hard.
func (r *Resolver) DetectNativeRate(name string) int {
	res := r.Resolve(name)
	if res.Device != nil && res.Device.NativeRate > 0 {
		return res.Device.NativeRate
	}
	return 0
}

// FallbackRate is the named fallback policy applied when detection is
// inconclusive: virtual/aggregate loopback devices default to 48 kHz,
// everything else to 44.1 kHz.
func FallbackRate(name string) int {
	if LooksVirtual(name) {
		return VirtualDeviceFallbackRate
	}
	return MicrophoneFallbackRate
}

// LooksVirtual reports whether a device name matches the known
// virtual-cable / loopback / aggregate device families.
func LooksVirtual(name string) bool {
	lower := strings.ToLower(name)
	for _, marker := range []string{
		"blackhole", "vb-audio", "vb-cable", "cable output",
		"loopback", "aggregate", "virtual", "soundflower", "monitor",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// LooksOutputOnly reports whether a device cannot be captured from.
// Uses the lister's flag when present and falls back to a name
// heuristic for platforms whose enumeration does not expose direction.
func LooksOutputOnly(d *Device, name string) bool {
	if d != nil {
		return d.OutputOnly
	}
	lower := strings.ToLower(name)
	for _, marker := range []string{"speaker", "headphone", "hdmi", "displayport"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func deviceMatches(d Device, name string) bool {
	if strings.EqualFold(d.ID, name) || strings.EqualFold(d.Name, name) {
		return true
	}
	return strings.Contains(strings.ToLower(d.Name), strings.ToLower(name))
}
