// Package session owns the recording lifecycle: device resolution,
// capture process supervision, mixing, disk writing, health checks and
// the event streams downstream consumers subscribe to.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/ziadeh/flowrecap/internal/broadcast"
	"github.com/ziadeh/flowrecap/internal/capture"
	"github.com/ziadeh/flowrecap/internal/config"
	"github.com/ziadeh/flowrecap/internal/device"
	"github.com/ziadeh/flowrecap/internal/health"
	"github.com/ziadeh/flowrecap/internal/level"
	"github.com/ziadeh/flowrecap/internal/mix"
	"github.com/ziadeh/flowrecap/internal/wav"
)

// State of the recording session.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StatePaused    State = "paused"
	StateStopping  State = "stopping"
)

// ErrAlreadyRecording is returned by Start while a session is active.
var ErrAlreadyRecording = errors.New("a recording is already in progress")

// minFreeDiskBytes is the preflight floor: starting a recording with
// less free space than this fails rather than dying mid-meeting.
const minFreeDiskBytes = 50 * 1024 * 1024

// Chunk is one PCM chunk published on the audio stream. Source is
// "mixed" for the post-mix stream written to disk, "microphone" or
// "system" for the raw per-source streams.
type Chunk struct {
	Data   []byte
	Source string
	Format wav.Format
}

// StartInfo describes a session that just started. DeviceUsed names
// the resolved microphone device ("default" for the system default),
// and SampleRateConfigured preserves the configured value (0 = auto)
// alongside the rate actually in use.
type StartInfo struct {
	SessionID            string    `json:"session_id"`
	StartTime            time.Time `json:"start_time"`
	FilePath             string    `json:"file_path"`
	DeviceUsed           string    `json:"device_used"`
	SampleRateUsed       int       `json:"sample_rate_used"`
	SampleRateConfigured int       `json:"sample_rate_configured"`
	Warnings             []string  `json:"warnings,omitempty"`
}

// StopResult reports the outcome of a stop. Stopping while idle
// succeeds with a zero duration and no file.
type StopResult struct {
	Success  bool          `json:"success"`
	Duration time.Duration `json:"-"`
	FilePath string        `json:"file_path,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Status is the live session view.
type Status struct {
	State     State            `json:"state"`
	SessionID string           `json:"session_id,omitempty"`
	FilePath  string           `json:"file_path,omitempty"`
	Elapsed   time.Duration    `json:"-"`
	Health    *health.Snapshot `json:"health,omitempty"`
	Warnings  []string         `json:"warnings,omitempty"`
}

// CaptureHandle is the per-process stream surface the controller
// consumes.
type CaptureHandle interface {
	Chunks() <-chan []byte
	Exits() <-chan capture.ExitEvent
	Format() wav.Format
	Source() string
}

// CaptureAdapter abstracts process control so tests can substitute a
// scripted capture source.
type CaptureAdapter interface {
	Start(source, deviceID string, format wav.Format) (CaptureHandle, error)
	Pause(CaptureHandle) error
	Resume(CaptureHandle) error
	Stop(CaptureHandle) error
}

// realAdapter bridges the concrete process adapter to the interface.
type realAdapter struct{ a *capture.Adapter }

func (r realAdapter) Start(source, deviceID string, format wav.Format) (CaptureHandle, error) {
	return r.a.Start(source, deviceID, format)
}
func (r realAdapter) Pause(h CaptureHandle) error  { return r.a.Pause(h.(*capture.Handle)) }
func (r realAdapter) Resume(h CaptureHandle) error { return r.a.Resume(h.(*capture.Handle)) }
func (r realAdapter) Stop(h CaptureHandle) error   { return r.a.Stop(h.(*capture.Handle)) }

// recordingWriter is the destination for the mixed stream, an
// interface so tests can inject write failures.
type recordingWriter interface {
	Write([]byte) (int, error)
	Close() error
}

type writerFactory func(path string, format wav.Format, threshold int) (recordingWriter, error)

// Controller drives one recording session at a time and fans events
// out to subscribers. All public methods are safe for concurrent use.
type Controller struct {
	cfg       *config.Config
	adapter   CaptureAdapter
	resolver  *device.Resolver
	newWriter writerFactory

	levels    *broadcast.Hub[level.Level]
	healthHub *broadcast.Hub[health.Event]
	chunks    *broadcast.Hub[Chunk]

	mu    sync.Mutex
	state State
	sess  *activeSession
}

// activeSession holds everything torn down on stop.
type activeSession struct {
	id        string
	filePath  string
	startedAt time.Time
	warnings  []string

	mic CaptureHandle
	sys CaptureHandle

	writer  recordingWriter
	mixer   *mix.Mixer
	monitor *health.Monitor
	meter   *level.Meter

	pausedAt    time.Time
	pausedTotal time.Duration

	pumps sync.WaitGroup

	writeErrOnce sync.Once
	writeErr     error

	stopDone chan struct{}
	result   StopResult
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithAdapter substitutes the capture adapter.
func WithAdapter(a CaptureAdapter) ControllerOption {
	return func(c *Controller) { c.adapter = a }
}

// WithResolver substitutes the device resolver.
func WithResolver(r *device.Resolver) ControllerOption {
	return func(c *Controller) { c.resolver = r }
}

// NewController builds an idle controller from config.
func NewController(cfg *config.Config, opts ...ControllerOption) *Controller {
	c := &Controller{
		cfg: cfg,
		adapter: realAdapter{capture.NewAdapter(
			capture.WithBinary(cfg.Recorder.Binary),
			capture.WithStopGrace(cfg.Recorder.StopGrace),
		)},
		newWriter: func(path string, format wav.Format, threshold int) (recordingWriter, error) {
			return wav.NewWriter(path, format, threshold)
		},
		resolver:  device.NewResolver(nil),
		state:     StateIdle,
		levels:    broadcast.NewHub[level.Level](0),
		healthHub: broadcast.NewHub[health.Event](0),
		chunks:    broadcast.NewHub[Chunk](0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Levels streams level-meter samples, rate-limited at the meter.
func (c *Controller) Levels() (<-chan level.Level, func()) { return c.levels.Subscribe() }

// Health streams health status changes.
func (c *Controller) Health() (<-chan health.Event, func()) { return c.healthHub.Subscribe() }

// Audio streams PCM chunks: the mixed stream plus the raw per-source
// streams, distinguished by Chunk.Source.
func (c *Controller) Audio() (<-chan Chunk, func()) { return c.chunks.Subscribe() }

// Start begins a new recording session. Fails when one is already
// active, when the recorder binary is missing, when the microphone
// capture cannot start, or when free disk space is below the floor.
// Degraded conditions (missing configured device, unusable system
// loopback) start anyway and surface as warnings.
func (c *Controller) Start(sessionID string) (*StartInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return nil, ErrAlreadyRecording
	}

	// Setup runs to completion under the lock. A Stop racing the start,
	// including the automatic stop after a capture process dies right
	// away, blocks until the session is fully assembled and published,
	// so it always has something to tear down.
	info, err := c.startLocked(sessionID)
	if err != nil {
		c.state = StateIdle
		c.sess = nil
		return nil, err
	}
	c.state = StateRecording
	return info, nil
}

// startLocked assembles the session. Called with c.mu held.
func (c *Controller) startLocked(sessionID string) (*StartInfo, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	var warnings []string

	micRes := c.resolver.Resolve(c.cfg.Audio.MicrophoneDevice)
	if micRes.Warning != "" {
		warnings = append(warnings, micRes.Warning)
	}

	captureSystem := c.cfg.Audio.CaptureSystem
	var sysRes device.Resolution
	if captureSystem {
		sysRes = c.resolver.Resolve(c.cfg.Audio.SystemAudioDevice)
		if sysRes.Warning != "" {
			warnings = append(warnings, sysRes.Warning)
		}
		if device.LooksOutputOnly(sysRes.Device, c.cfg.Audio.SystemAudioDevice) {
			warnings = append(warnings,
				fmt.Sprintf("system audio device %q is a playback device, not a loopback source; recording microphone only",
					c.cfg.Audio.SystemAudioDevice))
			captureSystem = false
		}
	}

	micFormat := c.captureFormat(micRes.Device, c.cfg.Audio.MicrophoneDevice)
	sysFormat := micFormat
	if captureSystem {
		sysFormat = c.captureFormat(sysRes.Device, c.cfg.Audio.SystemAudioDevice)
	}

	if err := os.MkdirAll(c.cfg.Output.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	if err := checkDiskSpace(c.cfg.Output.Directory); err != nil {
		return nil, err
	}

	filePath := filepath.Join(c.cfg.Output.Directory,
		fmt.Sprintf("flowrecap-%s.wav", time.Now().Format("20060102-150405")))

	sess := &activeSession{
		id:        sessionID,
		filePath:  filePath,
		startedAt: time.Now(),
		warnings:  warnings,
		stopDone:  make(chan struct{}),
	}

	mic, err := c.adapter.Start("microphone", deviceID(micRes.Device), micFormat)
	if err != nil {
		return nil, fmt.Errorf("start microphone capture: %w", err)
	}
	sess.mic = mic

	if captureSystem {
		sys, err := c.adapter.Start("system", deviceID(sysRes.Device), sysFormat)
		if err != nil {
			// System audio is best-effort; the meeting still gets
			// recorded from the microphone.
			sess.warnings = append(sess.warnings,
				fmt.Sprintf("system audio capture failed to start: %v; recording microphone only", err))
			slog.Warn("system capture unavailable", "error", err)
		} else {
			sess.sys = sys
		}
	}

	sess.mixer = mix.New(mic.Format(), sysFormat)
	writer, err := c.newWriter(filePath, sess.mixer.Format(), c.cfg.Output.FlushThreshold)
	if err != nil {
		_ = c.adapter.Stop(sess.mic)
		if sess.sys != nil {
			_ = c.adapter.Stop(sess.sys)
		}
		return nil, fmt.Errorf("create output file: %w", err)
	}
	sess.writer = writer

	sess.meter = level.NewMeter(0, func(l level.Level) { c.levels.Publish(l) })
	sess.monitor = health.NewMonitor(c.cfg.Health.CheckInterval, c.cfg.Health.StallThreshold,
		func(ev health.Event) { c.healthHub.Publish(ev) })
	sess.monitor.Start()

	micIn := make(chan []byte, 32)
	sysIn := make(chan []byte, 32)
	sess.pumps.Add(1)
	go c.pumpSource(sess, sess.mic, micIn)
	if sess.sys != nil {
		sess.pumps.Add(1)
		go c.pumpSource(sess, sess.sys, sysIn)
	} else {
		close(sysIn)
	}

	sess.mixer.Start(micIn, sysIn, func(chunk []byte) { c.onMixed(sess, chunk) })

	go c.watchExit(sess, sess.mic)
	if sess.sys != nil {
		go c.watchExit(sess, sess.sys)
	}

	c.sess = sess

	deviceUsed := device.DefaultSentinel
	if micRes.Device != nil {
		deviceUsed = micRes.Device.Name
	}
	slog.Info("recording started",
		"session", sessionID, "file", filePath,
		"mic_format", mic.Format(), "system_capture", sess.sys != nil)
	return &StartInfo{
		SessionID:            sessionID,
		StartTime:            sess.startedAt,
		FilePath:             filePath,
		DeviceUsed:           deviceUsed,
		SampleRateUsed:       micFormat.SampleRate,
		SampleRateConfigured: c.cfg.Audio.SampleRate,
		Warnings:             sess.warnings,
	}, nil
}

// captureFormat picks the sample rate for one capture source: the
// configured rate when set, else the device's native rate, else the
// per-device-class fallback.
func (c *Controller) captureFormat(dev *device.Device, configuredName string) wav.Format {
	rate := c.cfg.Audio.SampleRate
	if rate == 0 {
		name := configuredName
		if dev != nil {
			name = dev.Name
			if dev.NativeRate > 0 {
				rate = dev.NativeRate
			}
		}
		if rate == 0 {
			rate = device.FallbackRate(name)
		}
	}
	return wav.Format{SampleRate: rate, Channels: c.cfg.Audio.Channels, BitsPerSample: 16}
}

func deviceID(d *device.Device) string {
	if d == nil {
		return ""
	}
	return d.ID
}

// checkDiskSpace is best-effort: an unreadable usage reading does not
// block recording, but known-low space does.
func checkDiskSpace(dir string) error {
	usage, err := disk.Usage(dir)
	if err != nil {
		slog.Warn("disk usage check failed", "dir", dir, "error", err)
		return nil
	}
	if usage.Free < minFreeDiskBytes {
		return fmt.Errorf("not enough disk space in %s: %d MB free, need at least %d MB",
			dir, usage.Free/(1024*1024), minFreeDiskBytes/(1024*1024))
	}
	return nil
}

// pumpSource forwards one capture stream into the mixer while feeding
// the health monitor and the raw-audio subscribers.
func (c *Controller) pumpSource(sess *activeSession, h CaptureHandle, out chan<- []byte) {
	defer sess.pumps.Done()
	defer close(out)
	for chunk := range h.Chunks() {
		sess.monitor.Note(len(chunk))
		c.chunks.Publish(Chunk{Data: chunk, Source: h.Source(), Format: h.Format()})
		out <- chunk
	}
}

// onMixed runs on the mixer goroutine for every mixed chunk: write to
// disk, feed the level meter, publish to subscribers. A write failure
// triggers an automatic stop through the normal stop path.
func (c *Controller) onMixed(sess *activeSession, chunk []byte) {
	c.chunks.Publish(Chunk{Data: chunk, Source: "mixed", Format: sess.mixer.Format()})
	sess.meter.Feed(chunk)

	if _, err := sess.writer.Write(chunk); err != nil {
		sess.writeErrOnce.Do(func() {
			sess.writeErr = err
			slog.Error("recording write failed, stopping session", "error", err, "file", sess.filePath)
			c.healthHub.Publish(health.Event{
				Status:  health.StatusError,
				Code:    health.CodeWriteError,
				Message: err.Error(),
				At:      time.Now(),
			})
			go c.Stop()
		})
	}
}

// watchExit reacts to a capture process dying out from under an active
// session by reporting it and stopping through the normal stop path.
func (c *Controller) watchExit(sess *activeSession, h CaptureHandle) {
	ev := <-h.Exits()
	if ev.Expected {
		return
	}
	msg := fmt.Sprintf("%s capture process exited unexpectedly", ev.Source)
	if ev.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, ev.Err)
	}
	c.healthHub.Publish(health.Event{
		Status:  health.StatusError,
		Code:    health.CodeProcessExited,
		Message: msg,
		At:      time.Now(),
	})
	slog.Error("capture process lost", "source", ev.Source, "error", ev.Err)
	go c.Stop()
}

// Pause suspends both captures and the pause clock starts running.
// Returns the recorded (non-paused) duration at the moment of the
// pause.
func (c *Controller) Pause() (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRecording {
		return 0, fmt.Errorf("cannot pause while %s", c.state)
	}
	if err := c.adapter.Pause(c.sess.mic); err != nil {
		return 0, err
	}
	if c.sess.sys != nil {
		if err := c.adapter.Pause(c.sess.sys); err != nil {
			// Roll the microphone back so both sources stay in step.
			_ = c.adapter.Resume(c.sess.mic)
			return 0, err
		}
	}
	c.sess.pausedAt = time.Now()
	c.sess.monitor.SetPaused(true)
	c.state = StatePaused
	slog.Info("recording paused", "session", c.sess.id)
	return c.sess.pausedAt.Sub(c.sess.startedAt) - c.sess.pausedTotal, nil
}

// Resume continues a paused session and banks the paused interval.
// Returns the session start time.
func (c *Controller) Resume() (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePaused {
		return time.Time{}, fmt.Errorf("cannot resume while %s", c.state)
	}
	if err := c.adapter.Resume(c.sess.mic); err != nil {
		return time.Time{}, err
	}
	if c.sess.sys != nil {
		if err := c.adapter.Resume(c.sess.sys); err != nil {
			return time.Time{}, err
		}
	}
	c.sess.pausedTotal += time.Since(c.sess.pausedAt)
	c.sess.pausedAt = time.Time{}
	c.sess.monitor.SetPaused(false)
	c.state = StateRecording
	slog.Info("recording resumed", "session", c.sess.id, "paused_total", c.sess.pausedTotal)
	return c.sess.startedAt, nil
}

// Stop ends the session and finalizes the file. Idempotent: stopping
// while idle succeeds with no file, and concurrent calls during
// teardown wait for the first one and return its result.
func (c *Controller) Stop() StopResult {
	c.mu.Lock()
	switch {
	case c.state == StateIdle:
		c.mu.Unlock()
		return StopResult{Success: true}
	case c.state == StateStopping:
		sess := c.sess
		c.mu.Unlock()
		<-sess.stopDone
		return sess.result
	}
	sess := c.sess
	if c.state == StatePaused {
		sess.pausedTotal += time.Since(sess.pausedAt)
		sess.pausedAt = time.Time{}
	}
	c.state = StateStopping
	c.mu.Unlock()

	result := c.teardown(sess)

	c.mu.Lock()
	sess.result = result
	c.state = StateIdle
	c.sess = nil
	close(sess.stopDone)
	c.mu.Unlock()
	return result
}

// teardown runs outside the lock: stop captures, drain the pipeline,
// finalize the file, write the sidecar.
func (c *Controller) teardown(sess *activeSession) StopResult {
	var errs []error

	if err := c.adapter.Stop(sess.mic); err != nil {
		errs = append(errs, err)
	}
	if sess.sys != nil {
		if err := c.adapter.Stop(sess.sys); err != nil {
			errs = append(errs, err)
		}
	}

	// Capture streams are closed now; let the pumps drain what is left
	// through the mixer before finalizing the writer.
	sess.pumps.Wait()
	sess.mixer.Stop()
	sess.monitor.Stop()

	if err := sess.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("finalize recording file: %w", err))
	}
	if sess.writeErr != nil {
		errs = append(errs, sess.writeErr)
	}

	duration := time.Since(sess.startedAt) - sess.pausedTotal

	if err := writeSidecar(sess, duration); err != nil {
		slog.Warn("sidecar metadata write failed", "error", err)
	}

	result := StopResult{Success: len(errs) == 0, Duration: duration, FilePath: sess.filePath}
	if len(errs) > 0 {
		result.Error = errors.Join(errs...).Error()
		// The file may still hold usable audio; keep the path.
	}
	slog.Info("recording stopped",
		"session", sess.id, "file", sess.filePath,
		"duration", duration.Truncate(time.Millisecond), "success", result.Success)
	return result
}

// Status reports the live session view. Elapsed excludes paused time.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{State: c.state}
	if c.sess == nil {
		return st
	}
	st.SessionID = c.sess.id
	st.FilePath = c.sess.filePath
	st.Warnings = c.sess.warnings
	elapsed := time.Since(c.sess.startedAt) - c.sess.pausedTotal
	if !c.sess.pausedAt.IsZero() {
		elapsed -= time.Since(c.sess.pausedAt)
	}
	st.Elapsed = elapsed
	snap := c.sess.monitor.Snapshot()
	st.Health = &snap
	return st
}
