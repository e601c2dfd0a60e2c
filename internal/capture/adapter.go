// Package capture spawns and supervises the external recorder process
// that produces raw PCM on stdout. One handle per capture source; at
// most two live at once (microphone and system loopback).
package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ziadeh/flowrecap/internal/wav"
)

// ErrRecorderUnavailable is returned by Start when the capture binary
// cannot be found. Fatal to session start.
var ErrRecorderUnavailable = errors.New("recorder unavailable")

// DefaultStopGrace is how long a terminated recorder gets to exit
// before it is killed.
const DefaultStopGrace = 100 * time.Millisecond

// killWait bounds the final wait after a forced kill so Stop can never
// hang on an unkillable process.
const killWait = 2 * time.Second

const chunkSize = 4096

// recorderLogLevel returns the ffmpeg -loglevel value. The CLI sets
// FFMPEG_LOGLEVEL at high verbosity to surface full recorder output on
// the diagnostic stream.
func recorderLogLevel() string {
	if v := os.Getenv("FFMPEG_LOGLEVEL"); v != "" {
		return v
	}
	return "warning"
}

// ExitEvent reports recorder process termination. Expected exits come
// from Stop; unexpected exits during an active recording are a stream
// error the session controller reacts to.
type ExitEvent struct {
	Source   string
	Expected bool
	Err      error
}

// Handle represents one running capture process and its PCM stream.
type Handle struct {
	source string
	format wav.Format
	cmd    *exec.Cmd

	chunks   chan []byte
	exits    chan ExitEvent
	procDone chan struct{}

	expected atomic.Bool
	dropping atomic.Bool // stream-layer pause: discard bytes

	diagMu sync.Mutex
	diag   []string
}

// Chunks delivers raw PCM in arrival order. Closed when the process
// ends.
func (h *Handle) Chunks() <-chan []byte { return h.chunks }

// Exits delivers exactly one ExitEvent when the process terminates.
func (h *Handle) Exits() <-chan ExitEvent { return h.exits }

// Format returns the PCM format the recorder was configured for.
func (h *Handle) Format() wav.Format { return h.format }

// Source names the capture source ("microphone" or "system").
func (h *Handle) Source() string { return h.source }

// Diagnostics returns recent recorder stderr lines.
func (h *Handle) Diagnostics() []string {
	h.diagMu.Lock()
	defer h.diagMu.Unlock()
	out := make([]string, len(h.diag))
	copy(out, h.diag)
	return out
}

func (h *Handle) noteDiagnostic(line string) {
	h.diagMu.Lock()
	h.diag = append(h.diag, line)
	if len(h.diag) > 50 {
		h.diag = h.diag[len(h.diag)-50:]
	}
	h.diagMu.Unlock()
}

// Adapter starts and controls capture processes. The binary and the
// argument builder are injectable for tests; the defaults invoke
// ffmpeg with platform-specific input flags.
type Adapter struct {
	binary string
	grace  time.Duration
	argsFn func(deviceID string, format wav.Format) []string
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithBinary overrides the recorder binary.
func WithBinary(binary string) Option {
	return func(a *Adapter) { a.binary = binary }
}

// WithStopGrace overrides the graceful-termination window.
func WithStopGrace(grace time.Duration) Option {
	return func(a *Adapter) {
		if grace > 0 {
			a.grace = grace
		}
	}
}

// WithArgs overrides the capture argument builder.
func WithArgs(fn func(deviceID string, format wav.Format) []string) Option {
	return func(a *Adapter) { a.argsFn = fn }
}

// NewAdapter builds an adapter with platform defaults.
func NewAdapter(opts ...Option) *Adapter {
	a := &Adapter{
		binary: "ffmpeg",
		grace:  DefaultStopGrace,
		argsFn: buildCaptureArgs,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start spawns the recorder configured for raw s16le PCM on stdout at
// the given format, capturing from deviceID ("" means the system
// default device).
func (a *Adapter) Start(source, deviceID string, format wav.Format) (*Handle, error) {
	if _, err := exec.LookPath(a.binary); err != nil {
		return nil, fmt.Errorf("%w: %q not found in PATH. %s", ErrRecorderUnavailable, a.binary, installHint())
	}

	cmd := exec.Command(a.binary, a.argsFn(deviceID, format)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start recorder for %s: %w", source, err)
	}

	h := &Handle{
		source:   source,
		format:   format,
		cmd:      cmd,
		chunks:   make(chan []byte, 32),
		exits:    make(chan ExitEvent, 1),
		procDone: make(chan struct{}),
	}
	slog.Info("capture process started",
		"source", source, "pid", cmd.Process.Pid, "device", deviceID, "format", format)

	go h.readDiagnostics(stderr)
	go h.readStream(stdout)
	return h, nil
}

// readStream pumps stdout into the chunk channel, then reaps the
// process and emits the tagged exit event.
func (h *Handle) readStream(stdout io.ReadCloser) {
	buf := make([]byte, chunkSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 && !h.dropping.Load() {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			h.chunks <- chunk
		}
		if err != nil {
			break
		}
	}
	close(h.chunks)

	waitErr := cleanWaitError(h.cmd.Wait())
	close(h.procDone)

	ev := ExitEvent{Source: h.source, Expected: h.expected.Load(), Err: waitErr}
	if ev.Expected {
		slog.Debug("capture process exited after stop", "source", h.source)
	} else {
		slog.Error("capture process exited unexpectedly",
			"source", h.source, "error", waitErr, "stderr", strings.Join(h.Diagnostics(), " | "))
	}
	h.exits <- ev
}

func (h *Handle) readDiagnostics(stderr io.ReadCloser) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		h.noteDiagnostic(line)
		slog.Debug("recorder output", "source", h.source, "line", line)
	}
	stderr.Close()
}

// Pause suspends capture. POSIX suspends the process itself; platforms
// without process-level suspend fall back to discarding the stream
// while the recorder keeps running.
func (a *Adapter) Pause(h *Handle) error {
	if h == nil || h.cmd.Process == nil {
		return nil
	}
	if processSuspendSupported {
		if err := suspendProcess(h.cmd); err != nil {
			return fmt.Errorf("suspend %s capture: %w", h.source, err)
		}
	} else {
		h.dropping.Store(true)
	}
	slog.Debug("capture paused", "source", h.source)
	return nil
}

// Resume continues a paused capture.
func (a *Adapter) Resume(h *Handle) error {
	if h == nil || h.cmd.Process == nil {
		return nil
	}
	if processSuspendSupported {
		if err := continueProcess(h.cmd); err != nil {
			return fmt.Errorf("continue %s capture: %w", h.source, err)
		}
	} else {
		h.dropping.Store(false)
	}
	slog.Debug("capture resumed", "source", h.source)
	return nil
}

// Stop requests graceful termination and escalates to a kill after the
// grace period. The exit this causes is tagged expected. Never hangs:
// a final bounded wait covers even an unkillable process. Safe to call
// on an already-dead process.
func (a *Adapter) Stop(h *Handle) error {
	if h == nil || h.cmd.Process == nil {
		return nil
	}
	h.expected.Store(true)

	// A suspended process cannot handle the termination signal.
	if processSuspendSupported {
		_ = continueProcess(h.cmd)
	} else {
		h.dropping.Store(false)
	}

	if err := terminateProcess(h.cmd); err != nil {
		slog.Debug("graceful terminate failed, killing", "source", h.source, "error", err)
		_ = h.cmd.Process.Kill()
	}

	select {
	case <-h.procDone:
		return nil
	case <-time.After(a.grace):
	}

	slog.Warn("capture process did not exit within grace period, killing",
		"source", h.source, "grace", a.grace)
	_ = h.cmd.Process.Kill()

	select {
	case <-h.procDone:
	case <-time.After(killWait):
		return fmt.Errorf("%s capture process did not exit after kill", h.source)
	}
	return nil
}

// cleanWaitError drops the exit statuses intentional termination
// produces so they are not mistaken for failures.
func cleanWaitError(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ProcessState != nil {
		state := exitErr.ProcessState.String()
		if strings.Contains(state, "signal: terminated") ||
			strings.Contains(state, "signal: interrupt") ||
			strings.Contains(state, "signal: killed") ||
			exitErr.ExitCode() == 255 {
			return nil
		}
	}
	return err
}

// installHint names the platform package manager command for the
// recorder binary, surfaced with RecorderUnavailable.
func installHint() string {
	switch runtime.GOOS {
	case "darwin":
		return "Install it with: brew install ffmpeg"
	case "linux":
		return "Install it with your package manager, e.g.: apt install ffmpeg"
	case "windows":
		return "Install it from https://ffmpeg.org/download.html and add it to PATH"
	default:
		return "Install ffmpeg and make sure it is on PATH"
	}
}
