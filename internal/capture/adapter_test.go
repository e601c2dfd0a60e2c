//go:build !windows

package capture

import (
	"errors"
	"testing"
	"time"

	"github.com/ziadeh/flowrecap/internal/wav"
)

var testFormat = wav.Format{SampleRate: 44100, Channels: 1, BitsPerSample: 16}

// shAdapter builds an adapter that runs a shell script instead of the
// real recorder. exec keeps the stdout pipe from leaking to a child
// that would outlive the shell.
func shAdapter(t *testing.T, script string, opts ...Option) *Adapter {
	t.Helper()
	opts = append([]Option{
		WithBinary("sh"),
		WithArgs(func(string, wav.Format) []string {
			return []string{"-c", script}
		}),
	}, opts...)
	return NewAdapter(opts...)
}

func collectChunks(t *testing.T, h *Handle) []byte {
	t.Helper()
	var out []byte
	for chunk := range h.Chunks() {
		out = append(out, chunk...)
	}
	return out
}

func waitExit(t *testing.T, h *Handle) ExitEvent {
	t.Helper()
	select {
	case ev := <-h.Exits():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no exit event within 5s")
		return ExitEvent{}
	}
}

func TestStartMissingBinary(t *testing.T) {
	a := NewAdapter(WithBinary("flowrecap-no-such-recorder"))
	_, err := a.Start("microphone", "", testFormat)
	if !errors.Is(err, ErrRecorderUnavailable) {
		t.Fatalf("err = %v, want ErrRecorderUnavailable", err)
	}
}

func TestStreamDeliveredThenExpectedExit(t *testing.T) {
	a := shAdapter(t, `printf 'pcmdata'; exec sleep 30`)
	h, err := a.Start("microphone", "", testFormat)
	if err != nil {
		t.Fatal(err)
	}

	// Give the stream a moment to arrive before stopping.
	time.Sleep(200 * time.Millisecond)
	if err := a.Stop(h); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	got := collectChunks(t, h)
	if string(got) != "pcmdata" {
		t.Errorf("stream = %q, want %q", got, "pcmdata")
	}
	ev := waitExit(t, h)
	if !ev.Expected {
		t.Error("exit after Stop should be tagged expected")
	}
	if ev.Err != nil {
		t.Errorf("expected exit carried error: %v", ev.Err)
	}
}

func TestCrashIsUnexpectedExit(t *testing.T) {
	a := shAdapter(t, `echo 'device busy' >&2; exit 1`)
	h, err := a.Start("system", "", testFormat)
	if err != nil {
		t.Fatal(err)
	}

	ev := waitExit(t, h)
	if ev.Expected {
		t.Error("crash should be tagged unexpected")
	}
	if ev.Err == nil {
		t.Error("crash should carry the exit error")
	}
	if ev.Source != "system" {
		t.Errorf("Source = %q, want system", ev.Source)
	}
}

func TestUnexpectedCleanExit(t *testing.T) {
	// A recorder that quits on its own with status 0 is still an
	// unexpected end of stream.
	a := shAdapter(t, `exit 0`)
	h, err := a.Start("microphone", "", testFormat)
	if err != nil {
		t.Fatal(err)
	}

	ev := waitExit(t, h)
	if ev.Expected {
		t.Error("self-exit should be tagged unexpected")
	}
	if ev.Err != nil {
		t.Errorf("clean exit should not carry an error, got %v", ev.Err)
	}
}

func TestStopAfterExitIsSafe(t *testing.T) {
	a := shAdapter(t, `exit 0`)
	h, err := a.Start("microphone", "", testFormat)
	if err != nil {
		t.Fatal(err)
	}
	waitExit(t, h)

	if err := a.Stop(h); err != nil {
		t.Errorf("Stop on dead process: %v", err)
	}
	if err := a.Stop(h); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestStopEscalatesToKill(t *testing.T) {
	// trap '' TERM makes the process ignore graceful termination.
	a := shAdapter(t, `trap '' TERM; while :; do sleep 1; done`,
		WithStopGrace(50*time.Millisecond))
	h, err := a.Start("microphone", "", testFormat)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	if err := a.Stop(h); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Stop took %v, escalation should be prompt", elapsed)
	}
	ev := waitExit(t, h)
	if !ev.Expected {
		t.Error("killed-after-grace exit should still be tagged expected")
	}
}

func TestPauseSuspendsStream(t *testing.T) {
	a := shAdapter(t, `while :; do printf 'x'; sleep 0.02; done`)
	h, err := a.Start("microphone", "", testFormat)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Stop(h)

	time.Sleep(100 * time.Millisecond)
	if err := a.Pause(h); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	// Drain whatever was in flight, then confirm the stream stays dry.
	deadline := time.After(300 * time.Millisecond)
drain:
	for {
		select {
		case <-h.Chunks():
		case <-deadline:
			break drain
		}
	}
	select {
	case chunk := <-h.Chunks():
		t.Errorf("received %d bytes while paused", len(chunk))
	case <-time.After(200 * time.Millisecond):
	}

	if err := a.Resume(h); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	select {
	case <-h.Chunks():
	case <-time.After(2 * time.Second):
		t.Error("no data after resume")
	}
}

func TestCaptureArgsHonorRecorderLogLevel(t *testing.T) {
	format := wav.Format{SampleRate: 44100, Channels: 1, BitsPerSample: 16}
	logLevel := func(args []string) string {
		for i, a := range args {
			if a == "-loglevel" && i+1 < len(args) {
				return args[i+1]
			}
		}
		return ""
	}

	t.Setenv("FFMPEG_LOGLEVEL", "")
	if got := logLevel(buildCaptureArgs("", format)); got != "warning" {
		t.Errorf("default -loglevel = %q, want warning", got)
	}

	t.Setenv("FFMPEG_LOGLEVEL", "debug")
	if got := logLevel(buildCaptureArgs("", format)); got != "debug" {
		t.Errorf("-loglevel = %q, want debug from FFMPEG_LOGLEVEL", got)
	}
}
