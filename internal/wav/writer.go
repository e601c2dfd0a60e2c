// Package wav persists an append-only PCM stream as a WAV file that is
// structurally valid at any point during recording, so a concurrent
// reader (e.g. a live transcriber) can open it before recording ends.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
)

// Format describes a raw PCM stream.
type Format struct {
	SampleRate    int `json:"sample_rate"`
	Channels      int `json:"channels"`
	BitsPerSample int `json:"bits_per_sample"`
}

// BytesPerSecond returns the PCM data rate for the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%dbit", f.SampleRate, f.Channels, f.BitsPerSample)
}

// DefaultPatchThreshold is how many appended bytes trigger a header
// patch (~1s of 16kHz mono audio).
const DefaultPatchThreshold = 32 * 1024

const headerSize = 44

// Write failures are classified so the session controller can abort
// recording instead of silently losing audio.
var (
	ErrDiskFull   = errors.New("disk space error")
	ErrPermission = errors.New("permission error")
)

// Writer appends PCM chunks to a WAV file and periodically patches the
// RIFF/data length fields so the file on disk stays playable mid-write.
type Writer struct {
	f          *os.File
	path       string
	format     Format
	dataBytes  int64
	sincePatch int64
	threshold  int64
	closed     bool
}

// NewWriter creates the file and writes a provisional header with a
// zero data-length field.
func NewWriter(path string, format Format, patchThreshold int) (*Writer, error) {
	if format.SampleRate <= 0 || format.Channels <= 0 || format.BitsPerSample <= 0 {
		return nil, fmt.Errorf("invalid stream format %s", format)
	}
	if patchThreshold <= 0 {
		patchThreshold = DefaultPatchThreshold
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, classifyWriteError(fmt.Errorf("create %s: %w", path, err))
	}

	w := &Writer{
		f:         f,
		path:      path,
		format:    format,
		threshold: int64(patchThreshold),
	}
	if err := w.writeHeader(0); err != nil {
		f.Close()
		os.Remove(path)
		return nil, classifyWriteError(fmt.Errorf("write wav header: %w", err))
	}
	return w, nil
}

// Format returns the format the header declares.
func (w *Writer) Format() Format { return w.format }

// Path returns the output file path.
func (w *Writer) Path() string { return w.path }

// BytesWritten returns the PCM byte count appended so far.
func (w *Writer) BytesWritten() int64 { return w.dataBytes }

// Write appends raw PCM bytes. After the patch threshold accumulates it
// rewrites the header length fields and returns the cursor to the
// append position, so the declared data length is never overstated.
func (w *Writer) Write(chunk []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("write to closed wav writer")
	}
	n, err := w.f.Write(chunk)
	w.dataBytes += int64(n)
	w.sincePatch += int64(n)
	if err != nil {
		return n, classifyWriteError(fmt.Errorf("append pcm: %w", err))
	}
	if w.sincePatch >= w.threshold {
		if err := w.patchHeader(); err != nil {
			return n, classifyWriteError(err)
		}
		w.sincePatch = 0
	}
	return n, nil
}

// Close performs a final header patch with the exact total length and
// flushes to disk. Safe to call more than once.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	patchErr := w.patchHeader()
	syncErr := w.f.Sync()
	closeErr := w.f.Close()
	if patchErr != nil {
		return classifyWriteError(patchErr)
	}
	if syncErr != nil {
		return classifyWriteError(fmt.Errorf("sync %s: %w", w.path, syncErr))
	}
	return closeErr
}

// writeHeader writes the canonical 44-byte RIFF/WAVE/fmt/data header.
func (w *Writer) writeHeader(dataSize uint32) error {
	h := struct {
		RiffID   [4]byte
		RiffSize uint32
		WaveID   [4]byte

		FmtID       [4]byte
		FmtSize     uint32
		AudioFormat uint16
		NumChannels uint16
		SampleRate  uint32
		ByteRate    uint32
		BlockAlign  uint16
		BitsPerSamp uint16

		DataID   [4]byte
		DataSize uint32
	}{
		RiffID:      [4]byte{'R', 'I', 'F', 'F'},
		RiffSize:    headerSize - 8 + dataSize,
		WaveID:      [4]byte{'W', 'A', 'V', 'E'},
		FmtID:       [4]byte{'f', 'm', 't', ' '},
		FmtSize:     16,
		AudioFormat: 1, // PCM
		NumChannels: uint16(w.format.Channels),
		SampleRate:  uint32(w.format.SampleRate),
		ByteRate:    uint32(w.format.BytesPerSecond()),
		BlockAlign:  uint16(w.format.Channels * w.format.BitsPerSample / 8),
		BitsPerSamp: uint16(w.format.BitsPerSample),
		DataID:      [4]byte{'d', 'a', 't', 'a'},
		DataSize:    dataSize,
	}
	return binary.Write(w.f, binary.LittleEndian, &h)
}

// patchHeader rewrites the RIFF chunk size (offset 4) and data chunk
// size (offset 40) to reflect bytes written so far, then restores the
// cursor to the append position.
func (w *Writer) patchHeader() error {
	riffSize := uint32(headerSize - 8 + w.dataBytes)
	dataSize := uint32(w.dataBytes)

	if _, err := w.f.Seek(4, io.SeekStart); err != nil {
		return fmt.Errorf("seek riff size: %w", err)
	}
	if err := binary.Write(w.f, binary.LittleEndian, riffSize); err != nil {
		return fmt.Errorf("patch riff size: %w", err)
	}
	if _, err := w.f.Seek(40, io.SeekStart); err != nil {
		return fmt.Errorf("seek data size: %w", err)
	}
	if err := binary.Write(w.f, binary.LittleEndian, dataSize); err != nil {
		return fmt.Errorf("patch data size: %w", err)
	}
	if _, err := w.f.Seek(headerSize+w.dataBytes, io.SeekStart); err != nil {
		return fmt.Errorf("seek append position: %w", err)
	}
	return nil
}

// classifyWriteError maps filesystem failures onto the fatal error
// taxonomy the controller reacts to.
func classifyWriteError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("%w: %v", ErrDiskFull, err)
	}
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("%w: %v", ErrPermission, err)
	}
	return err
}
