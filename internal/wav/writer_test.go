package wav

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func readHeader(t *testing.T, path string) (riffSize, dataSize, sampleRate uint32, channels, bits uint16) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read wav file: %v", err)
	}
	if len(data) < 44 {
		t.Fatalf("file shorter than wav header: %d bytes", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("not a RIFF/WAVE file: %q %q", data[0:4], data[8:12])
	}
	riffSize = binary.LittleEndian.Uint32(data[4:8])
	channels = binary.LittleEndian.Uint16(data[22:24])
	sampleRate = binary.LittleEndian.Uint32(data[24:28])
	bits = binary.LittleEndian.Uint16(data[34:36])
	dataSize = binary.LittleEndian.Uint32(data[40:44])
	return
}

func TestNewWriterWritesProvisionalHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meeting.wav")
	format := Format{SampleRate: 48000, Channels: 1, BitsPerSample: 16}

	w, err := NewWriter(path, format, 0)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	riffSize, dataSize, rate, channels, bits := readHeader(t, path)
	if dataSize != 0 {
		t.Errorf("provisional data size = %d, want 0", dataSize)
	}
	if riffSize != 36 {
		t.Errorf("provisional riff size = %d, want 36", riffSize)
	}
	if rate != 48000 || channels != 1 || bits != 16 {
		t.Errorf("header format = %d/%d/%d, want 48000/1/16", rate, channels, bits)
	}
}

func TestWriterPatchesHeaderAtThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meeting.wav")
	format := Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}

	// Threshold of 1KB so a few writes trigger a patch without Close.
	w, err := NewWriter(path, format, 1024)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	chunk := make([]byte, 512)
	for i := 0; i < 3; i++ {
		if _, err := w.Write(chunk); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	// 1536 bytes written, threshold crossed at 1024: header must
	// already declare at least the bytes present at patch time and
	// never more than what is on disk.
	_, dataSize, _, _, _ := readHeader(t, path)
	if dataSize == 0 {
		t.Error("header not patched after crossing threshold")
	}
	if int64(dataSize) > w.BytesWritten() {
		t.Errorf("declared data size %d overstates bytes written %d", dataSize, w.BytesWritten())
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	riffSize, dataSize, _, _, _ := readHeader(t, path)
	if dataSize != 1536 {
		t.Errorf("final data size = %d, want 1536", dataSize)
	}
	if riffSize != 36+1536 {
		t.Errorf("final riff size = %d, want %d", riffSize, 36+1536)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != 44+1536 {
		t.Errorf("file size = %d, want %d", info.Size(), 44+1536)
	}
}

func TestWriterAppendsAfterPatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meeting.wav")
	format := Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}

	w, err := NewWriter(path, format, 100)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	// Recognizable payload across a patch boundary.
	first := make([]byte, 150)
	for i := range first {
		first[i] = byte(i)
	}
	second := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	if _, err := w.Write(first); err != nil {
		t.Fatalf("Write first: %v", err)
	}
	if _, err := w.Write(second); err != nil {
		t.Fatalf("Write second: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	payload := data[44:]
	if len(payload) != 154 {
		t.Fatalf("payload length = %d, want 154", len(payload))
	}
	for i := range first {
		if payload[i] != first[i] {
			t.Fatalf("payload[%d] = %#x, want %#x (patch corrupted append position)", i, payload[i], first[i])
		}
	}
	for i, b := range second {
		if payload[150+i] != b {
			t.Fatalf("payload[%d] = %#x, want %#x", 150+i, payload[150+i], b)
		}
	}
}

func TestWriterCloseIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meeting.wav")
	w, err := NewWriter(path, Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}, 0)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := w.Write([]byte{0, 0}); err == nil {
		t.Error("Write after Close should fail")
	}
}

func TestNewWriterRejectsInvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		format Format
	}{
		{"zero rate", Format{SampleRate: 0, Channels: 1, BitsPerSample: 16}},
		{"zero channels", Format{SampleRate: 16000, Channels: 0, BitsPerSample: 16}},
		{"zero bits", Format{SampleRate: 16000, Channels: 1, BitsPerSample: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewWriter(filepath.Join(t.TempDir(), "x.wav"), tt.format, 0); err == nil {
				t.Errorf("expected error for format %+v", tt.format)
			}
		})
	}
}
