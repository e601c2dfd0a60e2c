// Package mix combines two independently-clocked PCM capture streams
// (microphone and system-audio loopback) into a single mono stream at
// one target rate, in real time.
package mix

import (
	"log/slog"
	"sync"

	"github.com/ziadeh/flowrecap/internal/wav"
)

// maxLagFraction bounds how far one source may run ahead of the other
// before the laggard is treated as silent: a quarter second at the
// output rate. Keeps startup misalignment from blocking emission.
const maxLagFraction = 4

// source holds per-input resampling state and the mono frame queue
// awaiting a counterpart frame from the other input.
type source struct {
	name   string
	format wav.Format
	rs     *resampler
	queue  []int16
	ended  bool
}

func (s *source) ingest(chunk []byte) {
	samples := downmixMono(bytesToSamples(chunk), s.format.Channels)
	s.queue = append(s.queue, s.rs.resample(samples)...)
}

func (s *source) take(n int) []int16 {
	frames := s.queue[:n]
	s.queue = s.queue[n:]
	return frames
}

// Mixer merges a microphone stream and a system-audio stream into one
// mono 16-bit stream. The output rate is the higher of the two input
// rates, so neither source is destructively downsampled.
type Mixer struct {
	out    wav.Format
	mic    *source
	sys    *source
	maxLag int

	onChunk func([]byte)

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a mixer for the two input formats.
func New(micFormat, sysFormat wav.Format) *Mixer {
	outRate := micFormat.SampleRate
	if sysFormat.SampleRate > outRate {
		outRate = sysFormat.SampleRate
	}
	out := wav.Format{SampleRate: outRate, Channels: 1, BitsPerSample: 16}
	return &Mixer{
		out: out,
		mic: &source{
			name:   "microphone",
			format: micFormat,
			rs:     newResampler(micFormat.SampleRate, outRate),
		},
		sys: &source{
			name:   "system",
			format: sysFormat,
			rs:     newResampler(sysFormat.SampleRate, outRate),
		},
		maxLag: outRate / maxLagFraction,
		done:   make(chan struct{}),
	}
}

// Format returns the mixed output format.
func (m *Mixer) Format() wav.Format { return m.out }

// Start begins consuming the two input channels and emits mixed chunks
// through onChunk synchronously with arrival. onChunk runs on the
// mixer goroutine; it must not block on slow consumers.
func (m *Mixer) Start(micIn, sysIn <-chan []byte, onChunk func([]byte)) {
	m.onChunk = onChunk
	m.wg.Add(1)
	go m.pump(micIn, sysIn)
}

// Stop flushes buffered frames and finalizes. Safe to call when one or
// both sources already ended, and safe to call more than once.
func (m *Mixer) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
	m.wg.Wait()
}

func (m *Mixer) pump(micIn, sysIn <-chan []byte) {
	defer m.wg.Done()
	for micIn != nil || sysIn != nil {
		select {
		case <-m.done:
			m.flush()
			return
		case chunk, ok := <-micIn:
			if !ok {
				m.mic.ended = true
				micIn = nil
				slog.Debug("mixer: microphone stream ended")
			} else {
				m.mic.ingest(chunk)
			}
		case chunk, ok := <-sysIn:
			if !ok {
				m.sys.ended = true
				sysIn = nil
				slog.Debug("mixer: system stream ended")
			} else {
				m.sys.ingest(chunk)
			}
		}
		m.emitReady()
	}
	m.flush()
}

// emitReady emits every frame pair available from both queues, then
// handles one-sided progress: a source whose counterpart has ended, or
// has fallen further behind than the lag bound, is mixed against
// silence rather than held back indefinitely.
func (m *Mixer) emitReady() {
	paired := len(m.mic.queue)
	if len(m.sys.queue) < paired {
		paired = len(m.sys.queue)
	}
	if paired > 0 {
		a := m.mic.take(paired)
		b := m.sys.take(paired)
		frames := make([]int16, paired)
		for i := range frames {
			frames[i] = mixSaturating(a[i], b[i])
		}
		m.emit(frames)
	}

	m.drainAhead(m.mic, m.sys)
	m.drainAhead(m.sys, m.mic)
}

// drainAhead emits frames from s that will never get (or need not wait
// for) a counterpart from other.
func (m *Mixer) drainAhead(s, other *source) {
	if len(s.queue) == 0 {
		return
	}
	excess := 0
	if other.ended {
		excess = len(s.queue)
	} else if len(s.queue) > m.maxLag {
		excess = len(s.queue) - m.maxLag
	}
	if excess > 0 {
		m.emit(s.take(excess))
	}
}

// flush drains whatever remains in both queues, padding the shorter
// side with silence.
func (m *Mixer) flush() {
	n := len(m.mic.queue)
	if len(m.sys.queue) > n {
		n = len(m.sys.queue)
	}
	if n == 0 {
		return
	}
	frames := make([]int16, n)
	for i := range frames {
		var a, b int16
		if i < len(m.mic.queue) {
			a = m.mic.queue[i]
		}
		if i < len(m.sys.queue) {
			b = m.sys.queue[i]
		}
		frames[i] = mixSaturating(a, b)
	}
	m.mic.queue = nil
	m.sys.queue = nil
	m.emit(frames)
}

func (m *Mixer) emit(frames []int16) {
	if len(frames) == 0 || m.onChunk == nil {
		return
	}
	m.onChunk(samplesToBytes(frames))
}
