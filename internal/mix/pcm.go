package mix

// Helpers for signed 16-bit little-endian PCM buffers.

// bytesToSamples decodes s16le bytes into samples. A trailing odd byte
// is dropped.
func bytesToSamples(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(uint16(b[2*i]) | uint16(b[2*i+1])<<8)
	}
	return out
}

// samplesToBytes encodes samples as s16le bytes.
func samplesToBytes(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		out[2*i] = byte(uint16(v))
		out[2*i+1] = byte(uint16(v) >> 8)
	}
	return out
}

// downmixMono averages interleaved multi-channel frames to mono.
// Trailing samples that do not fill a whole frame are dropped.
func downmixMono(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += int(samples[i*channels+c])
		}
		out[i] = int16(sum / channels)
	}
	return out
}

// mixSaturating sums two samples, saturating to the 16-bit signed range
// instead of wrapping.
func mixSaturating(a, b int16) int16 {
	s := int32(a) + int32(b)
	if s > 32767 {
		return 32767
	}
	if s < -32768 {
		return -32768
	}
	return int16(s)
}
