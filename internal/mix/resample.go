package mix

// resampler converts a mono int16 stream from one rate to another using
// linear interpolation. Fractional read position is carried across
// chunks so chunk boundaries introduce no discontinuity.
type resampler struct {
	srcRate int
	dstRate int
	step    float64 // source samples advanced per output sample

	pos    float64 // fractional position into the next chunk
	last   int16   // final sample of the previous chunk
	primed bool
}

func newResampler(srcRate, dstRate int) *resampler {
	return &resampler{
		srcRate: srcRate,
		dstRate: dstRate,
		step:    float64(srcRate) / float64(dstRate),
	}
}

// resample converts src to the destination rate. Passthrough when the
// rates match.
func (r *resampler) resample(src []int16) []int16 {
	if r.srcRate == r.dstRate {
		return src
	}
	if len(src) == 0 {
		return nil
	}

	// Prepend the carried sample so interpolation can reach back
	// across the chunk boundary.
	var ext []int16
	if r.primed {
		ext = make([]int16, 0, len(src)+1)
		ext = append(ext, r.last)
		ext = append(ext, src...)
	} else {
		ext = src
		r.pos = 0
	}

	out := make([]int16, 0, int(float64(len(src))/r.step)+2)
	pos := r.pos
	for int(pos)+1 < len(ext) {
		i := int(pos)
		frac := pos - float64(i)
		a := float64(ext[i])
		b := float64(ext[i+1])
		out = append(out, int16(a+(b-a)*frac))
		pos += r.step
	}

	// Carry state: remaining fraction relative to the last sample.
	r.pos = pos - float64(len(ext)-1)
	r.last = ext[len(ext)-1]
	r.primed = true
	return out
}
