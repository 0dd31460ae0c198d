package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrOddLength is returned when PCM16 data does not contain a whole number
// of samples.
var ErrOddLength = errors.New("audio: odd byte count in PCM16 data")

// FloatToPCM16 converts float samples in [-1, 1] to little-endian int16 PCM.
// Values outside the range are clamped. Negative values scale by 0x8000 and
// positive values by 0x7FFF so both extremes map onto the full int16 range.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		s = max(-1, min(1, s))
		var v int16
		if s < 0 {
			v = int16(s * 0x8000)
		} else {
			v = int16(s * 0x7FFF)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// PCM16ToFloat converts little-endian int16 PCM to float samples in [-1, 1).
func PCM16ToFloat(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddLength, len(pcm))
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	return out, nil
}

// Downmix averages interleaved multi-channel samples into mono. Mono input is
// returned unchanged. Trailing samples that do not form a full frame are
// dropped.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// RMS returns the root-mean-square level of samples, clamped to [0, 1].
// An empty slice has level 0.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return min(1, math.Sqrt(sum/float64(len(samples))))
}

// Resampler converts a mono float stream between sample rates using linear
// interpolation. It keeps the fractional read position and the last input
// sample across calls so consecutive buffers join without discontinuity.
//
// Not safe for concurrent use; create one per stream.
type Resampler struct {
	step    float64 // source samples advanced per output sample
	pos     float64 // read position relative to the first virtual input sample
	prev    float32
	hasPrev bool
	bypass  bool
}

// NewResampler returns a Resampler from srcRate to dstRate. Non-positive or
// equal rates produce a pass-through resampler.
func NewResampler(srcRate, dstRate int) *Resampler {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return &Resampler{bypass: true}
	}
	return &Resampler{step: float64(srcRate) / float64(dstRate)}
}

// Process consumes in and returns every output sample that can be computed so
// far. The returned slice is newly allocated unless the resampler is a
// pass-through.
func (r *Resampler) Process(in []float32) []float32 {
	if r.bypass || len(in) == 0 {
		return in
	}

	// The virtual input is prev followed by in when a previous call left a
	// trailing sample behind.
	total := len(in)
	offset := 0
	if r.hasPrev {
		total++
		offset = 1
	}
	at := func(i int) float32 {
		if i < offset {
			return r.prev
		}
		return in[i-offset]
	}

	out := make([]float32, 0, int(float64(total)/r.step)+1)
	for {
		i := int(r.pos)
		if i+1 >= total {
			break
		}
		frac := float32(r.pos - float64(i))
		out = append(out, at(i)*(1-frac)+at(i+1)*frac)
		r.pos += r.step
	}

	// The last sample becomes index 0 of the next virtual input.
	r.pos -= float64(total - 1)
	r.prev = at(total - 1)
	r.hasPrev = true
	return out
}

// Reset discards any carried state.
func (r *Resampler) Reset() {
	r.pos = 0
	r.prev = 0
	r.hasPrev = false
}
