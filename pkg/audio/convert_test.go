package audio_test

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/orbisvoice/orbis/pkg/audio"
)

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestFloatToPCM16_Extremes(t *testing.T) {
	t.Parallel()
	got := bytesToSamples(audio.FloatToPCM16([]float32{-1, 0, 1, -2, 2}))
	want := []int16{-32768, 0, 32767, -32768, 32767}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestPCM16ToFloat_RoundTripWithinOneStep(t *testing.T) {
	t.Parallel()
	in := []float32{-0.5, -0.25, 0, 0.25, 0.5}
	out, err := audio.PCM16ToFloat(audio.FloatToPCM16(in))
	if err != nil {
		t.Fatalf("PCM16ToFloat: %v", err)
	}
	for i := range in {
		if d := math.Abs(float64(out[i] - in[i])); d > 1.0/32767 {
			t.Errorf("sample %d: got %f, want %f", i, out[i], in[i])
		}
	}
}

func TestPCM16ToFloat_OddLength(t *testing.T) {
	t.Parallel()
	_, err := audio.PCM16ToFloat([]byte{1, 2, 3})
	if !errors.Is(err, audio.ErrOddLength) {
		t.Fatalf("err = %v, want ErrOddLength", err)
	}
}

func TestDownmix(t *testing.T) {
	t.Parallel()
	got := audio.Downmix([]float32{0.2, 0.4, -0.2, -0.4, 1}, 2)
	want := []float32{0.3, -0.3}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d: got %f, want %f", i, got[i], want[i])
		}
	}
}

func TestDownmix_MonoPassThrough(t *testing.T) {
	t.Parallel()
	in := []float32{0.1, 0.2}
	if got := audio.Downmix(in, 1); &got[0] != &in[0] {
		t.Error("mono input should be returned unchanged")
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   []float32
		want float64
	}{
		{"empty", nil, 0},
		{"silence", []float32{0, 0, 0}, 0},
		{"constant", []float32{0.5, -0.5, 0.5, -0.5}, 0.5},
		{"full scale", []float32{1, -1}, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := audio.RMS(tc.in); math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("RMS = %f, want %f", got, tc.want)
			}
		})
	}
}

func TestResampler_Downsample3x(t *testing.T) {
	t.Parallel()
	r := audio.NewResampler(48000, 16000)
	in := make([]float32, 12288)
	out := r.Process(in)
	if len(out) != 4096 {
		t.Fatalf("got %d samples, want 4096", len(out))
	}
}

func TestResampler_StreamingMatchesSingleBuffer(t *testing.T) {
	t.Parallel()
	in := make([]float32, 4410)
	for i := range in {
		in[i] = float32(math.Sin(float64(i) / 20))
	}

	whole := audio.NewResampler(44100, 16000).Process(in)

	split := audio.NewResampler(44100, 16000)
	var pieces []float32
	for start := 0; start < len(in); start += 441 {
		pieces = append(pieces, split.Process(in[start:start+441])...)
	}

	if len(pieces) != len(whole) {
		t.Fatalf("split produced %d samples, whole produced %d", len(pieces), len(whole))
	}
	for i := range whole {
		if math.Abs(float64(pieces[i]-whole[i])) > 1e-5 {
			t.Fatalf("sample %d differs: %f vs %f", i, pieces[i], whole[i])
		}
	}
}

func TestResampler_SameRateBypass(t *testing.T) {
	t.Parallel()
	in := []float32{1, 2, 3}
	out := audio.NewResampler(16000, 16000).Process(in)
	if len(out) != 3 {
		t.Fatalf("got %d samples, want 3", len(out))
	}
}

func TestFormat_Duration(t *testing.T) {
	t.Parallel()
	tests := []struct {
		f    audio.Format
		n    int
		want time.Duration
	}{
		{audio.WireFormat, 16000, time.Second},
		{audio.WireFormat, 4096, 256 * time.Millisecond},
		{audio.DefaultPlaybackFormat, 2400, 100 * time.Millisecond},
		{audio.Format{SampleRate: 48000, Channels: 2}, 960, 10 * time.Millisecond},
		{audio.Format{}, 100, 0},
	}
	for _, tc := range tests {
		if got := tc.f.Duration(tc.n); got != tc.want {
			t.Errorf("%s Duration(%d) = %v, want %v", tc.f, tc.n, got, tc.want)
		}
	}
}

func TestFormat_FramesAtRoundTrips(t *testing.T) {
	t.Parallel()
	for _, rate := range []int{16000, 22050, 24000, 44100, 48000} {
		f := audio.Format{SampleRate: rate, Channels: 1}
		for n := int64(0); n < 10*int64(rate); n += 7 {
			if got := f.FramesAt(f.FrameDuration(n)); got != n {
				t.Fatalf("%s FramesAt(FrameDuration(%d)) = %d", f, n, got)
			}
		}
	}
}

func TestFormat_FramesAtRoundsToNearest(t *testing.T) {
	t.Parallel()
	f := audio.DefaultPlaybackFormat
	// One frame at 24 kHz lasts 41666.67ns.
	if got := f.FramesAt(41666 * time.Nanosecond); got != 1 {
		t.Errorf("FramesAt(41666ns) = %d, want 1", got)
	}
	if got := f.FramesAt(20000 * time.Nanosecond); got != 0 {
		t.Errorf("FramesAt(20000ns) = %d, want 0", got)
	}
	if got := f.FrameDuration(1); got != 41667*time.Nanosecond {
		t.Errorf("FrameDuration(1) = %v, want 41.667µs", got)
	}
}

func TestFormat_MIMEType(t *testing.T) {
	t.Parallel()
	if got, want := audio.WireFormat.MIMEType(), "audio/pcm;rate=16000"; got != want {
		t.Errorf("MIMEType = %q, want %q", got, want)
	}
}
