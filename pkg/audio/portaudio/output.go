package portaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/orbisvoice/orbis/pkg/audio"
	"github.com/orbisvoice/orbis/pkg/audio/playback"
)

// Compile-time interface assertion.
var _ playback.Sink = (*Output)(nil)

// outputFramesPerBuffer is the callback period. 20 ms at 24 kHz.
const outputFramesPerBuffer = 480

// scheduled is one buffer waiting for, or in the middle of, playback.
type scheduled struct {
	start   int64 // first frame on the output clock
	samples []float32
}

func (s scheduled) end(channels int) int64 {
	return s.start + int64(len(s.samples)/channels)
}

// Output is a speaker opened through PortAudio as a callback stream. Its
// clock is the number of frames handed to the device since Open.
type Output struct {
	// Device selects the output by name. Empty selects the host default.
	Device string

	mu     sync.Mutex
	stream *portaudio.Stream
	format audio.Format
	played int64
	queue  []scheduled
}

// NewOutput returns an Output for the named device.
func NewOutput(device string) *Output {
	return &Output{Device: device}
}

// Open implements [playback.Sink]. Failures wrap [playback.ErrContextBlocked].
func (o *Output) Open(_ context.Context, f audio.Format) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stream != nil {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: initialise portaudio: %w", playback.ErrContextBlocked, err)
	}

	dev, err := findDevice(o.Device, false)
	if err != nil {
		_ = portaudio.Terminate()
		return fmt.Errorf("%w: %w", playback.ErrContextBlocked, err)
	}

	params := portaudio.LowLatencyParameters(nil, dev)
	params.Output.Channels = f.Channels
	params.SampleRate = float64(f.SampleRate)
	params.FramesPerBuffer = outputFramesPerBuffer * f.SampleRate / audio.DefaultPlaybackFormat.SampleRate

	stream, err := portaudio.OpenStream(params, o.fill)
	if err != nil {
		_ = portaudio.Terminate()
		return fmt.Errorf("%w: open output %q at %s: %w", playback.ErrContextBlocked, dev.Name, f, err)
	}
	o.format = f
	o.played = 0
	o.queue = nil
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return fmt.Errorf("%w: start output %q: %w", playback.ErrContextBlocked, dev.Name, err)
	}
	o.stream = stream
	return nil
}

// Now implements [playback.Sink].
func (o *Output) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.format.FrameDuration(o.played)
}

// Schedule implements [playback.Sink].
func (o *Output) Schedule(at time.Duration, samples []float32) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stream == nil {
		return errors.New("portaudio: output not open")
	}
	start := max(o.format.FramesAt(at), o.played)
	o.queue = append(o.queue, scheduled{start: start, samples: samples})
	return nil
}

// Flush implements [playback.Sink].
func (o *Output) Flush() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queue = nil
}

// Close implements [playback.Sink].
func (o *Output) Close() error {
	o.mu.Lock()
	stream := o.stream
	o.stream = nil
	o.queue = nil
	o.mu.Unlock()
	if stream == nil {
		return nil
	}

	var errs []error
	if err := stream.Abort(); err != nil {
		errs = append(errs, fmt.Errorf("abort output: %w", err))
	}
	if err := stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close output: %w", err))
	}
	if err := portaudio.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("terminate: %w", err))
	}
	return errors.Join(errs...)
}

// fill is the PortAudio callback. It mixes every scheduled buffer that
// overlaps the current period into out and advances the clock.
func (o *Output) fill(out []float32) {
	clear(out)

	o.mu.Lock()
	defer o.mu.Unlock()

	ch := max(1, o.format.Channels)
	period := int64(len(out) / ch)
	from, to := o.played, o.played+period

	kept := o.queue[:0]
	for _, s := range o.queue {
		if s.start < to {
			lo := max(from, s.start)
			hi := min(to, s.end(ch))
			for f := lo; f < hi; f++ {
				src := (f - s.start) * int64(ch)
				dst := (f - from) * int64(ch)
				for c := range int64(ch) {
					out[dst+c] += s.samples[src+c]
				}
			}
		}
		if s.end(ch) > to {
			kept = append(kept, s)
		}
	}
	clear(o.queue[len(kept):])
	o.queue = kept
	o.played = to

	for i, v := range out {
		out[i] = max(-1, min(1, v))
	}
}
