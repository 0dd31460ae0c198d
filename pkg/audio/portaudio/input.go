// Package portaudio implements the capture and playback device interfaces on
// top of the PortAudio C library via github.com/gordonklaus/portaudio.
//
// Each opened device holds its own PortAudio initialisation; PortAudio
// reference-counts Initialize and Terminate, so inputs and outputs can be
// opened and closed independently.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/orbisvoice/orbis/pkg/audio"
	"github.com/orbisvoice/orbis/pkg/audio/capture"
)

// Compile-time interface assertion.
var _ capture.Source = (*Input)(nil)

// Input is a microphone opened through PortAudio as a blocking stream at the
// device's native sample rate.
type Input struct {
	// Device selects the input by name. Empty selects the host default.
	Device string

	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []float32
}

// NewInput returns an Input for the named device.
func NewInput(device string) *Input {
	return &Input{Device: device}
}

// Open implements [capture.Source]. The stream is opened mono at the
// device's default sample rate; framesPerBuffer is scaled from the wire rate
// so one native buffer covers roughly one outbound frame.
func (in *Input) Open(_ context.Context, want audio.Format, framesPerBuffer int) (audio.Format, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.stream != nil {
		return audio.Format{}, capture.ErrAlreadyStarted
	}
	if err := portaudio.Initialize(); err != nil {
		return audio.Format{}, fmt.Errorf("%w: initialise portaudio: %w", capture.ErrDeviceUnavailable, err)
	}

	dev, err := findDevice(in.Device, true)
	if err != nil {
		_ = portaudio.Terminate()
		return audio.Format{}, fmt.Errorf("%w: %w", capture.ErrDeviceUnavailable, err)
	}

	native := audio.Format{SampleRate: int(dev.DefaultSampleRate), Channels: 1}
	frames := framesPerBuffer
	if want.SampleRate > 0 && native.SampleRate != want.SampleRate {
		frames = framesPerBuffer * native.SampleRate / want.SampleRate
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = native.Channels
	params.SampleRate = float64(native.SampleRate)
	params.FramesPerBuffer = frames

	buf := make([]float32, frames*native.Channels)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		_ = portaudio.Terminate()
		return audio.Format{}, fmt.Errorf("%w: open input %q: %w", capture.ErrDeviceUnavailable, dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return audio.Format{}, fmt.Errorf("%w: start input %q: %w", capture.ErrDeviceUnavailable, dev.Name, err)
	}

	in.stream = stream
	in.buf = buf
	return native, nil
}

// Read implements [capture.Source]. The returned slice is a copy.
func (in *Input) Read() ([]float32, error) {
	in.mu.Lock()
	stream, buf := in.stream, in.buf
	in.mu.Unlock()
	if stream == nil {
		return nil, errors.New("portaudio: input not open")
	}

	// Overflow only means samples were lost; keep reading.
	if err := stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
		return nil, fmt.Errorf("portaudio: read input: %w", err)
	}
	out := make([]float32, len(buf))
	copy(out, buf)
	return out, nil
}

// Close implements [capture.Source]. Aborting the stream unblocks a pending
// Read.
func (in *Input) Close() error {
	in.mu.Lock()
	stream := in.stream
	in.stream = nil
	in.mu.Unlock()
	if stream == nil {
		return nil
	}

	var errs []error
	if err := stream.Abort(); err != nil {
		errs = append(errs, fmt.Errorf("abort input: %w", err))
	}
	if err := stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close input: %w", err))
	}
	if err := portaudio.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("terminate: %w", err))
	}
	return errors.Join(errs...)
}
