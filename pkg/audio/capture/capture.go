// Package capture turns a live microphone into a continuous sequence of
// outbound [audio.AudioFrame] values plus volume telemetry.
//
// A [Recorder] reads native buffers from a [Source], down-mixes them to mono,
// resamples to [audio.WireFormat] and slices the result into fixed-size
// frames. For every frame the volume callback fires first, then the frame
// callback, both on the recorder's read goroutine and in capture order. A
// device that fails mid-stream releases the microphone and reports through
// the error callback.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/orbisvoice/orbis/pkg/audio"
)

// DefaultBufferSize is the number of wire-format samples per emitted frame.
const DefaultBufferSize = 4096

var (
	// ErrPermissionDenied is returned by a [Source] when the platform refuses
	// access to the microphone.
	ErrPermissionDenied = errors.New("capture: microphone permission denied")

	// ErrDeviceUnavailable is returned by a [Source] when no usable input
	// device exists or it cannot be opened.
	ErrDeviceUnavailable = errors.New("capture: input device unavailable")

	// ErrAlreadyStarted is returned by [Recorder.Start] while capture runs.
	ErrAlreadyStarted = errors.New("capture: recorder already started")
)

// AcquisitionError reports that the microphone could not be acquired. It
// always wraps [ErrPermissionDenied] or [ErrDeviceUnavailable].
type AcquisitionError struct {
	Err error
}

func (e *AcquisitionError) Error() string {
	return "capture: acquire microphone: " + e.Err.Error()
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// Source is a platform audio input device.
//
// Open acquires the device exclusively and returns the native format buffers
// will be delivered in; want and framesPerBuffer are hints the device may
// ignore. Read blocks until the next buffer of interleaved float samples in
// [-1, 1] is available. Close releases the device and must unblock a pending
// Read, which then returns an error.
type Source interface {
	Open(ctx context.Context, want audio.Format, framesPerBuffer int) (audio.Format, error)
	Read() ([]float32, error)
	Close() error
}

// Option configures a [Recorder].
type Option func(*Recorder)

// WithBufferSize sets the number of samples per emitted frame. Values <= 0
// are ignored.
func WithBufferSize(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.bufferSize = n
		}
	}
}

// WithLogger sets the logger used for capture diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.log = l
		}
	}
}

// Recorder is the capture pipeline. A Recorder may be started and stopped
// repeatedly; callbacks persist across restarts.
//
// All methods are safe for concurrent use.
type Recorder struct {
	src        Source
	bufferSize int
	log        *slog.Logger

	mu       sync.Mutex
	onFrame  func(audio.AudioFrame)
	onVolume func(float64)
	onError  func(error)
	running  bool
	done     chan struct{}
}

// New creates a Recorder reading from src.
func New(src Source, opts ...Option) *Recorder {
	r := &Recorder{
		src:        src,
		bufferSize: DefaultBufferSize,
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// BufferSize returns the number of samples per emitted frame.
func (r *Recorder) BufferSize() int { return r.bufferSize }

// OnFrame registers the frame callback. Only one callback is active at a
// time; passing nil clears it.
func (r *Recorder) OnFrame(fn func(audio.AudioFrame)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFrame = fn
}

// OnVolume registers the volume callback. It receives the RMS level of each
// frame in [0, 1]. Passing nil clears it.
func (r *Recorder) OnVolume(fn func(float64)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onVolume = fn
}

// OnError registers the callback for a device that fails while capturing.
// It receives an [*AcquisitionError] once per run, on the read goroutine,
// after the device has been released. fn must not call Stop synchronously.
func (r *Recorder) OnError(fn func(error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onError = fn
}

// Running reports whether the device is held.
func (r *Recorder) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Start acquires the input device and begins emitting frames. It returns an
// [*AcquisitionError] when the device cannot be acquired.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return ErrAlreadyStarted
	}
	if r.done != nil {
		// A read failure ended the previous run; wait for its goroutine.
		done := r.done
		r.mu.Unlock()
		<-done
		r.mu.Lock()
		if r.running {
			return ErrAlreadyStarted
		}
		r.done = nil
	}

	native, err := r.src.Open(ctx, audio.WireFormat, r.bufferSize)
	if err != nil {
		if !errors.Is(err, ErrPermissionDenied) && !errors.Is(err, ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
		}
		return &AcquisitionError{Err: err}
	}
	if !native.Valid() {
		_ = r.src.Close()
		return &AcquisitionError{Err: fmt.Errorf("%w: invalid native format %+v", ErrDeviceUnavailable, native)}
	}

	r.log.Debug("capture started", "native", native.String(), "wire", audio.WireFormat.String(), "buffer_size", r.bufferSize)

	r.running = true
	r.done = make(chan struct{})
	go r.readLoop(native, r.done)
	return nil
}

// Stop releases the input device and halts callback emission. When Stop
// returns no further callbacks will fire. Calling Stop on a stopped Recorder
// is a no-op.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	done := r.done
	if done == nil {
		r.mu.Unlock()
		return nil
	}
	held := r.running
	r.running = false
	r.done = nil
	r.mu.Unlock()

	var err error
	if held {
		err = r.src.Close()
	}
	<-done
	if err != nil {
		return fmt.Errorf("capture: release device: %w", err)
	}
	return nil
}

// readLoop pulls native buffers until the source fails or is closed.
func (r *Recorder) readLoop(native audio.Format, done chan struct{}) {
	defer close(done)

	resampler := audio.NewResampler(native.SampleRate, audio.WireFormat.SampleRate)
	pending := make([]float32, 0, 2*r.bufferSize)
	var emitted int64

	for {
		buf, err := r.src.Read()
		if err != nil {
			r.fail(err)
			return
		}

		pending = append(pending, resampler.Process(audio.Downmix(buf, native.Channels))...)

		for len(pending) >= r.bufferSize {
			if !r.emit(pending[:r.bufferSize], emitted) {
				return
			}
			emitted++
			n := copy(pending, pending[r.bufferSize:])
			pending = pending[:n]
		}
	}
}

// fail ends a run whose device read failed. A read that fails because Stop
// closed the device is expected and ignored.
func (r *Recorder) fail(readErr error) {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	onError := r.onError
	r.mu.Unlock()

	r.log.Warn("capture: device read failed, capture halted", "error", readErr)
	if err := r.src.Close(); err != nil {
		r.log.Warn("capture: release failed device", "error", err)
	}
	if onError != nil {
		onError(&AcquisitionError{Err: fmt.Errorf("%w: read: %w", ErrDeviceUnavailable, readErr)})
	}
}

// emit delivers one frame to the registered callbacks. It returns false once
// the recorder has been stopped.
func (r *Recorder) emit(samples []float32, index int64) bool {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return false
	}
	onFrame, onVolume := r.onFrame, r.onVolume
	r.mu.Unlock()

	if onVolume != nil {
		onVolume(audio.RMS(samples))
	}
	if onFrame != nil {
		onFrame(audio.AudioFrame{
			Data:       audio.FloatToPCM16(samples),
			SampleRate: audio.WireFormat.SampleRate,
			Channels:   audio.WireFormat.Channels,
			Timestamp:  audio.WireFormat.Duration(int(index) * r.bufferSize),
		})
	}
	return true
}
