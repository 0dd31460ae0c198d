// Package mock provides in-memory implementations of the [capture.Source] and
// [playback.Sink] device interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	src := mock.NewSource(audio.WireFormat)
//	rec := capture.New(src, capture.WithBufferSize(160))
//	_ = rec.Start(ctx)
//	src.Feed(make([]float32, 160))
//
//	sink := &mock.Sink{}
//	p := playback.New(sink)
//	sink.Advance(250 * time.Millisecond) // move the output clock
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/orbisvoice/orbis/pkg/audio"
)

// errClosed is returned by [Source.Read] after Close.
var errClosed = errors.New("mock: source closed")

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [capture.Source]. Buffers pushed with
// [Source.Feed] are returned from Read in order.
type Source struct {
	mu sync.Mutex

	// Format is returned by Open as the native device format.
	Format audio.Format

	// OpenErr is returned by Open when non-nil.
	OpenErr error

	// CloseErr is returned by Close.
	CloseErr error

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// LastFramesPerBuffer is the framesPerBuffer hint from the latest Open.
	LastFramesPerBuffer int

	buffers chan []float32
	errs    chan error
	closed  chan struct{}
	open    bool
}

// NewSource returns a Source that reports native as its device format.
func NewSource(native audio.Format) *Source {
	return &Source{Format: native, buffers: make(chan []float32, 64), errs: make(chan error, 1)}
}

// Open implements [capture.Source].
func (s *Source) Open(_ context.Context, _ audio.Format, framesPerBuffer int) (audio.Format, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountOpen++
	s.LastFramesPerBuffer = framesPerBuffer
	if s.OpenErr != nil {
		return audio.Format{}, s.OpenErr
	}
	if s.buffers == nil {
		s.buffers = make(chan []float32, 64)
	}
	if s.errs == nil {
		s.errs = make(chan error, 1)
	}
	s.closed = make(chan struct{})
	s.open = true
	return s.Format, nil
}

// Read implements [capture.Source]. It blocks until a buffer is fed or the
// source is closed.
func (s *Source) Read() ([]float32, error) {
	s.mu.Lock()
	buffers, errs, closed := s.buffers, s.errs, s.closed
	s.mu.Unlock()
	if closed == nil {
		return nil, errClosed
	}
	select {
	case <-closed:
		return nil, errClosed
	case err := <-errs:
		return nil, err
	case b := <-buffers:
		return b, nil
	}
}

// Close implements [capture.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if s.open {
		close(s.closed)
		s.open = false
	}
	return s.CloseErr
}

// Feed queues a native buffer for the next Read.
func (s *Source) Feed(samples []float32) {
	s.mu.Lock()
	if s.buffers == nil {
		s.buffers = make(chan []float32, 64)
	}
	buffers := s.buffers
	s.mu.Unlock()
	buffers <- samples
}

// FailRead makes the pending or next Read return err, as a device that
// disappears mid-stream would.
func (s *Source) FailRead(err error) {
	s.mu.Lock()
	if s.errs == nil {
		s.errs = make(chan error, 1)
	}
	errs := s.errs
	s.mu.Unlock()
	errs <- err
}

// IsOpen reports whether the device is currently held.
func (s *Source) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// ScheduleCall records the arguments of a single [Sink.Schedule] invocation.
type ScheduleCall struct {
	// At is the requested start time on the sink clock.
	At time.Duration
	// Samples is the number of samples scheduled.
	Samples int
}

// Sink is a mock implementation of [playback.Sink] with a manual clock. The
// clock starts at zero and only moves through [Sink.Advance].
type Sink struct {
	mu sync.Mutex

	// OpenErr is returned by Open when non-nil.
	OpenErr error

	// ScheduleErr is returned by Schedule when non-nil.
	ScheduleErr error

	// CloseErr is returned by Close.
	CloseErr error

	// Format is the format passed to the most recent successful Open.
	Format audio.Format

	// ScheduleCalls records every Schedule invocation.
	ScheduleCalls []ScheduleCall

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// FlushCount records how many times Flush was called.
	FlushCount int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	now      time.Duration
	notifyCh chan struct{}
}

// Open implements [playback.Sink].
func (s *Sink) Open(_ context.Context, f audio.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountOpen++
	if s.OpenErr != nil {
		return s.OpenErr
	}
	s.Format = f
	return nil
}

// Now implements [playback.Sink].
func (s *Sink) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Schedule implements [playback.Sink].
func (s *Sink) Schedule(at time.Duration, samples []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ScheduleErr != nil {
		return s.ScheduleErr
	}
	s.ScheduleCalls = append(s.ScheduleCalls, ScheduleCall{At: at, Samples: len(samples)})
	if s.notifyCh != nil {
		select {
		case s.notifyCh <- struct{}{}:
		default:
		}
	}
	return nil
}

// Flush implements [playback.Sink].
func (s *Sink) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FlushCount++
}

// Close implements [playback.Sink].
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return s.CloseErr
}

// Advance moves the sink clock forward by d.
func (s *Sink) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now += d
}

// Scheduled returns a copy of the recorded Schedule calls.
func (s *Sink) Scheduled() []ScheduleCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleCall, len(s.ScheduleCalls))
	copy(out, s.ScheduleCalls)
	return out
}

// Flushes returns the number of Flush calls so far.
func (s *Sink) Flushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FlushCount
}

// Notify returns a channel that receives a value after each successful
// Schedule. Sends never block, so a slow reader may miss notifications.
func (s *Sink) Notify() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notifyCh == nil {
		s.notifyCh = make(chan struct{}, 64)
	}
	return s.notifyCh
}
