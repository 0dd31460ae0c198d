package capture_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/orbisvoice/orbis/pkg/audio"
	"github.com/orbisvoice/orbis/pkg/audio/capture"
	"github.com/orbisvoice/orbis/pkg/audio/mock"
)

// event is one callback invocation observed by a test.
type event struct {
	kind   string // "volume" or "frame"
	volume float64
	frame  audio.AudioFrame
}

// recordEvents registers callbacks on r that append to a shared, ordered log.
// The returned function waits until at least n events have arrived.
func recordEvents(t *testing.T, r *capture.Recorder) func(n int) []event {
	t.Helper()
	var mu sync.Mutex
	var events []event
	r.OnVolume(func(v float64) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, event{kind: "volume", volume: v})
	})
	r.OnFrame(func(f audio.AudioFrame) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, event{kind: "frame", frame: f})
	})
	return func(n int) []event {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			mu.Lock()
			if len(events) >= n {
				out := append([]event(nil), events...)
				mu.Unlock()
				return out
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
		}
		mu.Lock()
		defer mu.Unlock()
		t.Fatalf("timed out waiting for %d events, got %d", n, len(events))
		return nil
	}
}

func constant(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestRecorder_EmitsVolumeThenFrame(t *testing.T) {
	src := mock.NewSource(audio.WireFormat)
	r := capture.New(src, capture.WithBufferSize(160))
	wait := recordEvents(t, r)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = r.Stop() })

	src.Feed(constant(160, 0.5))
	got := wait(2)

	if got[0].kind != "volume" || got[1].kind != "frame" {
		t.Fatalf("order = %s,%s, want volume,frame", got[0].kind, got[1].kind)
	}
	if v := got[0].volume; v < 0.49 || v > 0.51 {
		t.Errorf("volume = %f, want ~0.5", v)
	}
	f := got[1].frame
	if f.SampleRate != 16000 || f.Channels != 1 {
		t.Errorf("frame format = %dHz/%dch, want 16000Hz/1ch", f.SampleRate, f.Channels)
	}
	if len(f.Data) != 320 {
		t.Errorf("frame bytes = %d, want 320", len(f.Data))
	}
}

func TestRecorder_AccumulatesAcrossBuffers(t *testing.T) {
	src := mock.NewSource(audio.WireFormat)
	r := capture.New(src, capture.WithBufferSize(100))
	wait := recordEvents(t, r)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = r.Stop() })

	// 250 samples in odd pieces: two full frames, 50 left pending.
	src.Feed(constant(70, 0.1))
	src.Feed(constant(90, 0.1))
	src.Feed(constant(90, 0.1))
	got := wait(4)

	var frames []audio.AudioFrame
	for _, e := range got {
		if e.kind == "frame" {
			frames = append(frames, e.frame)
		}
	}
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
	if frames[0].Timestamp != 0 {
		t.Errorf("frame 0 timestamp = %v, want 0", frames[0].Timestamp)
	}
	if want := audio.WireFormat.Duration(100); frames[1].Timestamp != want {
		t.Errorf("frame 1 timestamp = %v, want %v", frames[1].Timestamp, want)
	}
}

func TestRecorder_ResamplesNativeStereo(t *testing.T) {
	src := mock.NewSource(audio.Format{SampleRate: 48000, Channels: 2})
	r := capture.New(src, capture.WithBufferSize(160))
	wait := recordEvents(t, r)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = r.Stop() })

	// 10 ms of 48 kHz stereo is 480 frames; plus one to cover the
	// interpolation tail.
	src.Feed(constant(2*481, 0.25))
	got := wait(2)

	f := got[1].frame
	if f.Samples() != 160 {
		t.Fatalf("samples = %d, want 160", f.Samples())
	}
	if f.SampleRate != audio.WireFormat.SampleRate {
		t.Errorf("sample rate = %d, want %d", f.SampleRate, audio.WireFormat.SampleRate)
	}
}

func TestRecorder_StartPermissionDenied(t *testing.T) {
	src := mock.NewSource(audio.WireFormat)
	src.OpenErr = capture.ErrPermissionDenied
	r := capture.New(src)

	err := r.Start(context.Background())
	var acq *capture.AcquisitionError
	if !errors.As(err, &acq) {
		t.Fatalf("err = %v, want *AcquisitionError", err)
	}
	if !errors.Is(err, capture.ErrPermissionDenied) {
		t.Errorf("err = %v, want ErrPermissionDenied", err)
	}
	if r.Running() {
		t.Error("recorder should not be running after a failed Start")
	}
}

func TestRecorder_StartUnknownErrorIsDeviceUnavailable(t *testing.T) {
	src := mock.NewSource(audio.WireFormat)
	src.OpenErr = errors.New("no such device")
	r := capture.New(src)

	err := r.Start(context.Background())
	if !errors.Is(err, capture.ErrDeviceUnavailable) {
		t.Fatalf("err = %v, want ErrDeviceUnavailable", err)
	}
}

func TestRecorder_DoubleStart(t *testing.T) {
	src := mock.NewSource(audio.WireFormat)
	r := capture.New(src)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = r.Stop() })

	if err := r.Start(context.Background()); !errors.Is(err, capture.ErrAlreadyStarted) {
		t.Fatalf("second Start err = %v, want ErrAlreadyStarted", err)
	}
}

func TestRecorder_StopReleasesDeviceAndIsIdempotent(t *testing.T) {
	src := mock.NewSource(audio.WireFormat)
	r := capture.New(src, capture.WithBufferSize(10))
	wait := recordEvents(t, r)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	src.Feed(constant(10, 0.1))
	wait(2)

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if src.IsOpen() {
		t.Error("device still held after Stop")
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if src.CallCountClose != 1 {
		t.Errorf("Close calls = %d, want 1", src.CallCountClose)
	}
}

func TestRecorder_NoCallbacksAfterStop(t *testing.T) {
	src := mock.NewSource(audio.WireFormat)
	r := capture.New(src, capture.WithBufferSize(10))

	var mu sync.Mutex
	var frames int
	r.OnFrame(func(audio.AudioFrame) {
		mu.Lock()
		defer mu.Unlock()
		frames++
	})

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	src.Feed(constant(10, 0.1))
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if frames != 0 {
		t.Errorf("frames after Stop = %d, want 0", frames)
	}
}

func TestRecorder_RestartAfterStop(t *testing.T) {
	src := mock.NewSource(audio.WireFormat)
	r := capture.New(src, capture.WithBufferSize(10))
	wait := recordEvents(t, r)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	t.Cleanup(func() { _ = r.Stop() })

	src.Feed(constant(10, 0.1))
	wait(2)
	if src.CallCountOpen != 2 {
		t.Errorf("Open calls = %d, want 2", src.CallCountOpen)
	}
}

func TestRecorder_ReadFailureReleasesAndReports(t *testing.T) {
	src := mock.NewSource(audio.WireFormat)
	r := capture.New(src, capture.WithBufferSize(160))
	errc := make(chan error, 2)
	r.OnError(func(err error) { errc <- err })

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = r.Stop() })

	src.FailRead(errors.New("device unplugged"))

	var err error
	select {
	case err = <-errc:
	case <-time.After(2 * time.Second):
		t.Fatal("error callback did not fire")
	}
	var acq *capture.AcquisitionError
	if !errors.As(err, &acq) {
		t.Fatalf("got %T, want *AcquisitionError", err)
	}
	if !errors.Is(err, capture.ErrDeviceUnavailable) {
		t.Errorf("%v does not wrap ErrDeviceUnavailable", err)
	}
	if r.Running() {
		t.Error("Running() = true after read failure")
	}
	if src.IsOpen() {
		t.Error("device still held after read failure")
	}

	if err := r.Stop(); err != nil {
		t.Errorf("Stop after failure: %v", err)
	}
	if src.CallCountClose != 1 {
		t.Errorf("Close calls = %d, want 1", src.CallCountClose)
	}
	select {
	case err := <-errc:
		t.Errorf("second error callback: %v", err)
	default:
	}
}

func TestRecorder_RestartAfterReadFailure(t *testing.T) {
	src := mock.NewSource(audio.WireFormat)
	r := capture.New(src, capture.WithBufferSize(10))
	failed := make(chan struct{}, 1)
	r.OnError(func(error) { failed <- struct{}{} })
	wait := recordEvents(t, r)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	src.FailRead(errors.New("stream aborted"))
	select {
	case <-failed:
	case <-time.After(2 * time.Second):
		t.Fatal("error callback did not fire")
	}

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	t.Cleanup(func() { _ = r.Stop() })

	src.Feed(constant(10, 0.1))
	wait(2)
	if !r.Running() {
		t.Error("Running() = false after restart")
	}
}
