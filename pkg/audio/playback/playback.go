// Package playback schedules inbound PCM16 chunks for gapless, in-order
// playback on an output device, and discards queued or late audio in O(1) on
// interruption.
//
// Every chunk carries the generation that was current when it was produced.
// [Player.Stop] increments the generation, so any chunk tagged with an older
// value is dropped instead of played. Scheduling follows the device clock:
// each chunk starts at max(cursor, now) and moves the cursor to its end.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/orbisvoice/orbis/pkg/audio"
)

var (
	// ErrContextBlocked is returned by [Player.Init] when the output device
	// cannot be opened or resumed.
	ErrContextBlocked = errors.New("playback: output context blocked")

	// ErrDecode marks a chunk that is not valid PCM16. It is passed to
	// [Hooks.OnDecodeError] and never surfaced to callers of Play.
	ErrDecode = errors.New("playback: decode chunk")

	// ErrClosed is returned by Init after Close.
	ErrClosed = errors.New("playback: player closed")
)

// Sink is a platform audio output device with a monotonic clock.
//
// Now reports the device's playback position. Schedule queues samples to
// begin at the given clock position; a position already in the past starts
// immediately. Flush cancels every queued and currently sounding buffer.
type Sink interface {
	Open(ctx context.Context, f audio.Format) error
	Now() time.Duration
	Schedule(at time.Duration, samples []float32) error
	Flush()
	Close() error
}

// Chunk is one inbound audio chunk tagged with the generation observed when
// it was received.
type Chunk struct {
	Generation uint64
	Data       []byte
}

// Scheduled describes a chunk that was handed to the sink.
type Scheduled struct {
	Generation uint64
	Start      time.Duration
	Duration   time.Duration
}

// Hooks receives playback events. Every field is optional. Hooks may run with
// the player's lock held; they must not block or call back into the Player.
type Hooks struct {
	OnScheduled   func(Scheduled)
	OnDiscarded   func(Chunk)
	OnDecodeError func(error)
}

// Option configures a [Player].
type Option func(*Player)

// WithFormat sets the format inbound chunks are decoded as. The default is
// [audio.DefaultPlaybackFormat].
func WithFormat(f audio.Format) Option {
	return func(p *Player) {
		if f.Valid() {
			p.format = f
		}
	}
}

// WithLogger sets the logger used for playback diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(p *Player) {
		if l != nil {
			p.log = l
		}
	}
}

// WithHooks installs event hooks.
func WithHooks(h Hooks) Option {
	return func(p *Player) { p.hooks = h }
}

// Player is the playback pipeline. Create with [New], activate with
// [Player.Init] and release with [Player.Close].
//
// All methods are safe for concurrent use.
type Player struct {
	sink   Sink
	format audio.Format
	log    *slog.Logger
	hooks  Hooks

	mu          sync.Mutex
	initialized bool
	closed      bool
	generation  uint64
	cursor      int64 // next free sample frame on the sink clock
	pending     []Chunk

	notify chan struct{}
	done   chan struct{}
	exited chan struct{}
}

// New creates a Player writing to sink. No device is opened until Init.
func New(sink Sink, opts ...Option) *Player {
	p := &Player{
		sink:   sink,
		format: audio.DefaultPlaybackFormat,
		log:    slog.Default(),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Format returns the decode format.
func (p *Player) Format() audio.Format { return p.format }

// Init opens the output device. It is idempotent: once a call has succeeded
// later calls return nil without touching the device. A failed Init may be
// retried.
func (p *Player) Init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if p.initialized {
		return nil
	}
	if err := p.sink.Open(ctx, p.format); err != nil {
		if errors.Is(err, ErrContextBlocked) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrContextBlocked, err)
	}

	p.initialized = true
	p.cursor = 0
	go p.worker()
	p.log.Debug("playback initialised", "format", p.format.String())
	return nil
}

// Generation returns the current generation. Tag chunks with this value at
// the moment they arrive.
func (p *Player) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

// Play enqueues c for scheduling and returns immediately. Chunks are
// scheduled in the order Play is called. A chunk whose generation is stale by
// the time it is scheduled is discarded. Play before Init drops the chunk.
func (p *Player) Play(c Chunk) {
	p.mu.Lock()
	if !p.initialized || p.closed {
		p.mu.Unlock()
		p.log.Warn("playback: chunk dropped, player not initialised", "bytes", len(c.Data))
		return
	}
	p.pending = append(p.pending, c)
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Stop discards all queued and sounding audio and advances the generation so
// that in-flight chunks from the old generation are never played. Stop on an
// uninitialised or closed Player is a no-op.
//
// Each call on an initialised Player advances the generation, including
// repeated calls with nothing to discard.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized || p.closed {
		return
	}
	p.generation++
	p.cursor = 0
	dropped := p.pending
	p.pending = nil
	p.sink.Flush()

	if p.hooks.OnDiscarded != nil {
		for _, c := range dropped {
			p.hooks.OnDiscarded(c)
		}
	}
	p.log.Debug("playback stopped", "generation", p.generation, "dropped", len(dropped))
}

// Close stops the worker and releases the output device. Close is
// idempotent.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	started := p.initialized
	p.pending = nil
	p.mu.Unlock()

	if !started {
		return nil
	}
	close(p.done)
	<-p.exited

	p.sink.Flush()
	if err := p.sink.Close(); err != nil {
		return fmt.Errorf("playback: close sink: %w", err)
	}
	return nil
}

// worker drains the pending queue in FIFO order.
func (p *Player) worker() {
	defer close(p.exited)
	for {
		select {
		case <-p.done:
			return
		case <-p.notify:
		}
		for {
			c, ok := p.next()
			if !ok {
				break
			}
			p.schedule(c)
		}
	}
}

func (p *Player) next() (Chunk, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || len(p.pending) == 0 {
		return Chunk{}, false
	}
	c := p.pending[0]
	p.pending[0] = Chunk{}
	p.pending = p.pending[1:]
	return c, true
}

// schedule decodes c and hands it to the sink at the cursor. Decoding happens
// outside the lock; the generation check and cursor update happen under it
// so that a concurrent Stop either precedes the check or sees the chunk
// already scheduled and flushes it.
func (p *Player) schedule(c Chunk) {
	samples, err := p.decode(c.Data)
	if err != nil {
		p.log.Warn("playback: chunk discarded", "error", err, "bytes", len(c.Data))
		if p.hooks.OnDecodeError != nil {
			p.hooks.OnDecodeError(err)
		}
		return
	}

	p.mu.Lock()
	if c.Generation != p.generation || p.closed {
		p.mu.Unlock()
		if p.hooks.OnDiscarded != nil {
			p.hooks.OnDiscarded(c)
		}
		return
	}

	frame := max(p.cursor, p.format.FramesAt(p.sink.Now()))
	end := frame + int64(len(samples)/max(p.format.Channels, 1))
	start := p.format.FrameDuration(frame)
	dur := p.format.FrameDuration(end) - start
	if err := p.sink.Schedule(start, samples); err != nil {
		p.mu.Unlock()
		p.log.Warn("playback: schedule failed", "error", err)
		return
	}
	p.cursor = end
	p.mu.Unlock()

	if p.hooks.OnScheduled != nil {
		p.hooks.OnScheduled(Scheduled{Generation: c.Generation, Start: start, Duration: dur})
	}
}

// decode converts PCM16 to float samples in the player's format.
func (p *Player) decode(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty chunk", ErrDecode)
	}
	samples, err := audio.PCM16ToFloat(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if p.format.Channels > 1 && len(samples)%p.format.Channels != 0 {
		return nil, fmt.Errorf("%w: %d samples not divisible by %d channels", ErrDecode, len(samples), p.format.Channels)
	}
	return samples, nil
}
