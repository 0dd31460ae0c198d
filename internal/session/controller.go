// Package session owns the lifecycle of one live voice session.
//
// A [Controller] moves between three phases: Idle, Connecting and Active.
// Connect opens the output device, connects to the remote, acquires the
// microphone and only then reports Active. Every failure path, remote close
// and user disconnect converges on a single teardown that releases the
// microphone, silences playback and closes the connection before the UI state
// returns to Idle.
//
// Each connect attempt is numbered. Callbacks and goroutines belonging to an
// attempt that has since been torn down observe the mismatch and do nothing,
// so a late device callback or a message that was already in flight can never
// act on a newer session.
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orbisvoice/orbis/internal/observe"
	"github.com/orbisvoice/orbis/pkg/audio"
	"github.com/orbisvoice/orbis/pkg/audio/capture"
	"github.com/orbisvoice/orbis/pkg/audio/playback"
	"github.com/orbisvoice/orbis/pkg/live"
)

// DefaultConnectTimeout bounds a connect attempt when no timeout is configured.
const DefaultConnectTimeout = 15 * time.Second

// Option configures a [Controller].
type Option func(*Controller)

// WithConnectTimeout bounds the time from Connect to Active. Zero disables the
// bound.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.connectTimeout = d
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// Controller is the session state machine. All methods are safe for
// concurrent use.
type Controller struct {
	provider       live.Provider
	recorder       *capture.Recorder
	player         *playback.Player
	metrics        *observe.Metrics
	log            *slog.Logger
	connectTimeout time.Duration

	// notifyMu serialises OnChange deliveries so observers never see an
	// older snapshot after a newer one.
	notifyMu sync.Mutex

	mu            sync.Mutex
	cfg           live.Config
	phase         Phase
	volume        float64
	errMsg        string
	attempt       uint64
	sessionID     string
	sess          live.Session
	sender        *sender
	cancelConnect context.CancelFunc
	closed        bool
	onChange      func(State)
	onTranscript  func(Transcript)
}

// New creates a Controller that connects through provider, captures with
// recorder and plays through player. cfg is the session configuration used
// by subsequent Connect calls; see [Controller.SetConfig].
func New(provider live.Provider, recorder *capture.Recorder, player *playback.Player, cfg live.Config, opts ...Option) *Controller {
	c := &Controller{
		provider:       provider,
		recorder:       recorder,
		player:         player,
		cfg:            cfg,
		connectTimeout: DefaultConnectTimeout,
		log:            slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// OnChange registers fn to receive a snapshot after every state change.
// fn is never called with the controller's lock held.
func (c *Controller) OnChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// OnTranscript registers fn to receive transcription fragments.
func (c *Controller) OnTranscript(fn func(Transcript)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTranscript = fn
}

// SetConfig replaces the configuration used by the next Connect. A session
// that is already connecting or active keeps its configuration.
func (c *Controller) SetConfig(cfg live.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
}

// Config returns the configuration used by the next Connect.
func (c *Controller) Config() live.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// State returns the current snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// SessionID returns the identifier of the current session, or "" when Idle.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Controller) stateLocked() State {
	return State{
		Phase:      c.phase,
		Connected:  c.phase == PhaseActive,
		Connecting: c.phase == PhaseConnecting,
		Volume:     c.volume,
		Error:      c.errMsg,
	}
}

// Connect starts a session and returns once it is Active or has failed.
//
// It returns [ErrBusy] unless Idle, [ErrAborted] when Disconnect or Close
// interrupted the attempt, and an [*Error] for every failure that is also
// surfaced through State.Error. ctx bounds the connect attempt only; the
// session outlives it.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.phase != PhaseIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	c.attempt++
	attempt := c.attempt
	c.phase = PhaseConnecting
	c.errMsg = ""
	c.sessionID = uuid.NewString()
	id := c.sessionID
	cfg := c.cfg

	var (
		cctx   context.Context
		cancel context.CancelFunc
	)
	if c.connectTimeout > 0 {
		cctx, cancel = context.WithTimeout(ctx, c.connectTimeout)
	} else {
		cctx, cancel = context.WithCancel(ctx)
	}
	c.cancelConnect = cancel
	c.mu.Unlock()
	defer cancel()
	c.notify()

	cctx, span := observe.StartSessionSpan(cctx, "session.connect", id, cfg.Model)
	defer span.End()
	log := observe.SessionLogger(cctx, c.log, id)
	start := time.Now()

	fail := func(kind Kind, err error) error {
		if !c.current(attempt) {
			c.metrics.RecordConnect(ctx, time.Since(start).Seconds(), "aborted")
			log.Info("connect aborted", "err", err)
			return ErrAborted
		}
		status := "error"
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			status = "timeout"
			err = fmt.Errorf("timed out after %s: %w", c.connectTimeout, err)
		}
		c.metrics.RecordConnect(ctx, time.Since(start).Seconds(), status)
		observe.FailSpan(span, err)

		serr := &Error{Kind: kind, Err: err}
		log.Warn("connect failed", "kind", kind.String(), "err", err)
		c.teardown(attempt, serr)
		return serr
	}

	if err := c.player.Init(cctx); err != nil {
		return fail(KindContextBlocked, err)
	}

	sess, err := c.provider.Connect(cctx, cfg)
	if err != nil {
		return fail(KindConnect, err)
	}

	c.mu.Lock()
	if c.attempt != attempt {
		c.mu.Unlock()
		if cerr := sess.Close(); cerr != nil {
			log.Warn("close abandoned session", "err", cerr)
		}
		c.metrics.RecordConnect(ctx, time.Since(start).Seconds(), "aborted")
		return ErrAborted
	}
	snd := newSender(sendQueueFrames)
	c.sess = sess
	c.sender = snd
	c.mu.Unlock()
	go snd.run(func(f audio.AudioFrame) { c.transmit(attempt, sess, f) })

	c.recorder.OnVolume(func(v float64) { c.setVolume(attempt, v) })
	c.recorder.OnFrame(func(f audio.AudioFrame) { c.sendFrame(attempt, snd, f, log) })
	c.recorder.OnError(func(err error) {
		// The recorder waits for this callback, and teardown waits for the
		// recorder.
		go c.teardown(attempt, &Error{Kind: KindAcquisition, Err: err})
	})
	if err := c.recorder.Start(cctx); err != nil {
		return fail(KindAcquisition, err)
	}

	c.mu.Lock()
	if c.attempt != attempt {
		c.mu.Unlock()
		// Teardown ran before the recorder started and could not stop it.
		if serr := c.recorder.Stop(); serr != nil {
			log.Warn("release microphone", "err", serr)
		}
		c.metrics.RecordConnect(ctx, time.Since(start).Seconds(), "aborted")
		return ErrAborted
	}
	c.phase = PhaseActive
	c.cancelConnect = nil
	c.mu.Unlock()

	c.metrics.RecordConnect(ctx, time.Since(start).Seconds(), "ok")
	c.metrics.ActiveSessions.Add(context.Background(), 1)
	log.Info("session active", "model", cfg.Model, "voice", cfg.Voice)
	c.notify()

	go c.receive(attempt, sess, log)
	return nil
}

// Disconnect ends the current session, or aborts a connect in flight. It
// returns once the microphone is released and playback is silent. It is a
// no-op when Idle.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	attempt, phase := c.attempt, c.phase
	c.mu.Unlock()
	if phase == PhaseIdle {
		return
	}
	c.teardown(attempt, nil)
}

// Close disconnects and releases the output device. Connect returns
// [ErrClosed] afterwards.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.Disconnect()
	return c.player.Close()
}

// Check reports whether the controller can accept sessions. It satisfies the
// readiness checker signature.
func (c *Controller) Check(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

// teardown ends attempt, recording cause as the surfaced error. It runs at
// most once per attempt; later calls for the same attempt are no-ops.
func (c *Controller) teardown(attempt uint64, cause error) {
	c.mu.Lock()
	if c.attempt != attempt || c.phase == PhaseIdle {
		c.mu.Unlock()
		return
	}
	// Invalidate the attempt before releasing anything.
	c.attempt++
	wasActive := c.phase == PhaseActive
	sess := c.sess
	c.sess = nil
	snd := c.sender
	c.sender = nil
	cancel := c.cancelConnect
	c.cancelConnect = nil
	id := c.sessionID
	c.mu.Unlock()

	log := c.log.With("session_id", id)
	if cancel != nil {
		cancel()
	}
	if err := c.recorder.Stop(); err != nil {
		log.Warn("release microphone", "err", err)
	}
	c.player.Stop()
	if sess != nil {
		if err := sess.Close(); err != nil {
			log.Warn("close session", "err", err)
		}
	}
	if snd != nil {
		snd.close()
	}

	c.mu.Lock()
	c.phase = PhaseIdle
	c.volume = 0
	c.sessionID = ""
	if cause != nil {
		c.errMsg = cause.Error()
	}
	c.mu.Unlock()

	ctx := context.Background()
	if wasActive {
		c.metrics.ActiveSessions.Add(ctx, -1)
	}
	var serr *Error
	if errors.As(cause, &serr) {
		c.metrics.RecordSessionError(ctx, serr.Kind.String())
		log.Warn("session ended", "kind", serr.Kind.String(), "err", serr.Err)
	} else {
		log.Info("session ended")
	}
	c.notify()
}

// receive consumes the inbound stream until it closes, then tears the
// attempt down. After a local teardown the final call is a no-op.
func (c *Controller) receive(attempt uint64, sess live.Session, log *slog.Logger) {
	for msg := range sess.Messages() {
		c.handle(attempt, msg, log)
	}
	if err := sess.Err(); err != nil {
		c.teardown(attempt, &Error{Kind: KindTransport, Err: err})
		return
	}
	log.Info("remote closed session")
	c.teardown(attempt, nil)
}

// handle applies one inbound message. The interrupt is applied before any
// audio in the same message so that audio following a barge-in belongs to the
// new generation.
func (c *Controller) handle(attempt uint64, msg live.Message, log *slog.Logger) {
	chunks := make([][]byte, 0, len(msg.Audio))
	for _, b := range msg.Audio {
		data, err := base64.StdEncoding.DecodeString(b.Data)
		if err != nil {
			log.Warn("drop undecodable audio", "mime", b.MIMEType, "err", err)
			c.metrics.DecodeErrors.Add(context.Background(), 1)
			continue
		}
		chunks = append(chunks, data)
	}

	c.mu.Lock()
	if c.attempt != attempt {
		c.mu.Unlock()
		return
	}
	if msg.Interrupted {
		c.player.Stop()
	}
	for _, data := range chunks {
		c.player.Play(playback.Chunk{Generation: c.player.Generation(), Data: data})
	}
	onTranscript := c.onTranscript
	c.mu.Unlock()

	if msg.Interrupted {
		log.Debug("interrupted")
		c.metrics.Interruptions.Add(context.Background(), 1)
	}
	if onTranscript == nil {
		return
	}
	if msg.InputTranscript != "" {
		onTranscript(Transcript{Role: "user", Text: msg.InputTranscript})
	}
	switch {
	case msg.OutputTranscript != "":
		onTranscript(Transcript{Role: "model", Text: msg.OutputTranscript})
	case msg.Text != "":
		onTranscript(Transcript{Role: "model", Text: msg.Text})
	}
}

// sendFrame queues one captured frame while attempt is Active. It runs on
// the recorder's goroutine, which teardown waits for, so it never touches the
// network.
func (c *Controller) sendFrame(attempt uint64, snd *sender, f audio.AudioFrame, log *slog.Logger) {
	if !c.active(attempt) {
		return
	}
	if !snd.enqueue(f) {
		log.Debug("send queue full, dropping frame", "timestamp", f.Timestamp)
		c.metrics.FramesDropped.Add(context.Background(), 1)
	}
}

// transmit writes one frame to the remote. It runs on the sender goroutine,
// which teardown also waits for, so a send failure tears down asynchronously.
func (c *Controller) transmit(attempt uint64, sess live.Session, f audio.AudioFrame) {
	if !c.active(attempt) {
		return
	}

	err := sess.Send(live.RealtimeInput{Media: &live.Blob{
		MIMEType: audio.WireFormat.MIMEType(),
		Data:     base64.StdEncoding.EncodeToString(f.Data),
	}})
	switch {
	case err == nil:
		c.metrics.FramesSent.Add(context.Background(), 1)
	case errors.Is(err, live.ErrSessionClosed):
		// The receive loop observes the close and tears down.
	default:
		go c.teardown(attempt, &Error{Kind: KindTransport, Err: fmt.Errorf("send audio: %w", err)})
	}
}

func (c *Controller) setVolume(attempt uint64, v float64) {
	c.mu.Lock()
	if c.attempt != attempt || c.phase == PhaseIdle {
		c.mu.Unlock()
		return
	}
	c.volume = v
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) active(attempt uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt == attempt && c.phase == PhaseActive
}

func (c *Controller) current(attempt uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt == attempt
}

func (c *Controller) notify() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	fn := c.onChange
	st := c.stateLocked()
	c.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}
