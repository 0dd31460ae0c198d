package session

import (
	"errors"
	"fmt"

	"github.com/orbisvoice/orbis/pkg/audio/capture"
)

// Phase is the lifecycle phase of the controller.
type Phase int

const (
	// PhaseIdle means no session exists. Connect is accepted.
	PhaseIdle Phase = iota

	// PhaseConnecting means a connect attempt is in flight.
	PhaseConnecting

	// PhaseActive means audio flows in both directions.
	PhaseActive
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseActive:
		return "active"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// State is the UI-facing snapshot of the controller.
type State struct {
	Phase Phase

	// Connected is true while Active.
	Connected bool

	// Connecting is true while a connect attempt is in flight.
	Connecting bool

	// Volume is the latest microphone RMS level in [0, 1]. Zero unless
	// capture is running.
	Volume float64

	// Error is the human-readable message of the error that ended the last
	// session, or empty.
	Error string
}

// Transcript is one transcription fragment from the remote.
type Transcript struct {
	// Role is "user" for the caller's speech and "model" for the reply.
	Role string
	Text string
}

var (
	// ErrBusy is returned by Connect when a session is connecting or active.
	ErrBusy = errors.New("session: already connecting or active")

	// ErrAborted is returned by Connect when Disconnect or Close interrupted
	// the attempt.
	ErrAborted = errors.New("session: connect aborted")

	// ErrClosed is returned by Connect after Close.
	ErrClosed = errors.New("session: controller closed")
)

// Kind classifies errors that end a session.
type Kind int

const (
	// KindAcquisition means the microphone could not be acquired.
	KindAcquisition Kind = iota + 1

	// KindContextBlocked means the audio output could not be opened.
	KindContextBlocked

	// KindConnect means the remote rejected the session or was unreachable.
	KindConnect

	// KindTransport means an active session failed.
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindAcquisition:
		return "acquisition"
	case KindContextBlocked:
		return "context_blocked"
	case KindConnect:
		return "connect"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Error is a session-ending error. Its message is what the UI displays.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindAcquisition:
		if errors.Is(e.Err, capture.ErrPermissionDenied) {
			return "Microphone access was denied: " + e.Err.Error()
		}
		return "No usable microphone: " + e.Err.Error()
	case KindContextBlocked:
		return "Audio output is blocked: " + e.Err.Error()
	case KindConnect:
		return "Failed to connect: " + e.Err.Error()
	case KindTransport:
		return "Connection lost: " + e.Err.Error()
	default:
		return e.Err.Error()
	}
}

func (e *Error) Unwrap() error { return e.Err }
