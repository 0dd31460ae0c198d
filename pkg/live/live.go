// Package live defines the boundary between the session controller and a
// streaming speech model.
//
// A [Provider] is the long-lived capability object constructed once at
// start-up; each call to [Provider.Connect] opens one bidirectional [Session].
// Sessions carry base64 PCM in both directions using the envelope types in
// this package so the controller never depends on a concrete transport.
package live

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by [Session.Send] after the session has been
// closed by either side.
var ErrSessionClosed = errors.New("live: session closed")

// Provider opens live sessions. Implementations must be safe for concurrent
// use.
type Provider interface {
	// Connect dials the remote and blocks until it acknowledges the session
	// configuration or ctx is done.
	Connect(ctx context.Context, cfg Config) (Session, error)
}

// Session is an open streaming connection.
//
// Send transmits one envelope; calls must not be made concurrently with
// each other. Messages yields inbound messages in arrival order and is
// closed when the session ends for any reason. Err reports why it ended:
// nil for a clean close by either side. Close is idempotent.
type Session interface {
	Send(in RealtimeInput) error
	Messages() <-chan Message
	Err() error
	Close() error
}

// Config is the opaque connect configuration passed through to the remote.
type Config struct {
	// Model identifies the live model, e.g. "gemini-2.5-flash-native-audio-preview-09-2025".
	Model string `json:"model" yaml:"model"`

	// ResponseModalities lists the output modalities, e.g. ["AUDIO"].
	ResponseModalities []string `json:"responseModalities,omitempty" yaml:"response_modalities"`

	// Voice is the prebuilt voice name, e.g. "Zephyr". Empty uses the
	// remote default.
	Voice string `json:"voice,omitempty" yaml:"voice"`

	// SystemInstruction is prepended to the conversation.
	SystemInstruction string `json:"systemInstruction,omitempty" yaml:"system_instruction"`

	// Transcribe requests input and output transcriptions.
	Transcribe bool `json:"transcribe,omitempty" yaml:"transcribe"`
}

// Blob is a piece of base64 encoded media.
type Blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// RealtimeInput is the outbound envelope: {"media":{"mimeType":…,"data":…}}.
type RealtimeInput struct {
	Media *Blob `json:"media,omitempty"`
}

// Message is one inbound server message. Any combination of fields may be
// set. When Interrupted is set alongside Audio, the interruption applies to
// audio received before this message.
type Message struct {
	// Audio holds inline audio parts in order.
	Audio []Blob

	// Text holds inline text parts concatenated.
	Text string

	// Interrupted reports that the remote detected barge-in.
	Interrupted bool

	// TurnComplete marks the end of a model turn.
	TurnComplete bool

	// InputTranscript is a transcription fragment of the user's speech.
	InputTranscript string

	// OutputTranscript is a transcription fragment of the model's speech.
	OutputTranscript string
}
