// Package genai implements [live.Provider] on top of the official Google Gen AI
// SDK (google.golang.org/genai) Live API.
//
// It speaks the same BidiGenerateContent protocol as package gemini but lets the
// SDK own the wire format, which also enables the Vertex AI backend.
package genai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	gorilla "github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/orbisvoice/orbis/pkg/live"
)

// Compile-time assertions that Provider and session satisfy the live interfaces.
var _ live.Provider = (*Provider)(nil)
var _ live.Session = (*session)(nil)

const (
	defaultModel      = "gemini-2.5-flash-native-audio-preview-09-2025"
	defaultAPIVersion = "v1beta"
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model used when [live.Config.Model] is empty.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the API base URL. A ws:// or wss:// scheme is used as
// is; anything else is dialled over wss.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithAPIVersion overrides the API version path segment. Defaults to "v1beta".
func WithAPIVersion(v string) Option {
	return func(p *Provider) { p.apiVersion = v }
}

// Provider implements live.Provider via the genai SDK.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	apiVersion string

	mu     sync.Mutex
	client *genai.Client
}

// New creates a Provider. The SDK client is created lazily on first Connect.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		apiVersion: defaultAPIVersion,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Provider) sdk(ctx context.Context) (*genai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    p.baseURL,
			APIVersion: p.apiVersion,
		},
	})
	if err != nil {
		return nil, err
	}
	p.client = c
	return c, nil
}

// Connect opens a Live session and waits for the setup acknowledgement.
func (p *Provider) Connect(ctx context.Context, cfg live.Config) (live.Session, error) {
	client, err := p.sdk(ctx)
	if err != nil {
		return nil, fmt.Errorf("genai: client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = p.model
	}
	conn, err := client.Live.Connect(ctx, model, connectConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("genai: connect: %w", err)
	}

	// Receive has no context; close the connection to unblock it.
	ack := make(chan error, 1)
	go func() {
		for {
			msg, err := conn.Receive()
			if err != nil {
				ack <- err
				return
			}
			if msg.SetupComplete != nil {
				ack <- nil
				return
			}
		}
	}()
	select {
	case err := <-ack:
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("genai: setup: %w", err)
		}
	case <-ctx.Done():
		_ = conn.Close()
		<-ack
		return nil, fmt.Errorf("genai: setup: %w", ctx.Err())
	}

	s := &session{
		conn:     conn,
		messages: make(chan live.Message, 64),
	}
	go s.receiveLoop()
	return s, nil
}

func connectConfig(cfg live.Config) *genai.LiveConnectConfig {
	modalities := cfg.ResponseModalities
	if len(modalities) == 0 {
		modalities = []string{string(genai.ModalityAudio)}
	}
	out := &genai.LiveConnectConfig{}
	for _, m := range modalities {
		out.ResponseModalities = append(out.ResponseModalities, genai.Modality(strings.ToUpper(m)))
	}
	if cfg.Voice != "" {
		out.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.SystemInstruction != "" {
		out.SystemInstruction = genai.NewContentFromText(cfg.SystemInstruction, genai.RoleUser)
	}
	if cfg.Transcribe {
		out.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
		out.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return out
}

// session adapts *genai.Session to live.Session.
type session struct {
	conn     *genai.Session
	messages chan live.Message

	mu     sync.Mutex
	errVal error
	closed bool
}

func (s *session) receiveLoop() {
	defer close(s.messages)
	for {
		msg, err := s.conn.Receive()
		if err != nil {
			s.mu.Lock()
			if !s.closed && !isNormalClose(err) {
				s.errVal = fmt.Errorf("genai: receive: %w", err)
			}
			s.mu.Unlock()
			return
		}
		if msg.ServerContent == nil {
			continue
		}
		if out, ok := convert(msg.ServerContent); ok {
			s.messages <- out
		}
	}
}

// convert maps SDK server content to a live.Message, re-encoding inline audio
// as base64 so both providers hand the controller the same envelope.
func convert(sc *genai.LiveServerContent) (live.Message, bool) {
	var m live.Message
	if sc.ModelTurn != nil {
		var text strings.Builder
		for _, p := range sc.ModelTurn.Parts {
			if p == nil {
				continue
			}
			if p.InlineData != nil && len(p.InlineData.Data) > 0 {
				m.Audio = append(m.Audio, live.Blob{
					MIMEType: p.InlineData.MIMEType,
					Data:     base64.StdEncoding.EncodeToString(p.InlineData.Data),
				})
			}
			text.WriteString(p.Text)
		}
		m.Text = text.String()
	}
	m.Interrupted = sc.Interrupted
	m.TurnComplete = sc.TurnComplete
	if sc.InputTranscription != nil {
		m.InputTranscript = sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		m.OutputTranscript = sc.OutputTranscription.Text
	}
	empty := len(m.Audio) == 0 && m.Text == "" && !m.Interrupted && !m.TurnComplete &&
		m.InputTranscript == "" && m.OutputTranscript == ""
	return m, !empty
}

// isNormalClose reports whether err is a normal or going-away close from the
// SDK's underlying websocket.
func isNormalClose(err error) bool {
	return gorilla.IsCloseError(err, gorilla.CloseNormalClosure, gorilla.CloseGoingAway)
}

// Send implements live.Session.
func (s *session) Send(in live.RealtimeInput) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return live.ErrSessionClosed
	}
	if in.Media == nil {
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(in.Media.Data)
	if err != nil {
		return fmt.Errorf("genai: send: decode media: %w", err)
	}
	err = s.conn.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{MIMEType: in.Media.MIMEType, Data: data},
	})
	if err != nil {
		return fmt.Errorf("genai: send: %w", err)
	}
	return nil
}

// Messages implements live.Session.
func (s *session) Messages() <-chan live.Message { return s.messages }

// Err implements live.Session.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close implements live.Session. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("genai: close: %w", err)
	}
	return nil
}
