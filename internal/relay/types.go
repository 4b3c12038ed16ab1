package relay

import (
	"context"
	"errors"
	"time"

	"github.com/hiroshi75/desktopassistant/internal/audio"
	"github.com/hiroshi75/desktopassistant/internal/transcribe"
)

// State is the lifecycle of one voice turn.
type State int32

const (
	StateIdle State = iota
	StateStreaming
	StateFinalizing
	StateAwaitingResponse
	StateComplete
	StateFailed
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends the session.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed || s == StateAborted
}

var (
	// ErrClientGone reports that the client connection dropped mid-session.
	ErrClientGone = errors.New("relay: client disconnected")
	// ErrFinalizeTimeout reports that the transcription service did not close
	// the event stream within the finalize window after end-of-audio.
	ErrFinalizeTimeout = errors.New("relay: timed out waiting for final transcripts")
	// ErrSessionTimeout reports that the per-connection wall-clock budget ran out.
	ErrSessionTimeout = errors.New("relay: session timed out")
)

// SubmitResponseMessage is the text message a client sends to end its turn
// explicitly instead of waiting for silence detection.
const SubmitResponseMessage = "submit_response"

// Server->client message prefixes. The desktop shell matches on these, so they
// are part of the wire protocol.
const (
	prefixPartial  = "認識テキスト: "
	prefixFinal    = "最終認識テキスト: "
	prefixResponse = "応答: "
	prefixError    = "エラー: "
)

// TranscriptStream is one open streaming transcription session.
type TranscriptStream interface {
	SendFrame(frame []byte) error
	EndStream() error
	Events() <-chan transcribe.Event
	Close() error
}

// Transcriber opens transcription sessions.
type Transcriber interface {
	Open(ctx context.Context, sampleRate int, languageCode string) (TranscriptStream, error)
}

// Generator produces one response for a finalized conversation turn.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userText string) (string, error)
}

// ClientConn is the duplex channel to the client. The session has exclusive
// write access for its lifetime; the connection itself is owned by the server.
type ClientConn interface {
	// ReadMessage blocks until the next client message. binary reports whether
	// the payload is an audio frame (binary) or a control line (text). It must
	// unblock with an error once the connection is closed.
	ReadMessage() (binary bool, data []byte, err error)
	WriteText(text string) error
	// CloseNormal closes the channel with a normal close code.
	CloseNormal() error
	// CloseWithError closes the channel carrying an error payload.
	CloseWithError(reason string) error
}

// Hooks are optional observation points, e.g. for live captioning in the shell.
type Hooks struct {
	OnPartial   func(text string)
	OnFinal     func(text string)
	OnStreamEnd func()
}

// Config carries per-session policy. Zero values fall back to defaults.
type Config struct {
	SystemPrompt     string
	SampleRate       int
	LanguageCode     string
	SilenceThreshold float64
	SilenceDuration  time.Duration
	FinalizeTimeout  time.Duration
	ResponseTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.LanguageCode == "" {
		c.LanguageCode = "ja-JP"
	}
	if c.SilenceThreshold == 0 {
		c.SilenceThreshold = audio.DefaultSilenceThreshold
	}
	if c.SilenceDuration == 0 {
		c.SilenceDuration = 2 * time.Second
	}
	if c.FinalizeTimeout == 0 {
		c.FinalizeTimeout = 5 * time.Second
	}
	if c.ResponseTimeout == 0 {
		c.ResponseTimeout = 20 * time.Second
	}
	return c
}
