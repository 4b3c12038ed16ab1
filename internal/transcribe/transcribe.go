package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming/types"
)

var (
	// ErrInvalidConfig reports an unsupported sample rate or language code.
	ErrInvalidConfig = errors.New("transcribe: invalid session config")
	// ErrServiceUnavailable reports that the transcription service could not be reached.
	ErrServiceUnavailable = errors.New("transcribe: service unavailable")
	// ErrStreamClosed reports a frame sent after the audio stream was ended.
	ErrStreamClosed = errors.New("transcribe: stream closed")
)

// Event is one transcription result. Partial events are provisional and are
// superseded by later events; only non-partial events are stable.
type Event struct {
	Partial bool
	Text    string
}

// Client opens streaming transcription sessions against Amazon Transcribe.
type Client struct {
	svc *transcribestreaming.Client
}

// NewClient wraps an AWS config into a streaming transcription client.
func NewClient(cfg aws.Config) *Client {
	return &Client{svc: transcribestreaming.NewFromConfig(cfg)}
}

// Open starts a streaming transcription session. Only 8 kHz and 16 kHz mono
// PCM are supported; the rate and language are fixed for the session lifetime.
func (c *Client) Open(ctx context.Context, sampleRate int, languageCode string) (*Stream, error) {
	if sampleRate != 8000 && sampleRate != 16000 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrInvalidConfig, sampleRate)
	}
	if languageCode == "" {
		return nil, fmt.Errorf("%w: empty language code", ErrInvalidConfig)
	}

	out, err := c.svc.StartStreamTranscription(ctx, &transcribestreaming.StartStreamTranscriptionInput{
		LanguageCode:         types.LanguageCode(languageCode),
		MediaEncoding:        types.MediaEncodingPcm,
		MediaSampleRateHertz: aws.Int32(int32(sampleRate)),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}

	s := &Stream{
		ctx:    ctx,
		es:     out.GetStream(),
		events: make(chan Event, 32),
		done:   make(chan struct{}),
	}
	go s.readEvents()
	return s, nil
}

// Stream is one open transcription session. SendFrame must be called from a
// single producer; Events is consumed by a single reader.
type Stream struct {
	ctx    context.Context
	es     *transcribestreaming.StartStreamTranscriptionEventStream
	events chan Event
	done   chan struct{}

	mu    sync.Mutex
	ended bool

	closeOnce sync.Once
}

// SendFrame forwards one frame of PCM audio to the service.
func (s *Stream) SendFrame(frame []byte) error {
	s.mu.Lock()
	ended := s.ended
	s.mu.Unlock()
	if ended {
		return ErrStreamClosed
	}
	err := s.es.Send(s.ctx, &types.AudioStreamMemberAudioEvent{
		Value: types.AudioEvent{AudioChunk: frame},
	})
	if err != nil {
		return fmt.Errorf("transcribe: send frame: %w", err)
	}
	return nil
}

// EndStream signals that no more audio will be sent. Idempotent. The service
// drains buffered audio, emits the remaining results, then closes the event
// stream.
func (s *Stream) EndStream() error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil
	}
	s.ended = true
	s.mu.Unlock()
	if err := s.es.Close(); err != nil {
		return fmt.Errorf("transcribe: end stream: %w", err)
	}
	return nil
}

// Events returns the transcript event channel. It is closed when the service
// closes the stream.
func (s *Stream) Events() <-chan Event { return s.events }

// Close tears the session down. Safe to call more than once and after
// EndStream.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.EndStream()
		close(s.done)
	})
	return err
}

// readEvents converts SDK transcript events into Events until the service
// closes the stream or Close is called.
func (s *Stream) readEvents() {
	defer close(s.events)
	for {
		select {
		case <-s.done:
			return
		case raw, ok := <-s.es.Events():
			if !ok {
				if err := s.es.Err(); err != nil {
					log.Printf("transcribe: event stream error: %v", err)
				}
				return
			}
			te, ok := raw.(*types.TranscriptResultStreamMemberTranscriptEvent)
			if !ok || te.Value.Transcript == nil {
				continue
			}
			for _, ev := range resultsToEvents(te.Value.Transcript.Results) {
				select {
				case s.events <- ev:
				case <-s.done:
					return
				}
			}
		}
	}
}

// resultsToEvents flattens one batch of recognition results, preserving
// arrival order. Results without alternatives are skipped; empty-text finals
// are passed through for the consumer to discard.
func resultsToEvents(results []types.Result) []Event {
	var evs []Event
	for _, res := range results {
		if len(res.Alternatives) == 0 || res.Alternatives[0].Transcript == nil {
			continue
		}
		evs = append(evs, Event{Partial: res.IsPartial, Text: *res.Alternatives[0].Transcript})
	}
	return evs
}
