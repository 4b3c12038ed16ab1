package relay

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hiroshi75/desktopassistant/internal/audio"
	"github.com/hiroshi75/desktopassistant/internal/transcribe"
)

// Session orchestrates one voice turn: client audio in, transcription,
// one model response out. Two pump goroutines move data while Run coordinates
// the state machine; each connection is written by exactly one pump at a time
// (frame pump: reads client, writes transcription; transcript pump: reads
// transcription, writes client), so no locks guard the connections themselves.
type Session struct {
	id     string
	cfg    Config
	stt    Transcriber
	gen    Generator
	client ClientConn
	render func(string) string
	hooks  Hooks

	mu         sync.Mutex
	state      State
	transcript []string
	stream     TranscriptStream

	cancel       context.CancelFunc
	finalizeOnce sync.Once
	finalizeCh   chan struct{}
	cleanupOnce  sync.Once
}

// NewSession constructs a session bound to one client connection.
func NewSession(stt Transcriber, gen Generator, client ClientConn, cfg Config) *Session {
	return &Session{
		id:         uuid.NewString()[:8],
		cfg:        cfg.withDefaults(),
		stt:        stt,
		gen:        gen,
		client:     client,
		render:     func(s string) string { return s },
		state:      StateIdle,
		finalizeCh: make(chan struct{}),
	}
}

// WithRenderer sets the response renderer (e.g. Markdown to HTML).
func (s *Session) WithRenderer(fn func(string) string) *Session {
	if fn != nil {
		s.render = fn
	}
	return s
}

// WithHooks sets the observation hooks.
func (s *Session) WithHooks(h Hooks) *Session {
	s.hooks = h
	return s
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transcript returns a copy of the finalized segments accumulated so far.
func (s *Session) Transcript() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// UserText returns the space-joined finalized transcript.
func (s *Session) UserText() string {
	return strings.Join(s.Transcript(), " ")
}

// Run drives the session to a terminal state and blocks until both pumps have
// stopped and cleanup has finished. The client always receives a response line
// or an error line before the channel closes, unless the client itself is gone.
// A deadline on ctx acts as the per-connection wall-clock budget.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	stream, err := s.stt.Open(ctx, s.cfg.SampleRate, s.cfg.LanguageCode)
	if err != nil {
		log.Printf("[%s] transcription open failed: %v", s.id, err)
		return s.finish(err, nil, nil)
	}
	s.mu.Lock()
	s.stream = stream
	s.state = StateStreaming
	s.mu.Unlock()

	var framePumpErr error
	frameExited := make(chan struct{})
	go func() {
		framePumpErr = s.framePump(ctx, stream)
		close(frameExited)
	}()

	pumpDone := make(chan struct{})
	go func() {
		s.transcriptPump(stream)
		close(pumpDone)
	}()

	err = s.streamPhase(ctx, frameExited, &framePumpErr)
	if err == nil {
		err = s.finalizePhase(ctx, frameExited, &framePumpErr, pumpDone)
	}
	if err == nil {
		err = s.respondPhase(ctx, frameExited, &framePumpErr)
	}
	return s.finish(err, frameExited, pumpDone)
}

// framePump reads client messages, runs silence detection over audio frames,
// and forwards them to the transcription stream. It keeps reading after the
// turn finalizes so a client disconnect is still noticed, but stops forwarding.
func (s *Session) framePump(ctx context.Context, stream TranscriptStream) error {
	var run audio.SilenceRun
	for {
		binary, data, err := s.client.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ErrClientGone
		}
		if !binary {
			if strings.TrimSpace(string(data)) == SubmitResponseMessage {
				log.Printf("[%s] explicit end-of-turn received", s.id)
				s.requestFinalize()
			}
			continue
		}
		if len(data) == 0 {
			// zero-length frame is the client's stream-end signal
			s.requestFinalize()
			continue
		}
		if s.finalizing() {
			continue
		}
		state, err := audio.Classify(data, s.cfg.SilenceThreshold)
		if err != nil {
			return err
		}
		if run.Observe(state, audio.FrameDuration(len(data), s.cfg.SampleRate)) >= s.cfg.SilenceDuration {
			log.Printf("[%s] silence window reached, finalizing turn", s.id)
			s.requestFinalize()
			continue
		}
		if err := stream.SendFrame(data); err != nil {
			if errors.Is(err, transcribe.ErrStreamClosed) && s.finalizing() {
				continue
			}
			return err
		}
	}
}

// transcriptPump consumes transcription events until the service closes the
// stream: partials go to the observer and the client as live captions, finals
// are appended to the session transcript in arrival order.
func (s *Session) transcriptPump(stream TranscriptStream) {
	for ev := range stream.Events() {
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			continue
		}
		if ev.Partial {
			if s.hooks.OnPartial != nil {
				s.hooks.OnPartial(text)
			}
			_ = s.client.WriteText(prefixPartial + text)
			continue
		}
		s.mu.Lock()
		s.transcript = append(s.transcript, text)
		s.mu.Unlock()
		if s.hooks.OnFinal != nil {
			s.hooks.OnFinal(text)
		}
		_ = s.client.WriteText(prefixFinal + text)
	}
	if s.hooks.OnStreamEnd != nil {
		s.hooks.OnStreamEnd()
	}
}

// requestFinalize moves Streaming to Finalizing exactly once and signals
// end-of-audio to the transcription service.
func (s *Session) requestFinalize() {
	s.finalizeOnce.Do(func() {
		s.mu.Lock()
		if s.state == StateStreaming {
			s.state = StateFinalizing
		}
		stream := s.stream
		s.mu.Unlock()
		if stream != nil {
			_ = stream.EndStream()
		}
		close(s.finalizeCh)
	})
}

func (s *Session) finalizing() bool {
	select {
	case <-s.finalizeCh:
		return true
	default:
		return false
	}
}

// streamPhase waits in Streaming until the turn finalizes or the session dies.
func (s *Session) streamPhase(ctx context.Context, frameExited chan struct{}, framePumpErr *error) error {
	select {
	case <-s.finalizeCh:
		return nil
	case <-frameExited:
		return *framePumpErr
	case <-ctx.Done():
		return ctxPhaseErr(ctx)
	}
}

// finalizePhase waits for the transcription service to drain and close the
// event stream, bounded by the finalize timeout.
func (s *Session) finalizePhase(ctx context.Context, frameExited chan struct{}, framePumpErr *error, pumpDone chan struct{}) error {
	timer := time.NewTimer(s.cfg.FinalizeTimeout)
	defer timer.Stop()
	select {
	case <-pumpDone:
		return nil
	case <-timer.C:
		return ErrFinalizeTimeout
	case <-frameExited:
		return *framePumpErr
	case <-ctx.Done():
		return ctxPhaseErr(ctx)
	}
}

// respondPhase builds the conversation turn and invokes the generator exactly
// once, then delivers the rendered response. A disconnect while the model is
// working aborts the session instead of failing it.
func (s *Session) respondPhase(ctx context.Context, frameExited chan struct{}, framePumpErr *error) error {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return nil
	}
	s.state = StateAwaitingResponse
	s.mu.Unlock()

	userText := s.UserText()
	log.Printf("[%s] generating response for: %s", s.id, userText)

	gctx, cancel := context.WithTimeout(ctx, s.cfg.ResponseTimeout)
	defer cancel()
	go func() {
		select {
		case <-frameExited:
			if errors.Is(*framePumpErr, ErrClientGone) {
				cancel()
			}
		case <-gctx.Done():
		}
	}()
	reply, err := s.gen.Generate(gctx, s.cfg.SystemPrompt, userText)
	if err != nil {
		if clientGone(frameExited, framePumpErr) {
			return ErrClientGone
		}
		return err
	}
	if err := s.client.WriteText(prefixResponse + s.render(reply)); err != nil {
		return ErrClientGone
	}
	return nil
}

func clientGone(frameExited chan struct{}, framePumpErr *error) bool {
	select {
	case <-frameExited:
		return errors.Is(*framePumpErr, ErrClientGone)
	default:
		return false
	}
}

// finish maps the phase error to a terminal state, informs the client, runs
// cleanup, and waits for both pumps to stop.
func (s *Session) finish(err error, frameExited, pumpDone chan struct{}) error {
	switch {
	case err == nil:
		s.setTerminal(StateComplete)
	case errors.Is(err, ErrClientGone), errors.Is(err, context.Canceled):
		s.setTerminal(StateAborted)
	default:
		s.setTerminal(StateFailed)
		_ = s.client.WriteText(prefixError + err.Error())
	}
	s.Cleanup()
	awaitPump(frameExited)
	awaitPump(pumpDone)
	if err != nil {
		log.Printf("[%s] session ended: state=%s err=%v", s.id, s.State(), err)
	} else {
		log.Printf("[%s] session ended: state=%s", s.id, s.State())
	}
	return err
}

// setTerminal records a terminal state; the first terminal transition wins.
func (s *Session) setTerminal(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Terminal() {
		s.state = state
	}
}

// Cleanup releases everything the session owns: cancels the pumps, ends and
// closes the transcription stream, and closes the client channel with a close
// code matching the terminal state. Idempotent and safe to call concurrently
// with a normal completion path racing a disconnect handler.
func (s *Session) Cleanup() {
	s.cleanupOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Lock()
		stream := s.stream
		state := s.state
		s.mu.Unlock()
		if stream != nil {
			_ = stream.EndStream()
			_ = stream.Close()
		}
		if state == StateComplete {
			_ = s.client.CloseNormal()
		} else {
			_ = s.client.CloseWithError(state.String())
		}
	})
}

func awaitPump(done chan struct{}) {
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
}

func ctxPhaseErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrSessionTimeout
	}
	return ctx.Err()
}
