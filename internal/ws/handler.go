package ws

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hiroshi75/desktopassistant/internal/relay"
	"github.com/hiroshi75/desktopassistant/internal/render"
)

// Config carries the per-connection session policy.
type Config struct {
	DefaultSampleRate int
	LanguageCode      string
	SystemPrompt      string
	SilenceThreshold  float64
	SilenceDuration   time.Duration
	FinalizeTimeout   time.Duration
	ResponseTimeout   time.Duration
	// SessionTimeout is the hard wall-clock budget per connection, guarding
	// against a client that never goes silent and never submits.
	SessionTimeout time.Duration
}

// Handler accepts client connections on the streaming endpoint and runs one
// relay session per connection. One session's failure never reaches another:
// everything session-scoped lives in the per-connection goroutine.
type Handler struct {
	stt      relay.Transcriber
	gen      relay.Generator
	cfg      Config
	upgrader websocket.Upgrader
}

// NewHandler builds the streaming endpoint handler.
func NewHandler(stt relay.Transcriber, gen relay.Generator, cfg Config) *Handler {
	return &Handler{
		stt: stt,
		gen: gen,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  65536,
			WriteBufferSize: 65536,
			CheckOrigin: func(r *http.Request) bool {
				// the desktop shell connects from a local webview origin
				return true
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sampleRate := h.cfg.DefaultSampleRate
	if q := r.URL.Query().Get("sample_rate"); q != "" {
		v, err := strconv.Atoi(q)
		if err != nil || (v != 8000 && v != 16000) {
			http.Error(w, "unsupported sample_rate", http.StatusBadRequest)
			return
		}
		sampleRate = v
	}

	wsc, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	client := newConn(wsc)

	ctx := context.Background()
	var cancel context.CancelFunc
	if h.cfg.SessionTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, h.cfg.SessionTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	sess := relay.NewSession(h.stt, h.gen, client, relay.Config{
		SystemPrompt:     h.cfg.SystemPrompt,
		SampleRate:       sampleRate,
		LanguageCode:     h.cfg.LanguageCode,
		SilenceThreshold: h.cfg.SilenceThreshold,
		SilenceDuration:  h.cfg.SilenceDuration,
		FinalizeTimeout:  h.cfg.FinalizeTimeout,
		ResponseTimeout:  h.cfg.ResponseTimeout,
	}).WithRenderer(render.HTML)

	log.Printf("[%s] client connected: sample_rate=%d", sess.ID(), sampleRate)
	_ = sess.Run(ctx)
}
