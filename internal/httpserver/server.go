package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/hiroshi75/desktopassistant/internal/config"
	"github.com/hiroshi75/desktopassistant/internal/relay"
	"github.com/hiroshi75/desktopassistant/internal/ws"
)

// Server wires the HTTP routes: the streaming endpoint the desktop shell
// talks to, a text-only chat endpoint, and a health probe.
type Server struct {
	Router *echo.Echo

	cfg config.Config
	gen relay.Generator
}

// New creates a configured server with all routes registered.
func New(cfg config.Config, stt relay.Transcriber, gen relay.Generator) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	s := &Server{Router: e, cfg: cfg, gen: gen}

	e.GET("/healthz", s.handleHealthz)
	e.POST("/chat", s.handleChat)

	streaming := ws.NewHandler(stt, gen, ws.Config{
		DefaultSampleRate: cfg.SampleRate,
		LanguageCode:      cfg.LanguageCode,
		SystemPrompt:      cfg.SystemPrompt,
		SilenceThreshold:  cfg.SilenceThreshold,
		SilenceDuration:   cfg.SilenceDuration,
		FinalizeTimeout:   cfg.FinalizeTimeout,
		ResponseTimeout:   cfg.ResponseTimeout,
		SessionTimeout:    cfg.SessionTimeout,
	})
	e.GET("/TranscribeStreaming", echo.WrapHandler(streaming))

	return s
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Response string `json:"response"`
}

// handleChat answers a single text message without a voice session. The
// response is the model's raw text, not rendered to HTML.
func (s *Server) handleChat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil || req.Message == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"detail": "message is required"})
	}
	reply, err := s.gen.Generate(c.Request().Context(), s.cfg.SystemPrompt, req.Message)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"detail": err.Error()})
	}
	return c.JSON(http.StatusOK, chatResponse{Response: reply})
}
