package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/hiroshi75/desktopassistant/internal/config"
	"github.com/hiroshi75/desktopassistant/internal/httpserver"
	"github.com/hiroshi75/desktopassistant/internal/llm"
	"github.com/hiroshi75/desktopassistant/internal/relay"
	"github.com/hiroshi75/desktopassistant/internal/transcribe"
)

// awsTranscriber adapts the concrete transcription client to the relay's
// Transcriber interface.
type awsTranscriber struct {
	c *transcribe.Client
}

func (t awsTranscriber) Open(ctx context.Context, sampleRate int, languageCode string) (relay.TranscriptStream, error) {
	return t.c.Open(ctx, sampleRate, languageCode)
}

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		log.Fatalf("aws config: %v", err)
	}

	stt := awsTranscriber{c: transcribe.NewClient(awsCfg)}
	gen := llm.NewBedrockClient(awsCfg, cfg.BedrockModelID)

	srv := httpserver.New(cfg, stt, gen)

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = server.Close()
	}
}
