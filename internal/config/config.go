package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress      string
	AWSRegion        string
	LanguageCode     string
	SampleRate       int
	BedrockModelID   string
	SystemPrompt     string
	SilenceThreshold float64
	SilenceDuration  time.Duration
	FinalizeTimeout  time.Duration
	ResponseTimeout  time.Duration
	SessionTimeout   time.Duration
}

const defaultSystemPrompt = "あなたは親切なアシスタントです。ユーザーの質問に日本語で答えてください。"

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8001"
	}

	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}
	if os.Getenv("AWS_ACCESS_KEY_ID") == "" {
		log.Println("Warning: AWS_ACCESS_KEY_ID not set - transcription and responses will not work")
	}

	lang := os.Getenv("TRANSCRIBE_LANGUAGE_CODE")
	if lang == "" {
		lang = "ja-JP"
	}

	model := os.Getenv("BEDROCK_MODEL_ID")
	if model == "" {
		model = "us.amazon.nova-lite-v1:0"
	}

	prompt := os.Getenv("SYSTEM_PROMPT")
	if prompt == "" {
		prompt = defaultSystemPrompt
	}

	cfg := Config{
		HTTPAddress:      addr,
		AWSRegion:        region,
		LanguageCode:     lang,
		SampleRate:       envInt("TRANSCRIBE_SAMPLE_RATE", 16000),
		BedrockModelID:   model,
		SystemPrompt:     prompt,
		SilenceThreshold: float64(envInt("SILENCE_THRESHOLD", 500)),
		SilenceDuration:  envMillis("SILENCE_DURATION_MS", 2000),
		FinalizeTimeout:  envMillis("FINALIZE_TIMEOUT_MS", 5000),
		ResponseTimeout:  envMillis("RESPONSE_TIMEOUT_MS", 20000),
		SessionTimeout:   envMillis("SESSION_TIMEOUT_MS", 60000),
	}

	log.Printf("config: HTTP_ADDRESS=%s region=%s language=%s sample_rate=%d model=%s",
		cfg.HTTPAddress, cfg.AWSRegion, cfg.LanguageCode, cfg.SampleRate, cfg.BedrockModelID)
	return cfg
}

func envInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("Warning: %s=%q is not an integer, using %d", key, raw, def)
		return def
	}
	return v
}

func envMillis(key string, defMillis int) time.Duration {
	return time.Duration(envInt(key, defMillis)) * time.Millisecond
}
