package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hiroshi75/desktopassistant/internal/config"
	"github.com/hiroshi75/desktopassistant/internal/relay"
)

type fakeTranscriber struct{}

func (fakeTranscriber) Open(ctx context.Context, sampleRate int, languageCode string) (relay.TranscriptStream, error) {
	return nil, errors.New("not used")
}

type fakeGenerator struct {
	reply string
	err   error
	last  string
}

func (f *fakeGenerator) Generate(ctx context.Context, systemPrompt, userText string) (string, error) {
	f.last = userText
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func TestServer_Healthz(t *testing.T) {
	srv := New(config.Config{}, fakeTranscriber{}, &fakeGenerator{})
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestChat_OK(t *testing.T) {
	gen := &fakeGenerator{reply: "こんにちは!"}
	srv := New(config.Config{}, fakeTranscriber{}, gen)
	r := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"やあ"}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Response != "こんにちは!" {
		t.Fatalf("response = %q", resp.Response)
	}
	if gen.last != "やあ" {
		t.Fatalf("generator saw %q", gen.last)
	}
}

func TestChat_BadJSON(t *testing.T) {
	srv := New(config.Config{}, fakeTranscriber{}, &fakeGenerator{})
	r := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader("not-json"))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestChat_EmptyMessage(t *testing.T) {
	srv := New(config.Config{}, fakeTranscriber{}, &fakeGenerator{})
	r := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":""}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestChat_ModelError(t *testing.T) {
	srv := New(config.Config{}, fakeTranscriber{}, &fakeGenerator{err: errors.New("model down")})
	r := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"やあ"}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "model down") {
		t.Fatalf("detail missing: %s", w.Body.String())
	}
}
