package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hiroshi75/desktopassistant/internal/relay"
	"github.com/hiroshi75/desktopassistant/internal/transcribe"
)

type fakeStream struct {
	mu      sync.Mutex
	ended   bool
	events  chan transcribe.Event
	endOnce sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan transcribe.Event, 32)}
}

func (f *fakeStream) SendFrame(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ended {
		return transcribe.ErrStreamClosed
	}
	return nil
}

func (f *fakeStream) EndStream() error {
	f.mu.Lock()
	f.ended = true
	f.mu.Unlock()
	f.endOnce.Do(func() { close(f.events) })
	return nil
}

func (f *fakeStream) Events() <-chan transcribe.Event { return f.events }

func (f *fakeStream) Close() error {
	f.endOnce.Do(func() { close(f.events) })
	return nil
}

type fakeTranscriber struct {
	mu     sync.Mutex
	stream *fakeStream
	rates  []int
}

func (f *fakeTranscriber) Open(ctx context.Context, sampleRate int, languageCode string) (relay.TranscriptStream, error) {
	f.mu.Lock()
	f.rates = append(f.rates, sampleRate)
	f.mu.Unlock()
	return f.stream, nil
}

type fakeGenerator struct {
	reply string
}

func (f *fakeGenerator) Generate(ctx context.Context, systemPrompt, userText string) (string, error) {
	return f.reply, nil
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	return conn
}

func testConfig() Config {
	return Config{
		DefaultSampleRate: 16000,
		LanguageCode:      "ja-JP",
		SilenceThreshold:  500,
		SilenceDuration:   2 * time.Second,
		FinalizeTimeout:   5 * time.Second,
		ResponseTimeout:   5 * time.Second,
		SessionTimeout:    10 * time.Second,
	}
}

func TestHandler_RejectsBadSampleRate(t *testing.T) {
	h := NewHandler(&fakeTranscriber{stream: newFakeStream()}, &fakeGenerator{}, testConfig())
	srv := httptest.NewServer(h)
	defer srv.Close()

	for _, q := range []string{"?sample_rate=44100", "?sample_rate=abc"} {
		resp, err := http.Get(srv.URL + "/" + q)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestHandler_FullTurn(t *testing.T) {
	stream := newFakeStream()
	stream.events <- transcribe.Event{Text: "こんにちは"}
	tr := &fakeTranscriber{stream: stream}
	h := NewHandler(tr, &fakeGenerator{reply: "**太字**の返事"}, testConfig())
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv, "/")
	defer conn.Close()

	frame := make([]byte, 3200)
	for i := 0; i < len(frame); i += 2 {
		frame[i] = 0xB8 // 3000 little-endian low byte
		frame[i+1] = 0x0B
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte("submit_response")); err != nil {
		t.Fatalf("write submit: %v", err)
	}

	var lines []string
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		lines = append(lines, string(data))
	}

	var gotFinal, gotResponse bool
	for _, line := range lines {
		if line == "最終認識テキスト: こんにちは" {
			gotFinal = true
		}
		if strings.HasPrefix(line, "応答: ") && strings.Contains(line, "<strong>太字</strong>") {
			gotResponse = true
		}
	}
	if !gotFinal {
		t.Fatalf("final transcript line missing: %v", lines)
	}
	if !gotResponse {
		t.Fatalf("rendered response line missing: %v", lines)
	}
}

func TestHandler_SampleRateNegotiation(t *testing.T) {
	stream := newFakeStream()
	tr := &fakeTranscriber{stream: stream}
	h := NewHandler(tr, &fakeGenerator{reply: "ok"}, testConfig())
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv, "/?sample_rate=8000")
	conn.WriteMessage(websocket.TextMessage, []byte("submit_response"))
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	conn.Close()

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.rates) != 1 || tr.rates[0] != 8000 {
		t.Fatalf("opened with rates %v, want [8000]", tr.rates)
	}
}
