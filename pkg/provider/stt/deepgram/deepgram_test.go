package deepgram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxlate/pkg/provider/stt"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(16000)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "host", "api.deepgram.com", u.Host)
	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
}

func TestBuildURL_CustomModel(t *testing.T) {
	p, err := New("key", WithModel("base"), WithLanguage("de-DE"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(48000)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "de-DE", q.Get("language"))
	assertEqual(t, "sample_rate", "48000", q.Get("sample_rate"))
}

// ---- JSON parsing tests ----

func TestParseFinal(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   string
		wantOK bool
	}{
		{
			name:   "final",
			raw:    `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":" Hello world ","confidence":0.95}]}}`,
			want:   "Hello world",
			wantOK: true,
		},
		{
			name: "interim",
			raw:  `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"Hello"}]}}`,
		},
		{
			name: "metadata",
			raw:  `{"type":"Metadata","request_id":"abc"}`,
		},
		{
			name: "empty alternatives",
			raw:  `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`,
		},
		{
			name: "blank transcript",
			raw:  `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"  "}]}}`,
		},
		{
			name: "invalid json",
			raw:  `{invalid`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseFinal([]byte(tt.raw))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			assertEqual(t, "text", tt.want, got)
		})
	}
}

// ---- Constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	_, err := New("")
	if err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	assertEqual(t, "model", defaultModel, p.model)
	assertEqual(t, "language", defaultLanguage, p.language)
	assertEqual(t, "endpoint", deepgramEndpoint, p.endpoint)
}

// ---- end-to-end against a fake server ----

// newFakeDeepgram starts a WebSocket server that counts received audio bytes
// until CloseStream, then replies with the given messages and closes.
func newFakeDeepgram(t *testing.T, received *atomic.Int64, replies ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		for {
			typ, msg, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				received.Add(int64(len(msg)))
				continue
			}
			if strings.Contains(string(msg), "CloseStream") {
				break
			}
		}
		for _, reply := range replies {
			if err := conn.Write(ctx, websocket.MessageText, []byte(reply)); err != nil {
				return
			}
		}
		conn.Close(websocket.StatusNormalClosure, "")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestTranscribe_JoinsFinals(t *testing.T) {
	var received atomic.Int64
	srv := newFakeDeepgram(t, &received,
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"good"}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"Good morning."}]}}`,
		`{"type":"Metadata","request_id":"abc"}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"How are you?"}]}}`,
	)

	p, err := New("secret", WithEndpoint(wsURL(srv)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pcm := make([]int16, 4000)
	text, err := p.Transcribe(context.Background(), pcm, 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	assertEqual(t, "text", "Good morning. How are you?", text)
	if got := received.Load(); got != int64(len(pcm)*2) {
		t.Errorf("received bytes = %d, want %d", got, len(pcm)*2)
	}
}

func TestTranscribe_NoSpeech(t *testing.T) {
	var received atomic.Int64
	srv := newFakeDeepgram(t, &received,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":""}]}}`,
	)
	p, _ := New("secret", WithEndpoint(wsURL(srv)))
	text, err := p.Transcribe(context.Background(), make([]int16, 160), 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "" {
		t.Errorf("text = %q, want empty", text)
	}
}

func TestTranscribe_Unauthorized(t *testing.T) {
	var received atomic.Int64
	srv := newFakeDeepgram(t, &received)
	p, _ := New("wrong", WithEndpoint(wsURL(srv)))
	if _, err := p.Transcribe(context.Background(), make([]int16, 160), 16000); err == nil {
		t.Fatal("expected dial error for rejected handshake, got nil")
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	p, _ := New("secret")
	_, err := p.Transcribe(context.Background(), nil, 16000)
	if !errors.Is(err, stt.ErrEmptyAudio) {
		t.Errorf("error = %v, want ErrEmptyAudio", err)
	}
}

// ---- helpers ----

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}
