package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxlate/pkg/audio"
	"github.com/MrWong99/voxlate/pkg/provider/tts"
)

// ---- Constructor tests ----

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		voice string
		opts  []Option
	}{
		{"empty key", "", "v", nil},
		{"empty voice", "k", "", nil},
		{"mp3 format", "k", "v", []Option{WithOutputFormat("mp3_44100_128")}},
		{"bad rate", "k", "v", []Option{WithOutputFormat("pcm_fast")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.key, tt.voice, tt.opts...); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("key", "voice")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != defaultModel {
		t.Errorf("expected model %q, got %q", defaultModel, p.model)
	}
	if p.outputFormat != defaultOutputFmt || p.sampleRate != 16000 {
		t.Errorf("expected %q at 16000 Hz, got %q at %d", defaultOutputFmt, p.outputFormat, p.sampleRate)
	}
}

func TestStreamURL(t *testing.T) {
	p, err := New("key", "voice-abc123", WithModel("eleven_multilingual_v2"), WithOutputFormat("pcm_24000"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	u := p.streamURL()
	for _, want := range []string{"wss://api.elevenlabs.io/v1/text-to-speech/voice-abc123/stream-input", "model_id=eleven_multilingual_v2", "output_format=pcm_24000"} {
		if !strings.Contains(u, want) {
			t.Errorf("URL %q does not contain %q", u, want)
		}
	}
}

// ---- end-to-end against a fake server ----

func newFakeServer(t *testing.T, chunks [][]int16, received *[]textMessage, mu *sync.Mutex) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var m textMessage
			_ = json.Unmarshal(data, &m)
			mu.Lock()
			*received = append(*received, m)
			mu.Unlock()
			if m.Text == "" {
				break
			}
		}
		for i, c := range chunks {
			resp := audioResponse{Audio: base64.StdEncoding.EncodeToString(audio.SamplesToBytes(c)), IsFinal: i == len(chunks)-1}
			data, _ := json.Marshal(resp)
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
		conn.Close(websocket.StatusNormalClosure, "")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSynthesize_CollectsChunks(t *testing.T) {
	var (
		mu       sync.Mutex
		received []textMessage
	)
	srv := newFakeServer(t, [][]int16{{1, 2, 3}, {4, 5}}, &received, &mu)

	p, err := New("secret", "voice", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	clip, err := p.Synthesize(context.Background(), "Hola")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if fmt.Sprint(clip.PCM) != "[1 2 3 4 5]" || clip.SampleRate != 16000 {
		t.Errorf("clip = %v at %d Hz", clip.PCM, clip.SampleRate)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 3 {
		t.Fatalf("server received %d messages, want 3", len(received))
	}
	if received[0].XiAPIKey != "secret" || received[0].VoiceSettings == nil {
		t.Errorf("begin-of-input = %+v", received[0])
	}
	if received[1].Text != "Hola " || !received[1].Flush {
		t.Errorf("text message = %+v", received[1])
	}
	if received[1].XiAPIKey != "" {
		t.Error("API key repeated after begin-of-input")
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	p, _ := New("k", "v")
	if _, err := p.Synthesize(context.Background(), " "); !errors.Is(err, tts.ErrEmptyText) {
		t.Errorf("error = %v, want ErrEmptyText", err)
	}
}

func TestParsePCMFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"pcm_16000", 16000, false},
		{"pcm_44100", 44100, false},
		{"pcm_0", 0, true},
		{"ulaw_8000", 0, true},
	}
	for _, tt := range tests {
		got, err := parsePCMFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parsePCMFormat(%q) = %d, %v; want %d, err=%v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}
