package whisper_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/voxlate/pkg/provider/stt"
	"github.com/MrWong99/voxlate/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

// inferenceRequest captures what the mock server observed.
type inferenceRequest struct {
	language string
	model    string
	wav      []byte
}

// newMockServer creates a test server that responds to POST /inference with a
// JSON body containing the provided responseText. Every request is recorded
// into *last and counted in *callCount.
func newMockServer(t *testing.T, responseText string, callCount *atomic.Int32, last *inferenceRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if callCount != nil {
			callCount.Add(1)
		}
		if last != nil {
			if err := r.ParseMultipartForm(10 << 20); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			last.language = r.FormValue("language")
			last.model = r.FormValue("model")
			f, _, err := r.FormFile("file")
			if err == nil {
				last.wav, _ = io.ReadAll(f)
				f.Close()
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// makeSpeechPCM generates a 440 Hz sine wave of the given number of samples.
func makeSpeechPCM(samples int) []int16 {
	const amplitude = 10_000.0
	buf := make([]int16, samples)
	for i := range buf {
		buf[i] = int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return buf
}

// ---- provider construction --------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	_, err := whisper.New("")
	if err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestNew_WithOptions_DoesNotError(t *testing.T) {
	p, err := whisper.New("http://localhost:9999",
		whisper.WithLanguage("de"),
		whisper.WithModel("small"),
		whisper.WithTimeout(5*time.Second),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil Provider")
	}
}

// ---- transcription ----------------------------------------------------------

func TestTranscribe_SendsWAVAndReturnsText(t *testing.T) {
	var calls atomic.Int32
	var last inferenceRequest
	srv := newMockServer(t, "  hello world \n", &calls, &last)

	p, err := whisper.New(srv.URL+"/", whisper.WithLanguage("en"), whisper.WithModel("base"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pcm := makeSpeechPCM(1600)
	text, err := p.Transcribe(context.Background(), pcm, 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello world" {
		t.Errorf("text = %q, want %q", text, "hello world")
	}
	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want 1", calls.Load())
	}
	if last.language != "en" || last.model != "base" {
		t.Errorf("form fields = %q/%q, want en/base", last.language, last.model)
	}
	if len(last.wav) != 44+len(pcm)*2 {
		t.Fatalf("wav size = %d, want %d", len(last.wav), 44+len(pcm)*2)
	}
	if string(last.wav[0:4]) != "RIFF" || string(last.wav[8:12]) != "WAVE" {
		t.Error("uploaded file is not a RIFF/WAVE container")
	}
	if rate := binary.LittleEndian.Uint32(last.wav[24:28]); rate != 16000 {
		t.Errorf("wav sample rate = %d, want 16000", rate)
	}
	if got := int16(binary.LittleEndian.Uint16(last.wav[44+2*10:])); got != pcm[10] {
		t.Errorf("wav sample 10 = %d, want %d", got, pcm[10])
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	p, _ := whisper.New("http://127.0.0.1:1")
	_, err := p.Transcribe(context.Background(), nil, 16000)
	if !errors.Is(err, stt.ErrEmptyAudio) {
		t.Errorf("error = %v, want ErrEmptyAudio", err)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	_, err := p.Transcribe(context.Background(), makeSpeechPCM(160), 16000)
	if err == nil {
		t.Fatal("expected error for HTTP 500, got nil")
	}
	if !strings.Contains(err.Error(), "500") || !strings.Contains(err.Error(), "model not loaded") {
		t.Errorf("error %q does not mention status and body", err)
	}
}

func TestTranscribe_EmptyResponse(t *testing.T) {
	srv := newMockServer(t, "", nil, nil)
	p, _ := whisper.New(srv.URL)
	text, err := p.Transcribe(context.Background(), makeSpeechPCM(160), 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "" {
		t.Errorf("text = %q, want empty", text)
	}
}

func TestTranscribe_CancelledContext(t *testing.T) {
	srv := newMockServer(t, "late", nil, nil)
	p, _ := whisper.New(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Transcribe(ctx, makeSpeechPCM(160), 16000); err == nil {
		t.Fatal("expected error for cancelled context, got nil")
	}
}
