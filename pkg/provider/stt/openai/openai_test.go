package openai_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/voxlate/pkg/provider/stt"
	"github.com/MrWong99/voxlate/pkg/provider/stt/openai"
)

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := openai.New(""); err == nil {
		t.Fatal("expected error for empty apiKey")
	}
}

func TestTranscribe_UploadsWAV(t *testing.T) {
	var (
		gotModel    string
		gotLanguage string
		gotFile     []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotModel = r.FormValue("model")
		gotLanguage = r.FormValue("language")
		if f, _, err := r.FormFile("file"); err == nil {
			gotFile, _ = io.ReadAll(f)
			f.Close()
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":" Guten Tag. "}`)
	}))
	defer srv.Close()

	p, err := openai.New("sk-test", openai.WithBaseURL(srv.URL), openai.WithLanguage("de"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	text, err := p.Transcribe(context.Background(), make([]int16, 800), 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "Guten Tag." {
		t.Errorf("text = %q, want %q", text, "Guten Tag.")
	}
	if gotModel != "whisper-1" {
		t.Errorf("model = %q, want whisper-1", gotModel)
	}
	if gotLanguage != "de" {
		t.Errorf("language = %q, want de", gotLanguage)
	}
	if len(gotFile) != 44+800*2 || string(gotFile[:4]) != "RIFF" {
		t.Errorf("uploaded file: %d bytes, want a %d byte WAV", len(gotFile), 44+800*2)
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	p, _ := openai.New("sk-test")
	if _, err := p.Transcribe(context.Background(), nil, 16000); !errors.Is(err, stt.ErrEmptyAudio) {
		t.Errorf("error = %v, want ErrEmptyAudio", err)
	}
}

func TestTranscribe_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"bad audio","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	p, _ := openai.New("sk-test", openai.WithBaseURL(srv.URL))
	if _, err := p.Transcribe(context.Background(), make([]int16, 160), 16000); err == nil {
		t.Fatal("expected error for HTTP 400")
	}
}
