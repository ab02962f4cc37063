// Package coqui provides a tts.Provider backed by a locally running Coqui TTS
// server, either the standard server or the XTTS v2 API server.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis is GET /api/tts with URL query
//     parameters.
//
//   - APIModeXTTS: the Coqui XTTS v2 API server. Synthesis is
//     POST /tts_to_audio/ with a JSON body and requires a speaker.
//
// Both servers answer one WAV file per request. Long translations are split
// into sentences which are synthesised concurrently (bounded lookahead) and
// stitched back together in order, so the first sentence does not wait for
// the whole paragraph to render.
//
// Typical usage:
//
//	p, err := coqui.New("http://localhost:5002",
//	    coqui.WithLanguage("de"),
//	    coqui.WithTimeout(15*time.Second),
//	)
//	clip, err := p.Synthesize(ctx, "Guten Morgen.")
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxlate/pkg/audio"
	"github.com/MrWong99/voxlate/pkg/audio/wavfile"
	"github.com/MrWong99/voxlate/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second
	ttsEndpoint     = "/tts_to_audio/"
	apiTTSEndpoint  = "/api/tts"

	// sentenceLookahead bounds the number of concurrent synthesis requests.
	sentenceLookahead = 4
)

// APIMode selects which Coqui server API the provider will target.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	APIModeStandard APIMode = "standard"
)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent to the TTS server (e.g., "en",
// "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithAPIMode sets the server API mode.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) {
		p.apiMode = mode
	}
}

// WithSpeaker selects a speaker. In standard mode this is the speaker_id of a
// multi-speaker model; in XTTS mode it is the speaker_wav reference.
func WithSpeaker(id string) Option {
	return func(p *Provider) {
		p.speaker = id
	}
}

// WithOutputSampleRate resamples synthesised PCM to rate. Zero (default)
// keeps the model's native rate.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) {
		p.outputRate = rate
	}
}

// Provider implements tts.Provider backed by a Coqui TTS server. It is safe
// for concurrent use.
type Provider struct {
	serverURL  string
	language   string
	speaker    string
	httpClient *http.Client
	apiMode    APIMode
	outputRate int
}

// New creates a new Coqui Provider that targets the TTS server at serverURL
// (e.g., "http://localhost:5002"). The default API mode is APIModeStandard.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL: strings.TrimRight(serverURL, "/"),
		language:  defaultLanguage,
		apiMode:   APIModeStandard,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(p)
	}
	if p.apiMode != APIModeStandard && p.apiMode != APIModeXTTS {
		return nil, fmt.Errorf("coqui: unknown API mode %q", p.apiMode)
	}
	if p.apiMode == APIModeXTTS && p.speaker == "" {
		return nil, errors.New("coqui: XTTS mode requires a speaker")
	}
	return p, nil
}

// ttsRequest is the JSON body sent to POST /tts_to_audio/ (XTTS mode).
type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string) (tts.Clip, error) {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return tts.Clip{}, tts.ErrEmptyText
	}

	clips := make([]wavfile.Clip, len(sentences))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sentenceLookahead)
	for i, s := range sentences {
		g.Go(func() error {
			clip, err := p.synthesize(gctx, s)
			if err != nil {
				return err
			}
			clips[i] = clip
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return tts.Clip{}, err
	}
	return p.join(clips), nil
}

// join concatenates sentence clips at a common rate.
func (p *Provider) join(clips []wavfile.Clip) tts.Clip {
	rate := p.outputRate
	if rate == 0 {
		rate = clips[0].SampleRate
	}
	var pcm []int16
	for _, c := range clips {
		pcm = append(pcm, audio.ResampleMono(c.Samples, c.SampleRate, rate)...)
	}
	return tts.Clip{PCM: pcm, SampleRate: rate}
}

// synthesize renders one sentence in the configured API mode.
func (p *Provider) synthesize(ctx context.Context, sentence string) (wavfile.Clip, error) {
	var (
		req *http.Request
		err error
	)
	if p.apiMode == APIModeStandard {
		req, err = p.standardRequest(ctx, sentence)
	} else {
		req, err = p.xttsRequest(ctx, sentence)
	}
	if err != nil {
		return wavfile.Clip{}, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return wavfile.Clip{}, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return wavfile.Clip{}, fmt.Errorf("coqui: %s %s returned status %d", req.Method, req.URL.Path, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return wavfile.Clip{}, fmt.Errorf("coqui: read WAV response: %w", err)
	}
	clip, err := wavfile.Decode(bytes.NewReader(data))
	if err != nil {
		return wavfile.Clip{}, fmt.Errorf("coqui: %w", err)
	}
	return clip, nil
}

// xttsRequest builds a POST /tts_to_audio/ request (XTTS v2 mode).
func (p *Provider) xttsRequest(ctx context.Context, sentence string) (*http.Request, error) {
	data, err := json.Marshal(ttsRequest{
		Text:       sentence,
		SpeakerWav: p.speaker,
		Language:   p.language,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+ttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// standardRequest builds a GET /api/tts request (standard server mode).
func (p *Provider) standardRequest(ctx context.Context, sentence string) (*http.Request, error) {
	params := url.Values{}
	params.Set("text", sentence)
	if p.speaker != "" {
		params.Set("speaker_id", p.speaker)
	}
	if p.language != "" {
		params.Set("language_id", p.language)
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+params.Encode(), nil)
}

// splitSentences cuts text at sentence boundaries and drops blank pieces.
func splitSentences(text string) []string {
	var out []string
	for {
		idx := findSentenceBoundary(text)
		if idx < 0 {
			break
		}
		if s := strings.TrimSpace(text[:idx+1]); s != "" {
			out = append(out, s)
		}
		text = text[idx+1:]
	}
	if s := strings.TrimSpace(text); s != "" {
		out = append(out, s)
	}
	return out
}

// findSentenceBoundary returns the index of the first sentence-ending
// character ('.', '!', '?', '।') that is either at the end of s or immediately
// followed by whitespace. Returns -1 if no boundary is found.
//
// Abbreviations like "Dr." followed by a name still split, but decimal
// numbers like "3.14" do not.
func findSentenceBoundary(s string) int {
	for i, r := range s {
		if r != '.' && r != '!' && r != '?' && r != '।' {
			continue
		}
		next := i + len(string(r))
		if next >= len(s) {
			return next - 1
		}
		if unicode.IsSpace(rune(s[next])) {
			return next - 1
		}
	}
	return -1
}
