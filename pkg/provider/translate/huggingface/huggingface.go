// Package huggingface provides a Translator backed by the Hugging Face
// inference API, intended for the Helsinki-NLP opus-mt model family.
//
// The request is POST {baseURL}/models/{target.Model} with {"inputs": text};
// the response is [{"translation_text": "..."}].
package huggingface

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/voxlate/pkg/provider/translate"
)

const (
	defaultBaseURL = "https://api-inference.huggingface.co"
	defaultTimeout = 30 * time.Second
)

var _ translate.Translator = (*Provider)(nil)

// ErrModelLoading is returned while the hosted model is still cold.
var ErrModelLoading = errors.New("huggingface: model is loading")

// Option is a functional option for Provider.
type Option func(*Provider)

// WithBaseURL overrides the inference API base URL, for example to point at a
// self-hosted text-generation-inference or a test server.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(u, "/") }
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.client.Timeout = d }
}

// WithWaitForModel asks the API to block until a cold model is loaded instead
// of answering 503.
func WithWaitForModel(wait bool) Option {
	return func(p *Provider) { p.waitForModel = wait }
}

// Provider implements translate.Translator against the Hugging Face
// inference API.
type Provider struct {
	token        string
	baseURL      string
	waitForModel bool
	client       *http.Client
}

// New returns a Provider. token may be empty for anonymous (rate-limited)
// access.
func New(token string, opts ...Option) *Provider {
	p := &Provider{
		token:        token,
		baseURL:      defaultBaseURL,
		waitForModel: true,
		client:       &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

type inferenceRequest struct {
	Inputs  string            `json:"inputs"`
	Options *inferenceOptions `json:"options,omitempty"`
}

type inferenceOptions struct {
	WaitForModel bool `json:"wait_for_model"`
}

type translation struct {
	TranslationText string `json:"translation_text"`
}

type apiError struct {
	Error         string  `json:"error"`
	EstimatedTime float64 `json:"estimated_time"`
}

// Translate implements translate.Translator.
func (p *Provider) Translate(ctx context.Context, text string, target translate.Target) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	if target.Model == "" {
		return "", translate.ErrNoTarget
	}

	body := inferenceRequest{Inputs: text}
	if p.waitForModel {
		body.Options = &inferenceOptions{WaitForModel: true}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("huggingface: marshal request: %w", err)
	}

	url := p.baseURL + "/models/" + target.Model
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("huggingface: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("huggingface: %s: %w", target.Model, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("huggingface: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		_ = json.Unmarshal(data, &apiErr)
		if resp.StatusCode == http.StatusServiceUnavailable && apiErr.EstimatedTime > 0 {
			return "", fmt.Errorf("%w (%s, ready in ~%.0fs)", ErrModelLoading, target.Model, apiErr.EstimatedTime)
		}
		msg := apiErr.Error
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		return "", fmt.Errorf("huggingface: %s: status %d: %s", target.Model, resp.StatusCode, msg)
	}

	var out []translation
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("huggingface: decode response: %w", err)
	}
	if len(out) == 0 {
		return "", fmt.Errorf("huggingface: %s: empty response", target.Model)
	}
	parts := make([]string, 0, len(out))
	for _, t := range out {
		if s := strings.TrimSpace(t.TranslationText); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " "), nil
}
