// Package translate defines the Translator interface for machine translation
// backends and the Target type that names a destination language.
//
// Targets are resolved from the configured language table when a session
// starts. Dedicated translation models (Helsinki-NLP opus-mt through the
// Hugging Face inference API) use Target.Model, while chat-style LLM backends
// use Target.Name in their instruction prompt.
package translate

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoTarget is returned when Translate is called with an empty Target.
var ErrNoTarget = errors.New("translate: no target language")

// Target is one destination language.
type Target struct {
	// Name is the human-readable language name shown in the UI ("German").
	Name string `json:"name"`

	// Model is the translation model id for dedicated MT backends
	// ("Helsinki-NLP/opus-mt-en-de").
	Model string `json:"model"`

	// Code is the ISO-639-1 code of the language ("de"). Used by TTS voices.
	Code string `json:"code"`
}

// IsZero reports whether t names no language at all.
func (t Target) IsZero() bool {
	return t.Name == "" && t.Model == "" && t.Code == ""
}

// String returns the display name, falling back to the model id.
func (t Target) String() string {
	if t.Name != "" {
		return t.Name
	}
	return t.Model
}

// Translator is the abstraction over any translation backend.
type Translator interface {
	// Translate converts English text into the target language. Empty input
	// yields empty output without contacting the backend.
	Translate(ctx context.Context, text string, target Target) (string, error)
}

// Instruction returns the system prompt used by LLM-based translators.
func Instruction(target Target) string {
	return fmt.Sprintf("You are a translation engine. Translate the user's English text into %s. "+
		"Reply with the translation only, without quotes, notes or transliteration.", target)
}
