// Package mock provides a test double for the translate.Translator interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxlate/pkg/provider/translate"
)

// TranslateCall records a single invocation of Translator.Translate.
type TranslateCall struct {
	Text   string
	Target translate.Target
}

// Translator is a mock implementation of translate.Translator. By default it
// returns "[<code>] <text>".
type Translator struct {
	mu sync.Mutex

	// Func, if set, computes the translation.
	Func func(text string, target translate.Target) string

	// Err, if non-nil, is returned by Translate.
	Err error

	// Calls records every invocation in order.
	Calls []TranslateCall
}

var _ translate.Translator = (*Translator)(nil)

// Translate implements translate.Translator.
func (m *Translator) Translate(ctx context.Context, text string, target translate.Target) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, TranslateCall{Text: text, Target: target})
	if m.Err != nil {
		return "", m.Err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.Func != nil {
		return m.Func(text, target), nil
	}
	return "[" + target.Code + "] " + text, nil
}

// CallCount returns the number of Translate calls.
func (m *Translator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Reset clears recorded calls.
func (m *Translator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}
