package resilience

import (
	"context"

	"github.com/MrWong99/voxlate/pkg/provider/translate"
)

// TranslateFallback implements [translate.Translator] with automatic failover
// across multiple translation backends.
type TranslateFallback struct {
	group *FallbackGroup[translate.Translator]
}

var _ translate.Translator = (*TranslateFallback)(nil)

// NewTranslateFallback creates a [TranslateFallback] with primary as the
// preferred backend.
func NewTranslateFallback(primary translate.Translator, primaryName string, cfg FallbackConfig) *TranslateFallback {
	return &TranslateFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional translator as a fallback.
func (f *TranslateFallback) AddFallback(name string, t translate.Translator) {
	f.group.AddFallback(name, t)
}

// Translate uses the first healthy backend.
func (f *TranslateFallback) Translate(ctx context.Context, text string, target translate.Target) (string, error) {
	return ExecuteWithResult(ctx, f.group, func(t translate.Translator) (string, error) {
		return t.Translate(ctx, text, target)
	})
}
