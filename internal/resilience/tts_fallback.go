package resilience

import (
	"context"

	"github.com/voxline/voxline/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// TTS backends. Each backend has its own circuit breaker.
//
// Fallback backends should be configured with the same output format as the
// primary: ContentType always reports the primary's type, since the response
// header is written before synthesis runs.
type TTSFallback struct {
	group   *FallbackGroup[tts.Provider]
	primary tts.Provider
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group:   NewFallbackGroup(primary, primaryName, cfg),
		primary: primary,
	}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize renders text with the first healthy provider.
func (f *TTSFallback) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]byte, error) {
		return p.Synthesize(ctx, text, voice)
	})
}

// ContentType reports the primary provider's audio MIME type.
func (f *TTSFallback) ContentType() string {
	return f.primary.ContentType()
}
