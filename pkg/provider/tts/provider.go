// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., Azure Speech,
// ElevenLabs) and presents a uniform one-shot interface: final reply text in,
// one encoded audio buffer out. The call pipeline makes exactly one synthesis
// attempt per reply; providers must release any underlying resources on every
// exit path, including errors.
//
// Implementations must be safe for concurrent use. Multiple synthesis requests
// may run in parallel (one per live call).
package tts

import (
	"context"
	"errors"
)

// ErrEmptyAudio is returned when the provider reports success but delivers a
// zero-length audio buffer. Callers treat it like any other synthesis failure.
var ErrEmptyAudio = errors.New("tts: provider returned no audio data")

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts text into encoded audio bytes using the given voice.
	// An empty voice selects the provider's configured default. Returns a
	// non-nil error (possibly wrapping ErrEmptyAudio) when the provider fails
	// or produces no audio; on error the returned bytes are nil.
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)

	// ContentType identifies the audio codec of buffers returned by
	// Synthesize (e.g., "audio/mpeg"). Constant for the provider's lifetime.
	ContentType() string
}
