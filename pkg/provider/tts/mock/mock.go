// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio buffers to consumers and to verify
// the text and voice passed to the TTS backend.
package mock

import (
	"context"
	"sync"

	"github.com/voxline/voxline/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Text is the text passed to Synthesize.
	Text string
	// Voice is the voice passed to Synthesize.
	Voice string
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Audio is the buffer returned by Synthesize. If nil and SynthesizeErr is
	// nil, Synthesize returns a small placeholder buffer.
	Audio []byte

	// SynthesizeErr, if non-nil, is returned as the error from Synthesize.
	SynthesizeErr error

	// Type is the value returned by ContentType. Defaults to "audio/mpeg"
	// when empty.
	Type string

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns Audio, SynthesizeErr.
func (p *Provider) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice})
	if p.SynthesizeErr != nil {
		return nil, p.SynthesizeErr
	}
	if p.Audio == nil {
		return []byte("audio"), nil
	}
	out := make([]byte, len(p.Audio))
	copy(out, p.Audio)
	return out, nil
}

// ContentType returns Type, or "audio/mpeg" when unset.
func (p *Provider) ContentType() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Type == "" {
		return "audio/mpeg"
	}
	return p.Type
}

// Calls returns a snapshot of the recorded Synthesize invocations.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.SynthesizeCalls))
	copy(out, p.SynthesizeCalls)
	return out
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
