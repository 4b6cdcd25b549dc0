// Package azure provides a TTS provider backed by the Azure Speech service
// REST API. It implements the tts.Provider interface.
package azure

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/voxline/voxline/pkg/provider/tts"
)

const (
	endpointFmt = "https://%s.tts.speech.microsoft.com/cognitiveservices/v1"

	// 16 kHz 64 kbit mono MP3 keeps reply payloads small enough for
	// low-latency playback on a phone-grade connection.
	defaultOutputFormat = "audio-16khz-64kbitrate-mono-mp3"
	defaultVoice        = "en-US-AvaMultilingualNeural"
	defaultLanguage     = "en-US"
)

// Option is a functional option for configuring the Azure Provider.
type Option func(*Provider)

// WithVoice sets the default synthesis voice (e.g., "en-US-CoraMultilingualNeural").
func WithVoice(voice string) Option {
	return func(p *Provider) {
		p.voice = voice
	}
}

// WithOutputFormat sets the Azure output format identifier.
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithLanguage sets the xml:lang attribute of the generated SSML.
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// Provider implements tts.Provider using the Azure Speech REST API.
type Provider struct {
	apiKey       string
	endpoint     string
	voice        string
	outputFormat string
	language     string
	httpClient   *http.Client
}

// New creates a new Azure Provider for the given region (e.g., "southeastasia").
// apiKey and region must be non-empty.
func New(apiKey, region string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("azure: apiKey must not be empty")
	}
	if region == "" {
		return nil, errors.New("azure: region must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		endpoint:     fmt.Sprintf(endpointFmt, region),
		voice:        defaultVoice,
		outputFormat: defaultOutputFormat,
		language:     defaultLanguage,
		httpClient:   &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Synthesize implements tts.Provider. It performs a single SSML request and
// returns the encoded audio buffer. The response body is closed on every exit
// path.
func (p *Provider) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if voice == "" {
		voice = p.voice
	}

	ssml, err := buildSSML(text, voice, p.language)
	if err != nil {
		return nil, fmt.Errorf("azure: build ssml: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(ssml))
	if err != nil {
		return nil, fmt.Errorf("azure: build request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", p.apiKey)
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("X-Microsoft-OutputFormat", p.outputFormat)
	req.Header.Set("User-Agent", "voxline")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("azure: synthesize: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("azure: synthesize: unexpected status %d: %s", resp.StatusCode, msg)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("azure: read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("azure: %w", tts.ErrEmptyAudio)
	}
	return audio, nil
}

// ContentType implements tts.Provider.
func (p *Provider) ContentType() string { return "audio/mpeg" }

// buildSSML wraps text in the minimal SSML envelope Azure expects, escaping
// the reply text so model output cannot break the XML structure.
func buildSSML(text, voice, lang string) ([]byte, error) {
	var escaped bytes.Buffer
	if err := xml.EscapeText(&escaped, []byte(text)); err != nil {
		return nil, err
	}
	ssml := fmt.Sprintf(
		"<speak version='1.0' xml:lang='%s'><voice name='%s'>%s</voice></speak>",
		lang, voice, escaped.String(),
	)
	return []byte(ssml), nil
}
