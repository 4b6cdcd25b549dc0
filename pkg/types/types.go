// Package types defines the shared types used across all Voxline packages.
//
// These types form the lingua franca between providers, the transcript
// stabilizer, the dialog orchestrator, and the HTTP layer. They are
// intentionally minimal — each package defines its own domain types, but
// cross-cutting data structures live here to avoid circular imports.
package types

import "time"

// AudioFrame represents a single frame of audio data flowing through the pipeline.
// Frames are the atomic unit of audio transport — captured from the caller's
// stream, encoded by the capture bridge, and forwarded to the STT channel.
type AudioFrame struct {
	// PCM audio data, little-endian int16 samples.
	Data []byte

	// SampleRate in Hz (e.g., 44000 for browser capture, 16000 for STT).
	SampleRate int

	// Channels: 1 for mono caller audio.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Transcript represents a speech-to-text result from an STT provider.
// Both partial (interim) and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content of the first alternative.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or partial
	// (interim) transcript. Streaming recognizers may emit revised finals for
	// the same audio span; see the transcript stabilizer.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero if the
	// provider does not report confidence.
	Confidence float64

	// Words contains per-word timing detail when available. May be nil for
	// providers that don't support word-level output.
	Words []WordDetail
}

// WordDetail holds per-word metadata from STT providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// Conversation roles. The session history stores only human and assistant
// turns; the system prompt is rendered fresh from scenario parameters each turn.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
