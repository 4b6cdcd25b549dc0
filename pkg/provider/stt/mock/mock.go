// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify that the caller starts sessions with the expected
// StreamConfig. Use Session to feed controlled Transcript values and inspect
// which audio chunks were delivered.
package mock

import (
	"context"
	"sync"

	"github.com/voxline/voxline/pkg/provider/stt"
	"github.com/voxline/voxline/pkg/types"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	// Ctx is the context passed to StartStream.
	Ctx context.Context
	// Cfg is the StreamConfig passed to StartStream.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by StartStream. If nil,
	// StartStream returns a new default Session with a buffered channel.
	Session stt.SessionHandle

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall
}

// StartStream records the call and returns Session, StartStreamErr.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Session is a mock implementation of stt.SessionHandle.
type Session struct {
	mu sync.Mutex

	// ResultsCh is the channel returned by Results. Feed Transcript values
	// here and close it to simulate the end of the stream.
	ResultsCh chan types.Transcript

	// SendAudioErr, if non-nil, is returned from SendAudio.
	SendAudioErr error

	// Connected is reported by IsConnected. Defaults to true in NewSession.
	Connected bool

	// AudioChunks records every chunk passed to SendAudio.
	AudioChunks [][]byte

	// Closed reports whether Close was called.
	Closed bool
}

// NewSession returns a connected Session with a buffered results channel.
func NewSession() *Session {
	return &Session{
		ResultsCh: make(chan types.Transcript, 16),
		Connected: true,
	}
}

// SendAudio records the chunk and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.AudioChunks = append(s.AudioChunks, cp)
	return nil
}

// IsConnected reports the configured Connected flag.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Connected && !s.Closed
}

// Results returns the configured results channel.
func (s *Session) Results() <-chan types.Transcript { return s.ResultsCh }

// Close marks the session closed and closes the results channel, matching
// the SessionHandle contract. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.Closed {
		s.Closed = true
		if s.ResultsCh != nil {
			close(s.ResultsCh)
		}
	}
	return nil
}

// Sent returns a snapshot of the audio chunks delivered so far.
func (s *Session) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.AudioChunks))
	copy(out, s.AudioChunks)
	return out
}
