// Package dialog runs conversation turns.
//
// The Orchestrator owns the coupling between session memory, scenario
// prompts, and the completion provider: one caller utterance in, one persona
// reply out, with the exchange recorded in session history only when the
// completion succeeded.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/voxline/voxline/internal/scenario"
	"github.com/voxline/voxline/internal/session"
	"github.com/voxline/voxline/pkg/provider/llm"
	"github.com/voxline/voxline/pkg/types"
)

// ErrCompletion is wrapped around provider failures so transports can map
// them to their error taxonomy without inspecting provider internals.
var ErrCompletion = errors.New("dialog: completion failed")

const (
	// defaultTemperature keeps the personas consistent across turns.
	defaultTemperature = 0.25
	defaultMaxTokens   = 512
)

// Option is a functional option for configuring the Orchestrator.
type Option func(*Orchestrator)

// WithTemperature sets the sampling temperature passed on every completion.
func WithTemperature(t float64) Option {
	return func(o *Orchestrator) {
		o.temperature = t
	}
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.log = l
	}
}

// Orchestrator executes turns against a completion provider. Safe for
// concurrent use; turns on the same session are serialized by the store.
type Orchestrator struct {
	provider    llm.Provider
	sessions    *session.Store
	temperature float64
	maxTokens   int
	log         *slog.Logger
}

// New creates an Orchestrator. provider and sessions must be non-nil.
func New(provider llm.Provider, sessions *session.Store, opts ...Option) (*Orchestrator, error) {
	if provider == nil {
		return nil, errors.New("dialog: provider must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("dialog: session store must not be nil")
	}
	o := &Orchestrator{
		provider:    provider,
		sessions:    sessions,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// TakeTurn runs one conversation turn: render the scenario's system prompt,
// replay the session history, make exactly one completion call, and record
// the exchange. On any failure the session history is left untouched, so a
// retried turn sees the same state the failed one did.
func (o *Orchestrator) TakeTurn(ctx context.Context, sessionID, input string, sc *scenario.Scenario, params map[string]string) (string, error) {
	systemPrompt, err := sc.RenderSystemPrompt(params)
	if err != nil {
		return "", err
	}

	s := o.sessions.Acquire(sessionID)
	defer o.sessions.Release(s)

	history := s.History()
	messages := make([]types.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, types.Message{Role: types.RoleUser, Content: input})

	resp, err := o.provider.Complete(ctx, llm.CompletionRequest{
		Messages:     messages,
		SystemPrompt: systemPrompt,
		Temperature:  o.temperature,
		MaxTokens:    o.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrCompletion, sc.Name, err)
	}

	s.AppendExchange(input, resp.Content)
	o.log.DebugContext(ctx, "turn completed",
		"session", sessionID,
		"scenario", sc.Name,
		"history_len", s.Len(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return resp.Content, nil
}

// History returns a copy of the session's message history, creating the
// session if absent.
func (o *Orchestrator) History(sessionID string) []types.Message {
	s := o.sessions.Acquire(sessionID)
	defer o.sessions.Release(s)
	return s.History()
}
