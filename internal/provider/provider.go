// Package provider holds the external contract surface: credential
// resolution, sensitive-header merging, OAuth/PKCE, the model catalog, and
// the streaming clients that translate provider wire formats into the
// uniform assistant event stream.
package provider

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/gq3171/piagent/internal/msg"
	"github.com/gq3171/piagent/internal/stream"
	"github.com/gq3171/piagent/internal/tools"
)

// Request is the provider-agnostic input for one assistant stream.
type Request struct {
	SystemPrompt string
	Messages     []msg.Message
	Tools        []tools.Definition
}

// StreamOptions carries per-call knobs. Zero values mean "provider default".
type StreamOptions struct {
	Temperature     *float64
	MaxTokens       int64
	APIKey          string
	CacheRetention  msg.CacheRetention
	SessionID       string
	Headers         map[string]string
	MaxRetryDelayMs int64

	// ThinkingLevel requests reasoning; nil means off.
	ThinkingLevel   *msg.ThinkingLevel
	ThinkingBudgets *msg.ThinkingBudgets
}

// EffectiveMaxTokens resolves max tokens plus thinking budget for the model.
// Returns (maxTokens, thinkingBudget, thinkingEnabled).
func (o StreamOptions) EffectiveMaxTokens(model msg.Model) (int64, int64, bool) {
	base := o.MaxTokens
	if base <= 0 {
		base = model.MaxTokens
		if base > 32000 {
			base = 32000
		}
	}
	if o.ThinkingLevel == nil || !model.Reasoning {
		if base > model.MaxTokens {
			base = model.MaxTokens
		}
		return base, 0, false
	}
	level := msg.ClampThinkingLevel(*o.ThinkingLevel, model)
	maxTokens, budget := msg.AdjustMaxTokensForThinking(base, model.MaxTokens, level, o.ThinkingBudgets)
	return maxTokens, budget, true
}

// Provider streams one assistant message for its API family. The returned
// stream is already live; the HTTP request honors ctx.
type Provider interface {
	API() string
	Stream(ctx context.Context, model msg.Model, req Request, opts StreamOptions) *stream.Stream
}

// Registry routes models to providers by api family.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds the default registry (anthropic + openai families).
func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	r.Register(NewAnthropicProvider(logger))
	r.Register(NewOpenAIProvider(logger))
	return r
}

// Register adds or replaces a provider for its api family.
func (r *Registry) Register(p Provider) {
	r.providers[p.API()] = p
}

// Get returns the provider for an api family.
func (r *Registry) Get(api string) (Provider, bool) {
	p, ok := r.providers[api]
	return p, ok
}

// Stream dispatches to the provider for model.API.
func (r *Registry) Stream(ctx context.Context, model msg.Model, req Request, opts StreamOptions) (*stream.Stream, error) {
	p, ok := r.Get(model.API)
	if !ok {
		return nil, fmt.Errorf("no provider registered for api %q", model.API)
	}
	return p.Stream(ctx, model, req, opts), nil
}

// Complete streams and waits for the terminal result.
func (r *Registry) Complete(ctx context.Context, model msg.Model, req Request, opts StreamOptions) (*msg.AssistantMessage, error) {
	s, err := r.Stream(ctx, model, req, opts)
	if err != nil {
		return nil, err
	}
	s.Drain(ctx)
	result, ok := s.Result(ctx)
	if !ok {
		return nil, fmt.Errorf("stream ended without a result")
	}
	return result, nil
}

// errorStream is the uniform failure path: a stream that immediately emits a
// terminal Error event tagged with the model.
func errorStream(model msg.Model, message string) *stream.Stream {
	s := stream.New()
	m := msg.EmptyAssistant(model)
	m.StopReason = msg.StopReasonError
	m.ErrorMessage = message
	s.Push(stream.Event{Type: stream.EventError, Reason: msg.StopReasonError, Message: m})
	return s
}
