// Package vllmlocal talks to a local vLLM server's OpenAI-compatible
// /chat/completions endpoint. Unlike the source this is grounded on
// (which rejects streaming outright), this adapter reuses the
// openaicompat SSE path — vLLM's OpenAI-compatible server does support
// token-level streaming, so there is no wire-shape reason to refuse it
// here (see DESIGN.md Open Question b).
package vllmlocal

import (
	"context"

	"github.com/llmgateway/gateway/internal/domain"
	"github.com/llmgateway/gateway/internal/provider"
	"github.com/llmgateway/gateway/internal/provider/openaicompat"
)

// Adapter wraps openaicompat.Adapter: vLLM's OpenAI-compatible server
// accepts the same chat/completions wire shape, so no request/response
// translation is needed beyond what that adapter already does.
type Adapter struct {
	inner *openaicompat.Adapter
}

func New() *Adapter {
	return &Adapter{inner: openaicompat.New()}
}

func (a *Adapter) Type() domain.ProviderType { return domain.ProviderVLLMLocal }

func (a *Adapter) Invoke(ctx context.Context, p domain.Provider, m domain.Model, req domain.NormalizedRequest) (*domain.NormalizedResponse, error) {
	return a.inner.Invoke(ctx, p, m, req)
}

func (a *Adapter) InvokeStream(ctx context.Context, p domain.Provider, m domain.Model, req domain.NormalizedRequest) (<-chan domain.StreamDelta, <-chan error) {
	return a.inner.InvokeStream(ctx, p, m, req)
}

var _ provider.Adapter = (*Adapter)(nil)
