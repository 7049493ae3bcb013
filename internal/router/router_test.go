package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/llmgateway/gateway/internal/auth"
	"github.com/llmgateway/gateway/internal/catalog"
	"github.com/llmgateway/gateway/internal/circuitbreaker"
	"github.com/llmgateway/gateway/internal/domain"
	"github.com/llmgateway/gateway/internal/provider"
	"github.com/llmgateway/gateway/internal/ratelimit"
)

type mockAdapter struct {
	typ      domain.ProviderType
	response *domain.NormalizedResponse
	err      error
}

func (m *mockAdapter) Type() domain.ProviderType { return m.typ }
func (m *mockAdapter) Invoke(ctx context.Context, p domain.Provider, model domain.Model, req domain.NormalizedRequest) (*domain.NormalizedResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}
func (m *mockAdapter) InvokeStream(ctx context.Context, p domain.Provider, model domain.Model, req domain.NormalizedRequest) (<-chan domain.StreamDelta, <-chan error) {
	deltas := make(chan domain.StreamDelta)
	errs := make(chan error, 1)
	close(deltas)
	errs <- m.err
	close(errs)
	return deltas, errs
}

func newTestRouter(t *testing.T, providers []domain.Provider, models []domain.Model, adapters map[domain.ProviderType]provider.Adapter, bedrock provider.Adapter) *Router {
	t.Helper()
	store := &catalog.MapStore{Providers: providers, Models: models}
	acc, err := catalog.NewAccessor(context.Background(), store)
	if err != nil {
		t.Fatalf("NewAccessor: %v", err)
	}
	return New(acc, NewAdapterTable(adapters, bedrock), ratelimit.NewInMemoryLimiter(), circuitbreaker.NewManager(circuitbreaker.DefaultConfig()))
}

func TestDirect_ReturnsNamedModel(t *testing.T) {
	r := newTestRouter(t,
		[]domain.Provider{{Name: "openai", Type: domain.ProviderOpenAICompatible, IsActive: true}},
		[]domain.Model{{ProviderName: "openai", Name: "gpt-4o", IsActive: true}},
		nil, nil)

	m, err := r.Direct(context.Background(), "openai", "gpt-4o")
	if err != nil {
		t.Fatalf("Direct: %v", err)
	}
	if m.Name != "gpt-4o" {
		t.Errorf("Name = %q, want gpt-4o", m.Name)
	}
}

func TestDirect_UnknownProvider(t *testing.T) {
	r := newTestRouter(t, nil, nil, nil, nil)
	if _, err := r.Direct(context.Background(), "nope", "m"); err != domain.ErrProviderNotFound {
		t.Errorf("err = %v, want ErrProviderNotFound", err)
	}
}

func TestSelectByTags_PicksLexicographicallySmallest(t *testing.T) {
	providers := []domain.Provider{
		{Name: "zeta", Type: domain.ProviderOpenAICompatible, IsActive: true},
		{Name: "alpha", Type: domain.ProviderOpenAICompatible, IsActive: true},
	}
	models := []domain.Model{
		{ProviderName: "zeta", Name: "a-model", IsActive: true, Tags: map[string]struct{}{"fast": {}}},
		{ProviderName: "alpha", Name: "z-model", IsActive: true, Tags: map[string]struct{}{"fast": {}}},
		{ProviderName: "alpha", Name: "a-model", IsActive: true, Tags: map[string]struct{}{"fast": {}}},
	}
	r := newTestRouter(t, providers, models, nil, nil)

	m, err := r.SelectByTags(context.Background(), domain.RouteQuery{Tags: []string{"fast"}}, auth.Principal{Kind: auth.PrincipalAnonymousLocal})
	if err != nil {
		t.Fatalf("SelectByTags: %v", err)
	}
	if m.ProviderName != "alpha" || m.Name != "a-model" {
		t.Errorf("selected %s/%s, want alpha/a-model", m.ProviderName, m.Name)
	}
}

func TestSelectByTags_RequiresSupersetOfTags(t *testing.T) {
	providers := []domain.Provider{{Name: "openai", Type: domain.ProviderOpenAICompatible, IsActive: true}}
	models := []domain.Model{
		{ProviderName: "openai", Name: "gpt-4o", IsActive: true, Tags: map[string]struct{}{"vision": {}}},
		{ProviderName: "openai", Name: "gpt-4o-mini", IsActive: true, Tags: map[string]struct{}{}},
	}
	r := newTestRouter(t, providers, models, nil, nil)

	m, err := r.SelectByTags(context.Background(), domain.RouteQuery{Tags: []string{"vision"}}, auth.Principal{Kind: auth.PrincipalAnonymousLocal})
	if err != nil {
		t.Fatalf("SelectByTags: %v", err)
	}
	if m.Name != "gpt-4o" {
		t.Errorf("Name = %q, want gpt-4o", m.Name)
	}
}

func TestSelectByTags_NoCandidateOnEmptySet(t *testing.T) {
	r := newTestRouter(t, nil, nil, nil, nil)
	_, err := r.SelectByTags(context.Background(), domain.RouteQuery{Tags: []string{"nonexistent"}}, auth.Principal{Kind: auth.PrincipalAnonymousLocal})
	if err != domain.ErrNoCandidate {
		t.Errorf("err = %v, want ErrNoCandidate", err)
	}
}

func TestSelectByTags_CredentialAllowListFiltersCandidates(t *testing.T) {
	providers := []domain.Provider{{Name: "openai", Type: domain.ProviderOpenAICompatible, IsActive: true}}
	models := []domain.Model{
		{ProviderName: "openai", Name: "gpt-4o", IsActive: true},
		{ProviderName: "openai", Name: "gpt-4o-mini", IsActive: true},
	}
	r := newTestRouter(t, providers, models, nil, nil)

	cred := domain.Credential{ID: "c1", AllowedModels: map[string]struct{}{"openai/gpt-4o-mini": {}}}
	principal := auth.Principal{Kind: auth.PrincipalCredential, Credential: &cred}

	m, err := r.SelectByTags(context.Background(), domain.RouteQuery{}, principal)
	if err != nil {
		t.Fatalf("SelectByTags: %v", err)
	}
	if m.Name != "gpt-4o-mini" {
		t.Errorf("Name = %q, want gpt-4o-mini (only allowed model)", m.Name)
	}
}

func TestInvoke_DispatchesToMatchingAdapter(t *testing.T) {
	providers := []domain.Provider{{Name: "openai", Type: domain.ProviderOpenAICompatible, IsActive: true}}
	models := []domain.Model{{ProviderName: "openai", Name: "gpt-4o", IsActive: true}}
	adapter := &mockAdapter{typ: domain.ProviderOpenAICompatible, response: &domain.NormalizedResponse{OutputText: "hi"}}
	r := newTestRouter(t, providers, models, map[domain.ProviderType]provider.Adapter{domain.ProviderOpenAICompatible: adapter}, nil)

	m, _ := r.Direct(context.Background(), "openai", "gpt-4o")
	resp, err := r.Invoke(context.Background(), m, domain.NormalizedRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if resp.OutputText != "hi" {
		t.Errorf("OutputText = %q, want hi", resp.OutputText)
	}
}

func TestInvoke_BedrockDispatchViaAWSRegionSetting(t *testing.T) {
	providers := []domain.Provider{{
		Name:     "bedrock-claude",
		Type:     domain.ProviderGenericHTTP,
		Settings: map[string]any{"aws_region": "us-west-2"},
		IsActive: true,
	}}
	models := []domain.Model{{ProviderName: "bedrock-claude", Name: "claude-3-5-sonnet", IsActive: true}}

	plainHTTP := &mockAdapter{typ: domain.ProviderGenericHTTP, response: &domain.NormalizedResponse{OutputText: "wrong adapter"}}
	bedrockAdapter := &mockAdapter{typ: domain.ProviderGenericHTTP, response: &domain.NormalizedResponse{OutputText: "bedrock"}}
	r := newTestRouter(t, providers, models, map[domain.ProviderType]provider.Adapter{domain.ProviderGenericHTTP: plainHTTP}, bedrockAdapter)

	m, _ := r.Direct(context.Background(), "bedrock-claude", "claude-3-5-sonnet")
	resp, err := r.Invoke(context.Background(), m, domain.NormalizedRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if resp.OutputText != "bedrock" {
		t.Errorf("OutputText = %q, want bedrock (aws_region set should dispatch there)", resp.OutputText)
	}
}

func TestInvoke_UnknownProviderType(t *testing.T) {
	providers := []domain.Provider{{Name: "openai", Type: domain.ProviderOpenAICompatible, IsActive: true}}
	models := []domain.Model{{ProviderName: "openai", Name: "gpt-4o", IsActive: true}}
	r := newTestRouter(t, providers, models, nil, nil)

	m, _ := r.Direct(context.Background(), "openai", "gpt-4o")
	_, err := r.Invoke(context.Background(), m, domain.NormalizedRequest{Prompt: "hi"})
	if err != domain.ErrUnknownProviderType {
		t.Errorf("err = %v, want ErrUnknownProviderType", err)
	}
}

func TestInvoke_RateLimited(t *testing.T) {
	providers := []domain.Provider{{Name: "openai", Type: domain.ProviderOpenAICompatible, IsActive: true}}
	rl := &domain.RateLimitConfig{MaxRequests: 1, PerSeconds: 60}
	models := []domain.Model{{ProviderName: "openai", Name: "gpt-4o", IsActive: true, RateLimit: rl}}
	adapter := &mockAdapter{typ: domain.ProviderOpenAICompatible, response: &domain.NormalizedResponse{OutputText: "ok"}}
	r := newTestRouter(t, providers, models, map[domain.ProviderType]provider.Adapter{domain.ProviderOpenAICompatible: adapter}, nil)

	m, _ := r.Direct(context.Background(), "openai", "gpt-4o")
	if _, err := r.Invoke(context.Background(), m, domain.NormalizedRequest{Prompt: "hi"}); err != nil {
		t.Fatalf("first call: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := r.Invoke(ctx, m, domain.NormalizedRequest{Prompt: "hi"}); err != domain.ErrRateLimited {
		t.Errorf("second call err = %v, want ErrRateLimited", err)
	}
}

func TestInvoke_AdapterErrorRecordsCircuitBreakerFailure(t *testing.T) {
	providers := []domain.Provider{{Name: "openai", Type: domain.ProviderOpenAICompatible, IsActive: true}}
	models := []domain.Model{{ProviderName: "openai", Name: "gpt-4o", IsActive: true}}
	failing := &mockAdapter{typ: domain.ProviderOpenAICompatible, err: errors.New("upstream down")}
	r := newTestRouter(t, providers, models, map[domain.ProviderType]provider.Adapter{domain.ProviderOpenAICompatible: failing}, nil)

	m, _ := r.Direct(context.Background(), "openai", "gpt-4o")
	if _, err := r.Invoke(context.Background(), m, domain.NormalizedRequest{Prompt: "hi"}); err == nil {
		t.Fatal("expected adapter error to propagate")
	}
}
