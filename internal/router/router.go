// Package router selects a target model — either named directly by the
// caller or resolved from a tag query — and dispatches the call through
// the rate limiter, a circuit breaker, and the provider adapter. Grounded
// on the teacher's Router/Provider interface shape; the selection
// algorithm itself is spec-driven (see DESIGN.md Open Question (d)).
package router

import (
	"context"
	"sort"

	"github.com/llmgateway/gateway/internal/auth"
	"github.com/llmgateway/gateway/internal/catalog"
	"github.com/llmgateway/gateway/internal/circuitbreaker"
	"github.com/llmgateway/gateway/internal/domain"
	"github.com/llmgateway/gateway/internal/provider"
	"github.com/llmgateway/gateway/internal/ratelimit"
)

// AdapterTable resolves the adapter for a provider, special-casing
// Bedrock: bedrock.Adapter.Type() reports domain.ProviderGenericHTTP (see
// DESIGN.md Open Question (f)), so a flat type->adapter map cannot tell it
// apart from the plain generichttp adapter. Dispatch checks
// Settings["aws_region"] first.
type AdapterTable struct {
	byType  map[domain.ProviderType]provider.Adapter
	bedrock provider.Adapter
}

func NewAdapterTable(byType map[domain.ProviderType]provider.Adapter, bedrock provider.Adapter) *AdapterTable {
	return &AdapterTable{byType: byType, bedrock: bedrock}
}

func (t *AdapterTable) Resolve(p domain.Provider) (provider.Adapter, bool) {
	if p.Type == domain.ProviderGenericHTTP {
		if region, ok := p.Settings["aws_region"].(string); ok && region != "" && t.bedrock != nil {
			return t.bedrock, true
		}
	}
	a, ok := t.byType[p.Type]
	return a, ok
}

type Router struct {
	catalog  *catalog.Accessor
	adapters *AdapterTable
	limiter  ratelimit.Limiter
	breakers *circuitbreaker.Manager
}

func New(cat *catalog.Accessor, adapters *AdapterTable, limiter ratelimit.Limiter, breakers *circuitbreaker.Manager) *Router {
	return &Router{catalog: cat, adapters: adapters, limiter: limiter, breakers: breakers}
}

// Direct resolves a caller-named (provider, model) pair with no
// selection step. The model lookup goes through the catalog's optional
// cache (internal/cache); the provider lookup never does, since it only
// gates existence and is always a cheap map read against the snapshot.
func (r *Router) Direct(ctx context.Context, providerName, modelName string) (domain.Model, error) {
	snap := r.catalog.Current()
	if _, err := snap.GetProvider(providerName); err != nil {
		return domain.Model{}, err
	}
	return r.catalog.GetModelCached(ctx, providerName, modelName)
}

// SelectByTags builds the candidate set per spec.md §4.E steps 1-6 and
// picks the lexicographically smallest (provider_name, model_name) pair.
func (r *Router) SelectByTags(ctx context.Context, query domain.RouteQuery, principal auth.Principal) (domain.Model, error) {
	snap := r.catalog.Current()

	candidates := snap.ListModels(catalog.ListFilter{
		ProviderTypes:   query.ProviderTypes,
		IncludeInactive: query.IncludeInactive,
	})

	var filtered []domain.Model
	for _, m := range candidates {
		if !m.HasAllTags(query.Tags) {
			continue
		}
		if principal.Kind != auth.PrincipalAnonymousLocal && principal.Credential != nil {
			if !principal.Credential.Allows(m.ProviderName, m.Name) {
				continue
			}
		}
		filtered = append(filtered, m)
	}

	if len(filtered) == 0 {
		return domain.Model{}, domain.ErrNoCandidate
	}

	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].ProviderName != filtered[j].ProviderName {
			return filtered[i].ProviderName < filtered[j].ProviderName
		}
		return filtered[i].Name < filtered[j].Name
	})
	return filtered[0], nil
}

// Invoke runs the rate-limit + circuit-breaker + adapter dispatch common
// to every selection mode, once a target model is known.
func (r *Router) Invoke(ctx context.Context, m domain.Model, req domain.NormalizedRequest) (*domain.NormalizedResponse, error) {
	snap := r.catalog.Current()
	p, err := snap.GetProvider(m.ProviderName)
	if err != nil {
		return nil, err
	}

	if m.RateLimit != nil {
		if err := r.limiter.Acquire(ctx, m.Key(), *m.RateLimit, 1); err != nil {
			return nil, err
		}
	}

	breaker := r.breakers.Get(m.ProviderName)
	if err := breaker.Allow(ctx); err != nil {
		return nil, domain.ErrCircuitBreakerOpen
	}

	adapter, ok := r.adapters.Resolve(p)
	if !ok {
		return nil, domain.ErrUnknownProviderType
	}

	resp, err := adapter.Invoke(ctx, p, m, req)
	if err != nil {
		breaker.RecordFailure(ctx)
		return nil, err
	}
	breaker.RecordSuccess(ctx)
	return resp, nil
}

// InvokeStream mirrors Invoke for the streaming path. Circuit-breaker
// outcome is recorded on stream open/error only — per-delta content
// doesn't factor into breaker state.
func (r *Router) InvokeStream(ctx context.Context, m domain.Model, req domain.NormalizedRequest) (<-chan domain.StreamDelta, <-chan error) {
	snap := r.catalog.Current()
	p, err := snap.GetProvider(m.ProviderName)
	if err != nil {
		return closedStreamWithErr(err)
	}

	if m.RateLimit != nil {
		if err := r.limiter.Acquire(ctx, m.Key(), *m.RateLimit, 1); err != nil {
			return closedStreamWithErr(err)
		}
	}

	breaker := r.breakers.Get(m.ProviderName)
	if err := breaker.Allow(ctx); err != nil {
		return closedStreamWithErr(domain.ErrCircuitBreakerOpen)
	}

	adapter, ok := r.adapters.Resolve(p)
	if !ok {
		return closedStreamWithErr(domain.ErrUnknownProviderType)
	}

	deltas, errs := adapter.InvokeStream(ctx, p, m, req)
	out := make(chan error, 1)
	go func() {
		defer close(out)
		err := <-errs
		if err != nil {
			breaker.RecordFailure(ctx)
		} else {
			breaker.RecordSuccess(ctx)
		}
		out <- err
	}()
	return deltas, out
}

func closedStreamWithErr(err error) (<-chan domain.StreamDelta, <-chan error) {
	deltas := make(chan domain.StreamDelta)
	errs := make(chan error, 1)
	close(deltas)
	errs <- err
	close(errs)
	return deltas, errs
}
