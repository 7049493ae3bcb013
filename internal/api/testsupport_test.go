package api

import (
	"context"
	"testing"
	"time"

	"github.com/llmgateway/gateway/internal/auth"
	"github.com/llmgateway/gateway/internal/catalog"
	"github.com/llmgateway/gateway/internal/circuitbreaker"
	"github.com/llmgateway/gateway/internal/cost"
	"github.com/llmgateway/gateway/internal/domain"
	"github.com/llmgateway/gateway/internal/provider"
	"github.com/llmgateway/gateway/internal/ratelimit"
	"github.com/llmgateway/gateway/internal/recorder"
	"github.com/llmgateway/gateway/internal/router"
)

// stubAdapter is a fixed-response provider.Adapter used in place of a real
// upstream, the way spec.md §8's scenarios describe testing against "a
// stub adapter" rather than a live provider.
type stubAdapter struct {
	providerType domain.ProviderType
	resp         *domain.NormalizedResponse
	err          error
}

func (s *stubAdapter) Type() domain.ProviderType { return s.providerType }

func (s *stubAdapter) Invoke(ctx context.Context, p domain.Provider, m domain.Model, req domain.NormalizedRequest) (*domain.NormalizedResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func (s *stubAdapter) InvokeStream(ctx context.Context, p domain.Provider, m domain.Model, req domain.NormalizedRequest) (<-chan domain.StreamDelta, <-chan error) {
	deltas := make(chan domain.StreamDelta)
	errs := make(chan error, 1)
	close(deltas)
	if s.err != nil {
		errs <- s.err
	} else {
		errs <- provider.ErrStreamingUnsupported
	}
	close(errs)
	return deltas, errs
}

const (
	testProviderName = "openai"
	testModelName    = "gpt-4"
	testCredSecret   = "secret-abc-123"
	testCredID       = "cred-1"
)

func testCatalogStore() *catalog.MapStore {
	return &catalog.MapStore{
		Providers: []domain.Provider{
			{
				Name:     testProviderName,
				Type:     domain.ProviderOpenAICompatible,
				BaseURL:  "https://api.example.test/v1",
				IsActive: true,
				Credentials: []domain.Credential{
					{ID: testCredID, Secret: testCredSecret, IsActive: true},
				},
			},
		},
		Models: []domain.Model{
			{
				ProviderName: testProviderName,
				Name:         testModelName,
				IsActive:     true,
				Config: domain.ModelConfig{
					InputPer1K:  0.01,
					OutputPer1K: 0.03,
				},
			},
		},
	}
}

// testCatalogStoreWithRestrictedCredential mirrors testCatalogStore but adds
// a second (provider, model) pair and a credential whose allow-list only
// covers it, for tests that bind against a model the session's credential
// does not permit.
const (
	testOtherModelName   = "gpt-3.5"
	testRestrictedSecret = "secret-restricted-456"
	testRestrictedCredID = "cred-2"
)

func testCatalogStoreWithRestrictedCredential() *catalog.MapStore {
	store := testCatalogStore()
	store.Providers[0].Credentials = append(store.Providers[0].Credentials, domain.Credential{
		ID:            testRestrictedCredID,
		Secret:        testRestrictedSecret,
		IsActive:      true,
		AllowedModels: map[string]struct{}{testProviderName + "/" + testOtherModelName: {}},
	})
	store.Models = append(store.Models, domain.Model{
		ProviderName: testProviderName,
		Name:         testOtherModelName,
		IsActive:     true,
	})
	return store
}

// testHandlerDeps bundles the collaborators a test case might need to
// reach into directly (the invocation store, the session store) beyond
// just issuing requests against h.
type testHandlerDeps struct {
	handler  *Handler
	store    *recorder.InMemoryStore
	sessions *auth.SessionStore
	catalog  *catalog.Accessor
	adapter  *stubAdapter
}

func newTestHandlerDeps(t *testing.T, adapter *stubAdapter) *testHandlerDeps {
	t.Helper()
	return newTestHandlerDepsWithStore(t, adapter, testCatalogStore())
}

func newTestHandlerDepsWithStore(t *testing.T, adapter *stubAdapter, store *catalog.MapStore) *testHandlerDeps {
	t.Helper()
	ctx := context.Background()

	cat, err := catalog.NewAccessor(ctx, store)
	if err != nil {
		t.Fatalf("catalog.NewAccessor: %v", err)
	}

	sessions := auth.NewSessionStore(time.Minute)
	t.Cleanup(sessions.Close)

	authn := auth.NewAuthenticator(cat, sessions)
	authz := auth.NewAuthorizer()

	adapters := router.NewAdapterTable(map[domain.ProviderType]provider.Adapter{
		domain.ProviderOpenAICompatible: adapter,
	}, nil)
	limiter := ratelimit.NewInMemoryLimiter()
	breakers := circuitbreaker.NewManager(circuitbreaker.DefaultConfig())
	rt := router.New(cat, adapters, limiter, breakers)

	invocations := recorder.NewInMemoryStore()
	rec := recorder.New(invocations, recorder.Options{FlushInterval: 10 * time.Millisecond})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		rec.Close(ctx)
	})

	h := NewHandler(HandlerConfig{
		Router:        rt,
		Authenticator: authn,
		Authorizer:    authz,
		Sessions:      sessions,
		Recorder:      rec,
		Cost:          cost.NewCalculator(),
	})

	return &testHandlerDeps{handler: h, store: invocations, sessions: sessions, catalog: cat, adapter: adapter}
}

func intPtr(i int) *int { return &i }
