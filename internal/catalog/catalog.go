// Package catalog provides a read-through, copy-on-read view of providers,
// models, and credentials. The underlying Store is an external
// collaborator (configuration sync, management CRUD, and the browser UI
// all write through it); the core only ever reads.
package catalog

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/llmgateway/gateway/internal/cache"
	"github.com/llmgateway/gateway/internal/domain"
)

// modelLookupCacheTTL bounds how stale a cached Direct lookup may be
// relative to the next Refresh; short enough that a model flipped
// inactive or removed from the catalog is noticed within one cycle.
const modelLookupCacheTTL = 10 * time.Second

// Store is the external collaborator interface. Implementations: MapStore
// (tests, single-process deployments with no external catalog service) and
// PostgresStore (production, backed by lib/pq).
type Store interface {
	ListProviders(ctx context.Context) ([]domain.Provider, error)
}

// Snapshot is an immutable point-in-time view of the catalog. Callers must
// not assume a snapshot stays fresh across suspension points; Accessor
// hands out a new Snapshot on every Refresh without mutating old ones.
type Snapshot struct {
	providers map[string]domain.Provider
	models    map[string]domain.Model // key: provider/model
}

func newSnapshot(ctx context.Context, providers []domain.Provider, secrets SecretResolver) *Snapshot {
	s := &Snapshot{
		providers: make(map[string]domain.Provider, len(providers)),
		models:    make(map[string]domain.Model),
	}
	for _, p := range providers {
		resolveEnvCredentials(&p)
		resolveSecretsManagerCredentials(ctx, &p, secrets)
		s.providers[p.Name] = p
	}
	return s
}

// SecretResolver looks up a named secret in an external secret store.
// internal/secrets.AWSSecretsManager implements this. A nil resolver
// leaves "*_secretsmanager" indirected credentials unresolved: unlike a
// missing "*_env" variable, they keep their active flag with an empty
// secret.
type SecretResolver interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// resolveEnvCredentials resolves "*_env" indirected secrets at read time.
// A missing environment variable yields a disabled credential, never an
// error — per spec.md §4.A.
func resolveEnvCredentials(p *domain.Provider) {
	for i := range p.Credentials {
		c := &p.Credentials[i]
		if c.Secret != "" {
			continue
		}
		envKey, _ := p.Settings[credentialEnvSettingsKey(c.ID)].(string)
		if envKey == "" {
			continue
		}
		val, ok := os.LookupEnv(envKey)
		if !ok || val == "" {
			c.IsActive = false
			continue
		}
		c.Secret = val
	}
}

func credentialEnvSettingsKey(credentialID string) string {
	return "credential_env:" + credentialID
}

// resolveSecretsManagerCredentials resolves "*_secretsmanager" indirected
// secrets against resolver, the AWS Secrets Manager counterpart to
// resolveEnvCredentials. Skipped entirely when resolver is nil (Secrets
// Manager is an optional, opt-in backend — see internal/config's
// UseSecretsManager).
func resolveSecretsManagerCredentials(ctx context.Context, p *domain.Provider, resolver SecretResolver) {
	if resolver == nil {
		return
	}
	for i := range p.Credentials {
		c := &p.Credentials[i]
		if c.Secret != "" {
			continue
		}
		secretName, _ := p.Settings[credentialSecretsManagerSettingsKey(c.ID)].(string)
		if secretName == "" {
			continue
		}
		val, err := resolver.GetSecret(ctx, secretName)
		if err != nil || val == "" {
			c.IsActive = false
			continue
		}
		c.Secret = val
	}
}

func credentialSecretsManagerSettingsKey(credentialID string) string {
	return "credential_secretsmanager:" + credentialID
}

// WithModels lets a model-aware store (or test) attach models to a
// snapshot explicitly, bypassing the Provider-only Store interface.
func (s *Snapshot) WithModels(models []domain.Model) *Snapshot {
	next := &Snapshot{providers: s.providers, models: make(map[string]domain.Model, len(models))}
	for _, m := range models {
		next.models[m.Key()] = m
	}
	return next
}

// GetProvider returns the named provider, or ErrProviderNotFound.
func (s *Snapshot) GetProvider(name string) (domain.Provider, error) {
	p, ok := s.providers[name]
	if !ok {
		return domain.Provider{}, domain.ErrProviderNotFound
	}
	return p, nil
}

// GetModel returns the named model, or ErrModelNotFound.
func (s *Snapshot) GetModel(providerName, modelName string) (domain.Model, error) {
	m, ok := s.models[providerName+"/"+modelName]
	if !ok {
		return domain.Model{}, domain.ErrModelNotFound
	}
	return m, nil
}

// ListFilter narrows ListModels; zero-value matches everything.
type ListFilter struct {
	ProviderTypes   []domain.ProviderType
	IncludeInactive bool
}

// ListModels returns every model matching filter.
func (s *Snapshot) ListModels(filter ListFilter) []domain.Model {
	allowedTypes := make(map[domain.ProviderType]bool, len(filter.ProviderTypes))
	for _, t := range filter.ProviderTypes {
		allowedTypes[t] = true
	}
	var out []domain.Model
	for _, m := range s.models {
		if !filter.IncludeInactive && !m.IsActive {
			continue
		}
		provider, ok := s.providers[m.ProviderName]
		if !ok || (!filter.IncludeInactive && !provider.IsActive) {
			continue
		}
		if len(allowedTypes) > 0 && !allowedTypes[provider.Type] {
			continue
		}
		out = append(out, m)
	}
	return out
}

// GetCredentialByID scans every provider's credentials for id.
func (s *Snapshot) GetCredentialByID(id string) (domain.Credential, error) {
	for _, p := range s.providers {
		for _, c := range p.Credentials {
			if c.ID == id {
				return c, nil
			}
		}
	}
	return domain.Credential{}, domain.ErrCredentialNotFound
}

// GetCredentialBySecret performs a constant-time comparison of secret
// against every active credential's stored value — see DESIGN.md Open
// Question (c) for why this is not a hash-lookup shortcut.
func (s *Snapshot) GetCredentialBySecret(secret string) (domain.Credential, error) {
	var found domain.Credential
	var ok bool
	for _, p := range s.providers {
		for _, c := range p.Credentials {
			if !c.IsActive {
				continue
			}
			if constantTimeEqual(c.Secret, secret) {
				found, ok = c, true
			}
		}
	}
	if !ok {
		return domain.Credential{}, domain.ErrCredentialNotFound
	}
	return found, nil
}

// Accessor is the top-level entry point used by the rest of the core. It
// swaps its Snapshot pointer atomically so readers always see a consistent
// view without holding a lock across I/O.
type Accessor struct {
	store   Store
	secrets SecretResolver
	cache   cache.Cache
	snap    atomic.Pointer[Snapshot]
}

// AccessorOption configures optional Accessor collaborators.
type AccessorOption func(*Accessor)

// WithSecretResolver enables "*_secretsmanager" indirected credential
// secrets, resolved against resolver on every Refresh.
func WithSecretResolver(resolver SecretResolver) AccessorOption {
	return func(a *Accessor) { a.secrets = resolver }
}

// WithCache memoizes GetModelCached lookups against backend, so a
// horizontally-scaled deployment sharing a Redis cache.Cache doesn't
// re-walk the snapshot map on every direct invoke. Optional; a nil
// Accessor.cache (the default) just always falls through to the snapshot.
func WithCache(backend cache.Cache) AccessorOption {
	return func(a *Accessor) { a.cache = backend }
}

// NewAccessor builds an Accessor and performs an initial Refresh.
func NewAccessor(ctx context.Context, store Store, opts ...AccessorOption) (*Accessor, error) {
	a := &Accessor{store: store}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.Refresh(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// Refresh reloads from the underlying store and swaps the snapshot.
// Snapshots already handed out remain valid (copy-on-read).
func (a *Accessor) Refresh(ctx context.Context) error {
	providers, err := a.store.ListProviders(ctx)
	if err != nil {
		return domain.ErrStoreUnavailable
	}
	next := newSnapshot(ctx, providers, a.secrets)
	var models []domain.Model
	if ms, ok := a.store.(ModelStore); ok {
		models, err = ms.ListAllModels(ctx)
		if err != nil {
			return domain.ErrStoreUnavailable
		}
	}
	a.snap.Store(next.WithModels(models))
	return nil
}

// Current returns the current snapshot. Safe to call concurrently with
// Refresh.
func (a *Accessor) Current() *Snapshot {
	return a.snap.Load()
}

// ModelStore is implemented by stores that also serve models directly
// (as opposed to embedding them under each Provider).
type ModelStore interface {
	ListAllModels(ctx context.Context) ([]domain.Model, error)
}

// ActiveCredentials and CredentialByID satisfy internal/auth's
// CredentialSource interface against the current snapshot, so the
// Accessor can be handed directly to auth.NewAuthenticator.

func (a *Accessor) ActiveCredentials(ctx context.Context) ([]domain.Credential, error) {
	snap := a.Current()
	var out []domain.Credential
	for _, p := range snap.providers {
		for _, c := range p.Credentials {
			if c.IsActive {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

func (a *Accessor) CredentialByID(ctx context.Context, id string) (domain.Credential, bool) {
	cred, err := a.Current().GetCredentialByID(id)
	if err != nil {
		return domain.Credential{}, false
	}
	return cred, true
}

// GetModelCached resolves (providerName, modelName) through the configured
// cache.Cache before falling back to the current snapshot, per
// internal/cache's model-lookup memoization. With no cache configured
// this is equivalent to Current().GetModel.
func (a *Accessor) GetModelCached(ctx context.Context, providerName, modelName string) (domain.Model, error) {
	key := cache.ModelKey(providerName, modelName)
	if a.cache != nil {
		if m, ok := a.cache.Get(ctx, key); ok {
			return m, nil
		}
	}
	m, err := a.Current().GetModel(providerName, modelName)
	if err != nil {
		return domain.Model{}, err
	}
	if a.cache != nil {
		a.cache.Set(ctx, key, m, modelLookupCacheTTL)
	}
	return m, nil
}
