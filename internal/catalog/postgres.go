package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
	"github.com/llmgateway/gateway/internal/crypto"
	"github.com/llmgateway/gateway/internal/domain"
)

// PostgresStore loads providers, their models, and their credentials from
// Postgres. Credential secrets are stored encrypted at rest and decrypted
// here before being handed to Snapshot, so the constant-time comparison in
// GetCredentialBySecret always runs against plaintext.
type PostgresStore struct {
	db        *sql.DB
	encryptor *crypto.Encryptor
}

func NewPostgresStore(db *sql.DB, encryptor *crypto.Encryptor) *PostgresStore {
	return &PostgresStore{db: db, encryptor: encryptor}
}

func (s *PostgresStore) ListProviders(ctx context.Context) ([]domain.Provider, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, type, base_url, settings, enabled
		FROM providers
	`)
	if err != nil {
		return nil, fmt.Errorf("query providers: %w", err)
	}
	defer rows.Close()

	providers := make(map[string]*domain.Provider)
	var order []string
	for rows.Next() {
		var p domain.Provider
		var settingsJSON []byte
		if err := rows.Scan(&p.Name, &p.Type, &p.BaseURL, &settingsJSON, &p.IsActive); err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		p.Settings = decodeSettings(settingsJSON)
		providers[p.Name] = &p
		order = append(order, p.Name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	credRows, err := s.db.QueryContext(ctx, `
		SELECT provider_name, id, secret_ciphertext, enabled, allowed_models, allowed_providers
		FROM credentials
	`)
	if err != nil {
		return nil, fmt.Errorf("query credentials: %w", err)
	}
	defer credRows.Close()

	for credRows.Next() {
		var providerName string
		var c domain.Credential
		var ciphertext string
		var allowedModels, allowedProviders pq.StringArray
		if err := credRows.Scan(&providerName, &c.ID, &ciphertext, &c.IsActive, &allowedModels, &allowedProviders); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		if ciphertext != "" && s.encryptor != nil {
			plaintext, err := s.encryptor.Decrypt(ciphertext)
			if err != nil {
				return nil, fmt.Errorf("decrypt credential %s: %w", c.ID, err)
			}
			c.Secret = plaintext
		}
		c.AllowedModels = toSet(allowedModels)
		c.AllowedProviders = toSet(allowedProviders)
		if p, ok := providers[providerName]; ok {
			p.Credentials = append(p.Credentials, c)
		}
	}
	if err := credRows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.Provider, 0, len(order))
	for _, name := range order {
		out = append(out, *providers[name])
	}
	return out, nil
}

func (s *PostgresStore) ListAllModels(ctx context.Context) ([]domain.Model, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider_name, name, remote_identifier, display_name, tags,
		       context_window, input_per_1k, output_per_1k,
		       max_requests, per_seconds, burst_size, enabled
		FROM models
	`)
	if err != nil {
		return nil, fmt.Errorf("query models: %w", err)
	}
	defer rows.Close()

	var models []domain.Model
	for rows.Next() {
		var m domain.Model
		var tags pq.StringArray
		var maxRequests, perSeconds, burstSize sql.NullInt64
		if err := rows.Scan(
			&m.ProviderName, &m.Name, &m.RemoteIdentifier, &m.DisplayName, &tags,
			&m.Config.ContextWindow, &m.Config.InputPer1K, &m.Config.OutputPer1K,
			&maxRequests, &perSeconds, &burstSize, &m.IsActive,
		); err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		m.Tags = toSet(tags)
		if maxRequests.Valid && perSeconds.Valid {
			m.RateLimit = &domain.RateLimitConfig{
				MaxRequests: int(maxRequests.Int64),
				PerSeconds:  int(perSeconds.Int64),
				BurstSize:   int(burstSize.Int64),
			}
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func decodeSettings(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	// Settings are stored as flat JSON; the schema of the catalog service
	// owns this shape. Decoding errors degrade to an empty map rather than
	// failing the whole refresh, since Settings is advisory to adapters.
	m := map[string]any{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{}
	}
	return m
}
