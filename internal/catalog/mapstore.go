package catalog

import (
	"context"

	"github.com/llmgateway/gateway/internal/domain"
)

// MapStore is a fixed in-memory Store, useful for tests and for
// deployments with no external catalog service.
type MapStore struct {
	Providers []domain.Provider
	Models    []domain.Model
}

func (s *MapStore) ListProviders(ctx context.Context) ([]domain.Provider, error) {
	return s.Providers, nil
}

func (s *MapStore) ListAllModels(ctx context.Context) ([]domain.Model, error) {
	return s.Models, nil
}
