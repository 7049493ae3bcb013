package recorder

import (
	"context"
	"sync"

	"github.com/llmgateway/gateway/internal/domain"
)

// InMemoryStore is an ObservabilityStore for tests and single-process
// deployments with no external observability sink.
type InMemoryStore struct {
	mu      sync.Mutex
	records []domain.InvocationRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Write(ctx context.Context, records []domain.InvocationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return nil
}

func (s *InMemoryStore) All() []domain.InvocationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.InvocationRecord, len(s.records))
	copy(out, s.records)
	return out
}
