package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/llmgateway/gateway/internal/domain"
)

func BenchmarkInMemoryCache_Set(b *testing.B) {
	c := NewInMemoryCache()
	ctx := context.Background()
	key := ModelKey("openai", "gpt-4")
	model := domain.Model{ProviderName: "openai", Name: "gpt-4"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Set(ctx, key, model, 5*time.Minute)
	}
}

func BenchmarkInMemoryCache_Get_Hit(b *testing.B) {
	c := NewInMemoryCache()
	ctx := context.Background()
	key := ModelKey("openai", "gpt-4")
	model := domain.Model{ProviderName: "openai", Name: "gpt-4"}
	c.Set(ctx, key, model, 5*time.Minute)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Get(ctx, key)
	}
}

func BenchmarkInMemoryCache_Get_Miss(b *testing.B) {
	c := NewInMemoryCache()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Get(ctx, "nonexistent-key")
	}
}

func BenchmarkInMemoryCache_Parallel(b *testing.B) {
	c := NewInMemoryCache()
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			key := fmt.Sprintf("openai/gpt-%d", i%100)
			model := domain.Model{ProviderName: "openai", Name: fmt.Sprintf("gpt-%d", i)}

			if i%2 == 0 {
				c.Set(ctx, key, model, 5*time.Minute)
			} else {
				c.Get(ctx, key)
			}
			i++
		}
	})
}

func BenchmarkModelKey(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ModelKey("openai", "gpt-4")
	}
}
