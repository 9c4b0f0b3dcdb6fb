package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/hyperjump/embedserver/internal/cache"
	"github.com/hyperjump/embedserver/internal/embedding"
	"github.com/hyperjump/embedserver/internal/registry"
)

func benchPipeline(b *testing.B, c cache.Cache) *Pipeline {
	b.Helper()
	m := &registry.Model{
		Name:       "base_v2",
		Encoder:    embedding.NewMockEncoder(384, embedding.DeviceCPU),
		Tokenizer:  &embedding.SimpleTokenizer{},
		MaxTokens:  512,
		Dimensions: 384,
	}
	reg, err := registry.New(m)
	if err != nil {
		b.Fatal(err)
	}
	return New(reg, c, nil, nil)
}

func BenchmarkEmbedBatch(b *testing.B) {
	p := benchPipeline(b, nil)
	texts := []string{
		"benchmark query text for embedding",
		strings.Repeat("a longer passage with many words ", 20),
		"goodbye",
	}
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.EmbedBatch(ctx, texts, "base_v2"); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkEmbedBatch_MemoryCacheHit(b *testing.B) {
	p := benchPipeline(b, cache.NewMemory(100))
	ctx := context.Background()
	texts := []string{"benchmark query text for embedding"}
	_, _ = p.EmbedBatch(ctx, texts, "base_v2")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = p.EmbedBatch(ctx, texts, "base_v2")
	}
}
