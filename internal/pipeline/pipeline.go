// Package pipeline turns a batch of texts into embeddings for one named model.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/embedserver/internal/cache"
	"github.com/hyperjump/embedserver/internal/embedding"
	"github.com/hyperjump/embedserver/internal/metrics"
	"github.com/hyperjump/embedserver/internal/registry"
	"github.com/hyperjump/embedserver/pkg/utils"
)

// ErrEmptyBatch is returned when no texts are given.
var ErrEmptyBatch = errors.New("texts must not be empty")

// BatchResult holds one embedding per input text, in input order.
type BatchResult struct {
	Model      string
	Embeddings [][]float32
	// Truncated counts texts that exceeded the model's max tokens.
	Truncated int
	CacheHits int
	Took      time.Duration
}

// Pipeline embeds texts with models from a registry. It holds no mutable state of
// its own and is safe for concurrent use.
type Pipeline struct {
	registry *registry.Registry
	cache    cache.Cache
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// New creates a pipeline. c and m may be nil.
func New(reg *registry.Registry, c cache.Cache, m *metrics.Metrics, logger *zap.Logger) *Pipeline {
	if c == nil {
		c = cache.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		registry: reg,
		cache:    c,
		metrics:  m,
		logger:   logger.With(zap.String("component", "pipeline")),
	}
}

// EmbedBatch embeds every text with the named model. Embeddings[i] belongs to
// texts[i]. The batch fails as a whole if any text fails.
func (p *Pipeline) EmbedBatch(ctx context.Context, texts []string, model string) (*BatchResult, error) {
	start := time.Now()
	if len(texts) == 0 {
		return nil, ErrEmptyBatch
	}
	m, err := p.registry.Resolve(model)
	if err != nil {
		return nil, err
	}

	res := &BatchResult{Model: m.Name, Embeddings: make([][]float32, len(texts))}
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, truncated, hit, err := p.embedOne(ctx, m, text)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		res.Embeddings[i] = vec
		if truncated {
			res.Truncated++
			p.logger.Debug("Text truncated",
				zap.String("model", m.Name),
				zap.Int("index", i),
				zap.Int("max_tokens", m.MaxTokens),
				zap.String("text", utils.Truncate(text, 80)))
		}
		if hit {
			res.CacheHits++
		}
	}
	res.Took = time.Since(start)

	p.metrics.ObserveBatch(m.Name, len(texts), res.Truncated, res.CacheHits)
	p.logger.Info("Completed embedding",
		zap.String("model", m.Name),
		zap.Int("texts", len(texts)),
		zap.Int("truncated", res.Truncated),
		zap.Int("cache_hits", res.CacheHits),
		zap.Duration("took", res.Took))
	return res, nil
}

// Embed embeds a single text.
func (p *Pipeline) Embed(ctx context.Context, text, model string) ([]float32, error) {
	res, err := p.EmbedBatch(ctx, []string{text}, model)
	if err != nil {
		return nil, err
	}
	return res.Embeddings[0], nil
}

// embedOne tokenizes first so truncation is reported for cached texts too.
func (p *Pipeline) embedOne(ctx context.Context, m *registry.Model, text string) ([]float32, bool, bool, error) {
	input := m.Input(text)
	in, err := embedding.Tokenize(m.Tokenizer, input, m.MaxTokens)
	if err != nil {
		return nil, false, false, err
	}

	key := cache.Key(m.Name, input)
	if vec, ok, err := p.cache.Get(ctx, key); err != nil {
		p.logger.Warn("Cache lookup failed", zap.String("model", m.Name), zap.Error(err))
	} else if ok && len(vec) == m.Dimensions {
		return vec, in.Truncated, true, nil
	}

	start := time.Now()
	vec, err := embedding.Embed(ctx, m.Encoder, in)
	if err != nil {
		return nil, false, false, err
	}
	p.metrics.ObserveEncode(m.Name, time.Since(start))

	if err := p.cache.Set(ctx, key, vec); err != nil {
		p.logger.Warn("Cache store failed", zap.String("model", m.Name), zap.Error(err))
	}
	return vec, in.Truncated, false, nil
}

// Models describes the models the pipeline can serve.
func (p *Pipeline) Models() []registry.Info {
	return p.registry.Infos()
}
