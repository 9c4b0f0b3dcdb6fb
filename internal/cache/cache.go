// Package cache stores computed embeddings keyed by model and input text.
//
// Every backend is best-effort from the caller's point of view: the pipeline logs
// cache errors and carries on computing.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"
)

// Cache is an embedding store. Get returns (nil, false, nil) on a miss.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, value []float32) error
	Close() error
}

// Backend names accepted in configuration.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Config selects and configures a backend.
type Config struct {
	Backend string
	// Capacity bounds the memory backend (entries).
	Capacity int
	// RedisURL is a redis:// URL for the redis backend.
	RedisURL string
	// TTLSeconds expires redis entries; 0 keeps them forever.
	TTLSeconds int
	// Path is the database file for the sqlite backend.
	Path string
}

// New builds the configured backend. A "none" or empty backend returns Noop.
func New(cfg Config, logger *zap.Logger) (Cache, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendNone:
		return Noop{}, nil
	case BackendMemory:
		return NewMemory(cfg.Capacity), nil
	case BackendRedis:
		return NewRedis(cfg.RedisURL, cfg.TTLSeconds, logger)
	case BackendSQLite:
		c, err := NewSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		if n, err := c.Count(context.Background()); err == nil && logger != nil {
			logger.Info("Opened SQLite embedding cache", zap.String("path", cfg.Path), zap.Int("entries", n))
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// Key returns the cache key for text embedded by model. text is the exact string fed
// to the tokenizer, after any model prefix.
func Key(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return model + ":" + hex.EncodeToString(sum[:])
}

// Noop never hits and never stores.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]float32, bool, error) { return nil, false, nil }
func (Noop) Set(context.Context, string, []float32) error         { return nil }
func (Noop) Close() error                                         { return nil }

// encodeVector serializes v as little-endian float32 bits so cached vectors come
// back bit-identical.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("corrupt cached vector: %d bytes", len(buf))
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v, nil
}
