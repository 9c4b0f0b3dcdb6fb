// Package registry holds the encoder/tokenizer pairs the service can embed with.
//
// A Registry is built once at startup and is read-only afterwards, so lookups take
// no locks. Models are never reloaded or evicted.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/embedserver/internal/embedding"
)

// ErrUnknownModel is returned by Resolve for names that were never registered.
var ErrUnknownModel = errors.New("unknown model")

const probeText = "hello world"

// Model pairs an encoder with the tokenizer it was trained with.
type Model struct {
	Name      string
	Encoder   embedding.Encoder
	Tokenizer embedding.Tokenizer
	// MaxTokens is the longest sequence the encoder accepts.
	MaxTokens int
	// Dimensions is the embedding length, verified by a probe at load time.
	Dimensions int
	// Prefix is prepended to every text before tokenization (e.g. "query: " for E5 models).
	Prefix string
	// Assets lists the files backing the model, used for size reporting.
	Assets []string
}

// Input returns the exact string the tokenizer sees for text.
func (m *Model) Input(text string) string {
	return m.Prefix + text
}

// Info is the public description of a registered model.
type Info struct {
	Name       string `json:"name"`
	Dimensions int    `json:"dimensions"`
	MaxTokens  int    `json:"max_tokens"`
	Device     string `json:"device"`
	Prefix     string `json:"prefix,omitempty"`
	SizeBytes  int64  `json:"size_bytes,omitempty"`
}

// Info describes m.
func (m *Model) Info() Info {
	info := Info{
		Name:       m.Name,
		Dimensions: m.Dimensions,
		MaxTokens:  m.MaxTokens,
		Prefix:     m.Prefix,
	}
	if m.Encoder != nil {
		info.Device = string(m.Encoder.Device())
	}
	if n, err := DiskUsageBytes(m.Assets...); err == nil {
		info.SizeBytes = n
	}
	return info
}

// Registry maps model names to loaded models.
type Registry struct {
	models map[string]*Model
	names  []string
}

// New builds a registry from already loaded models. Names must be unique and every
// model needs an encoder and a tokenizer.
func New(models ...*Model) (*Registry, error) {
	r := &Registry{models: make(map[string]*Model, len(models))}
	for _, m := range models {
		if m == nil || m.Name == "" {
			return nil, fmt.Errorf("model name is required")
		}
		if m.Encoder == nil || m.Tokenizer == nil {
			return nil, fmt.Errorf("model %s: encoder and tokenizer are required", m.Name)
		}
		if _, dup := r.models[m.Name]; dup {
			return nil, fmt.Errorf("duplicate model name %q", m.Name)
		}
		if m.MaxTokens <= 0 {
			m.MaxTokens = embedding.DefaultMaxTokens
		}
		r.models[m.Name] = m
		r.names = append(r.names, m.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Resolve returns the model registered under name.
func (r *Registry) Resolve(name string) (*Model, error) {
	m, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	return m, nil
}

// Names returns the registered model names in sorted order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Infos describes every registered model in name order.
func (r *Registry) Infos() []Info {
	infos := make([]Info, 0, len(r.names))
	for _, name := range r.names {
		infos = append(infos, r.models[name].Info())
	}
	return infos
}

// Close releases every encoder. It returns the first error encountered.
func (r *Registry) Close() error {
	var first error
	for _, name := range r.names {
		if err := r.models[name].Encoder.Close(); err != nil && first == nil {
			first = fmt.Errorf("close %s: %w", name, err)
		}
	}
	return first
}

// Loader turns a Spec into a ready Model.
type Loader interface {
	Load(ctx context.Context, spec Spec) (*Model, error)
}

// Load loads every spec eagerly and probes each model once. The first failure
// closes whatever was already loaded and is returned; a registry is never
// partially populated.
func Load(ctx context.Context, specs []Spec, loader Loader, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("no models configured")
	}

	loaded := make([]*Model, 0, len(specs))
	fail := func(err error) (*Registry, error) {
		for _, m := range loaded {
			_ = m.Encoder.Close()
		}
		return nil, err
	}

	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if seen[spec.Name] {
			return fail(fmt.Errorf("duplicate model name %q", spec.Name))
		}
		seen[spec.Name] = true

		start := time.Now()
		m, err := loader.Load(ctx, spec)
		if err != nil {
			return fail(fmt.Errorf("load model %s: %w", spec.Name, err))
		}
		loaded = append(loaded, m)

		if err := Probe(ctx, m, spec.Dimensions); err != nil {
			return fail(fmt.Errorf("probe model %s: %w", spec.Name, err))
		}
		logger.Info("Model loaded",
			zap.String("model", m.Name),
			zap.String("device", string(m.Encoder.Device())),
			zap.Int("dimensions", m.Dimensions),
			zap.Int("max_tokens", m.MaxTokens),
			zap.Duration("took", time.Since(start)))
	}

	reg, err := New(loaded...)
	if err != nil {
		return fail(err)
	}
	return reg, nil
}

// Probe embeds a short text through m and records the output dimension. When want
// is positive the discovered dimension must match it.
func Probe(ctx context.Context, m *Model, want int) error {
	in, err := embedding.Tokenize(m.Tokenizer, m.Input(probeText), m.MaxTokens)
	if err != nil {
		return err
	}
	vec, err := embedding.Embed(ctx, m.Encoder, in)
	if err != nil {
		return err
	}
	if want > 0 && len(vec) != want {
		return fmt.Errorf("%w: model produces %d dimensions, configured %d", embedding.ErrShapeMismatch, len(vec), want)
	}
	m.Dimensions = len(vec)
	return nil
}
