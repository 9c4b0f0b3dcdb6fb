package registry

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/embedserver/internal/embedding"
)

// Backend names for Spec.Backend.
const (
	BackendONNX = "onnx"
	BackendMock = "mock"
)

// Spec describes one model to load.
type Spec struct {
	Name    string
	Backend string
	// Local asset paths. When empty, the assets are downloaded from the URLs below
	// into the cache directory.
	ModelPath       string
	TokenizerPath   string
	ModelURL        string
	ModelSHA256     string
	TokenizerURL    string
	TokenizerSHA256 string

	Dimensions     int
	MaxTokens      int
	Prefix         string
	OutputName     string
	Device         embedding.Device
	IntraOpThreads int
}

// DefaultLoader loads ONNX models with HuggingFace tokenizers, or the deterministic
// mock backend when a spec asks for it.
type DefaultLoader struct {
	CacheDir string
	// LibraryPath is the onnxruntime shared library.
	LibraryPath string
	Client      *http.Client
	Logger      *zap.Logger
}

// Load implements Loader.
func (l *DefaultLoader) Load(ctx context.Context, spec Spec) (*Model, error) {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxTokens := spec.MaxTokens
	if maxTokens <= 0 {
		maxTokens = embedding.DefaultMaxTokens
	}

	switch strings.ToLower(spec.Backend) {
	case BackendMock:
		var tok embedding.Tokenizer = &embedding.SimpleTokenizer{}
		if spec.TokenizerPath != "" {
			hf, err := embedding.NewHFTokenizer(spec.TokenizerPath)
			if err != nil {
				return nil, err
			}
			tok = hf
		}
		logger.Warn("Using mock encoder", zap.String("model", spec.Name))
		return &Model{
			Name:       spec.Name,
			Encoder:    embedding.NewMockEncoder(spec.Dimensions, spec.Device),
			Tokenizer:  tok,
			MaxTokens:  maxTokens,
			Dimensions: spec.Dimensions,
			Prefix:     spec.Prefix,
		}, nil

	case "", BackendONNX:
		client := l.Client
		if client == nil {
			client = &http.Client{Timeout: 10 * time.Minute}
		}
		assets, err := EnsureAssets(ctx, client, l.CacheDir, spec)
		if err != nil {
			return nil, err
		}
		tok, err := embedding.NewHFTokenizer(assets.TokenizerPath)
		if err != nil {
			return nil, err
		}
		enc, err := embedding.NewOnnxEncoder(embedding.OnnxConfig{
			ModelPath:      assets.ModelPath,
			Device:         spec.Device,
			OutputName:     spec.OutputName,
			LibraryPath:    l.LibraryPath,
			IntraOpThreads: spec.IntraOpThreads,
			PadID:          tok.PadID(),
		})
		if err != nil {
			return nil, err
		}
		if spec.Device == embedding.DeviceAuto && enc.Device() == embedding.DeviceCPU {
			logger.Info("CUDA unavailable, using CPU", zap.String("model", spec.Name))
		}
		return &Model{
			Name:       spec.Name,
			Encoder:    enc,
			Tokenizer:  tok,
			MaxTokens:  maxTokens,
			Dimensions: spec.Dimensions,
			Prefix:     spec.Prefix,
			Assets:     []string{assets.ModelPath, assets.TokenizerPath},
		}, nil

	default:
		return nil, fmt.Errorf("unknown backend %q", spec.Backend)
	}
}
