package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const (
	modelFileName     = "model.onnx"
	tokenizerFileName = "tokenizer.json"
	modelsDirName     = "models"

	// maxAssetBytes caps a single download.
	maxAssetBytes = 4 << 30
)

// Assets holds resolved local paths for model artifacts.
type Assets struct {
	Dir           string
	ModelPath     string
	TokenizerPath string
}

// ModelDir returns the directory holding downloaded assets for a model.
func ModelDir(cacheDir, name string) string {
	return filepath.Join(cacheDir, modelsDirName, name)
}

// EnsureAssets returns local paths for spec's model and tokenizer, downloading
// whatever is missing into the cache dir. Checksums are verified when given.
func EnsureAssets(ctx context.Context, client *http.Client, cacheDir string, spec Spec) (Assets, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return Assets{}, fmt.Errorf("model name is required")
	}
	dir := ModelDir(cacheDir, spec.Name)
	assets := Assets{
		Dir:           dir,
		ModelPath:     spec.ModelPath,
		TokenizerPath: spec.TokenizerPath,
	}
	if assets.ModelPath == "" {
		assets.ModelPath = filepath.Join(dir, modelFileName)
	}
	if assets.TokenizerPath == "" {
		assets.TokenizerPath = filepath.Join(dir, tokenizerFileName)
	}

	if err := ensureFile(ctx, client, assets.ModelPath, spec.ModelURL, spec.ModelSHA256); err != nil {
		return Assets{}, fmt.Errorf("model asset: %w", err)
	}
	if err := ensureFile(ctx, client, assets.TokenizerPath, spec.TokenizerURL, spec.TokenizerSHA256); err != nil {
		return Assets{}, fmt.Errorf("tokenizer asset: %w", err)
	}
	return assets, nil
}

func ensureFile(ctx context.Context, client *http.Client, path, rawURL, expectedSHA string) error {
	ok, err := fileMatchesSHA256(path, expectedSHA)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if strings.TrimSpace(rawURL) == "" {
		if _, statErr := os.Stat(path); statErr == nil {
			return fmt.Errorf("checksum mismatch for %s", filepath.Base(path))
		}
		return fmt.Errorf("%s not found and no download url configured", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create model dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	err = downloadToFile(ctx, client, rawURL, tmp, maxAssetBytes)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to download %s: %w", redactURL(rawURL), err)
	}

	if expectedSHA != "" {
		ok, err := fileMatchesSHA256(tmpPath, expectedSHA)
		if err != nil {
			_ = os.Remove(tmpPath)
			return err
		}
		if !ok {
			_ = os.Remove(tmpPath)
			return fmt.Errorf("checksum mismatch for %s", filepath.Base(path))
		}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize download: %w", err)
	}
	return nil
}

func downloadToFile(ctx context.Context, client *http.Client, rawURL string, out io.Writer, maxBytes int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("invalid download url")
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", unwrapURLError(err))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if resp.ContentLength > maxBytes {
		return fmt.Errorf("asset is %d bytes, limit %d", resp.ContentLength, maxBytes)
	}

	n, err := io.Copy(out, io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return err
	}
	if n > maxBytes {
		return fmt.Errorf("asset exceeds %d bytes", maxBytes)
	}
	return nil
}

// fileMatchesSHA256 reports whether path exists and matches expected. An empty
// expected checksum accepts any existing file.
func fileMatchesSHA256(path, expected string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("%s is a directory", path)
	}
	if strings.TrimSpace(expected) == "" {
		return true, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return false, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	sum := hex.EncodeToString(hash.Sum(nil))
	return strings.EqualFold(sum, strings.TrimSpace(expected)), nil
}

// redactURL drops credentials and the query string, which often carry access tokens.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

func unwrapURLError(err error) error {
	if ue, ok := err.(*url.Error); ok {
		return ue.Err
	}
	return err
}
