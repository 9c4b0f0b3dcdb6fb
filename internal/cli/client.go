// Package cli provides the HTTP client and output helpers used by the embedserver CLI.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/embedserver/internal/registry"
)

// Client talks to a running embedserver.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient returns a client for baseURL with a sane timeout.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 2 * time.Minute},
	}
}

// EmbedResult is the decoded /embed response.
type EmbedResult struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
	Truncated  int         `json:"truncated"`
}

// Embed posts texts to /embed.
func (c *Client) Embed(ctx context.Context, texts []string, model string) (*EmbedResult, error) {
	body, err := json.Marshal(map[string]interface{}{"texts": texts, "model": model})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	res := &EmbedResult{Model: model}
	if err := json.NewDecoder(resp.Body).Decode(&res.Embeddings); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if v := resp.Header.Get("X-Embed-Truncated"); v != "" {
		res.Truncated, _ = strconv.Atoi(v)
	}
	return res, nil
}

// Health returns nil when /health answers 200.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.get(ctx, "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// Models lists the models served by the server.
func (c *Client) Models(ctx context.Context) ([]registry.Info, error) {
	resp, err := c.get(ctx, "/models")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var out struct {
		Models []registry.Info `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out.Models, nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(b, &e) == nil && e.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
}
