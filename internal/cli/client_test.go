package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/hyperjump/embedserver/internal/registry"
)

func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/health":
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		case "/models":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"models": []registry.Info{{Name: "base_v2", Dimensions: 2, MaxTokens: 512, Device: "cpu"}},
			})
		case "/embed":
			var req struct {
				Texts []string `json:"texts"`
				Model string   `json:"model"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.Model != "base_v2" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"unknown model: \"` + req.Model + `\""}`))
				return
			}
			out := make([][]float32, len(req.Texts))
			for i := range out {
				out[i] = []float32{0.6, 0.8}
			}
			w.Header().Set("X-Embed-Truncated", "1")
			_ = json.NewEncoder(w).Encode(out)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Embed(t *testing.T) {
	c := NewClient(fakeServer(t).URL + "/")
	res, err := c.Embed(context.Background(), []string{"a", "b"}, "base_v2")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Embeddings) != 2 || res.Truncated != 1 || res.Model != "base_v2" {
		t.Errorf("res=%+v", res)
	}

	_, err = c.Embed(context.Background(), []string{"a"}, "nope")
	if err == nil || !strings.Contains(err.Error(), "400") || !strings.Contains(err.Error(), "unknown model") {
		t.Errorf("err=%v", err)
	}
}

func TestClient_HealthAndModels(t *testing.T) {
	c := NewClient(fakeServer(t).URL)
	if err := c.Health(context.Background()); err != nil {
		t.Fatal(err)
	}
	models, err := c.Models(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 1 || models[0].Name != "base_v2" {
		t.Errorf("models=%+v", models)
	}

	down := NewClient("http://127.0.0.1:1")
	if err := down.Health(context.Background()); err == nil {
		t.Error("expected error for unreachable server")
	}
}

func TestWriteEmbeddings(t *testing.T) {
	res := &EmbedResult{Model: "base_v2", Embeddings: [][]float32{{0.6, 0.8}}}
	var buf bytes.Buffer
	if err := WriteEmbeddings(&buf, []string{"hello"}, res, OutputJSON); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "[[0.6,0.8]]" {
		t.Errorf("json output: %s", buf.String())
	}

	buf.Reset()
	_ = WriteEmbeddings(&buf, []string{"hello"}, res, OutputText)
	out := buf.String()
	if !strings.Contains(out, `"hello"`) || !strings.Contains(out, "dims=2 norm=1.0000") {
		t.Errorf("text output: %s", out)
	}
}

func TestWriteModels(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteModels(&buf, []registry.Info{{Name: "base_v2", Dimensions: 768, MaxTokens: 512, Device: "cuda"}}, OutputText)
	if !strings.Contains(buf.String(), "dims=768") || !strings.Contains(buf.String(), "device=cuda") {
		t.Errorf("output: %s", buf.String())
	}
}

func TestParseOutputFormat(t *testing.T) {
	if f, err := ParseOutputFormat("JSON"); err != nil || f != OutputJSON {
		t.Errorf("got %q, %v", f, err)
	}
	if f, err := ParseOutputFormat(""); err != nil || f != OutputText {
		t.Errorf("got %q, %v", f, err)
	}
	if _, err := ParseOutputFormat("yaml"); err == nil {
		t.Error("expected error")
	}
}

func TestReorderArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after texts are moved first",
			args:     []string{"hello world", "-model", "base_v2"},
			expected: []string{"-model", "base_v2", "hello world"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-model", "base_v2", "hello"},
			expected: []string{"-model", "base_v2", "hello"},
		},
		{
			name:     "equals form and bool flag",
			args:     []string{"a", "-output=json", "-stdin", "b"},
			expected: []string{"-output=json", "-stdin", "a", "b"},
		},
		{
			name:     "double dash ends flags",
			args:     []string{"hello", "-model", "base_v2", "--", "-5 degrees", "-output"},
			expected: []string{"-model", "base_v2", "--", "hello", "-5 degrees", "-output"},
		},
		{
			name:     "texts only",
			args:     []string{"one", "two"},
			expected: []string{"one", "two"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ReorderArgs(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("ReorderArgs() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestReadLines(t *testing.T) {
	lines, err := ReadLines(strings.NewReader("first\r\n\n  \nsecond line\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(lines, []string{"first", "second line"}) {
		t.Errorf("lines=%q", lines)
	}
}
