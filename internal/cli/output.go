package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/hyperjump/embedserver/internal/registry"
	"github.com/hyperjump/embedserver/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates s.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q; use text or json", s)
}

// WriteEmbeddings writes res to w. JSON output is the raw vector list, the same
// shape the server returns; text output is a per-text summary.
func WriteEmbeddings(w io.Writer, texts []string, res *EmbedResult, format OutputFormat) error {
	if format == OutputJSON {
		return json.NewEncoder(w).Encode(res.Embeddings)
	}
	fmt.Fprintf(w, "model: %s   texts: %d   truncated: %d\n", res.Model, len(res.Embeddings), res.Truncated)
	for i, vec := range res.Embeddings {
		text := ""
		if i < len(texts) {
			text = texts[i]
		}
		fmt.Fprintf(w, "[%d] %q\n", i, utils.Truncate(text, 60))
		fmt.Fprintf(w, "    dims=%d norm=%.4f %s\n", len(vec), norm(vec), preview(vec, 4))
	}
	return nil
}

// WriteModels writes the model list to w.
func WriteModels(w io.Writer, models []registry.Info, format OutputFormat) error {
	if format == OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(models)
	}
	for _, m := range models {
		fmt.Fprintf(w, "%-20s dims=%-5d max_tokens=%-5d device=%s\n", m.Name, m.Dimensions, m.MaxTokens, m.Device)
	}
	return nil
}

func norm(v []float32) float64 {
	var sq float64
	for _, x := range v {
		sq += float64(x) * float64(x)
	}
	return math.Sqrt(sq)
}

func preview(v []float32, n int) string {
	if len(v) < n {
		n = len(v)
	}
	parts := make([]string, 0, n+1)
	for _, x := range v[:n] {
		parts = append(parts, fmt.Sprintf("%.4f", x))
	}
	if len(v) > n {
		parts = append(parts, "...")
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// ReorderArgs moves flags after positional arguments to the front, so
// "embed hello world -model base_v2" parses like "embed -model base_v2 hello world".
// Everything after "--" is positional, even when it starts with a dash.
func ReorderArgs(args []string) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			flags = append(flags, "--")
			positional = append(positional, args[i+1:]...)
			return append(flags, positional...)
		}
		if !strings.HasPrefix(a, "-") || a == "-" {
			positional = append(positional, a)
			continue
		}
		flags = append(flags, a)
		if !strings.Contains(a, "=") && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") && !isBoolFlag(a) {
			flags = append(flags, args[i+1])
			i++
		}
	}
	return append(flags, positional...)
}

func isBoolFlag(a string) bool {
	name := strings.TrimLeft(a, "-")
	return name == "stdin" || name == "debug"
}

// ReadLines splits r into non-empty lines, one text per line.
func ReadLines(r io.Reader) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out, nil
}
