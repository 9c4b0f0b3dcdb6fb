// Package embedding turns text into unit-length vectors: tokenization, encoder
// invocation, masked mean pooling and L2 normalization.
package embedding

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultMaxTokens is the sequence length limit used when a model does not set one.
const DefaultMaxTokens = 512

var (
	// ErrTokenization means the text could not be turned into tokens. It is a client error.
	ErrTokenization = errors.New("tokenization failed")
	// ErrDeviceMismatch means an input was placed on a different device than its encoder.
	ErrDeviceMismatch = errors.New("device mismatch")
	// ErrNoTokens means an input reached pooling without a single real token.
	ErrNoTokens = errors.New("no real tokens to pool")
	// ErrDegenerateEmbedding means the pooled vector has zero (or non-finite) norm.
	ErrDegenerateEmbedding = errors.New("degenerate embedding")
	// ErrShapeMismatch means encoder output does not match its input.
	ErrShapeMismatch = errors.New("shape mismatch")
)

// Device is the compute device an encoder is bound to, e.g. "cpu", "cuda" or "cuda:1".
type Device string

const (
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
	// DeviceAuto is only meaningful in configuration; loaders resolve it to a concrete device.
	DeviceAuto Device = "auto"
)

// ParseDevice validates s and returns its canonical form.
func ParseDevice(s string) (Device, error) {
	d := Device(strings.ToLower(strings.TrimSpace(s)))
	switch {
	case d == "":
		return DeviceAuto, nil
	case d == DeviceCPU, d == DeviceCUDA, d == DeviceAuto:
		return d, nil
	case strings.HasPrefix(string(d), "cuda:"):
		if n, err := strconv.Atoi(strings.TrimPrefix(string(d), "cuda:")); err == nil && n >= 0 {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown device %q (want cpu, cuda, cuda:N or auto)", s)
}

// IsCUDA reports whether d names a CUDA device.
func (d Device) IsCUDA() bool {
	return d == DeviceCUDA || strings.HasPrefix(string(d), "cuda:")
}

// Ordinal returns the CUDA device index; 0 for "cuda" and for non-CUDA devices.
func (d Device) Ordinal() int {
	if n, err := strconv.Atoi(strings.TrimPrefix(string(d), "cuda:")); err == nil {
		return n
	}
	return 0
}

// TokenizedInput is one text in encoder form. All three slices have the same length.
type TokenizedInput struct {
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
	// Truncated is set when the text had more tokens than the model accepts.
	Truncated bool
	// Device is where the input is placed; it must match the encoder's device.
	Device Device
}

// Len returns the sequence length including padding.
func (in *TokenizedInput) Len() int {
	return len(in.InputIDs)
}

// RealTokens returns the number of mask-1 positions.
func (in *TokenizedInput) RealTokens() int {
	n := 0
	for _, m := range in.AttentionMask {
		if m != 0 {
			n++
		}
	}
	return n
}

// Pad extends the input to length n with padID and attention mask 0.
// Inputs already at least n long are left alone.
func (in *TokenizedInput) Pad(n int, padID int64) {
	for len(in.InputIDs) < n {
		in.InputIDs = append(in.InputIDs, padID)
		in.AttentionMask = append(in.AttentionMask, 0)
		in.TokenTypeIDs = append(in.TokenTypeIDs, 0)
	}
}

// HiddenStates is the encoder output for one input: SeqLen rows of Dim values, row-major.
type HiddenStates struct {
	SeqLen int
	Dim    int
	Data   []float32
}

// Row returns the hidden vector at token position i. The slice aliases Data.
func (h *HiddenStates) Row(i int) []float32 {
	return h.Data[i*h.Dim : (i+1)*h.Dim]
}

func (h *HiddenStates) validate() error {
	if h == nil {
		return fmt.Errorf("%w: nil hidden states", ErrShapeMismatch)
	}
	if h.SeqLen < 0 || h.Dim <= 0 || len(h.Data) != h.SeqLen*h.Dim {
		return fmt.Errorf("%w: %d values for %dx%d hidden states", ErrShapeMismatch, len(h.Data), h.SeqLen, h.Dim)
	}
	return nil
}
