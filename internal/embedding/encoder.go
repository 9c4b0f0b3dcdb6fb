package embedding

import (
	"context"
	"fmt"
	"math"
)

// Encoder runs a pre-trained model over one tokenized input and returns its
// per-token hidden states. Implementations are read-only after construction and
// safe for concurrent use.
type Encoder interface {
	Encode(ctx context.Context, in *TokenizedInput) (*HiddenStates, error)
	// Device is the device the encoder was bound to at load time.
	Device() Device
	Close() error
}

// CheckDevice fails fast when in was not placed on the encoder's device.
func CheckDevice(in *TokenizedInput, device Device) error {
	if in.Device != device {
		return fmt.Errorf("%w: input on %q, encoder on %q", ErrDeviceMismatch, in.Device, device)
	}
	return nil
}

// Embed places in on enc's device, runs the encoder and pools the hidden states into
// a unit-length vector. Encoders may pad in; pooling reads the mask afterwards.
func Embed(ctx context.Context, enc Encoder, in *TokenizedInput) ([]float32, error) {
	if in.RealTokens() == 0 {
		return nil, ErrNoTokens
	}
	in.Device = enc.Device()
	hs, err := enc.Encode(ctx, in)
	if err != nil {
		return nil, err
	}
	return Pool(hs, in.AttentionMask)
}

// MockEncoder is a deterministic encoder for tests and local development. Hidden
// values depend only on token ID and position; padded positions are filled with
// large junk values the way real encoders leave arbitrary activations there.
type MockEncoder struct {
	dimensions int
	device     Device
}

// NewMockEncoder returns an encoder producing hidden states of the given width.
func NewMockEncoder(dimensions int, device Device) *MockEncoder {
	if dimensions <= 0 {
		dimensions = 384
	}
	if device == "" || device == DeviceAuto {
		device = DeviceCPU
	}
	return &MockEncoder{dimensions: dimensions, device: device}
}

// Encode returns SeqLen x dimensions hidden states for in.
func (e *MockEncoder) Encode(ctx context.Context, in *TokenizedInput) (*HiddenStates, error) {
	if err := CheckDevice(in, e.device); err != nil {
		return nil, err
	}
	n := in.Len()
	hs := &HiddenStates{SeqLen: n, Dim: e.dimensions, Data: make([]float32, n*e.dimensions)}
	for t := 0; t < n; t++ {
		row := hs.Row(t)
		if in.AttentionMask[t] == 0 {
			for d := range row {
				row[d] = 1e3 * float32(d%7+1)
			}
			continue
		}
		id := float64(in.InputIDs[t])
		for d := range row {
			row[d] = float32(math.Sin(id*float64(d+1)*0.013+float64(t)*0.07)*0.5 + 0.01)
		}
	}
	return hs, nil
}

// Device returns the device the mock reports as bound.
func (e *MockEncoder) Device() Device {
	return e.device
}

// Close is a no-op for MockEncoder.
func (e *MockEncoder) Close() error {
	return nil
}
