//go:build !cgo
// +build !cgo

package embedding

import "fmt"

// NewOnnxEncoder returns ErrOnnxUnavailable when built without CGO (see onnx.go for the real implementation).
func NewOnnxEncoder(_ OnnxConfig) (Encoder, error) {
	return nil, fmt.Errorf("%w: build with CGO_ENABLED=1 and onnxruntime", ErrOnnxUnavailable)
}

// ShutdownRuntime is a no-op without CGO.
func ShutdownRuntime() error {
	return nil
}
