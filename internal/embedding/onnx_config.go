package embedding

import "errors"

// DefaultOutputName is the encoder output holding per-token hidden states.
const DefaultOutputName = "last_hidden_state"

// OnnxConfig configures an ONNX Runtime encoder.
type OnnxConfig struct {
	ModelPath string
	// Device is cpu, cuda, cuda:N or auto. auto tries CUDA and falls back to CPU.
	Device Device
	// OutputName selects the hidden-state output; DefaultOutputName when empty.
	OutputName string
	// LibraryPath points at the onnxruntime shared library; ONNXRUNTIME_SHARED_LIB when empty.
	LibraryPath    string
	IntraOpThreads int
	// PadID fills padding positions for models exported with a fixed sequence length.
	PadID int64
}

// ErrOnnxUnavailable indicates ONNX Runtime support is not compiled into this build.
var ErrOnnxUnavailable = errors.New("onnx encoder is not available")
