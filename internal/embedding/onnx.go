//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	runtimeMu   sync.Mutex
	runtimeInit bool
)

func initRuntime(libraryPath string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	if runtimeInit {
		return nil
	}
	if libraryPath == "" {
		libraryPath = os.Getenv("ONNXRUNTIME_SHARED_LIB")
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}
	runtimeInit = true
	return nil
}

// ShutdownRuntime releases the process-wide ONNX Runtime environment. Call it once
// after every encoder has been closed.
func ShutdownRuntime() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	if !runtimeInit {
		return nil
	}
	runtimeInit = false
	return ort.DestroyEnvironment()
}

type inputKind int

const (
	inputIDs inputKind = iota
	inputMask
	inputTypes
)

// OnnxEncoder runs a transformer encoder exported to ONNX. Run is serialized per
// encoder; ONNX Runtime sessions on accelerators are not safe to share concurrently.
type OnnxEncoder struct {
	session    *ort.DynamicAdvancedSession
	inputs     []inputKind
	outputName string
	device     Device
	// staticSeqLen is the fixed sequence length of the exported graph, 0 when dynamic.
	staticSeqLen int
	padID        int64
	mu           sync.Mutex
}

// NewOnnxEncoder loads the model at cfg.ModelPath and binds it to cfg.Device.
func NewOnnxEncoder(cfg OnnxConfig) (Encoder, error) {
	if err := initRuntime(cfg.LibraryPath); err != nil {
		return nil, err
	}

	inputsInfo, outputsInfo, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect model %s: %w", cfg.ModelPath, err)
	}

	var (
		names        []string
		kinds        []inputKind
		staticSeqLen int
	)
	for _, info := range inputsInfo {
		kind, ok := classifyInput(info.Name)
		if !ok {
			return nil, fmt.Errorf("model input %q is not input_ids, attention_mask or token_type_ids", info.Name)
		}
		if info.DataType != ort.TensorElementDataTypeInt64 {
			return nil, fmt.Errorf("model input %q has type %v, want int64", info.Name, info.DataType)
		}
		if len(info.Dimensions) == 2 && info.Dimensions[1] > 0 {
			staticSeqLen = int(info.Dimensions[1])
		}
		names = append(names, info.Name)
		kinds = append(kinds, kind)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("model %s declares no inputs", cfg.ModelPath)
	}

	outputName, err := pickOutput(outputsInfo, cfg.OutputName)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", cfg.ModelPath, err)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer opts.Destroy()
	if cfg.IntraOpThreads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}
	device, err := bindDevice(opts, cfg.Device)
	if err != nil {
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, names, []string{outputName}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &OnnxEncoder{
		session:      session,
		inputs:       kinds,
		outputName:   outputName,
		device:       device,
		staticSeqLen: staticSeqLen,
		padID:        cfg.PadID,
	}, nil
}

func classifyInput(name string) (inputKind, bool) {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "mask"):
		return inputMask, true
	case strings.Contains(n, "type") || strings.Contains(n, "segment"):
		return inputTypes, true
	case strings.Contains(n, "ids") || n == "input":
		return inputIDs, true
	}
	return 0, false
}

func pickOutput(outputs []ort.InputOutputInfo, want string) (string, error) {
	if want == "" {
		want = DefaultOutputName
	}
	for _, info := range outputs {
		if info.Name != want {
			continue
		}
		if len(info.Dimensions) != 3 {
			return "", fmt.Errorf("output %q has rank %d, want [batch, seq, hidden]", want, len(info.Dimensions))
		}
		return want, nil
	}
	return "", fmt.Errorf("output %q not found", want)
}

// bindDevice appends the execution provider for requested and returns the device
// the session will actually run on.
func bindDevice(opts *ort.SessionOptions, requested Device) (Device, error) {
	if requested == "" {
		requested = DeviceAuto
	}
	if requested == DeviceCPU {
		return DeviceCPU, nil
	}
	target := requested
	if target == DeviceAuto {
		target = DeviceCUDA
	}
	err := appendCUDA(opts, target.Ordinal())
	if err == nil {
		return target, nil
	}
	if requested == DeviceAuto {
		return DeviceCPU, nil
	}
	return "", fmt.Errorf("failed to bind %s: %w", requested, err)
}

func appendCUDA(opts *ort.SessionOptions, ordinal int) error {
	cuda, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return err
	}
	defer cuda.Destroy()
	if err := cuda.Update(map[string]string{"device_id": strconv.Itoa(ordinal)}); err != nil {
		return err
	}
	return opts.AppendExecutionProviderCUDA(cuda)
}

// Encode runs the encoder over in. Models exported with a fixed sequence length get
// in padded in place, so the caller's attention mask keeps matching the output rows.
func (e *OnnxEncoder) Encode(ctx context.Context, in *TokenizedInput) (*HiddenStates, error) {
	if err := CheckDevice(in, e.device); err != nil {
		return nil, err
	}
	if e.staticSeqLen > 0 {
		if in.Len() > e.staticSeqLen {
			return nil, fmt.Errorf("%w: %d tokens for a model with fixed length %d", ErrShapeMismatch, in.Len(), e.staticSeqLen)
		}
		in.Pad(e.staticSeqLen, e.padID)
	}
	seqLen := in.Len()
	shape := ort.NewShape(1, int64(seqLen))

	inputs := make([]ort.Value, 0, len(e.inputs))
	defer func() {
		for _, v := range inputs {
			_ = v.Destroy()
		}
	}()
	for _, kind := range e.inputs {
		data := in.InputIDs
		switch kind {
		case inputMask:
			data = in.AttentionMask
		case inputTypes:
			data = in.TokenTypeIDs
		}
		tensor, err := ort.NewTensor(shape, append([]int64(nil), data...))
		if err != nil {
			return nil, fmt.Errorf("failed to create input tensor: %w", err)
		}
		inputs = append(inputs, tensor)
	}

	outputs := []ort.Value{nil}
	e.mu.Lock()
	err := e.session.Run(inputs, outputs)
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	if outputs[0] == nil {
		return nil, fmt.Errorf("inference returned no output")
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("%w: output %q is not a float32 tensor", ErrShapeMismatch, e.outputName)
	}
	outShape := out.GetShape()
	if len(outShape) != 3 || outShape[0] != 1 || int(outShape[1]) != seqLen {
		return nil, fmt.Errorf("%w: output shape %v for %d tokens", ErrShapeMismatch, outShape, seqLen)
	}
	dim := int(outShape[2])
	hs := &HiddenStates{SeqLen: seqLen, Dim: dim, Data: make([]float32, seqLen*dim)}
	copy(hs.Data, out.GetData())
	return hs, nil
}

// Device returns the device the session runs on.
func (e *OnnxEncoder) Device() Device {
	return e.device
}

// Close destroys the session.
func (e *OnnxEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	return err
}
