package infer

import (
	"context"
	"fmt"
)

// OutputFormat is the backend's declared detection output contract,
// negotiated once at model-load time rather than inferred per call.
type OutputFormat string

const (
	// OutputSplit means the model emits two tensors: per-class scores of
	// shape [batch, numDetections, numClasses] and boxes of shape
	// [batch, numDetections, 4].
	OutputSplit OutputFormat = "split"
	// OutputFused means the model emits a single tensor of per-detection
	// records [imageId, classId, score, xmin, ymin, xmax, ymax].
	OutputFused OutputFormat = "fused"
)

// Tensor is a dense row-major float32 tensor.
type Tensor struct {
	DataType string
	Data     []float32
	Dims     []int64
}

// NewTensor creates a float32 tensor over the given data.
func NewTensor(data []float32, dims ...int64) Tensor {
	return Tensor{DataType: "float32", Data: data, Dims: dims}
}

// Len returns the number of elements implied by the tensor's dims.
func (t Tensor) Len() int {
	if len(t.Dims) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.Dims {
		n *= int(d)
	}
	return n
}

// ModelInfo describes a loaded model's I/O surface.
type ModelInfo struct {
	InputName    string
	OutputNames  []string
	InputShape   []int64 // [batch, channels, height, width]
	OutputFormat OutputFormat
}

// Backend is the opaque inference engine boundary: load a model, run one
// inference on a set of named input tensors.
type Backend interface {
	LoadModel(ctx context.Context, path string) (ModelInfo, error)
	Run(ctx context.Context, feeds map[string]Tensor) (map[string]Tensor, error)
}

// ModelLoadError means the model data was malformed or unreachable. The
// backend stays unusable until the caller retries the load.
type ModelLoadError struct {
	Path string
	Err  error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("failed to load model %q: %v", e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// InferenceError means a single inference call failed. The frame it was
// processing is lost but the backend remains usable.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed: %v", e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }
