package mlmodel

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"go.viam.com/tinyyolo/ml"
)

// ErrNoOutputs is returned by a replay model that was built without any outputs.
var ErrNoOutputs = errors.New("replay model has no outputs to return")

// ReplayModel is a Service that ignores its input and returns canned outputs in order, wrapping
// around at the end. Each call receives its own copy of the tensors.
type ReplayModel struct {
	mu       sync.Mutex
	outputs  []ml.Tensors
	next     int
	calls    int
	metadata MLMetadata
}

// NewReplayModel returns a model that replays outputs.
func NewReplayModel(name string, outputs ...ml.Tensors) *ReplayModel {
	md := MLMetadata{ModelName: name, ModelType: "object_detector"}
	if len(outputs) > 0 {
		for _, tensorName := range ml.TensorNames(outputs[0]) {
			t := outputs[0][tensorName]
			md.Outputs = append(md.Outputs, TensorInfo{
				Name:     tensorName,
				DataType: t.Dtype().String(),
				Shape:    []int(t.Shape().Clone()),
			})
		}
	}
	return &ReplayModel{outputs: outputs, metadata: md}
}

// Infer returns the next canned output.
func (m *ReplayModel) Infer(ctx context.Context, _ ml.Tensors) (ml.Tensors, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.outputs) == 0 {
		return nil, ErrNoOutputs
	}
	src := m.outputs[m.next]
	m.next = (m.next + 1) % len(m.outputs)
	m.calls++

	out := make(ml.Tensors, len(src))
	for name, t := range src {
		cloned, ok := t.Clone().(*tensor.Dense)
		if !ok {
			return nil, errors.Errorf("cannot clone output tensor %q", name)
		}
		out[name] = cloned
	}
	return out, nil
}

// Calls is the number of successful Infer calls so far.
func (m *ReplayModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Metadata describes the replayed outputs.
func (m *ReplayModel) Metadata(ctx context.Context) (MLMetadata, error) {
	return m.metadata, nil
}

// Close is a no-op.
func (m *ReplayModel) Close(ctx context.Context) error {
	return nil
}

// InferFunc adapts a function to the Service interface.
type InferFunc func(ctx context.Context, tensors ml.Tensors) (ml.Tensors, error)

// Infer calls f.
func (f InferFunc) Infer(ctx context.Context, tensors ml.Tensors) (ml.Tensors, error) {
	return f(ctx, tensors)
}

// Metadata returns empty metadata.
func (f InferFunc) Metadata(ctx context.Context) (MLMetadata, error) {
	return MLMetadata{}, nil
}

// Close is a no-op.
func (f InferFunc) Close(ctx context.Context) error {
	return nil
}
