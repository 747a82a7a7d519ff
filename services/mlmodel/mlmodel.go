// Package mlmodel defines the model service: something that takes in a map of input tensors,
// passes them through an inference engine, and returns a map of output tensors.
package mlmodel

import (
	"context"

	"go.viam.com/tinyyolo/ml"
)

// Service is the model-execution collaborator. Implementations must be safe to call from the
// inference worker while Metadata is read elsewhere.
type Service interface {
	Infer(ctx context.Context, tensors ml.Tensors) (ml.Tensors, error)
	Metadata(ctx context.Context) (MLMetadata, error)
	Close(ctx context.Context) error
}

// MLMetadata describes a model and its input and output tensors.
type MLMetadata struct {
	ModelName        string
	ModelType        string // e.g. object_detector
	ModelDescription string
	Inputs           []TensorInfo
	Outputs          []TensorInfo
}

// TensorInfo describes one input or output tensor.
type TensorInfo struct {
	Name        string // e.g. image
	Description string
	DataType    string // e.g. uint8, float32
	Shape       []int  // -1 for variable dimensions
	Extra       map[string]interface{}
}
