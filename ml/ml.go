// Package ml provides the tensor primitives shared by model services and decoders.
package ml

import (
	"math"
	"sort"

	"gorgonia.org/tensor"
)

// Tensors are a map of tensor names to their values, as returned by a model service.
type Tensors map[string]*tensor.Dense

// TensorNames returns all the names of the tensors, sorted.
func TensorNames(t Tensors) []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sigmoid is the logistic function for a single activation.
func Sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(x))))
}
