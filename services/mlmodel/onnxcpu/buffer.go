package onnxcpu

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/x448/float16"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"
)

// Element types a tensor may be declared with.
const (
	DataTypeFloat32 = "float32"
	DataTypeFloat16 = "float16"
)

func validateDataType(dtype string) error {
	switch dtype {
	case "", DataTypeFloat32, DataTypeFloat16:
		return nil
	default:
		return errors.Errorf("unsupported data type %q, want %s or %s", dtype, DataTypeFloat32, DataTypeFloat16)
	}
}

// buffer is a preallocated session tensor. float16 tensors are held as little-endian bytes.
type buffer struct {
	shape []int
	f32   *ort.Tensor[float32]
	f16   *ort.CustomDataTensor
}

func newBuffer(cfg TensorConfig) (*buffer, error) {
	b := &buffer{shape: cfg.Shape}
	var err error
	if cfg.DataType == DataTypeFloat16 {
		b.f16, err = ort.NewCustomDataTensor(toShape(cfg.Shape), make([]byte, 2*elements(cfg.Shape)),
			ort.TensorElementDataTypeFloat16)
	} else {
		b.f32, err = ort.NewEmptyTensor[float32](toShape(cfg.Shape))
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (b *buffer) value() ort.ArbitraryTensor {
	if b.f16 != nil {
		return b.f16
	}
	return b.f32
}

// load copies data into the tensor, narrowing to float16 when needed.
func (b *buffer) load(data []float32) error {
	if n := elements(b.shape); len(data) != n {
		return errors.Errorf("input tensor has %d elements, model expects %d", len(data), n)
	}
	if b.f16 != nil {
		encodeFloat16(b.f16.GetData(), data)
		return nil
	}
	copy(b.f32.GetData(), data)
	return nil
}

// dense copies the tensor out. float16 results are returned as uint16 bit patterns, which
// ml.NewViewFromDense reads as half precision.
func (b *buffer) dense() *tensor.Dense {
	var backing interface{}
	if b.f16 != nil {
		backing = decodeFloat16Bits(b.f16.GetData())
	} else {
		backing = append([]float32(nil), b.f32.GetData()...)
	}
	return tensor.New(tensor.WithShape(b.shape...), tensor.WithBacking(backing))
}

func (b *buffer) destroy() error {
	if b.f16 != nil {
		return b.f16.Destroy()
	}
	return b.f32.Destroy()
}

func elements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func encodeFloat16(dst []byte, src []float32) {
	for i, v := range src {
		binary.LittleEndian.PutUint16(dst[2*i:], float16.Fromfloat32(v).Bits())
	}
}

func decodeFloat16Bits(src []byte) []uint16 {
	out := make([]uint16, len(src)/2)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(src[2*i:])
	}
	return out
}
