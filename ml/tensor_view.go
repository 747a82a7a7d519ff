package ml

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/x448/float16"
	"gorgonia.org/tensor"
)

// Layout is the storage order of a detection head.
type Layout int

const (
	// LayoutNCHW stores [batch, channel, row, col].
	LayoutNCHW Layout = iota
	// LayoutNHWC stores [batch, row, col, channel].
	LayoutNHWC
	// LayoutCHW stores [channel, row, col].
	LayoutCHW
	// LayoutHWC stores [row, col, channel].
	LayoutHWC
)

func (l Layout) String() string {
	switch l {
	case LayoutNCHW:
		return "NCHW"
	case LayoutNHWC:
		return "NHWC"
	case LayoutCHW:
		return "CHW"
	case LayoutHWC:
		return "HWC"
	default:
		return fmt.Sprintf("Layout(%d)", int(l))
	}
}

// Encoding is the scalar type backing a view.
type Encoding int

const (
	// Float32 is IEEE 754 single precision.
	Float32 Encoding = iota
	// Float16 is IEEE 754 half precision.
	Float16
	// Float64 is IEEE 754 double precision.
	Float64
)

func (e Encoding) String() string {
	switch e {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	case Float64:
		return "float64"
	default:
		return fmt.Sprintf("Encoding(%d)", int(e))
	}
}

var (
	// ErrUnsupportedRank is returned when a buffer is neither 3D nor 4D.
	ErrUnsupportedRank = errors.New("tensor rank must be 3 or 4")
	// ErrNoChannelAxis is returned when no recognised axis has the expected channel count.
	ErrNoChannelAxis = errors.New("no tensor axis matches the expected channel count")
	// ErrUnknownEncoding is returned for buffers of an unsupported scalar type.
	ErrUnknownEncoding = errors.New("unknown tensor scalar encoding")
)

// scalars is the closed set of buffer decoders. Each one widens to float32 on read.
type scalars interface {
	at(i int) float32
	len() int
	encoding() Encoding
}

type float32Scalars []float32

func (s float32Scalars) at(i int) float32   { return s[i] }
func (s float32Scalars) len() int           { return len(s) }
func (s float32Scalars) encoding() Encoding { return Float32 }

type float16Scalars []float16.Float16

func (s float16Scalars) at(i int) float32   { return s[i].Float32() }
func (s float16Scalars) len() int           { return len(s) }
func (s float16Scalars) encoding() Encoding { return Float16 }

type float16BitScalars []uint16

func (s float16BitScalars) at(i int) float32   { return float16.Frombits(s[i]).Float32() }
func (s float16BitScalars) len() int           { return len(s) }
func (s float16BitScalars) encoding() Encoding { return Float16 }

type float64Scalars []float64

func (s float64Scalars) at(i int) float32   { return float32(s[i]) }
func (s float64Scalars) len() int           { return len(s) }
func (s float64Scalars) encoding() Encoding { return Float64 }

func newScalars(buf interface{}) (scalars, error) {
	switch v := buf.(type) {
	case []float32:
		return float32Scalars(v), nil
	case []float16.Float16:
		return float16Scalars(v), nil
	case []uint16:
		// raw half precision bits, the way most runtimes hand float16 outputs back
		return float16BitScalars(v), nil
	case []float64:
		return float64Scalars(v), nil
	default:
		return nil, errors.Wrapf(ErrUnknownEncoding, "%T", buf)
	}
}

// View is a read-only accessor over one detection head. It maps (row, col, channel) to a
// float32 regardless of axis order, batch dimension or scalar encoding.
type View struct {
	data    scalars
	shape   []int
	strides []int
	layout  Layout

	height, width, channels        int
	rowStride, colStride, chStride int
}

// NewView wraps buf (a []float32, []float64, []float16.Float16 or []uint16 of half precision
// bits) with the given shape and element strides. A nil strides slice means the buffer is
// contiguous in row-major order. The channel axis is the one whose size is expectedChannels;
// for 4D input axis 1 is tried before axis 3, for 3D input axis 0 before axis 2.
func NewView(buf interface{}, shape, strides []int, expectedChannels int) (*View, error) {
	data, err := newScalars(buf)
	if err != nil {
		return nil, err
	}
	if len(shape) != 3 && len(shape) != 4 {
		return nil, errors.Wrapf(ErrUnsupportedRank, "got shape %v", shape)
	}
	for _, dim := range shape {
		if dim <= 0 {
			return nil, errors.Errorf("tensor shape %v has an empty dimension", shape)
		}
	}
	if strides == nil {
		strides = contiguousStrides(shape)
	}
	if len(strides) != len(shape) {
		return nil, errors.Errorf("got %d strides for a rank %d tensor", len(strides), len(shape))
	}

	v := &View{
		data:    data,
		shape:   append([]int(nil), shape...),
		strides: append([]int(nil), strides...),
	}
	switch {
	case len(shape) == 4 && shape[1] == expectedChannels:
		v.layout = LayoutNCHW
		v.channels, v.height, v.width = shape[1], shape[2], shape[3]
		v.chStride, v.rowStride, v.colStride = strides[1], strides[2], strides[3]
	case len(shape) == 4 && shape[3] == expectedChannels:
		v.layout = LayoutNHWC
		v.height, v.width, v.channels = shape[1], shape[2], shape[3]
		v.rowStride, v.colStride, v.chStride = strides[1], strides[2], strides[3]
	case len(shape) == 3 && shape[0] == expectedChannels:
		v.layout = LayoutCHW
		v.channels, v.height, v.width = shape[0], shape[1], shape[2]
		v.chStride, v.rowStride, v.colStride = strides[0], strides[1], strides[2]
	case len(shape) == 3 && shape[2] == expectedChannels:
		v.layout = LayoutHWC
		v.height, v.width, v.channels = shape[0], shape[1], shape[2]
		v.rowStride, v.colStride, v.chStride = strides[0], strides[1], strides[2]
	default:
		return nil, errors.Wrapf(ErrNoChannelAxis, "want %d in shape %v", expectedChannels, shape)
	}

	maxOffset := 0
	for i, dim := range shape {
		if strides[i] < 0 {
			return nil, errors.Errorf("negative stride %d on axis %d", strides[i], i)
		}
		if i == 0 && len(shape) == 4 {
			// only the first batch entry is ever read
			continue
		}
		maxOffset += (dim - 1) * strides[i]
	}
	if maxOffset >= data.len() {
		return nil, errors.Errorf("buffer of %d elements is too short for shape %v with strides %v",
			data.len(), shape, strides)
	}
	return v, nil
}

// NewViewFromDense wraps a gorgonia tensor as returned by a model service.
func NewViewFromDense(t *tensor.Dense, expectedChannels int) (*View, error) {
	if t == nil {
		return nil, errors.New("nil tensor")
	}
	return NewView(t.Data(), []int(t.Shape()), t.Strides(), expectedChannels)
}

func contiguousStrides(shape []int) []int {
	strides := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}
	return strides
}

// At returns the value at grid row, grid column and channel. Callers keep coordinates within
// Height, Width and Channels.
func (v *View) At(row, col, channel int) float32 {
	return v.data.at(row*v.rowStride + col*v.colStride + channel*v.chStride)
}

// Height is the number of grid rows.
func (v *View) Height() int { return v.height }

// Width is the number of grid columns.
func (v *View) Width() int { return v.width }

// Channels is the size of the channel axis.
func (v *View) Channels() int { return v.channels }

// Layout is the axis order detected at construction.
func (v *View) Layout() Layout { return v.layout }

// Encoding is the scalar type of the underlying buffer.
func (v *View) Encoding() Encoding { return v.data.encoding() }

// Shape returns a copy of the declared shape.
func (v *View) Shape() []int { return append([]int(nil), v.shape...) }

// Len is the total number of logical elements described by the shape.
func (v *View) Len() int {
	n := 1
	for _, dim := range v.shape {
		n *= dim
	}
	return n
}

func (v *View) String() string {
	return fmt.Sprintf("View(%s %s %dx%dx%d)", v.layout, v.Encoding(), v.height, v.width, v.channels)
}
