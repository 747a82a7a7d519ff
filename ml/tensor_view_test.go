package ml

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/x448/float16"
	"go.viam.com/test"
	"gorgonia.org/tensor"
)

const testChannels = 255

// logical is the value stored at (row, col, channel) for the synthetic heads below.
func logical(row, col, ch int) float32 {
	return float32(row*10000+col*1000+ch) / 8
}

func channelMajor(h, w, c int) []float32 {
	buf := make([]float32, c*h*w)
	for ch := 0; ch < c; ch++ {
		for row := 0; row < h; row++ {
			for col := 0; col < w; col++ {
				buf[ch*h*w+row*w+col] = logical(row, col, ch)
			}
		}
	}
	return buf
}

func channelMinor(h, w, c int) []float32 {
	buf := make([]float32, c*h*w)
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			for ch := 0; ch < c; ch++ {
				buf[(row*w+col)*c+ch] = logical(row, col, ch)
			}
		}
	}
	return buf
}

func assertLogicalContents(t *testing.T, v *View, h, w int) {
	t.Helper()
	test.That(t, v.Height(), test.ShouldEqual, h)
	test.That(t, v.Width(), test.ShouldEqual, w)
	test.That(t, v.Channels(), test.ShouldEqual, testChannels)
	for _, ch := range []int{0, 4, 85, 254} {
		for row := 0; row < h; row++ {
			for col := 0; col < w; col++ {
				test.That(t, v.At(row, col, ch), test.ShouldEqual, logical(row, col, ch))
			}
		}
	}
}

func TestViewLayouts(t *testing.T) {
	const h, w = 2, 3
	for _, tc := range []struct {
		name   string
		buf    []float32
		shape  []int
		layout Layout
	}{
		{"nchw", channelMajor(h, w, testChannels), []int{1, testChannels, h, w}, LayoutNCHW},
		{"nhwc", channelMinor(h, w, testChannels), []int{1, h, w, testChannels}, LayoutNHWC},
		{"chw", channelMajor(h, w, testChannels), []int{testChannels, h, w}, LayoutCHW},
		{"hwc", channelMinor(h, w, testChannels), []int{h, w, testChannels}, LayoutHWC},
	} {
		t.Run(tc.name, func(t *testing.T) {
			v, err := NewView(tc.buf, tc.shape, nil, testChannels)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, v.Layout(), test.ShouldEqual, tc.layout)
			test.That(t, v.Encoding(), test.ShouldEqual, Float32)
			test.That(t, v.Len(), test.ShouldEqual, h*w*testChannels)
			assertLogicalContents(t, v, h, w)
		})
	}
}

func TestViewPaddedStrides(t *testing.T) {
	// NCHW with each row padded to 4 columns.
	const h, w, padded = 2, 3, 4
	buf := make([]float32, testChannels*h*padded)
	for ch := 0; ch < testChannels; ch++ {
		for row := 0; row < h; row++ {
			for col := 0; col < w; col++ {
				buf[ch*h*padded+row*padded+col] = logical(row, col, ch)
			}
			buf[ch*h*padded+row*padded+w] = -1
		}
	}
	v, err := NewView(buf, []int{1, testChannels, h, w}, []int{testChannels * h * padded, h * padded, padded, 1}, testChannels)
	test.That(t, err, test.ShouldBeNil)
	assertLogicalContents(t, v, h, w)
}

func TestViewEncodings(t *testing.T) {
	const h, w = 2, 2
	src := channelMinor(h, w, testChannels)

	halves := make([]float16.Float16, len(src))
	bits := make([]uint16, len(src))
	doubles := make([]float64, len(src))
	for i, f := range src {
		halves[i] = float16.Fromfloat32(f)
		bits[i] = halves[i].Bits()
		doubles[i] = float64(f)
	}
	shape := []int{1, h, w, testChannels}

	v, err := NewView(doubles, shape, nil, testChannels)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v.Encoding(), test.ShouldEqual, Float64)
	assertLogicalContents(t, v, h, w)

	for _, buf := range []interface{}{halves, bits} {
		v, err := NewView(buf, shape, nil, testChannels)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, v.Encoding(), test.ShouldEqual, Float16)
		for row := 0; row < h; row++ {
			for col := 0; col < w; col++ {
				want := float16.Fromfloat32(logical(row, col, 7)).Float32()
				test.That(t, v.At(row, col, 7), test.ShouldEqual, want)
			}
		}
	}
}

func TestViewConstructionFailures(t *testing.T) {
	buf := make([]float32, testChannels*4)

	_, err := NewView(buf, []int{testChannels * 4}, nil, testChannels)
	test.That(t, errors.Is(err, ErrUnsupportedRank), test.ShouldBeTrue)

	_, err = NewView(buf, []int{1, 1, testChannels, 2, 2}, nil, testChannels)
	test.That(t, errors.Is(err, ErrUnsupportedRank), test.ShouldBeTrue)

	_, err = NewView(buf, []int{1, 2, 2, testChannels}, nil, 85)
	test.That(t, errors.Is(err, ErrNoChannelAxis), test.ShouldBeTrue)

	// channel count sits on the grid axis, which is not a recognised channel position
	_, err = NewView(buf, []int{2, testChannels, 2}, nil, testChannels)
	test.That(t, errors.Is(err, ErrNoChannelAxis), test.ShouldBeTrue)

	_, err = NewView(make([]int32, testChannels*4), []int{1, 2, 2, testChannels}, nil, testChannels)
	test.That(t, errors.Is(err, ErrUnknownEncoding), test.ShouldBeTrue)

	_, err = NewView(buf[:10], []int{1, 2, 2, testChannels}, nil, testChannels)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "too short")

	_, err = NewView(buf, []int{1, 2, 2, testChannels}, []int{1, 2}, testChannels)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewView(buf, []int{1, 0, 2, testChannels}, nil, testChannels)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestViewFromDense(t *testing.T) {
	const h, w = 3, 2
	dense := tensor.New(
		tensor.WithShape(1, testChannels, h, w),
		tensor.WithBacking(channelMajor(h, w, testChannels)),
	)
	v, err := NewViewFromDense(dense, testChannels)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v.Layout(), test.ShouldEqual, LayoutNCHW)
	assertLogicalContents(t, v, h, w)

	_, err = NewViewFromDense(nil, testChannels)
	test.That(t, err, test.ShouldNotBeNil)

	ints := tensor.New(tensor.WithShape(1, h, w, testChannels), tensor.WithBacking(make([]int64, h*w*testChannels)))
	_, err = NewViewFromDense(ints, testChannels)
	test.That(t, errors.Is(err, ErrUnknownEncoding), test.ShouldBeTrue)
}

func TestSigmoidAndNames(t *testing.T) {
	test.That(t, Sigmoid(0), test.ShouldEqual, float32(0.5))
	test.That(t, Sigmoid(20), test.ShouldAlmostEqual, 1, 1e-6)
	test.That(t, Sigmoid(-20), test.ShouldAlmostEqual, 0, 1e-6)

	names := TensorNames(Tensors{
		"b": tensor.New(tensor.WithShape(1), tensor.WithBacking([]float32{1})),
		"a": tensor.New(tensor.WithShape(1), tensor.WithBacking([]float32{1})),
	})
	test.That(t, names, test.ShouldResemble, []string{"a", "b"})
}
