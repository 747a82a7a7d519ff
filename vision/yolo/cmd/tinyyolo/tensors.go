package main

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/tinyyolo/ml"
)

// tensorSpec describes a raw little-endian tensor dump: path:shape[:dtype], e.g.
// out13.bin:1x255x13x13:float16.
type tensorSpec struct {
	path  string
	shape []int
	dtype string
}

func parseTensorSpec(spec string) (tensorSpec, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return tensorSpec{}, errors.Errorf("tensor %q must look like path:shape[:dtype]", spec)
	}
	ts := tensorSpec{path: parts[0], dtype: "float32"}
	if len(parts) == 3 {
		ts.dtype = strings.ToLower(parts[2])
	}
	for _, dim := range strings.Split(strings.ToLower(parts[1]), "x") {
		n, err := strconv.Atoi(dim)
		if err != nil || n <= 0 {
			return tensorSpec{}, errors.Errorf("tensor %q has an invalid shape %q", spec, parts[1])
		}
		ts.shape = append(ts.shape, n)
	}
	return ts, nil
}

func (ts tensorSpec) elements() int {
	n := 1
	for _, d := range ts.shape {
		n *= d
	}
	return n
}

// read loads the dump into a scalar buffer of the declared dtype.
func (ts tensorSpec) read() (buf interface{}, err error) {
	//nolint:gosec
	f, err := os.Open(filepath.Clean(ts.path))
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	n := ts.elements()
	switch ts.dtype {
	case "float32", "f32":
		out := make([]float32, n)
		err = binary.Read(f, binary.LittleEndian, out)
		buf = out
	case "float16", "f16", "half":
		out := make([]uint16, n)
		err = binary.Read(f, binary.LittleEndian, out)
		buf = out
	case "float64", "f64", "double":
		out := make([]float64, n)
		err = binary.Read(f, binary.LittleEndian, out)
		buf = out
	default:
		return nil, errors.Wrapf(ml.ErrUnknownEncoding, "dtype %q", ts.dtype)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %d %s values from %q", n, ts.dtype, ts.path)
	}
	return buf, nil
}

func (ts tensorSpec) view(expectedChannels int) (*ml.View, error) {
	buf, err := ts.read()
	if err != nil {
		return nil, err
	}
	return ml.NewView(buf, ts.shape, nil, expectedChannels)
}
