// Package onnxcpu runs ONNX model files on the host's CPU, as an implementation of the ML model
// service.
package onnxcpu

import (
	"context"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"

	"go.viam.com/tinyyolo/logging"
	"go.viam.com/tinyyolo/ml"
	"go.viam.com/tinyyolo/services/mlmodel"
	"go.viam.com/tinyyolo/utils"
)

// TensorConfig names a model input or output with its fixed shape and element type. DataType is
// float32 (the default) or float16; half-precision inputs are narrowed from the float32 frames.
type TensorConfig struct {
	Name     string `json:"name" yaml:"name" mapstructure:"name"`
	Shape    []int  `json:"shape" yaml:"shape" mapstructure:"shape"`
	DataType string `json:"data_type,omitempty" yaml:"data_type,omitempty" mapstructure:"data_type"`
}

func (tc TensorConfig) dataType() string {
	if tc.DataType == "" {
		return DataTypeFloat32
	}
	return tc.DataType
}

// Config contains the parameters of the onnx cpu model service.
type Config struct {
	ModelPath         string         `json:"model_path" yaml:"model_path" mapstructure:"model_path"`
	SharedLibraryPath string         `json:"shared_library_path" yaml:"shared_library_path" mapstructure:"shared_library_path"`
	NumThreads        int            `json:"num_threads" yaml:"num_threads" mapstructure:"num_threads"`
	Input             TensorConfig   `json:"input" yaml:"input" mapstructure:"input"`
	Outputs           []TensorConfig `json:"outputs" yaml:"outputs" mapstructure:"outputs"`
}

// DefaultConfig is the input and output layout of the YOLOv3-Tiny export used by the demo: one
// 416x416 RGB input and the 13x13 and 26x26 heads in NCHW.
func DefaultConfig(modelPath string) Config {
	return Config{
		ModelPath: modelPath,
		Input:     TensorConfig{Name: "images", Shape: []int{1, 3, 416, 416}},
		Outputs: []TensorConfig{
			{Name: "output0", Shape: []int{1, 255, 13, 13}},
			{Name: "output1", Shape: []int{1, 255, 26, 26}},
		},
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.ModelPath == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "model_path")
	}
	if cfg.Input.Name == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "input.name")
	}
	if err := validateShape(cfg.Input.Shape); err != nil {
		return utils.NewConfigValidationError(path, errors.Wrap(err, "input"))
	}
	if err := validateDataType(cfg.Input.DataType); err != nil {
		return utils.NewConfigValidationError(path, errors.Wrap(err, "input"))
	}
	if len(cfg.Outputs) == 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "outputs")
	}
	for i, out := range cfg.Outputs {
		if out.Name == "" {
			return utils.NewConfigValidationError(path, errors.Errorf("outputs[%d] has no name", i))
		}
		if err := validateShape(out.Shape); err != nil {
			return utils.NewConfigValidationError(path, errors.Wrapf(err, "output %q", out.Name))
		}
		if err := validateDataType(out.DataType); err != nil {
			return utils.NewConfigValidationError(path, errors.Wrapf(err, "output %q", out.Name))
		}
	}
	return nil
}

func validateShape(shape []int) error {
	if len(shape) == 0 {
		return errors.New("shape is required")
	}
	for _, dim := range shape {
		if dim <= 0 {
			return errors.Errorf("shape %v must be fully specified", shape)
		}
	}
	return nil
}

func toShape(dims []int) ort.Shape {
	shape := make([]int64, len(dims))
	for i, d := range dims {
		shape[i] = int64(d)
	}
	return ort.NewShape(shape...)
}

var envMu sync.Mutex

func initEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	return ort.InitializeEnvironment()
}

// Model runs one ONNX session with preallocated input and output tensors. Calls to Infer are
// serialized.
type Model struct {
	mu       sync.Mutex
	conf     Config
	session  *ort.AdvancedSession
	input    *buffer
	outputs  []*buffer
	metadata mlmodel.MLMetadata
	logger   logging.Logger
}

// NewModel loads the model at conf.ModelPath.
func NewModel(ctx context.Context, conf *Config, logger logging.Logger) (*Model, error) {
	_, span := trace.StartSpan(ctx, "service::mlmodel::onnxcpu::NewModel")
	defer span.End()

	if conf == nil {
		return nil, errors.New("could not find parameters")
	}
	if err := conf.Validate("onnx_cpu"); err != nil {
		return nil, err
	}
	if err := initEnvironment(conf.SharedLibraryPath); err != nil {
		return nil, errors.Wrap(err, "initializing onnx runtime")
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "creating session options")
	}
	defer func() {
		if err := options.Destroy(); err != nil {
			logger.Debugw("failed to destroy session options", "error", err)
		}
	}()
	threads := conf.NumThreads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	if err := options.SetIntraOpNumThreads(threads); err != nil {
		return nil, errors.Wrap(err, "setting intra op threads")
	}

	m := &Model{conf: *conf, logger: logger}
	m.input, err = newBuffer(conf.Input)
	if err != nil {
		return nil, errors.Wrap(err, "creating input tensor")
	}
	outputNames := make([]string, 0, len(conf.Outputs))
	outputs := make([]ort.ArbitraryTensor, 0, len(conf.Outputs))
	for _, out := range conf.Outputs {
		b, err := newBuffer(out)
		if err != nil {
			return nil, multierr.Combine(errors.Wrapf(err, "creating output tensor %q", out.Name), m.destroy())
		}
		m.outputs = append(m.outputs, b)
		outputNames = append(outputNames, out.Name)
		outputs = append(outputs, b.value())
	}

	modelPath := filepath.Clean(conf.ModelPath)
	m.session, err = ort.NewAdvancedSession(
		modelPath,
		[]string{conf.Input.Name},
		outputNames,
		[]ort.ArbitraryTensor{m.input.value()},
		outputs,
		options,
	)
	if err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "could not load model at %s", modelPath), m.destroy())
	}

	m.metadata = mlmodel.MLMetadata{
		ModelName: filepath.Base(modelPath),
		ModelType: "object_detector",
		Inputs:    []mlmodel.TensorInfo{{Name: conf.Input.Name, DataType: conf.Input.dataType(), Shape: conf.Input.Shape}},
	}
	for _, out := range conf.Outputs {
		m.metadata.Outputs = append(m.metadata.Outputs,
			mlmodel.TensorInfo{Name: out.Name, DataType: out.dataType(), Shape: out.Shape})
	}
	logger.Infow("loaded onnx model", "path", modelPath, "outputs", outputNames, "threads", threads)
	return m, nil
}

// Infer copies the configured input tensor into the session, runs it and returns copies of the
// outputs as dense tensors.
func (m *Model) Infer(ctx context.Context, tensors ml.Tensors) (ml.Tensors, error) {
	_, span := trace.StartSpan(ctx, "service::mlmodel::onnxcpu::Infer")
	defer span.End()

	in, ok := tensors[m.conf.Input.Name]
	if !ok {
		return nil, errors.Errorf("missing input tensor %q", m.conf.Input.Name)
	}
	data, err := utils.AssertType[[]float32](in.Data())
	if err != nil {
		return nil, errors.Wrapf(err, "input tensor %q", m.conf.Input.Name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, errors.New("model is closed")
	}
	if err := m.input.load(data); err != nil {
		return nil, err
	}
	if err := m.session.Run(); err != nil {
		return nil, errors.Wrap(err, "model inference")
	}

	results := make(ml.Tensors, len(m.outputs))
	for i, out := range m.outputs {
		results[m.conf.Outputs[i].Name] = out.dense()
	}
	return results, nil
}

// Metadata describes the configured tensors.
func (m *Model) Metadata(ctx context.Context) (mlmodel.MLMetadata, error) {
	return m.metadata, nil
}

// Close releases the session and its tensors.
func (m *Model) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destroy()
}

func (m *Model) destroy() error {
	var err error
	if m.session != nil {
		err = multierr.Combine(err, m.session.Destroy())
		m.session = nil
	}
	if m.input != nil {
		err = multierr.Combine(err, m.input.destroy())
		m.input = nil
	}
	for _, out := range m.outputs {
		err = multierr.Combine(err, out.destroy())
	}
	m.outputs = nil
	return err
}
