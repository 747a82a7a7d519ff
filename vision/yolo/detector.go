package yolo

import (
	"context"
	"image"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"go.viam.com/tinyyolo/logging"
	"go.viam.com/tinyyolo/ml"
	"go.viam.com/tinyyolo/services/mlmodel"
	"go.viam.com/tinyyolo/vision/objectdetection"
)

// DefaultInputName is the input tensor name of the exported YOLOv3-Tiny model.
const DefaultInputName = "images"

// Detector runs frames through a model service and decodes its outputs.
type Detector struct {
	model     mlmodel.Service
	decoder   *Decoder
	inputName string
	post      objectdetection.Postprocessor
	logger    logging.Logger
}

// DetectorOption customizes a Detector.
type DetectorOption func(*Detector)

// WithInputName sets the name the preprocessed frame is passed to the model under.
func WithInputName(name string) DetectorOption {
	return func(d *Detector) { d.inputName = name }
}

// WithPostprocessor runs p on every decoded result, after non-max suppression.
func WithPostprocessor(p objectdetection.Postprocessor) DetectorOption {
	return func(d *Detector) { d.post = p }
}

// NewDetector binds a model to a decoder.
func NewDetector(model mlmodel.Service, decoder *Decoder, logger logging.Logger, opts ...DetectorOption) (*Detector, error) {
	if model == nil {
		return nil, errors.New("detector must have a model")
	}
	if decoder == nil {
		return nil, errors.New("detector must have a decoder")
	}
	d := &Detector{model: model, decoder: decoder, inputName: DefaultInputName, logger: logger}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Detect preprocesses img, runs the model and decodes the result.
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]objectdetection.Detection, error) {
	ctx, span := trace.StartSpan(ctx, "vision::yolo::Detect")
	defer span.End()
	if img == nil {
		return nil, errors.New("nil frame")
	}
	input := Preprocess(img, d.decoder.cfg.InputSize)
	return d.DetectTensors(ctx, ml.Tensors{d.inputName: input})
}

// DetectTensors runs the model on already prepared input tensors.
func (d *Detector) DetectTensors(ctx context.Context, input ml.Tensors) ([]objectdetection.Detection, error) {
	outputs, err := d.model.Infer(ctx, input)
	if err != nil {
		return nil, errors.Wrap(err, "model inference")
	}
	dets := d.decoder.DecodeTensors(ctx, outputs)
	if d.post != nil {
		dets = d.post(dets)
	}
	return dets, nil
}
