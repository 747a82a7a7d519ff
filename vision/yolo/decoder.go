// Package yolo decodes YOLOv3-Tiny detection heads into normalized detections.
package yolo

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/pkg/errors"

	"go.viam.com/tinyyolo/logging"
	"go.viam.com/tinyyolo/ml"
	"go.viam.com/tinyyolo/vision/objectdetection"
)

// DecoderConfig is the static anchor and threshold configuration of a Decoder.
type DecoderConfig struct {
	Anchors        []Anchor
	Masks          map[int][]int
	NumClasses     int
	InputSize      int
	ScoreThreshold float64
	IoUThreshold   float64
	Labels         []string
}

// DefaultDecoderConfig is YOLOv3-Tiny trained on COCO.
func DefaultDecoderConfig() DecoderConfig {
	return DecoderConfig{
		Anchors:        DefaultAnchors(),
		Masks:          DefaultMasks(),
		NumClasses:     DefaultNumClasses,
		InputSize:      DefaultInputSize,
		ScoreThreshold: DefaultScoreThreshold,
		IoUThreshold:   objectdetection.DefaultIoUThreshold,
		Labels:         CocoLabels(),
	}
}

// Validate checks the configuration for internal consistency.
func (cfg *DecoderConfig) Validate() error {
	if cfg.NumClasses <= 0 {
		return errors.Errorf("num_classes must be positive, got %d", cfg.NumClasses)
	}
	if cfg.InputSize <= 0 {
		return errors.Errorf("input_size must be positive, got %d", cfg.InputSize)
	}
	if !(cfg.ScoreThreshold >= 0 && cfg.ScoreThreshold <= 1) {
		return errors.Errorf("score_threshold must be in [0, 1], got %v", cfg.ScoreThreshold)
	}
	if !(cfg.IoUThreshold >= 0 && cfg.IoUThreshold <= 1) {
		return errors.Errorf("iou_threshold must be in [0, 1], got %v", cfg.IoUThreshold)
	}
	if len(cfg.Anchors) == 0 {
		return errors.New("at least one anchor is required")
	}
	for i, a := range cfg.Anchors {
		if a.Width <= 0 || a.Height <= 0 {
			return errors.Errorf("anchor %d has a non-positive size %vx%v", i, a.Width, a.Height)
		}
	}
	if len(cfg.Masks) == 0 {
		return errors.New("at least one grid mask is required")
	}
	for grid, mask := range cfg.Masks {
		if grid <= 0 {
			return errors.Errorf("grid size must be positive, got %d", grid)
		}
		if len(mask) != AnchorsPerHead {
			return errors.Errorf("mask for grid %d must have %d anchors, got %d", grid, AnchorsPerHead, len(mask))
		}
		for _, idx := range mask {
			if idx < 0 || idx >= len(cfg.Anchors) {
				return errors.Errorf("mask for grid %d references anchor %d of %d", grid, idx, len(cfg.Anchors))
			}
		}
	}
	return nil
}

// Decoder turns raw detection heads into detections. It is read-only after construction and may
// be shared between goroutines.
type Decoder struct {
	cfg             DecoderConfig
	valuesPerAnchor int
	logger          logging.Logger
}

// NewDecoder validates cfg and returns a Decoder.
func NewDecoder(cfg DecoderConfig, logger logging.Logger) (*Decoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Anchors = append([]Anchor(nil), cfg.Anchors...)
	masks := make(map[int][]int, len(cfg.Masks))
	for grid, mask := range cfg.Masks {
		masks[grid] = append([]int(nil), mask...)
	}
	cfg.Masks = masks
	cfg.Labels = append([]string(nil), cfg.Labels...)
	return &Decoder{cfg: cfg, valuesPerAnchor: cfg.NumClasses + 5, logger: logger}, nil
}

// ExpectedChannels is the channel count of a head: anchors per head times (classes + 5).
func (d *Decoder) ExpectedChannels() int {
	return AnchorsPerHead * d.valuesPerAnchor
}

// Label returns the name of class cls, or "cls<N>" when there is no such label.
func (d *Decoder) Label(cls int) string {
	if cls >= 0 && cls < len(d.cfg.Labels) {
		return d.cfg.Labels[cls]
	}
	return fmt.Sprintf("cls%d", cls)
}

func (d *Decoder) maskFor(v *ml.View) ([]int, bool) {
	if mask, ok := d.cfg.Masks[v.Height()]; ok {
		return mask, true
	}
	mask, ok := d.cfg.Masks[v.Width()]
	return mask, ok
}

// DecodeHead returns the candidate detections of one head whose score reaches the score
// threshold. Heads with an unexpected channel count or an unknown grid size yield nothing.
func (d *Decoder) DecodeHead(v *ml.View) []objectdetection.Detection {
	if v.Channels() != d.ExpectedChannels() {
		d.logger.Debugw("skipping head with unexpected channel count", "head", v.String(), "want", d.ExpectedChannels())
		return nil
	}
	mask, ok := d.maskFor(v)
	if !ok {
		d.logger.Debugw("skipping head with unknown grid size", "head", v.String())
		return nil
	}

	gridH, gridW := v.Height(), v.Width()
	inputSize := float64(d.cfg.InputSize)
	var out []objectdetection.Detection
	for gy := 0; gy < gridH; gy++ {
		for gx := 0; gx < gridW; gx++ {
			for a := 0; a < AnchorsPerHead; a++ {
				base := a * d.valuesPerAnchor
				objectness := ml.Sigmoid(v.At(gy, gx, base+4))
				// NaN logits fail every comparison, so gate on the passing condition
				if !(objectness >= objectnessGate) {
					continue
				}

				bestClass := 0
				var bestProb float32
				for cls := 0; cls < d.cfg.NumClasses; cls++ {
					if p := ml.Sigmoid(v.At(gy, gx, base+5+cls)); p > bestProb {
						bestProb = p
						bestClass = cls
					}
				}
				score := float64(objectness * bestProb)
				if !(score >= d.cfg.ScoreThreshold) {
					continue
				}

				anchor := d.cfg.Anchors[mask[a]]
				bx := (float64(ml.Sigmoid(v.At(gy, gx, base))) + float64(gx)) / float64(gridW)
				by := (float64(ml.Sigmoid(v.At(gy, gx, base+1))) + float64(gy)) / float64(gridH)
				bw := float64(anchor.Width) * math.Exp(float64(v.At(gy, gx, base+2))) / inputSize
				bh := float64(anchor.Height) * math.Exp(float64(v.At(gy, gx, base+3))) / inputSize

				rect := objectdetection.Rect{X: bx - bw/2, Y: by - bh/2, W: bw, H: bh}.Clip()
				if rect.Empty() {
					continue
				}
				out = append(out, objectdetection.NewDetection(bestClass, d.Label(bestClass), score, rect))
			}
		}
	}
	return out
}

// Decode decodes every head, largest first, and applies per-class non-max suppression to the
// merged candidates. No heads decode to an empty list.
func (d *Decoder) Decode(views []*ml.View) []objectdetection.Detection {
	sorted := make([]*ml.View, 0, len(views))
	for _, v := range views {
		if v != nil {
			sorted = append(sorted, v)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Len() > sorted[j].Len() })

	var candidates []objectdetection.Detection
	for _, v := range sorted {
		candidates = append(candidates, d.DecodeHead(v)...)
	}
	return objectdetection.NonMaxSuppression(candidates, d.cfg.IoUThreshold)
}

// DecodeTensors wraps each output tensor in a view and decodes them. Tensors that cannot be
// viewed as a detection head are logged and skipped.
func (d *Decoder) DecodeTensors(ctx context.Context, outputs ml.Tensors) []objectdetection.Detection {
	views := make([]*ml.View, 0, len(outputs))
	for _, name := range ml.TensorNames(outputs) {
		v, err := ml.NewViewFromDense(outputs[name], d.ExpectedChannels())
		if err != nil {
			d.logger.CDebugw(ctx, "output tensor is not a detection head", "tensor", name, "error", err)
			continue
		}
		views = append(views, v)
	}
	return d.Decode(views)
}
