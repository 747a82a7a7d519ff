// Package config defines the configuration of a tinyyolo detection pipeline.
package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"

	"go.viam.com/tinyyolo/data/session"
	"go.viam.com/tinyyolo/logging"
	"go.viam.com/tinyyolo/services/mlmodel/onnxcpu"
	"go.viam.com/tinyyolo/utils"
	"go.viam.com/tinyyolo/vision/objectdetection"
	"go.viam.com/tinyyolo/vision/scheduler"
	"go.viam.com/tinyyolo/vision/yolo"
)

// Config is fixed once a pipeline is constructed.
type Config struct {
	ScoreThreshold        float64                           `json:"score_threshold" yaml:"score_threshold" mapstructure:"score_threshold"`
	IoUThreshold          float64                           `json:"iou_threshold" yaml:"iou_threshold" mapstructure:"iou_threshold"`
	MinInvocationInterval time.Duration                     `json:"min_invocation_interval" yaml:"min_invocation_interval" mapstructure:"min_invocation_interval"`
	Anchors               [][2]float32                      `json:"anchors" yaml:"anchors" mapstructure:"anchors"`
	GridMasks             map[int][]int                     `json:"grid_masks" yaml:"grid_masks" mapstructure:"grid_masks"`
	NumClasses            int                               `json:"num_classes" yaml:"num_classes" mapstructure:"num_classes"`
	InputSize             int                               `json:"input_size" yaml:"input_size" mapstructure:"input_size"`
	Labels                []string                          `json:"labels,omitempty" yaml:"labels,omitempty" mapstructure:"labels"`
	LabelsPath            string                            `json:"labels_path,omitempty" yaml:"labels_path,omitempty" mapstructure:"labels_path"`
	Passthrough           objectdetection.PassthroughConfig `json:"passthrough" yaml:"passthrough" mapstructure:"passthrough"`
	Session               *session.Config                   `json:"session,omitempty" yaml:"session,omitempty" mapstructure:"session"`
	Model                 *onnxcpu.Config                   `json:"model,omitempty" yaml:"model,omitempty" mapstructure:"model"`
	LogLevel              string                            `json:"log_level,omitempty" yaml:"log_level,omitempty" mapstructure:"log_level"`

	// ConfigFilePath is the file the config was read from, if any.
	ConfigFilePath string `json:"-" yaml:"-" mapstructure:"-"`
}

// Default is YOLOv3-Tiny on COCO at about 8 Hz.
func Default() *Config {
	anchors := yolo.DefaultAnchors()
	pairs := make([][2]float32, 0, len(anchors))
	for _, a := range anchors {
		pairs = append(pairs, [2]float32{a.Width, a.Height})
	}
	return &Config{
		ScoreThreshold:        yolo.DefaultScoreThreshold,
		IoUThreshold:          objectdetection.DefaultIoUThreshold,
		MinInvocationInterval: scheduler.DefaultMinInterval,
		Anchors:               pairs,
		GridMasks:             yolo.DefaultMasks(),
		NumClasses:            yolo.DefaultNumClasses,
		InputSize:             yolo.DefaultInputSize,
		Passthrough:           objectdetection.DefaultPassthroughConfig,
	}
}

// Validate ensures all parts of the config are valid.
func (c *Config) Validate(path string) error {
	if len(c.Anchors) == 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "anchors")
	}
	if len(c.GridMasks) == 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "grid_masks")
	}
	if c.Labels != nil && c.LabelsPath != "" {
		return utils.NewConfigValidationError(path, errors.New("labels and labels_path are mutually exclusive"))
	}
	if c.MinInvocationInterval < 0 {
		return utils.NewConfigValidationError(path,
			errors.Errorf("min_invocation_interval must not be negative, got %v", c.MinInvocationInterval))
	}
	if c.LogLevel != "" {
		if _, err := logging.LevelFromString(c.LogLevel); err != nil {
			return utils.NewConfigValidationError(path, err)
		}
	}
	if c.Passthrough.MinConfidence < 0 || c.Passthrough.MinConfidence > 1 {
		return utils.NewConfigValidationError(path,
			errors.Errorf("passthrough.min_confidence must be in [0, 1], got %v", c.Passthrough.MinConfidence))
	}
	decoderCfg := c.decoderConfig(nil)
	if err := decoderCfg.Validate(); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	if c.Session != nil && c.Session.Dir == "" {
		return utils.NewConfigValidationFieldRequiredError(fmt.Sprintf("%s.session", path), "dir")
	}
	if c.Model != nil {
		if err := c.Model.Validate(fmt.Sprintf("%s.model", path)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) decoderConfig(labels []string) yolo.DecoderConfig {
	anchors := make([]yolo.Anchor, 0, len(c.Anchors))
	for _, pair := range c.Anchors {
		anchors = append(anchors, yolo.Anchor{Width: pair[0], Height: pair[1]})
	}
	return yolo.DecoderConfig{
		Anchors:        anchors,
		Masks:          c.GridMasks,
		NumClasses:     c.NumClasses,
		InputSize:      c.InputSize,
		ScoreThreshold: c.ScoreThreshold,
		IoUThreshold:   c.IoUThreshold,
		Labels:         labels,
	}
}

// DecoderConfig resolves the labels, reading labels_path if set, and returns the decoder
// configuration. Without labels or labels_path the COCO labels are used.
func (c *Config) DecoderConfig() (yolo.DecoderConfig, error) {
	labels := c.Labels
	switch {
	case c.LabelsPath != "":
		var err error
		labels, err = yolo.ReadLabelsFile(c.LabelsPath)
		if err != nil {
			return yolo.DecoderConfig{}, errors.Wrap(err, "reading labels_path")
		}
	case labels == nil:
		labels = yolo.CocoLabels()
	}
	return c.decoderConfig(labels), nil
}

// SchedulerConfig is the scheduler part of the config.
func (c *Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{MinInterval: c.MinInvocationInterval}
}

// Level is the configured log level, INFO when unset.
func (c *Config) Level() logging.Level {
	level, err := logging.LevelFromString(c.LogLevel)
	if err != nil {
		return logging.INFO
	}
	return level
}

// Grids lists the configured grid sizes in ascending order.
func (c *Config) Grids() []int {
	grids := make([]int, 0, len(c.GridMasks))
	for grid := range c.GridMasks {
		grids = append(grids, grid)
	}
	sort.Ints(grids)
	return grids
}
