// Package objectdetection defines detections over normalized image coordinates, together with the
// postprocessing applied to them: score filtering, non-max suppression and overlays.
package objectdetection

import (
	"fmt"

	"github.com/google/uuid"
)

// UnknownClass is the class index of detections whose class is not part of the decoder's label
// set, e.g. results handed over by an upstream detector.
const UnknownClass = -1

// Detection returns a normalized bounding box around the object, its class and a confidence score.
type Detection interface {
	ID() uuid.UUID
	ClassIndex() int
	Label() string
	Score() float64
	Rect() Rect
}

// NewDetection creates a detection. rect is normalized with a top-left origin.
func NewDetection(classIndex int, label string, score float64, rect Rect) Detection {
	return &detection2D{id: uuid.New(), classIndex: classIndex, label: label, score: score, rect: rect}
}

// detection2D is a bounding box around an object with a label and a confidence score.
type detection2D struct {
	id         uuid.UUID
	classIndex int
	label      string
	score      float64
	rect       Rect
}

func (d *detection2D) ID() uuid.UUID   { return d.id }
func (d *detection2D) ClassIndex() int { return d.classIndex }
func (d *detection2D) Label() string   { return d.label }
func (d *detection2D) Score() float64  { return d.score }
func (d *detection2D) Rect() Rect      { return d.rect }

func (d *detection2D) String() string {
	return fmt.Sprintf("Label: %s(%d), Score: %.2f, Box: %v", d.label, d.classIndex, d.score, d.rect)
}
