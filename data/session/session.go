// Package session records a detection session as JSON lines: a start event, one event per
// processed frame or pinned detection, and a stop event.
package session

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"

	"go.viam.com/tinyyolo/vision/objectdetection"
)

// EventType discriminates session events.
type EventType string

// The event types of a session file.
const (
	EventStart EventType = "start"
	EventFrame EventType = "frame"
	EventPin   EventType = "pin"
	EventStop  EventType = "stop"
)

// Pose is a camera pose: translation x,y,z and rotation quaternion x,y,z,w.
type Pose struct {
	T [3]float32 `json:"t"`
	Q [4]float32 `json:"q"`
}

// PoseFromMatrix extracts a pose from a column-major 4x4 rigid transform.
func PoseFromMatrix(m [16]float32) Pose {
	mat := mgl32.Mat4(m)
	t := mat.Col(3)
	q := mgl32.Mat4ToQuat(mat).Normalize()
	return Pose{
		T: [3]float32{t.X(), t.Y(), t.Z()},
		Q: [4]float32{q.X(), q.Y(), q.Z(), q.W},
	}
}

// Detection is the recorded form of a detection. BBox is x,y,w,h, normalized, top-left origin.
type Detection struct {
	Label string     `json:"label"`
	Score float64    `json:"score"`
	BBox  [4]float64 `json:"bbox"`
}

// NewDetection converts a decoded detection into its recorded form.
func NewDetection(d objectdetection.Detection) Detection {
	r := d.Rect()
	return Detection{Label: d.Label(), Score: d.Score(), BBox: [4]float64{r.X, r.Y, r.W, r.H}}
}

// Telemetry is device state sampled alongside a frame.
type Telemetry struct {
	Thermal string   `json:"thermal"`
	Battery float64  `json:"battery"`
	ODFPS   *float64 `json:"od_fps,omitempty"`
}

// Event is one line of a session file. Frame events always carry a detections array, empty
// when nothing was detected; other events omit it.
type Event struct {
	Type       EventType         `json:"type"`
	TS         float64           `json:"ts"`
	Pose       *Pose             `json:"pose,omitempty"`
	Detections []Detection       `json:"detections,omitempty"`
	Pin        *Detection        `json:"pin,omitempty"`
	World      []float32         `json:"world,omitempty"`
	Telemetry  *Telemetry        `json:"telemetry,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	if e.Type != EventFrame {
		return json.Marshal(plain(e))
	}
	dets := e.Detections
	if dets == nil {
		dets = []Detection{}
	}
	return json.Marshal(struct {
		plain
		Detections []Detection `json:"detections"`
	}{plain(e), dets})
}

// ReadEvents decodes every event of a session file.
func ReadEvents(r io.Reader) ([]Event, error) {
	var events []Event
	dec := json.NewDecoder(bufio.NewReader(r))
	for {
		var ev Event
		err := dec.Decode(&ev)
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, errors.Wrapf(err, "decoding session event %d", len(events))
		}
		events = append(events, ev)
	}
}
