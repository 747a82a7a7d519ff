package objectdetection

// ObservationLabel is one candidate classification reported by an upstream detector.
type ObservationLabel struct {
	Identifier string  `json:"identifier"`
	Confidence float64 `json:"confidence"`
}

// Observation is a recognized object from a detector that does its own decoding. Labels are
// ordered best first and the bounding box is normalized with a bottom-left origin.
type Observation struct {
	Labels      []ObservationLabel `json:"labels"`
	BoundingBox Rect               `json:"bounding_box"`
}

// PassthroughConfig bounds what is kept from upstream observations.
type PassthroughConfig struct {
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence" mapstructure:"min_confidence"`
	MaxBoxes      int     `json:"max_boxes" yaml:"max_boxes" mapstructure:"max_boxes"`
}

// DefaultPassthroughConfig keeps up to 20 boxes with a confidence of at least 0.30.
var DefaultPassthroughConfig = PassthroughConfig{MinConfidence: 0.30, MaxBoxes: 20}

// FromObservations converts upstream observations into top-left origin detections of
// UnknownClass, drops those under the minimum confidence, sorts by score and caps the count.
// Observations without any label are skipped.
func FromObservations(obs []Observation, cfg PassthroughConfig) []Detection {
	dets := make([]Detection, 0, len(obs))
	for _, o := range obs {
		if len(o.Labels) == 0 {
			continue
		}
		top := o.Labels[0]
		dets = append(dets, NewDetection(UnknownClass, top.Identifier, top.Confidence, o.BoundingBox.FlipY()))
	}
	return Compose(
		NewScoreFilter(cfg.MinConfidence),
		SortByScore,
		NewMaxBoxesFilter(cfg.MaxBoxes),
	)(dets)
}
