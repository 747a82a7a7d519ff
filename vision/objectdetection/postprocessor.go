package objectdetection

import (
	"sort"

	"github.com/samber/lo"
)

// Postprocessor defines a function that filters/modifies on an incoming array of Detections.
type Postprocessor func([]Detection) []Detection

// NewAreaFilter returns a function that filters out detections below a certain normalized area.
func NewAreaFilter(area float64) Postprocessor {
	return func(in []Detection) []Detection {
		out := make([]Detection, 0, len(in))
		for _, d := range in {
			if d.Rect().Area() >= area {
				out = append(out, d)
			}
		}
		return out
	}
}

// NewScoreFilter returns a function that filters out detections below a certain confidence.
func NewScoreFilter(conf float64) Postprocessor {
	return func(in []Detection) []Detection {
		out := make([]Detection, 0, len(in))
		for _, d := range in {
			if d.Score() >= conf {
				out = append(out, d)
			}
		}
		return out
	}
}

// NewLabelFilter keeps only detections whose label is in labels. An empty list keeps everything.
func NewLabelFilter(labels []string) Postprocessor {
	keep := lo.Keyify(labels)
	return func(in []Detection) []Detection {
		if len(keep) == 0 {
			return in
		}
		return lo.Filter(in, func(d Detection, _ int) bool {
			_, ok := keep[d.Label()]
			return ok
		})
	}
}

// SortByScore orders detections by descending score. Ties keep their input order.
func SortByScore(in []Detection) []Detection {
	out := append([]Detection(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score() > out[j].Score() })
	return out
}

// NewMaxBoxesFilter keeps the first n detections. Pair it with SortByScore to keep the best n.
func NewMaxBoxesFilter(n int) Postprocessor {
	return func(in []Detection) []Detection {
		if n < 0 || len(in) <= n {
			return in
		}
		return in[:n]
	}
}

// Compose chains postprocessors, applying them left to right. Nil entries are skipped.
func Compose(posts ...Postprocessor) Postprocessor {
	return func(in []Detection) []Detection {
		out := in
		for _, p := range posts {
			if p != nil {
				out = p(out)
			}
		}
		return out
	}
}
