package objectdetection

import (
	"sort"

	"github.com/samber/lo"
)

// DefaultIoUThreshold is the overlap above which a lower scoring same-class box is suppressed.
const DefaultIoUThreshold = 0.45

// NonMaxSuppression greedily keeps the highest scoring detections of each class, dropping any
// detection whose IoU with an already kept detection of the same class exceeds iouThreshold.
// Detections of different classes never suppress each other. The output is ordered by class
// index, then by descending score.
func NonMaxSuppression(dets []Detection, iouThreshold float64) []Detection {
	if len(dets) == 0 {
		return []Detection{}
	}
	groups := lo.GroupBy(dets, func(d Detection) int { return d.ClassIndex() })
	classes := lo.Keys(groups)
	sort.Ints(classes)

	out := make([]Detection, 0, len(dets))
	for _, class := range classes {
		group := append([]Detection(nil), groups[class]...)
		sort.SliceStable(group, func(i, j int) bool { return group[i].Score() > group[j].Score() })

		kept := make([]Detection, 0, len(group))
		for _, d := range group {
			suppressed := lo.ContainsBy(kept, func(k Detection) bool {
				return IoU(d.Rect(), k.Rect()) > iouThreshold
			})
			if !suppressed {
				kept = append(kept, d)
			}
		}
		out = append(out, kept...)
	}
	return out
}

// NewNMSFilter wraps NonMaxSuppression as a Postprocessor.
func NewNMSFilter(iouThreshold float64) Postprocessor {
	return func(in []Detection) []Detection {
		return NonMaxSuppression(in, iouThreshold)
	}
}
