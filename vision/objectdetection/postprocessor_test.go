package objectdetection

import (
	"testing"

	"go.viam.com/test"
)

func TestPostprocessors(t *testing.T) {
	dets := []Detection{
		NewDetection(0, "person", 0.35, Rect{0, 0, 0.5, 0.5}),
		NewDetection(2, "car", 0.9, Rect{0, 0, 0.1, 0.1}),
		NewDetection(0, "person", 0.6, Rect{0.5, 0.5, 0.2, 0.2}),
		NewDetection(16, "dog", 0.2, Rect{0.1, 0.1, 0.3, 0.3}),
	}

	test.That(t, NewScoreFilter(0.35)(dets), test.ShouldHaveLength, 3)
	test.That(t, NewAreaFilter(0.04)(dets), test.ShouldHaveLength, 3)
	test.That(t, labels(NewLabelFilter([]string{"dog", "car"})(dets)), test.ShouldResemble, []string{"car", "dog"})
	test.That(t, NewLabelFilter(nil)(dets), test.ShouldHaveLength, 4)

	sorted := SortByScore(dets)
	test.That(t, sorted[0].Score(), test.ShouldEqual, 0.9)
	test.That(t, sorted[3].Score(), test.ShouldEqual, 0.2)
	// input untouched
	test.That(t, dets[0].Score(), test.ShouldEqual, 0.35)

	test.That(t, NewMaxBoxesFilter(2)(sorted), test.ShouldHaveLength, 2)
	test.That(t, NewMaxBoxesFilter(10)(sorted), test.ShouldHaveLength, 4)

	pipeline := Compose(NewScoreFilter(0.3), nil, SortByScore, NewMaxBoxesFilter(1))
	out := pipeline(dets)
	test.That(t, out, test.ShouldHaveLength, 1)
	test.That(t, out[0].Label(), test.ShouldEqual, "car")
}
