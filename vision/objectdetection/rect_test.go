package objectdetection

import (
	"image"
	"math"
	"testing"

	"go.viam.com/test"
)

func TestIoU(t *testing.T) {
	a := Rect{0.1, 0.1, 0.4, 0.4}
	test.That(t, IoU(a, a), test.ShouldAlmostEqual, 1.0)

	disjoint := Rect{0.6, 0.6, 0.2, 0.2}
	test.That(t, IoU(a, disjoint), test.ShouldEqual, 0.0)

	// touching edges do not overlap
	touching := Rect{0.5, 0.1, 0.2, 0.4}
	test.That(t, IoU(a, touching), test.ShouldEqual, 0.0)

	half := Rect{0.3, 0.1, 0.4, 0.4}
	// intersection 0.2*0.4, union 2*0.16-0.08
	test.That(t, IoU(a, half), test.ShouldAlmostEqual, 0.08/0.24)
	test.That(t, IoU(half, a), test.ShouldEqual, IoU(a, half))

	test.That(t, IoU(a, Rect{0.2, 0.2, 0, 0.1}), test.ShouldEqual, 0.0)
	test.That(t, IoU(Rect{0.2, 0.2, 0.1, -0.1}, a), test.ShouldEqual, 0.0)

	inside := Rect{0.2, 0.2, 0.1, 0.1}
	test.That(t, IoU(a, inside), test.ShouldAlmostEqual, 0.01/0.16)
}

func TestRectHelpers(t *testing.T) {
	r := Rect{-0.1, 0.9, 0.3, 0.3}
	clipped := r.Clip()
	test.That(t, clipped.X, test.ShouldEqual, 0.0)
	test.That(t, clipped.Y, test.ShouldEqual, 0.9)
	test.That(t, clipped.W, test.ShouldAlmostEqual, 0.2)
	test.That(t, clipped.H, test.ShouldAlmostEqual, 0.1)

	test.That(t, Rect{1.2, 0.2, 0.1, 0.1}.Clip().Empty(), test.ShouldBeTrue)

	flipped := Rect{0.1, 0.2, 0.3, 0.4}.FlipY()
	test.That(t, flipped.X, test.ShouldEqual, 0.1)
	test.That(t, flipped.Y, test.ShouldAlmostEqual, 0.4)
	test.That(t, flipped.FlipY().Y, test.ShouldAlmostEqual, 0.2)

	cx, cy := Rect{0.2, 0.4, 0.2, 0.2}.Center()
	test.That(t, cx, test.ShouldAlmostEqual, 0.3)
	test.That(t, cy, test.ShouldAlmostEqual, 0.5)

	px := Rect{0.25, 0.5, 0.5, 0.25}.Denormalize(image.Rect(0, 0, 400, 200))
	test.That(t, px, test.ShouldResemble, image.Rect(100, 100, 300, 150))
	px = Rect{0.5, 0.5, 0.9, 0.9}.Denormalize(image.Rect(0, 0, 100, 100))
	test.That(t, px, test.ShouldResemble, image.Rect(50, 50, 100, 100))
}

func TestRectNonFinite(t *testing.T) {
	nan := math.NaN()
	test.That(t, Rect{0.1, 0.1, nan, 0.2}.Empty(), test.ShouldBeTrue)
	test.That(t, Rect{0.1, 0.1, 0.2, nan}.Area(), test.ShouldEqual, 0.0)
	test.That(t, Rect{nan, 0.1, 0.2, 0.2}.Clip().Empty(), test.ShouldBeTrue)
	test.That(t, Rect{math.Inf(-1), 0.1, math.Inf(1), 0.2}.Clip().Empty(), test.ShouldBeTrue)

	a := Rect{0.1, 0.1, 0.4, 0.4}
	test.That(t, IoU(a, Rect{nan, nan, nan, nan}), test.ShouldEqual, 0.0)
	test.That(t, IoU(Rect{0.1, 0.1, 0.4, nan}, a), test.ShouldEqual, 0.0)
}
