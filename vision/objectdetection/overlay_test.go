package objectdetection

import (
	"image"
	"image/color"
	"testing"

	"go.viam.com/test"
)

func TestOverlay(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 200; x++ {
			img.Set(x, y, color.Black)
		}
	}
	dets := []Detection{NewDetection(0, "person", 0.87, Rect{0.25, 0.4, 0.5, 0.5})}

	out, err := Overlay(img, dets)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Bounds(), test.ShouldResemble, img.Bounds())

	// left edge of the box at x=50, well below the caption
	r, g, b, _ := out.At(50, 80).RGBA()
	test.That(t, g>>8, test.ShouldBeGreaterThan, 200)
	test.That(t, r>>8, test.ShouldBeLessThan, 50)
	test.That(t, b>>8, test.ShouldBeLessThan, 50)

	// center of the box is untouched
	r, g, b, _ = out.At(100, 70).RGBA()
	test.That(t, r|g|b, test.ShouldEqual, 0)

	// the source image is not modified
	_, g, _, _ = img.At(50, 80).RGBA()
	test.That(t, g, test.ShouldEqual, 0)

	_, err = Overlay(nil, dets)
	test.That(t, err, test.ShouldNotBeNil)
}
