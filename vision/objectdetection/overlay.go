package objectdetection

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/pkg/errors"
	"golang.org/x/image/font/gofont/goregular"
)

var font *truetype.Font

func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

var (
	boxColor     = color.NRGBA{0, 255, 0, 255}
	captionFill  = color.NRGBA{0, 0, 0, 153}
	captionColor = color.White
)

const (
	boxLineWidth   = 2.0
	captionSize    = 12.0
	captionPadding = 4.0
	captionOffset  = 18
)

// Overlay returns a copy of img with each detection drawn as a box and a "label NN%" caption
// placed just above it.
func Overlay(img image.Image, dets []Detection) (image.Image, error) {
	if img == nil {
		return nil, errors.New("cannot overlay detections on a nil image")
	}
	dc := gg.NewContextForImage(img)
	dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: captionSize}))
	bounds := image.Rect(0, 0, dc.Width(), dc.Height())

	for _, d := range dets {
		box := d.Rect().Denormalize(bounds)
		if box.Empty() {
			continue
		}
		dc.SetColor(boxColor)
		dc.SetLineWidth(boxLineWidth)
		dc.DrawRectangle(float64(box.Min.X), float64(box.Min.Y), float64(box.Dx()), float64(box.Dy()))
		dc.Stroke()

		caption := fmt.Sprintf("%s %d%%", d.Label(), int(d.Score()*100))
		w, h := dc.MeasureString(caption)
		x := float64(box.Min.X)
		y := float64(box.Min.Y - captionOffset)
		if y < 0 {
			y = 0
		}
		dc.SetColor(captionFill)
		dc.DrawRectangle(x, y, w+2*captionPadding, h+2*captionPadding)
		dc.Fill()
		dc.SetColor(captionColor)
		dc.DrawStringAnchored(caption, x+captionPadding, y+captionPadding, 0, 1)
	}
	return dc.Image(), nil
}
