package yolo

import (
	"image"

	"github.com/disintegration/imaging"
	"gorgonia.org/tensor"

	"go.viam.com/tinyyolo/utils"
)

// Preprocess scales img to size x size, ignoring its aspect ratio so detections stay normalized
// to the full frame, and returns it as a [1, 3, size, size] float32 tensor in [0, 1].
func Preprocess(img image.Image, size int) *tensor.Dense {
	resized := imaging.Resize(img, size, size, imaging.Linear)
	plane := size * size
	buf := make([]float32, 3*plane)
	utils.ParallelForEachRow(size, func(y int) {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < size; x++ {
			px := row[x*4:]
			i := y*size + x
			buf[i] = float32(px[0]) / 255
			buf[plane+i] = float32(px[1]) / 255
			buf[2*plane+i] = float32(px[2]) / 255
		}
	})
	return tensor.New(tensor.WithShape(1, 3, size, size), tensor.WithBacking(buf))
}
