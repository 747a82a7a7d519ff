package main

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"gorgonia.org/tensor"

	"go.viam.com/tinyyolo/ml"
	"go.viam.com/tinyyolo/services/mlmodel"
	"go.viam.com/tinyyolo/vision/yolo"
)

const (
	backgroundLogit = -30
	objectLogit     = 6
)

// syntheticModel replays count outputs in which a single object walks along the middle row of
// the coarsest grid, changing class every step. Every configured grid gets a head named
// output<i>, smallest grid first.
func syntheticModel(grids []int, numClasses, count int) *mlmodel.ReplayModel {
	perAnchor := numClasses + 5
	channels := yolo.AnchorsPerHead * perAnchor
	outputs := make([]ml.Tensors, 0, count)
	for step := 0; step < count; step++ {
		out := make(ml.Tensors, len(grids))
		for i, grid := range grids {
			plane := grid * grid
			data := make([]float32, channels*plane)
			for j := range data {
				data[j] = backgroundLogit
			}
			if i == 0 {
				cell := (grid/2)*grid + step%grid
				for ch := 0; ch < 4; ch++ {
					data[ch*plane+cell] = 0
				}
				data[4*plane+cell] = objectLogit
				data[(5+step%numClasses)*plane+cell] = objectLogit
			}
			out[fmt.Sprintf("output%d", i)] = tensor.New(
				tensor.WithShape(1, channels, grid, grid), tensor.WithBacking(data))
		}
		outputs = append(outputs, out)
	}
	return mlmodel.NewReplayModel("synthetic", outputs...)
}

// syntheticFrame is a flat gray frame whose shade changes with i.
func syntheticFrame(size, i int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	shade := uint8(64 + (i*16)%128)
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: shade, G: shade, B: shade, A: 255}}, image.Point{}, draw.Src)
	return img
}
