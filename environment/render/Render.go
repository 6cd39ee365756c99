// Package render converts drawings made with gg into image
// observations
package render

import (
	"image"

	"github.com/fogleman/gg"
	"gonum.org/v1/gonum/mat"
)

// Channels is the number of channels in a rendered observation
const Channels = 3

// ToCHW returns the RGB pixels of the context as a vector in
// (channel, height, width) order with values in [0, 255]
func ToCHW(dc *gg.Context) *mat.VecDense {
	img := dc.Image()
	bounds := img.Bounds()
	h, w := bounds.Dy(), bounds.Dx()
	data := make([]float64, Channels*h*w)

	rgba, ok := img.(*image.RGBA)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var r, g, b float64
			if ok {
				i := rgba.PixOffset(bounds.Min.X+x, bounds.Min.Y+y)
				r = float64(rgba.Pix[i])
				g = float64(rgba.Pix[i+1])
				b = float64(rgba.Pix[i+2])
			} else {
				cr, cg, cb, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
				r, g, b = float64(cr>>8), float64(cg>>8), float64(cb>>8)
			}
			data[y*w+x] = r
			data[h*w+y*w+x] = g
			data[2*h*w+y*w+x] = b
		}
	}
	return mat.NewVecDense(len(data), data)
}
