// Package imageproc converts images into normalized model input tensors.
package imageproc

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"salientnet/ml"
)

var (
	ImageNetDefaultMean = [3]float32{0.485, 0.456, 0.406}
	ImageNetDefaultSTD  = [3]float32{0.229, 0.224, 0.225}
)

const (
	ResizeBilinear = iota
	ResizeNearestNeighbor
	ResizeApproxBilinear
	ResizeCatmullrom
)

// Composite returns an image with the alpha channel removed by drawing
// over a white background.
func Composite(img image.Image) image.Image {
	dst := image.NewRGBA(img.Bounds())
	draw.Draw(dst, dst.Bounds(), &image.Uniform{color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Over)
	return dst
}

// Resize scales an image to newSize.
func Resize(img image.Image, newSize image.Point, method int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, newSize.X, newSize.Y))

	kernels := map[int]draw.Interpolator{
		ResizeBilinear:        draw.BiLinear,
		ResizeNearestNeighbor: draw.NearestNeighbor,
		ResizeApproxBilinear:  draw.ApproxBiLinear,
		ResizeCatmullrom:      draw.CatmullRom,
	}

	kernel, ok := kernels[method]
	if !ok {
		panic("imageproc: no resizing method found")
	}

	kernel.Scale(dst, dst.Rect, img, img.Bounds(), draw.Over, nil)
	return dst
}

// Normalize rescales pixels to [0,1] and standardizes each channel,
// returning a [1, 3, H, W] tensor.
func Normalize(img image.Image, mean, std [3]float32) *ml.Tensor {
	bounds := img.Bounds()
	h, w := bounds.Dy(), bounds.Dx()
	data := make([]float32, 3*h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			i := y*w + x
			data[i] = (float32(r>>8)/255 - mean[0]) / std[0]
			data[h*w+i] = (float32(g>>8)/255 - mean[1]) / std[1]
			data[2*h*w+i] = (float32(b>>8)/255 - mean[2]) / std[2]
		}
	}
	return ml.FromSlice(data, 1, 3, h, w)
}

// NormalizeGray treats img as single channel and replicates it across all
// three input channels, the usual handling for depth maps stored as
// grayscale images.
func NormalizeGray(img image.Image, mean, std [3]float32) *ml.Tensor {
	bounds := img.Bounds()
	h, w := bounds.Dy(), bounds.Dx()
	data := make([]float32, 3*h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gray := color.GrayModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray)
			v := float32(gray.Y) / 255
			i := y*w + x
			for c := 0; c < 3; c++ {
				data[c*h*w+i] = (v - mean[c]) / std[c]
			}
		}
	}
	return ml.FromSlice(data, 1, 3, h, w)
}

// Prepare resizes img to size x size and returns the normalized input
// tensor for the RGB stream.
func Prepare(img image.Image, size int) *ml.Tensor {
	resized := Resize(Composite(img), image.Point{size, size}, ResizeBilinear)
	return Normalize(resized, ImageNetDefaultMean, ImageNetDefaultSTD)
}

// PrepareDepth resizes a depth-like image to size x size and returns the
// normalized input tensor for the depth stream.
func PrepareDepth(img image.Image, size int) *ml.Tensor {
	resized := Resize(img, image.Point{size, size}, ResizeBilinear)
	return NormalizeGray(resized, ImageNetDefaultMean, ImageNetDefaultSTD)
}
