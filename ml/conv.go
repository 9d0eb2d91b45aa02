package ml

import (
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Conv2D convolves an NCHW tensor with weight [outC, inC, kh, kw].
func Conv2D(x, weight, bias *Tensor, strideH, strideW, padH, padW int) *Tensor {
	xs, ws := x.Shape(), weight.Shape()
	if len(xs) != 4 || len(ws) != 4 {
		panic(fmt.Sprintf("ml: conv2d expects 4D input and weight, got %v and %v", xs, ws))
	}
	if xs[1] != ws[1] {
		panic(fmt.Sprintf("ml: conv2d input channels %d do not match weight %d", xs[1], ws[1]))
	}
	b, inC, h, w := xs[0], xs[1], xs[2], xs[3]
	outC, kh, kw := ws[0], ws[2], ws[3]
	oh := (h+2*padH-kh)/strideH + 1
	ow := (w+2*padW-kw)/strideW + 1
	if oh <= 0 || ow <= 0 {
		panic(fmt.Sprintf("ml: conv2d kernel %dx%d does not fit input %dx%d", kh, kw, h, w))
	}

	src := x.Floats()
	wf := weight.Floats()
	var bf []float32
	if bias != nil {
		bf = bias.Floats()
	}
	out := make([]float32, b*outC*oh*ow)

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for n := 0; n < b; n++ {
		for oc := 0; oc < outC; oc++ {
			n, oc := n, oc
			g.Go(func() error {
				obase := (n*outC + oc) * oh * ow
				for oy := 0; oy < oh; oy++ {
					for ox := 0; ox < ow; ox++ {
						var acc float32
						if bf != nil {
							acc = bf[oc]
						}
						for ic := 0; ic < inC; ic++ {
							ibase := (n*inC + ic) * h * w
							wbase := ((oc*inC + ic) * kh) * kw
							for ky := 0; ky < kh; ky++ {
								iy := oy*strideH - padH + ky
								if iy < 0 || iy >= h {
									continue
								}
								for kx := 0; kx < kw; kx++ {
									ix := ox*strideW - padW + kx
									if ix < 0 || ix >= w {
										continue
									}
									acc += src[ibase+iy*w+ix] * wf[wbase+ky*kw+kx]
								}
							}
						}
						out[obase+oy*ow+ox] = acc
					}
				}
				return nil
			})
		}
	}
	g.Wait()

	return FromSlice(out, b, outC, oh, ow)
}

// ConvTranspose2D applies a transposed convolution with weight
// [inC, outC, kh, kw], matching the usual fractionally-strided semantics
// (stride, padding, output padding, dilation).
func ConvTranspose2D(x, weight, bias *Tensor, stride, pad, outputPad, dilation int) *Tensor {
	xs, ws := x.Shape(), weight.Shape()
	if len(xs) != 4 || len(ws) != 4 {
		panic(fmt.Sprintf("ml: convtranspose2d expects 4D input and weight, got %v and %v", xs, ws))
	}
	if xs[1] != ws[0] {
		panic(fmt.Sprintf("ml: convtranspose2d input channels %d do not match weight %d", xs[1], ws[0]))
	}
	b, inC, h, w := xs[0], xs[1], xs[2], xs[3]
	outC, kh, kw := ws[1], ws[2], ws[3]
	oh := (h-1)*stride - 2*pad + dilation*(kh-1) + 1 + outputPad
	ow := (w-1)*stride - 2*pad + dilation*(kw-1) + 1 + outputPad

	src := x.Floats()
	wf := weight.Floats()
	var bf []float32
	if bias != nil {
		bf = bias.Floats()
	}
	out := make([]float32, b*outC*oh*ow)

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for n := 0; n < b; n++ {
		for oc := 0; oc < outC; oc++ {
			n, oc := n, oc
			g.Go(func() error {
				obase := (n*outC + oc) * oh * ow
				for oy := 0; oy < oh; oy++ {
					for ox := 0; ox < ow; ox++ {
						var acc float32
						if bf != nil {
							acc = bf[oc]
						}
						for ky := 0; ky < kh; ky++ {
							ynum := oy + pad - ky*dilation
							if ynum < 0 || ynum%stride != 0 {
								continue
							}
							iy := ynum / stride
							if iy >= h {
								continue
							}
							for kx := 0; kx < kw; kx++ {
								xnum := ox + pad - kx*dilation
								if xnum < 0 || xnum%stride != 0 {
									continue
								}
								ix := xnum / stride
								if ix >= w {
									continue
								}
								for ic := 0; ic < inC; ic++ {
									sv := src[(n*inC+ic)*h*w+iy*w+ix]
									wv := wf[((ic*outC+oc)*kh+ky)*kw+kx]
									acc += sv * wv
								}
							}
						}
						out[obase+oy*ow+ox] = acc
					}
				}
				return nil
			})
		}
	}
	g.Wait()

	return FromSlice(out, b, outC, oh, ow)
}

// AvgPool2D averages kernel x kernel windows with the given stride, no
// padding.
func AvgPool2D(x *Tensor, kernel, stride int) *Tensor {
	xs := x.Shape()
	if len(xs) != 4 {
		panic(fmt.Sprintf("ml: avgpool2d expects NCHW, got %v", xs))
	}
	b, c, h, w := xs[0], xs[1], xs[2], xs[3]
	oh := (h-kernel)/stride + 1
	ow := (w-kernel)/stride + 1
	if oh <= 0 || ow <= 0 {
		panic(fmt.Sprintf("ml: avgpool2d window %d does not fit input %dx%d", kernel, h, w))
	}
	src := x.Floats()
	out := make([]float32, b*c*oh*ow)
	norm := 1 / float32(kernel*kernel)
	for nc := 0; nc < b*c; nc++ {
		ibase := nc * h * w
		obase := nc * oh * ow
		for oy := 0; oy < oh; oy++ {
			for ox := 0; ox < ow; ox++ {
				var sum float32
				for ky := 0; ky < kernel; ky++ {
					row := ibase + (oy*stride+ky)*w + ox*stride
					for kx := 0; kx < kernel; kx++ {
						sum += src[row+kx]
					}
				}
				out[obase+oy*ow+ox] = sum * norm
			}
		}
	}
	return FromSlice(out, b, c, oh, ow)
}

// MaxPool2D takes the max over kernel x kernel windows; padded positions
// are ignored.
func MaxPool2D(x *Tensor, kernel, stride, pad int) *Tensor {
	xs := x.Shape()
	if len(xs) != 4 {
		panic(fmt.Sprintf("ml: maxpool2d expects NCHW, got %v", xs))
	}
	b, c, h, w := xs[0], xs[1], xs[2], xs[3]
	oh := (h+2*pad-kernel)/stride + 1
	ow := (w+2*pad-kernel)/stride + 1
	if oh <= 0 || ow <= 0 {
		panic(fmt.Sprintf("ml: maxpool2d window %d does not fit input %dx%d", kernel, h, w))
	}
	src := x.Floats()
	out := make([]float32, b*c*oh*ow)
	for nc := 0; nc < b*c; nc++ {
		ibase := nc * h * w
		obase := nc * oh * ow
		for oy := 0; oy < oh; oy++ {
			for ox := 0; ox < ow; ox++ {
				max := float32(math.Inf(-1))
				for ky := 0; ky < kernel; ky++ {
					iy := oy*stride - pad + ky
					if iy < 0 || iy >= h {
						continue
					}
					for kx := 0; kx < kernel; kx++ {
						ix := ox*stride - pad + kx
						if ix < 0 || ix >= w {
							continue
						}
						if v := src[ibase+iy*w+ix]; v > max {
							max = v
						}
					}
				}
				out[obase+oy*ow+ox] = max
			}
		}
	}
	return FromSlice(out, b, c, oh, ow)
}

// UpsampleNearest resizes the spatial axes of an NCHW tensor by nearest
// neighbor.
func UpsampleNearest(x *Tensor, outH, outW int) *Tensor {
	xs := x.Shape()
	if len(xs) != 4 {
		panic(fmt.Sprintf("ml: upsample expects NCHW, got %v", xs))
	}
	b, c, h, w := xs[0], xs[1], xs[2], xs[3]
	if outH == h && outW == w {
		return x.Clone()
	}
	src := x.Floats()
	out := make([]float32, b*c*outH*outW)
	for nc := 0; nc < b*c; nc++ {
		ibase := nc * h * w
		obase := nc * outH * outW
		for oy := 0; oy < outH; oy++ {
			iy := oy * h / outH
			for ox := 0; ox < outW; ox++ {
				ix := ox * w / outW
				out[obase+oy*outW+ox] = src[ibase+iy*w+ix]
			}
		}
	}
	return FromSlice(out, b, c, outH, outW)
}
