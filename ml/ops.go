package ml

import (
	"fmt"
	"math"

	"github.com/chewxy/math32"
	"github.com/pdevine/tensor"
)

func sameShape(a, b *Tensor) bool {
	as, bs := a.Shape(), b.Shape()
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// Add returns the elementwise sum of two same-shape tensors.
func (t *Tensor) Add(u *Tensor) *Tensor {
	if !sameShape(t, u) {
		panic(fmt.Sprintf("ml: add shape mismatch %v vs %v", t.Shape(), u.Shape()))
	}
	r, err := tensor.Add(t.d, u.d)
	if err != nil {
		panic(fmt.Sprintf("ml: add: %v", err))
	}
	return &Tensor{d: r.(*tensor.Dense)}
}

// Mul returns the elementwise product of two same-shape tensors.
func (t *Tensor) Mul(u *Tensor) *Tensor {
	if !sameShape(t, u) {
		panic(fmt.Sprintf("ml: mul shape mismatch %v vs %v", t.Shape(), u.Shape()))
	}
	r, err := tensor.Mul(t.d, u.d)
	if err != nil {
		panic(fmt.Sprintf("ml: mul: %v", err))
	}
	return &Tensor{d: r.(*tensor.Dense)}
}

// Scale multiplies every element by s.
func (t *Tensor) Scale(s float32) *Tensor {
	return t.apply(func(v float32) float32 { return v * s })
}

// AddScalar adds s to every element.
func (t *Tensor) AddScalar(s float32) *Tensor {
	return t.apply(func(v float32) float32 { return v + s })
}

func (t *Tensor) apply(fn func(float32) float32) *Tensor {
	src := t.Floats()
	dst := make([]float32, len(src))
	for i, v := range src {
		dst[i] = fn(v)
	}
	return FromSlice(dst, t.Shape()...)
}

// ReLU clamps negative elements to zero.
func (t *Tensor) ReLU() *Tensor {
	return t.apply(func(v float32) float32 {
		if v < 0 {
			return 0
		}
		return v
	})
}

// GELU applies the exact (erf-based) Gaussian error linear unit.
func (t *Tensor) GELU() *Tensor {
	const invSqrt2 = 1 / math.Sqrt2
	return t.apply(func(v float32) float32 {
		return 0.5 * v * (1 + math32.Erf(v*invSqrt2))
	})
}

// Sigmoid applies the logistic function.
func (t *Tensor) Sigmoid() *Tensor {
	return t.apply(func(v float32) float32 {
		return 1 / (1 + math32.Exp(-v))
	})
}

// Softmax normalizes along the given axis with the usual max-shift for
// stability.
func (t *Tensor) Softmax(axis int) *Tensor {
	shape := t.Shape()
	if axis < 0 || axis >= len(shape) {
		panic(fmt.Sprintf("ml: softmax axis %d out of range for %v", axis, shape))
	}
	n := shape[axis]
	inner := 1
	for i := axis + 1; i < len(shape); i++ {
		inner *= shape[i]
	}
	outer := t.Numel() / (n * inner)

	src := t.Floats()
	dst := make([]float32, len(src))
	for o := 0; o < outer; o++ {
		for in := 0; in < inner; in++ {
			base := o*n*inner + in
			max := src[base]
			for i := 1; i < n; i++ {
				if v := src[base+i*inner]; v > max {
					max = v
				}
			}
			var sum float32
			for i := 0; i < n; i++ {
				e := math32.Exp(src[base+i*inner] - max)
				dst[base+i*inner] = e
				sum += e
			}
			inv := 1 / sum
			for i := 0; i < n; i++ {
				dst[base+i*inner] *= inv
			}
		}
	}
	return FromSlice(dst, shape...)
}

// LayerNorm normalizes over the last axis, then applies the learned scale
// and shift.
func (t *Tensor) LayerNorm(weight, bias *Tensor, eps float32) *Tensor {
	shape := t.Shape()
	n := shape[len(shape)-1]
	if weight.Numel() != n || bias.Numel() != n {
		panic(fmt.Sprintf("ml: layernorm params %d/%d do not match dim %d", weight.Numel(), bias.Numel(), n))
	}
	src := t.Floats()
	w := weight.Floats()
	b := bias.Floats()
	dst := make([]float32, len(src))
	for base := 0; base < len(src); base += n {
		var mean float32
		for i := 0; i < n; i++ {
			mean += src[base+i]
		}
		mean /= float32(n)
		var varsum float32
		for i := 0; i < n; i++ {
			d := src[base+i] - mean
			varsum += d * d
		}
		inv := 1 / math32.Sqrt(varsum/float32(n)+eps)
		for i := 0; i < n; i++ {
			dst[base+i] = (src[base+i]-mean)*inv*w[i] + b[i]
		}
	}
	return FromSlice(dst, shape...)
}

// BatchNorm applies per-channel normalization to an NCHW tensor using the
// running statistics.
func (t *Tensor) BatchNorm(weight, bias, mean, variance *Tensor, eps float32) *Tensor {
	shape := t.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("ml: batchnorm expects NCHW, got %v", shape))
	}
	c := shape[1]
	if weight.Numel() != c {
		panic(fmt.Sprintf("ml: batchnorm params %d do not match %d channels", weight.Numel(), c))
	}
	hw := shape[2] * shape[3]
	src := t.Floats()
	dst := make([]float32, len(src))
	w := weight.Floats()
	b := bias.Floats()
	mu := mean.Floats()
	va := variance.Floats()
	for n := 0; n < shape[0]; n++ {
		for ch := 0; ch < c; ch++ {
			scale := w[ch] / math32.Sqrt(va[ch]+eps)
			shift := b[ch] - mu[ch]*scale
			base := (n*c + ch) * hw
			for i := 0; i < hw; i++ {
				dst[base+i] = src[base+i]*scale + shift
			}
		}
	}
	return FromSlice(dst, shape...)
}
