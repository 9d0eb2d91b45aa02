// Package ml implements the dense float32 tensor type and the numeric
// kernels the model layers are built from. Tensors are row-major and use
// the conventional [batch, channel, height, width] and
// [batch, tokens, dim] layouts.
package ml

import (
	"fmt"

	"github.com/pdevine/tensor"
)

// Tensor wraps a dense float32 array. Operations return fresh tensors;
// reshapes share the backing slice. Shape misuse inside the graph is a
// programmer error and panics with the offending dimensions.
type Tensor struct {
	d *tensor.Dense
}

// New returns a zero-filled tensor.
func New(shape ...int) *Tensor {
	n := numel(shape)
	return FromSlice(make([]float32, n), shape...)
}

// FromSlice wraps data in a tensor of the given shape. The slice is not
// copied.
func FromSlice(data []float32, shape ...int) *Tensor {
	if len(data) != numel(shape) {
		panic(fmt.Sprintf("ml: %d elements cannot fill shape %v", len(data), shape))
	}
	return &Tensor{d: tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))}
}

func numel(shape []int) int {
	n := 1
	for _, s := range shape {
		if s <= 0 {
			panic(fmt.Sprintf("ml: invalid shape %v", shape))
		}
		n *= s
	}
	return n
}

// Shape returns a copy of the tensor's dimensions.
func (t *Tensor) Shape() []int {
	s := t.d.Shape()
	out := make([]int, len(s))
	copy(out, s)
	return out
}

// Dim returns the size of dimension i.
func (t *Tensor) Dim(i int) int { return t.d.Shape()[i] }

// Dims returns the number of dimensions.
func (t *Tensor) Dims() int { return len(t.d.Shape()) }

// Numel returns the total element count.
func (t *Tensor) Numel() int { return t.d.Shape().TotalSize() }

// Floats returns the backing slice.
func (t *Tensor) Floats() []float32 { return t.d.Data().([]float32) }

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, t.Numel())
	copy(data, t.Floats())
	return FromSlice(data, t.Shape()...)
}

// Reshape returns a tensor of the new shape sharing t's backing slice.
// The element count must be preserved.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	if numel(shape) != t.Numel() {
		panic(fmt.Sprintf("ml: cannot reshape %v to %v", t.Shape(), shape))
	}
	return FromSlice(t.Floats(), shape...)
}

func strides(shape []int) []int {
	st := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		st[i] = acc
		acc *= shape[i]
	}
	return st
}

// Permute returns a contiguous copy of t with its axes reordered.
func (t *Tensor) Permute(axes ...int) *Tensor {
	shape := t.Shape()
	if len(axes) != len(shape) {
		panic(fmt.Sprintf("ml: permute axes %v do not match shape %v", axes, shape))
	}
	outShape := make([]int, len(axes))
	for i, a := range axes {
		outShape[i] = shape[a]
	}
	src := t.Floats()
	dst := make([]float32, len(src))
	inStride := strides(shape)
	outStride := strides(outShape)
	idx := make([]int, len(shape))
	for o := range dst {
		// decompose o in the output shape, recompose in the input
		rem := o
		for i := range outShape {
			idx[i] = rem / outStride[i]
			rem %= outStride[i]
		}
		in := 0
		for i, a := range axes {
			in += idx[i] * inStride[a]
		}
		dst[o] = src[in]
	}
	return FromSlice(dst, outShape...)
}

// Transpose swaps two axes.
func (t *Tensor) Transpose(i, j int) *Tensor {
	axes := make([]int, t.Dims())
	for k := range axes {
		axes[k] = k
	}
	axes[i], axes[j] = axes[j], axes[i]
	return t.Permute(axes...)
}

// Concat concatenates t and u along axis.
func (t *Tensor) Concat(u *Tensor, axis int) *Tensor {
	r, err := tensor.Concat(axis, t.d, u.d)
	if err != nil {
		panic(fmt.Sprintf("ml: concat %v and %v along %d: %v", t.Shape(), u.Shape(), axis, err))
	}
	return &Tensor{d: r.(*tensor.Dense)}
}

// Narrow returns a copy of the slice [start, start+length) along axis.
func (t *Tensor) Narrow(axis, start, length int) *Tensor {
	shape := t.Shape()
	if axis < 0 || axis >= len(shape) || start < 0 || start+length > shape[axis] {
		panic(fmt.Sprintf("ml: narrow [%d:%d) along %d out of range for %v", start, start+length, axis, shape))
	}
	outShape := make([]int, len(shape))
	copy(outShape, shape)
	outShape[axis] = length

	outer := 1
	for i := 0; i < axis; i++ {
		outer *= shape[i]
	}
	inner := 1
	for i := axis + 1; i < len(shape); i++ {
		inner *= shape[i]
	}

	src := t.Floats()
	dst := make([]float32, outer*length*inner)
	for o := 0; o < outer; o++ {
		from := (o*shape[axis] + start) * inner
		to := o * length * inner
		copy(dst[to:to+length*inner], src[from:from+length*inner])
	}
	return FromSlice(dst, outShape...)
}

// Copy overwrites t's contents with those of u. Shapes must match in
// element count.
func (t *Tensor) Copy(u *Tensor) {
	if t.Numel() != u.Numel() {
		panic(fmt.Sprintf("ml: copy %v into %v", u.Shape(), t.Shape()))
	}
	copy(t.Floats(), u.Floats())
}
