// Package nn provides the parameterized layers the model is assembled
// from. A layer is a struct of tensors with a Forward method; parameter
// fields carry sal tags so the weights package can bind them by name.
package nn

import (
	"math/rand"

	"salientnet/ml"
)

type Linear struct {
	Weight *ml.Tensor `sal:"weight"` // [out, in]
	Bias   *ml.Tensor `sal:"bias"`
}

// NewLinear initializes a fully connected layer with truncated-normal
// weights (std 0.02) and zero bias.
func NewLinear(r *rand.Rand, in, out int, bias bool) *Linear {
	l := &Linear{Weight: TruncNormal(r, 0.02, out, in)}
	if bias {
		l.Bias = ml.New(out)
	}
	return l
}

// Forward applies x @ W^T + b over the last axis of x.
func (l *Linear) Forward(x *ml.Tensor) *ml.Tensor {
	shape := x.Shape()
	in := shape[len(shape)-1]
	out := l.Weight.Dim(0)
	rows := x.Numel() / in

	y := ml.Matmul(x.Reshape(rows, in), l.Weight.Transpose(0, 1))
	if l.Bias != nil {
		yf := y.Floats()
		bf := l.Bias.Floats()
		for r := 0; r < rows; r++ {
			base := r * out
			for c := 0; c < out; c++ {
				yf[base+c] += bf[c]
			}
		}
	}

	outShape := make([]int, len(shape))
	copy(outShape, shape)
	outShape[len(shape)-1] = out
	return y.Reshape(outShape...)
}
