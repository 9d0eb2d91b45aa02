package nn

import (
	"math/rand"

	"salientnet/ml"
)

type Conv2D struct {
	Weight *ml.Tensor `sal:"weight"` // [out, in, k, k]
	Bias   *ml.Tensor `sal:"bias"`
}

// NewConv2D initializes a square-kernel convolution with Kaiming-normal
// weights (fan-out, ReLU gain).
func NewConv2D(r *rand.Rand, in, out, kernel int, bias bool) *Conv2D {
	c := &Conv2D{Weight: KaimingNormal(r, out*kernel*kernel, out, in, kernel, kernel)}
	if bias {
		c.Bias = ml.New(out)
	}
	return c
}

func (c *Conv2D) Forward(x *ml.Tensor, strideH, strideW, padH, padW int) *ml.Tensor {
	return ml.Conv2D(x, c.Weight, c.Bias, strideH, strideW, padH, padW)
}

type ConvTranspose2D struct {
	Weight *ml.Tensor `sal:"weight"` // [in, out, k, k]
	Bias   *ml.Tensor `sal:"bias"`
}

func NewConvTranspose2D(r *rand.Rand, in, out, kernel int, bias bool) *ConvTranspose2D {
	c := &ConvTranspose2D{Weight: KaimingNormal(r, out*kernel*kernel, in, out, kernel, kernel)}
	if bias {
		c.Bias = ml.New(out)
	}
	return c
}

func (c *ConvTranspose2D) Forward(x *ml.Tensor, stride, pad, outputPad, dilation int) *ml.Tensor {
	return ml.ConvTranspose2D(x, c.Weight, c.Bias, stride, pad, outputPad, dilation)
}
