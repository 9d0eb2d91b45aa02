package nn

import (
	"math/rand"

	"github.com/chewxy/math32"

	"salientnet/ml"
)

// Ones returns a tensor filled with 1.
func Ones(shape ...int) *ml.Tensor {
	t := ml.New(shape...)
	f := t.Floats()
	for i := range f {
		f[i] = 1
	}
	return t
}

// TruncNormal samples N(0, std²) resampling anything beyond two standard
// deviations.
func TruncNormal(r *rand.Rand, std float32, shape ...int) *ml.Tensor {
	t := ml.New(shape...)
	f := t.Floats()
	for i := range f {
		for {
			v := float32(r.NormFloat64()) * std
			if v >= -2*std && v <= 2*std {
				f[i] = v
				break
			}
		}
	}
	return t
}

// KaimingNormal samples N(0, 2/fan) for ReLU-followed convolutions, with
// fan counted on the output side.
func KaimingNormal(r *rand.Rand, fanOut int, shape ...int) *ml.Tensor {
	std := math32.Sqrt(2 / float32(fanOut))
	t := ml.New(shape...)
	f := t.Floats()
	for i := range f {
		f[i] = float32(r.NormFloat64()) * std
	}
	return t
}
