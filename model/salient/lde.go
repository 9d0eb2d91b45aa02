package salient

import (
	"math/rand"

	"salientnet/ml"
	"salientnet/ml/nn"
)

// LDELayer fuses one mid-depth stage into two single-scale detail
// branches: the depth branch gates the stage's projected feature sequence
// with a softmax over the cached attention arrays, the RGB branch runs a
// pooled convolution stack on the same stage's feature map.
type LDELayer struct {
	ConvC    *nn.Conv2D `sal:"conv_c"`
	ConvRGB1 *nn.Conv2D `sal:"conv_rgb1"`
	ConvRGB2 *nn.Conv2D `sal:"conv_rgb2"`

	pool int
}

func newLDELayer(r *rand.Rand, in, embed, pool int) *LDELayer {
	return &LDELayer{
		ConvC:    nn.NewConv2D(r, in, embed, 1, true),
		ConvRGB1: nn.NewConv2D(r, in, 64, 7, true),
		ConvRGB2: nn.NewConv2D(r, 64, 64, 5, true),
		pool:     pool,
	}
}

// Forward takes the designated stage's feature map, token sequence and
// attention cache. The returned branches are left un-fused; the decoder
// upsamples and sums them.
func (l *LDELayer) Forward(feat, tokens *ml.Tensor, cache AttentionCache) (rgb, depth *ml.Tensor) {
	b := feat.Dim(0)

	seq := l.ConvC.Forward(feat, 1, 1, 0, 0).ReLU()
	seq = ml.AvgPool2D(seq, l.pool, l.pool)
	e := seq.Dim(1)
	flat := seq.Reshape(b, e, seq.Dim(2)*seq.Dim(3)).Permute(0, 2, 1)
	flat = tokens.Narrow(1, 0, 1).Concat(flat, 1)

	q := mergeHeads(cache.Query)
	k := mergeHeads(cache.Key)
	v := mergeHeads(cache.Value)
	gate := q.Mul(tokens).Mul(k).Softmax(1)
	depth = flat.Mul(gate.Mul(v))

	rgb = ml.MaxPool2D(feat, 3, 3, 0)
	rgb = l.ConvRGB1.Forward(rgb, 1, 1, 1, 1)
	rgb = l.ConvRGB2.Forward(rgb, 1, 1, 1, 1).ReLU()

	return rgb, depth
}

// mergeHeads flattens [batch, heads, tokens, headDim] into
// [batch, tokens, heads*headDim].
func mergeHeads(t *ml.Tensor) *ml.Tensor {
	b, h, n, d := t.Dim(0), t.Dim(1), t.Dim(2), t.Dim(3)
	return t.Permute(0, 2, 1, 3).Reshape(b, n, h*d)
}
