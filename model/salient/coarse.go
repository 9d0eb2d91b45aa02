package salient

import (
	"math/rand"

	"salientnet/ml"
	"salientnet/ml/nn"
)

// CoarseLayer maps the deepest stage to two low-resolution single-channel
// saliency estimates, one per modality. They exist only to supervise
// training and to derive the GDE gates.
type CoarseLayer struct {
	ConvRGB   *nn.Conv2D `sal:"conv_rgb"`
	ConvDepth *nn.Conv2D `sal:"conv_depth"`
}

func newCoarseLayer(r *rand.Rand, deepWidth, embed int) *CoarseLayer {
	return &CoarseLayer{
		ConvRGB:   nn.NewConv2D(r, deepWidth, 1, 1, true),
		ConvDepth: nn.NewConv2D(r, embed, 1, 3, true),
	}
}

func (c *CoarseLayer) Forward(feat, tokens *ml.Tensor, gridH, gridW int) (rgb, depth *ml.Tensor) {
	rgb = c.ConvRGB.Forward(feat, 1, 1, 0, 0)
	depth = c.ConvDepth.Forward(tokensToGrid(tokens, gridH, gridW), 2, 2, 1, 1)
	return rgb, depth
}
